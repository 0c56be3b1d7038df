package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/vad"
)

// AppConfig is read from a YAML file under the user's home directory and
// then overlaid with environment variables (see ApplyEnv).
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.voca/config.yaml):
//
// server:
//   host: 0.0.0.0
//   port: 8088
// llm:
//   provider: google
//   model: gemini-2.5-flash
// twilio:
//   account_sid: ACxxxxxxxx
//   auth_token: xxxxxxxx
//   phone_number: "+15550100"
//   webhook_url: https://voca.example.com/webhook/voice
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.
type AppConfig struct {
	Server        ServerConfig   `yaml:"server"`
	Log           LogConfig      `yaml:"log"`
	LLM           LLMConfig      `yaml:"llm"`
	Storage       StorageConfig  `yaml:"storage"`
	Redis         RedisConfig    `yaml:"redis"`
	Sessions      SessionsConfig `yaml:"sessions"`
	Twilio        TwilioConfig   `yaml:"twilio"`
	Speech        SpeechConfig   `yaml:"speech"`
	VAD           VADConfig      `yaml:"vad"`
	Dialogue      DialogueConfig `yaml:"dialogue"`
	DefaultTenant string         `yaml:"default_tenant"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LLMConfig selects the chat model used for replies and field extraction.
type LLMConfig struct {
	Provider    string            `yaml:"provider"` // openai, custom, ark, deepseek, anthropic, ollama, google, qianfan, qwen
	Model       string            `yaml:"model"`
	APIKey      string            `yaml:"api_key"`
	BaseURL     string            `yaml:"base_url"`
	Temperature *float32          `yaml:"temperature"`
	MaxTokens   int               `yaml:"max_tokens"`
	TimeoutSec  int               `yaml:"timeout_sec"`
	Retries     int               `yaml:"retries"`
	Extra       map[string]string `yaml:"extra,omitempty"`
}

// StorageConfig selects the relational store for prompts and conversation snapshots.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite, postgres, mysql
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SessionsConfig struct {
	Backend string `yaml:"backend"` // memory or redis
	TTLMin  int    `yaml:"ttl_minutes"`
}

type TwilioConfig struct {
	AccountSID         string `yaml:"account_sid"`
	AuthToken          string `yaml:"auth_token"`
	PhoneNumber        string `yaml:"phone_number"`
	WebhookURL         string `yaml:"webhook_url"`
	ValidateSignatures bool   `yaml:"validate_signatures"`
}

type SpeechConfig struct {
	STT             string `yaml:"stt"` // gemini, cartesia
	TTS             string `yaml:"tts"` // google, cartesia
	CartesiaAPIKey  string `yaml:"cartesia_api_key"`
	CartesiaVoiceID string `yaml:"cartesia_voice_id"`
	GoogleAPIKey    string `yaml:"google_api_key"`
	GoogleVoice     string `yaml:"google_voice"`
	Language        string `yaml:"language"`
	SampleRate      int    `yaml:"sample_rate"`
}

type VADConfig struct {
	FrameMs         int     `yaml:"frame_ms"`
	MaxSilenceMs    int     `yaml:"max_silence_ms"`
	MinSpeechMs     int     `yaml:"min_speech_ms"`
	EnergyFloor     float64 `yaml:"energy_floor"`
	NoiseMultiplier float64 `yaml:"noise_multiplier"`
}

// DialogueConfig overrides the phrase lists used by the turn state machine.
// Empty lists keep the built-in English defaults.
type DialogueConfig struct {
	AskRepeatPhrases []string `yaml:"ask_repeat_phrases"`
	DeclinePhrases   []string `yaml:"decline_phrases"`
	ClosingPhrases   []string `yaml:"closing_phrases"`
	QuestionWords    []string `yaml:"question_words"`
	ListenTimeoutSec int      `yaml:"listen_timeout_sec"`
	// TurnBudgetSec bounds one webhook turn, model retries included. Twilio
	// gives up on a webhook after about 15 s.
	TurnBudgetSec int `yaml:"turn_budget_seconds"`
}

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8088

	DefaultLLMProvider = "google"
	DefaultLLMModel    = "gemini-2.5-flash"
	DefaultMaxTokens   = 256
	DefaultLLMTimeout  = 8 * time.Second
	DefaultLLMRetries  = 3

	DefaultStorageDriver = "sqlite"
	DefaultSessionTTL    = 30 * time.Minute
	DefaultSampleRate    = 16000
	DefaultListenTimeout = 10 * time.Second
	DefaultTurnBudget    = 12 * time.Second
)

// DefaultTemperature is used when llm.temperature is not set.
const DefaultTemperature float32 = 0.7

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".voca")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.voca/config.yaml and applies environment overrides.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w in %s", err, configFile)
	}

	return cfg, configFile, nil
}

// Validate checks the values that would otherwise fail late at runtime.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Host()) == "" {
		return errors.New("invalid server.host (empty)")
	}
	port := c.Port()
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid server.port %d", port)
	}
	switch c.StorageDriver() {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("invalid storage.driver %q", c.Storage.Driver)
	}
	if _, ok := models.SupportedModelProviders[c.LLMProvider()]; !ok {
		return fmt.Errorf("invalid llm.provider %q", c.LLM.Provider)
	}
	switch c.SessionBackend() {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid sessions.backend %q", c.Sessions.Backend)
	}
	if c.SessionBackend() == "redis" && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("sessions.backend is redis but redis.addr is empty")
	}
	if err := c.VAD.validate(c.SampleRate()); err != nil {
		return err
	}
	if c.Dialogue.TurnBudgetSec < 0 {
		return fmt.Errorf("invalid dialogue.turn_budget_seconds %d", c.Dialogue.TurnBudgetSec)
	}
	return nil
}

// validate rejects durations that would round down to zero frames. Zero
// means "use the default".
func (v VADConfig) validate(sampleRate int) error {
	if v.FrameMs < 0 || v.MaxSilenceMs < 0 || v.MinSpeechMs < 0 {
		return errors.New("vad durations must not be negative")
	}
	frameMs := v.FrameMs
	if frameMs == 0 {
		frameMs = vad.DefaultConfig().FrameMs
	}
	if sampleRate*frameMs/1000 == 0 {
		return fmt.Errorf("invalid vad.frame_ms %d: no samples per frame at %d Hz", v.FrameMs, sampleRate)
	}
	if v.MaxSilenceMs > 0 && v.MaxSilenceMs < frameMs {
		return fmt.Errorf("invalid vad.max_silence_ms %d: shorter than one %d ms frame", v.MaxSilenceMs, frameMs)
	}
	if v.MinSpeechMs > 0 && v.MinSpeechMs < frameMs {
		return fmt.Errorf("invalid vad.min_speech_ms %d: shorter than one %d ms frame", v.MinSpeechMs, frameMs)
	}
	return nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:   ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		LLM:      LLMConfig{Provider: DefaultLLMProvider, Model: DefaultLLMModel},
		Storage:  StorageConfig{Driver: DefaultStorageDriver},
		Sessions: SessionsConfig{Backend: "memory", TTLMin: int(DefaultSessionTTL / time.Minute)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Credentials may end up in this file.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil {
		return DefaultHost
	}
	if c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil {
		return DefaultPort
	}
	if c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) StorageDriver() string {
	if c == nil || strings.TrimSpace(c.Storage.Driver) == "" {
		return DefaultStorageDriver
	}
	return strings.ToLower(strings.TrimSpace(c.Storage.Driver))
}

// StorageDSN defaults to a SQLite file next to the config file.
func (c *AppConfig) StorageDSN() string {
	if c != nil && strings.TrimSpace(c.Storage.DSN) != "" {
		return c.Storage.DSN
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "voca.db"
	}
	return filepath.Join(configDir, "voca.db")
}

func (c *AppConfig) SessionBackend() string {
	if c == nil || strings.TrimSpace(c.Sessions.Backend) == "" {
		return "memory"
	}
	return strings.ToLower(strings.TrimSpace(c.Sessions.Backend))
}

func (c *AppConfig) SessionTTL() time.Duration {
	if c == nil || c.Sessions.TTLMin <= 0 {
		return DefaultSessionTTL
	}
	return time.Duration(c.Sessions.TTLMin) * time.Minute
}

func (c *AppConfig) LLMProvider() string {
	if c == nil || strings.TrimSpace(c.LLM.Provider) == "" {
		return DefaultLLMProvider
	}
	return strings.ToLower(strings.TrimSpace(c.LLM.Provider))
}

// LLMModel is the configured model name. Only the default provider has a
// default model; other providers pick theirs when the model is built.
func (c *AppConfig) LLMModel() string {
	if c != nil {
		if m := strings.TrimSpace(c.LLM.Model); m != "" {
			return m
		}
	}
	if c.LLMProvider() == DefaultLLMProvider {
		return DefaultLLMModel
	}
	return ""
}

func (c *AppConfig) LLMTemperature() float32 {
	if c == nil || c.LLM.Temperature == nil {
		return DefaultTemperature
	}
	return *c.LLM.Temperature
}

func (c *AppConfig) LLMMaxTokens() int {
	if c == nil || c.LLM.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return c.LLM.MaxTokens
}

func (c *AppConfig) LLMTimeout() time.Duration {
	if c == nil || c.LLM.TimeoutSec <= 0 {
		return DefaultLLMTimeout
	}
	return time.Duration(c.LLM.TimeoutSec) * time.Second
}

func (c *AppConfig) LLMRetries() int {
	if c == nil || c.LLM.Retries <= 0 {
		return DefaultLLMRetries
	}
	return c.LLM.Retries
}

func (c *AppConfig) SampleRate() int {
	if c == nil || c.Speech.SampleRate <= 0 {
		return DefaultSampleRate
	}
	return c.Speech.SampleRate
}

// TurnBudget is the deadline for producing one spoken reply.
func (c *AppConfig) TurnBudget() time.Duration {
	if c == nil || c.Dialogue.TurnBudgetSec <= 0 {
		return DefaultTurnBudget
	}
	return time.Duration(c.Dialogue.TurnBudgetSec) * time.Second
}

func (c *AppConfig) ListenTimeout() time.Duration {
	if c == nil || c.Dialogue.ListenTimeoutSec <= 0 {
		return DefaultListenTimeout
	}
	return time.Duration(c.Dialogue.ListenTimeoutSec) * time.Second
}

// TwilioConfigured reports whether outbound REST calls can be made.
func (c *AppConfig) TwilioConfigured() bool {
	if c == nil {
		return false
	}
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" && c.Twilio.PhoneNumber != ""
}

// PublicBaseURL is the externally reachable base derived from twilio.webhook_url.
func (c *AppConfig) PublicBaseURL() string {
	if c == nil {
		return ""
	}
	u := strings.TrimRight(strings.TrimSpace(c.Twilio.WebhookURL), "/")
	return strings.TrimSuffix(u, "/webhook/voice")
}

func ptr[T any](v T) *T { return &v }
