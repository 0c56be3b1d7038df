package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing files
// are skipped and variables that are already set are preserved.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat env file %s: %w", p, err)
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables on top of the file config.
// Empty variables are ignored.
func (c *AppConfig) ApplyEnv() error {
	if v := envOr("VOCA_HOST", ""); v != "" {
		c.Server.Host = ptr(v)
	}
	if raw := envOr("VOCA_PORT", ""); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid VOCA_PORT %q", raw)
		}
		c.Server.Port = ptr(p)
	}

	c.Log.Level = envOr("VOCA_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("VOCA_LOG_FORMAT", c.Log.Format)

	c.LLM.Provider = envOr("VOCA_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = envOr("VOCA_LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = envOr("VOCA_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = envOr("VOCA_LLM_API_KEY", c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		switch c.LLMProvider() {
		case "google":
			c.LLM.APIKey = envOr("GEMINI_API_KEY", "")
		case "openai", "custom":
			c.LLM.APIKey = envOr("OPENAI_API_KEY", "")
		case "anthropic":
			c.LLM.APIKey = envOr("ANTHROPIC_API_KEY", "")
		}
	}
	if raw := envOr("VOCA_LLM_TEMPERATURE", ""); raw != "" {
		if f, err := strconv.ParseFloat(raw, 32); err == nil {
			c.LLM.Temperature = ptr(float32(f))
		}
	}
	c.LLM.MaxTokens = envIntOr("VOCA_LLM_MAX_TOKENS", c.LLM.MaxTokens)
	c.LLM.TimeoutSec = envIntOr("VOCA_LLM_TIMEOUT", c.LLM.TimeoutSec)
	c.LLM.Retries = envIntOr("VOCA_LLM_RETRIES", c.LLM.Retries)
	c.Dialogue.TurnBudgetSec = envIntOr("VOCA_TURN_BUDGET", c.Dialogue.TurnBudgetSec)

	c.Storage.Driver = envOr("VOCA_DB_DRIVER", c.Storage.Driver)
	c.Storage.DSN = envOr("VOCA_DB_DSN", c.Storage.DSN)

	c.Redis.Addr = envOr("VOCA_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = envOr("VOCA_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envIntOr("VOCA_REDIS_DB", c.Redis.DB)
	c.Sessions.Backend = envOr("VOCA_SESSION_BACKEND", c.Sessions.Backend)
	c.Sessions.TTLMin = envIntOr("VOCA_SESSION_TTL_MINUTES", c.Sessions.TTLMin)

	c.Twilio.AccountSID = envOr("TWILIO_ACCOUNT_SID", c.Twilio.AccountSID)
	c.Twilio.AuthToken = envOr("TWILIO_AUTH_TOKEN", c.Twilio.AuthToken)
	c.Twilio.PhoneNumber = envOr("TWILIO_PHONE_NUMBER", c.Twilio.PhoneNumber)
	c.Twilio.WebhookURL = envOr("TWILIO_WEBHOOK_URL", c.Twilio.WebhookURL)
	c.Twilio.ValidateSignatures = envBoolOr("TWILIO_VALIDATE_SIGNATURES", c.Twilio.ValidateSignatures)

	c.Speech.STT = envOr("VOCA_STT_PROVIDER", c.Speech.STT)
	c.Speech.TTS = envOr("VOCA_TTS_PROVIDER", c.Speech.TTS)
	c.Speech.CartesiaAPIKey = envOr("CARTESIA_API_KEY", c.Speech.CartesiaAPIKey)
	c.Speech.GoogleAPIKey = envOr("GOOGLE_TTS_API_KEY", c.Speech.GoogleAPIKey)
	c.Speech.SampleRate = envIntOr("VOCA_SAMPLE_RATE", c.Speech.SampleRate)

	c.DefaultTenant = envOr("VOCA_DEFAULT_ORGANIZATION_ID", c.DefaultTenant)
	return nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}
