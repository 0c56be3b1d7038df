// Package speech wraps the speech-to-text and text-to-speech engines.
package speech

import (
	"context"
	"errors"
	"strings"

	"github.com/vocalabs/voca/pkg/audio"
	"github.com/vocalabs/voca/pkg/config"
)

var (
	ErrNotConfigured = errors.New("speech engine not configured")
	ErrUnknownEngine = errors.New("unknown speech engine")
)

// Transcript is a recognition result. Engines that do not report a score
// return 1 for non-empty text and 0 otherwise.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Recognizer converts mono PCM16 to text.
type Recognizer interface {
	Name() string
	IsReady() bool
	Transcribe(ctx context.Context, pcm []int16, sampleRate int) (*Transcript, error)
}

// Audio is synthesized speech in a container format.
type Audio struct {
	Data       []byte
	Format     string // wav, mp3 or pcm
	SampleRate int
}

// PCM decodes the audio to mono PCM16.
func (a *Audio) PCM() ([]int16, int, error) {
	if a == nil || len(a.Data) == 0 {
		return nil, 0, nil
	}
	if a.Format == "mp3" {
		return audio.DecodeMP3(a.Data)
	}
	return audio.Decode(a.Data, a.SampleRate)
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	Name() string
	IsReady() bool
	Synthesize(ctx context.Context, text string) (*Audio, error)
}

func scoreText(text string) *Transcript {
	text = strings.TrimSpace(text)
	if text == "" {
		return &Transcript{}
	}
	return &Transcript{Text: text, Confidence: 1}
}

// NewRecognizer selects the engine named by speech.stt. When unset, Gemini is
// used if a Gemini key is available, then Cartesia.
func NewRecognizer(ctx context.Context, cfg *config.AppConfig) (Recognizer, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Speech.STT))
	geminiKey := ""
	if cfg.LLMProvider() == "google" {
		geminiKey = cfg.LLM.APIKey
	}
	if kind == "" {
		switch {
		case geminiKey != "":
			kind = "gemini"
		case cfg.Speech.CartesiaAPIKey != "":
			kind = "cartesia"
		default:
			return nil, ErrNotConfigured
		}
	}

	switch kind {
	case "gemini":
		if geminiKey == "" {
			return nil, ErrNotConfigured
		}
		return NewGeminiRecognizer(ctx, geminiKey, "", cfg.Speech.Language)
	case "cartesia":
		if cfg.Speech.CartesiaAPIKey == "" {
			return nil, ErrNotConfigured
		}
		return NewCartesiaRecognizer(cfg.Speech.CartesiaAPIKey, cfg.Speech.Language), nil
	case "none":
		return nil, ErrNotConfigured
	default:
		return nil, ErrUnknownEngine
	}
}

// NewSynthesizer selects the engine named by speech.tts. When unset, Google
// Cloud TTS is used if a key is available, then Cartesia.
func NewSynthesizer(ctx context.Context, cfg *config.AppConfig) (Synthesizer, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Speech.TTS))
	if kind == "" {
		switch {
		case cfg.Speech.GoogleAPIKey != "":
			kind = "google"
		case cfg.Speech.CartesiaAPIKey != "":
			kind = "cartesia"
		default:
			return nil, ErrNotConfigured
		}
	}

	switch kind {
	case "google":
		if cfg.Speech.GoogleAPIKey == "" {
			return nil, ErrNotConfigured
		}
		return NewGoogleSynthesizer(ctx, cfg.Speech.GoogleAPIKey, cfg.Speech.GoogleVoice, cfg.Speech.Language)
	case "cartesia":
		if cfg.Speech.CartesiaAPIKey == "" {
			return nil, ErrNotConfigured
		}
		return NewCartesiaSynthesizer(cfg.Speech.CartesiaAPIKey, cfg.Speech.CartesiaVoiceID, cfg.Speech.Language), nil
	case "none":
		return nil, ErrNotConfigured
	default:
		return nil, ErrUnknownEngine
	}
}
