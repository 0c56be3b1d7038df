package speech

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/vocalabs/voca/pkg/audio"
)

const defaultGeminiSTTModel = "gemini-2.5-flash"

// GeminiRecognizer transcribes by sending a WAV clip to a multimodal Gemini model.
type GeminiRecognizer struct {
	model    string
	language string
	generate func(ctx context.Context, prompt string, wav []byte) (string, error)
}

func NewGeminiRecognizer(ctx context.Context, apiKey, model, language string) (*GeminiRecognizer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create genai client")
	}
	if model == "" {
		model = defaultGeminiSTTModel
	}
	r := &GeminiRecognizer{model: model, language: language}
	r.generate = func(ctx context.Context, prompt string, wav []byte) (string, error) {
		contents := []*genai.Content{
			genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromText(prompt),
				genai.NewPartFromBytes(wav, "audio/wav"),
			}, genai.RoleUser),
		}
		resp, err := client.Models.GenerateContent(ctx, r.model, contents, nil)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}
	return r, nil
}

func (g *GeminiRecognizer) Name() string  { return "gemini" }
func (g *GeminiRecognizer) IsReady() bool { return g.generate != nil }

func (g *GeminiRecognizer) prompt() string {
	p := "Transcribe the speech in this audio clip verbatim. Reply with the transcript only. " +
		"If there is no intelligible speech, reply with an empty message."
	if g.language != "" {
		p += fmt.Sprintf(" The speaker's language is %s.", g.language)
	}
	return p
}

func (g *GeminiRecognizer) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (*Transcript, error) {
	if g.generate == nil {
		return nil, ErrNotConfigured
	}
	text, err := g.generate(ctx, g.prompt(), audio.EncodeWAV(pcm, sampleRate))
	if err != nil {
		return nil, errors.Wrap(err, "gemini transcribe")
	}
	return scoreText(text), nil
}
