package speech

import (
	"context"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

const defaultGoogleLanguage = "en-US"

// GoogleSynthesizer renders MP3 through Google Cloud Text-to-Speech.
type GoogleSynthesizer struct {
	voice      string
	language   string
	client     *texttospeech.Client
	synthesize func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) ([]byte, error)
}

func NewGoogleSynthesizer(ctx context.Context, apiKey, voice, language string) (*GoogleSynthesizer, error) {
	client, err := texttospeech.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrap(err, "create texttospeech client")
	}
	if language == "" {
		language = defaultGoogleLanguage
	}
	return &GoogleSynthesizer{
		voice:    voice,
		language: language,
		client:   client,
		synthesize: func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) ([]byte, error) {
			resp, err := client.SynthesizeSpeech(ctx, req)
			if err != nil {
				return nil, err
			}
			return resp.GetAudioContent(), nil
		},
	}, nil
}

func (g *GoogleSynthesizer) Name() string  { return "google" }
func (g *GoogleSynthesizer) IsReady() bool { return g.synthesize != nil }

func (g *GoogleSynthesizer) request(text string) *texttospeechpb.SynthesizeSpeechRequest {
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: g.language,
			Name:         g.voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	}
}

func (g *GoogleSynthesizer) Synthesize(ctx context.Context, text string) (*Audio, error) {
	if g.synthesize == nil {
		return nil, ErrNotConfigured
	}
	data, err := g.synthesize(ctx, g.request(text))
	if err != nil {
		return nil, errors.Wrap(err, "google synthesize")
	}
	return &Audio{Data: data, Format: "mp3"}, nil
}

func (g *GoogleSynthesizer) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
