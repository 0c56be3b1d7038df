package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/vocalabs/voca/pkg/audio"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"

	defaultCartesiaVoice = "a0e99841-438c-4a64-b679-ae501e7d6091"
	cartesiaOutputRate   = 24000
)

type cartesiaClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func (c *cartesiaClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "cartesia request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read cartesia response")
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("cartesia error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// CartesiaRecognizer transcribes through the Cartesia batch STT endpoint.
type CartesiaRecognizer struct {
	cartesiaClient
	language string
}

func NewCartesiaRecognizer(apiKey, language string) *CartesiaRecognizer {
	return &CartesiaRecognizer{
		cartesiaClient: cartesiaClient{
			apiKey:     apiKey,
			baseURL:    cartesiaBaseURL,
			httpClient: &http.Client{Timeout: 30 * time.Second},
		},
		language: language,
	}
}

func (c *CartesiaRecognizer) Name() string  { return "cartesia" }
func (c *CartesiaRecognizer) IsReady() bool { return c.apiKey != "" }

func (c *CartesiaRecognizer) Transcribe(ctx context.Context, pcm []int16, sampleRate int) (*Transcript, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, errors.Wrap(err, "create form file")
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, sampleRate)); err != nil {
		return nil, errors.Wrap(err, "write audio")
	}
	if err := mw.WriteField("model", "ink-whisper"); err != nil {
		return nil, errors.Wrap(err, "write model field")
	}
	if c.language != "" {
		if err := mw.WriteField("language", c.language); err != nil {
			return nil, errors.Wrap(err, "write language field")
		}
	}
	if err := mw.Close(); err != nil {
		return nil, errors.Wrap(err, "close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stt", &buf)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var out struct {
		Text string `json:"text"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, errors.Wrap(err, "parse cartesia transcript")
		}
	}
	return scoreText(out.Text), nil
}

// CartesiaSynthesizer renders WAV audio through the Cartesia bytes endpoint.
type CartesiaSynthesizer struct {
	cartesiaClient
	voiceID  string
	language string
}

func NewCartesiaSynthesizer(apiKey, voiceID, language string) *CartesiaSynthesizer {
	if voiceID == "" {
		voiceID = defaultCartesiaVoice
	}
	return &CartesiaSynthesizer{
		cartesiaClient: cartesiaClient{
			apiKey:     apiKey,
			baseURL:    cartesiaBaseURL,
			httpClient: &http.Client{Timeout: 30 * time.Second},
		},
		voiceID:  voiceID,
		language: language,
	}
}

func (c *CartesiaSynthesizer) Name() string  { return "cartesia" }
func (c *CartesiaSynthesizer) IsReady() bool { return c.apiKey != "" }

type cartesiaTTSRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

func (c *CartesiaSynthesizer) Synthesize(ctx context.Context, text string) (*Audio, error) {
	reqBody := cartesiaTTSRequest{
		ModelID:    "sonic-3",
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: c.voiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "wav",
			Encoding:   "pcm_s16le",
			SampleRate: cartesiaOutputRate,
		},
		Language: c.language,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return &Audio{Data: body, Format: "wav", SampleRate: cartesiaOutputRate}, nil
}
