package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vocalabs/voca/pkg/audio"
	"github.com/vocalabs/voca/pkg/dialogue"
	"github.com/vocalabs/voca/pkg/event"
	"github.com/vocalabs/voca/pkg/speech"
	"github.com/vocalabs/voca/pkg/utils"
	"github.com/vocalabs/voca/pkg/vad"
)

var (
	ErrLocalVoiceRunning    = errors.New("local voice loop already running")
	ErrLocalVoiceNotRunning = errors.New("local voice loop is not running")
)

// Transcripts this short are treated as noise.
const minTranscriptChars = 3

// AudioInput is a capture device read frame by frame.
type AudioInput interface {
	vad.FrameSource
	Drain()
	Close() error
}

// AudioOutput plays mono PCM16.
type AudioOutput interface {
	Play(ctx context.Context, pcm []int16, sampleRate int) error
	Close() error
}

// LocalVoiceDevices opens the audio devices of the local loop.
type LocalVoiceDevices struct {
	OpenInput  func(sampleRate int) (AudioInput, error)
	OpenOutput func(sampleRate int) (AudioOutput, error)
}

// SystemAudioDevices uses the default microphone and speaker.
func SystemAudioDevices() LocalVoiceDevices {
	return LocalVoiceDevices{
		OpenInput: func(rate int) (AudioInput, error) {
			m, err := audio.OpenMicrophone(rate)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
		OpenOutput: func(rate int) (AudioOutput, error) {
			s, err := audio.OpenSpeaker(rate)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
}

// LocalVoiceStatus describes the microphone loop.
type LocalVoiceStatus struct {
	Running        bool      `json:"running"`
	ConversationID string    `json:"conversation_id,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	Recognizer     string    `json:"stt,omitempty"`
	Synthesizer    string    `json:"tts,omitempty"`
	Stats          vad.Stats `json:"stats"`
	LastError      string    `json:"last_error,omitempty"`
}

// LocalVoiceConfig configures segmentation and the energy classifier.
type LocalVoiceConfig struct {
	VAD             vad.Config
	EnergyFloor     float64
	NoiseMultiplier float64
}

// LocalVoiceService runs the continuous microphone loop: segment speech,
// transcribe it, process the turn and speak the reply.
type LocalVoiceService struct {
	cfg         LocalVoiceConfig
	devices     LocalVoiceDevices
	recognizer  speech.Recognizer
	synthesizer speech.Synthesizer
	turns       dialogue.TurnProcessor
	emitter     *event.Emitter
	metrics     *Metrics
	logger      *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	segmenter *vad.Segmenter
	convID    string
	startedAt time.Time
	lastErr   string
}

func NewLocalVoiceService(cfg LocalVoiceConfig, devices LocalVoiceDevices, recognizer speech.Recognizer,
	synthesizer speech.Synthesizer, turns dialogue.TurnProcessor, emitter *event.Emitter, metrics *Metrics) *LocalVoiceService {
	return &LocalVoiceService{
		cfg:         cfg,
		devices:     devices,
		recognizer:  recognizer,
		synthesizer: synthesizer,
		turns:       turns,
		emitter:     emitter,
		metrics:     metrics,
		logger:      utils.GetLogger(),
	}
}

// Start opens the devices and launches the loop in the background. The loop
// outlives the caller's request; use Stop to end it.
func (s *LocalVoiceService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrLocalVoiceRunning
	}
	if s.recognizer == nil || !s.recognizer.IsReady() {
		return speech.ErrNotConfigured
	}

	vcfg := s.cfg.VAD.WithDefaults()
	input, err := s.devices.OpenInput(vcfg.SampleRate)
	if err != nil {
		return err
	}
	var output AudioOutput
	if s.synthesizer != nil && s.synthesizer.IsReady() && s.devices.OpenOutput != nil {
		if output, err = s.devices.OpenOutput(vcfg.SampleRate); err != nil {
			s.logger.Warn("Speaker unavailable, replies will not be spoken", "error", err)
			output = nil
		}
	}

	convID := "local-" + uuid.NewString()
	loop := &voiceLoop{svc: s, input: input, output: output, sampleRate: vcfg.SampleRate, conversationID: convID}
	classifier := vad.NewEnergyClassifier(s.cfg.EnergyFloor, s.cfg.NoiseMultiplier)
	seg := vad.NewSegmenter(vcfg, classifier, loop.dispatch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.segmenter, s.convID, s.startedAt, s.lastErr = seg, convID, time.Now(), ""

	go func() {
		defer close(done)
		err := seg.Run(ctx, input)
		_ = input.Close()
		if output != nil {
			_ = output.Close()
		}
		s.finished(err)
	}()

	s.logger.Info("Local voice loop started", "conversationID", convID, "recognizer", s.recognizer.Name())
	s.emit(true, "")
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (s *LocalVoiceService) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return ErrLocalVoiceNotRunning
	}
	cancel()
	<-done
	return nil
}

// Running reports whether the loop is active.
func (s *LocalVoiceService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *LocalVoiceService) Status() LocalVoiceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := LocalVoiceStatus{
		Running:   s.cancel != nil,
		LastError: s.lastErr,
	}
	if s.recognizer != nil {
		st.Recognizer = s.recognizer.Name()
	}
	if s.synthesizer != nil {
		st.Synthesizer = s.synthesizer.Name()
	}
	if s.segmenter != nil {
		st.Stats = s.segmenter.Stats()
	}
	if st.Running {
		st.ConversationID = s.convID
		st.StartedAt = s.startedAt
	}
	return st
}

func (s *LocalVoiceService) finished(err error) {
	s.mu.Lock()
	s.cancel, s.done = nil, nil
	msg := ""
	if err != nil {
		msg = err.Error()
		s.lastErr = msg
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Local voice loop stopped", "error", err)
	} else {
		s.logger.Info("Local voice loop stopped")
	}
	s.emit(false, msg)
}

func (s *LocalVoiceService) emit(running bool, errMsg string) {
	if s.emitter != nil {
		s.emitter.Emit(event.LocalVoiceStateEvent{Running: running, Error: errMsg})
	}
}

// voiceLoop holds the devices of one run.
type voiceLoop struct {
	svc            *LocalVoiceService
	input          AudioInput
	output         AudioOutput
	sampleRate     int
	conversationID string
}

// dispatch handles one utterance on the segmenter goroutine. Errors are
// logged and the loop keeps listening.
func (l *voiceLoop) dispatch(ctx context.Context, utterance []int16) {
	s := l.svc
	tr, err := s.recognizer.Transcribe(ctx, utterance, l.sampleRate)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("Transcription failed", "error", err)
			s.metrics.utterance("stt_error")
		}
		return
	}
	if tr == nil {
		tr = &speech.Transcript{}
	}
	text := strings.TrimSpace(tr.Text)
	if len(text) < minTranscriptChars {
		s.logger.Debug("Ignoring short transcript", "text", text)
		s.metrics.utterance("ignored")
		return
	}

	reply, err := s.turns.ProcessTurn(ctx, l.conversationID, "", text)
	if err != nil {
		s.logger.Error("Turn failed", "conversationID", l.conversationID, "error", err)
		s.metrics.utterance("turn_error")
		return
	}
	s.metrics.utterance("processed")
	if reply == "" || l.output == nil {
		return
	}

	if err := l.speak(ctx, reply); err != nil && ctx.Err() == nil {
		s.logger.Error("Playback failed", "error", err)
	}
	// Discard what the microphone picked up while the reply was playing.
	l.input.Drain()
}

func (l *voiceLoop) speak(ctx context.Context, text string) error {
	clip, err := l.svc.synthesizer.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	pcm, rate, err := clip.PCM()
	if err != nil {
		return err
	}
	return l.output.Play(ctx, pcm, rate)
}
