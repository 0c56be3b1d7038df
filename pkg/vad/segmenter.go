// Package vad splits a continuous PCM16 stream into utterances.
package vad

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/vocalabs/voca/pkg/utils"
)

// Config controls frame size and the utterance boundaries.
type Config struct {
	SampleRate   int
	FrameMs      int
	MaxSilenceMs int     // trailing silence that ends an utterance
	MinSpeechMs  int     // speech needed before an utterance is dispatched
	TargetPeak   float64 // peak amplitude after normalization, as a fraction of full scale
}

// DefaultConfig returns 30 ms frames at 16 kHz, a 2 s silence limit and a
// 300 ms speech minimum.
func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		FrameMs:      30,
		MaxSilenceMs: 2000,
		MinSpeechMs:  300,
		TargetPeak:   0.95,
	}
}

// WithDefaults fills unset or out-of-range values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.FrameMs <= 0 {
		c.FrameMs = d.FrameMs
	}
	if c.MaxSilenceMs <= 0 {
		c.MaxSilenceMs = d.MaxSilenceMs
	}
	if c.MinSpeechMs <= 0 {
		c.MinSpeechMs = d.MinSpeechMs
	}
	if c.TargetPeak <= 0 || c.TargetPeak > 1 {
		c.TargetPeak = d.TargetPeak
	}
	return c
}

// FrameSamples is the number of samples per frame.
func (c Config) FrameSamples() int { return c.SampleRate * c.FrameMs / 1000 }

// SilenceLimitFrames is the number of consecutive silence frames that end an
// utterance. It is at least 1.
func (c Config) SilenceLimitFrames() int { return framesFor(c.MaxSilenceMs, c.FrameMs) }

// MinSpeechFrames is the number of speech frames an utterance needs. It is at
// least 1, so a run of pure silence is never dispatched.
func (c Config) MinSpeechFrames() int { return framesFor(c.MinSpeechMs, c.FrameMs) }

func framesFor(ms, frameMs int) int {
	if frameMs <= 0 {
		return 1
	}
	return max(ms/frameMs, 1)
}

// FrameSource delivers audio one frame at a time. ReadFrame blocks until buf
// is filled or the source ends with io.EOF.
type FrameSource interface {
	ReadFrame(ctx context.Context, buf []int16) (int, error)
}

// Dispatcher receives a cleaned utterance. It runs on the segmenter goroutine,
// so no frames are read while it works.
type Dispatcher func(ctx context.Context, utterance []int16)

// Stats are cumulative segmenter counters.
type Stats struct {
	Frames     int64 `json:"frames"`
	Dispatched int64 `json:"dispatched"`
	Rejected   int64 `json:"rejected"`
}

// Segmenter buffers frames and dispatches an utterance once enough speech is
// followed by enough silence.
type Segmenter struct {
	cfg        Config
	classifier Classifier
	dispatch   Dispatcher
	logger     *slog.Logger

	buffer  []int16
	silence int // consecutive silence frames
	speech  int // speech frames since the buffer was cleared

	frames     atomic.Int64
	dispatched atomic.Int64
	rejected   atomic.Int64
}

// NewSegmenter creates a segmenter. A nil classifier selects the energy classifier.
func NewSegmenter(cfg Config, classifier Classifier, dispatch Dispatcher) *Segmenter {
	if classifier == nil {
		classifier = NewEnergyClassifier(0, 0)
	}
	return &Segmenter{
		cfg:        cfg.WithDefaults(),
		classifier: classifier,
		dispatch:   dispatch,
		logger:     utils.GetLogger(),
	}
}

// Config returns the effective configuration.
func (s *Segmenter) Config() Config { return s.cfg }

// Run reads frames until ctx is cancelled or src is exhausted. Cancellation
// is checked once per frame and is not an error.
func (s *Segmenter) Run(ctx context.Context, src FrameSource) error {
	buf := make([]int16, s.cfg.FrameSamples())
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := src.ReadFrame(ctx, buf)
		if n > 0 {
			s.Push(ctx, buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// Push classifies and buffers one frame, dispatching when an utterance is
// complete. It reports whether an utterance was dispatched.
func (s *Segmenter) Push(ctx context.Context, frame []int16) bool {
	s.frames.Add(1)
	isSpeech := s.classifier.IsSpeech(Frame{Samples: frame, SampleRate: s.cfg.SampleRate})

	s.buffer = append(s.buffer, frame...)
	if isSpeech {
		s.silence = 0
		s.speech++
	} else {
		s.silence++
	}

	if s.silence < s.cfg.SilenceLimitFrames() {
		return false
	}

	if s.speech < s.cfg.MinSpeechFrames() {
		if s.speech > 0 {
			s.rejected.Add(1)
			s.logger.Debug("Discarding short utterance", "speechFrames", s.speech)
		}
		s.reset()
		return false
	}

	utterance := Clean(s.buffer, s.cfg.TargetPeak)
	speechFrames := s.speech
	s.reset()
	s.dispatched.Add(1)
	s.logger.Debug("Utterance complete", "speechFrames", speechFrames, "samples", len(utterance))
	if s.dispatch != nil {
		s.dispatch(ctx, utterance)
	}
	return true
}

// Stats returns the counters.
func (s *Segmenter) Stats() Stats {
	return Stats{
		Frames:     s.frames.Load(),
		Dispatched: s.dispatched.Load(),
		Rejected:   s.rejected.Load(),
	}
}

func (s *Segmenter) reset() {
	s.buffer = s.buffer[:0]
	s.silence = 0
	s.speech = 0
}

// SliceSource replays samples frame by frame.
type SliceSource struct {
	samples []int16
	pos     int
}

func NewSliceSource(samples []int16) *SliceSource {
	return &SliceSource{samples: samples}
}

func (s *SliceSource) ReadFrame(ctx context.Context, buf []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}
	n := copy(buf, s.samples[s.pos:])
	s.pos += n
	return n, nil
}
