//go:build !headless

package audio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
)

// Microphone captures mono PCM16 from the default input device.
type Microphone struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu     sync.Mutex
	buf    []byte
	notify chan struct{}
	closed bool
}

// OpenMicrophone starts capturing at sampleRate.
func OpenMicrophone(sampleRate int) (*Microphone, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAudioDevice, err)
	}
	m := &Microphone{
		ctx:    mctx,
		buf:    make([]byte, 0, sampleRate*2),
		notify: make(chan struct{}, 1),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			m.mu.Lock()
			m.buf = append(m.buf, in...)
			m.mu.Unlock()
			select {
			case m.notify <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: init capture: %v", ErrNoAudioDevice, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("%w: start capture: %v", ErrNoAudioDevice, err)
	}
	m.device = device
	return m, nil
}

// ReadFrame blocks until len(buf) samples are captured or ctx is done.
func (m *Microphone) ReadFrame(ctx context.Context, buf []int16) (int, error) {
	need := len(buf) * 2
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return 0, ErrDeviceClosed
		}
		if len(m.buf) >= need {
			for i := range buf {
				buf[i] = int16(uint16(m.buf[2*i]) | uint16(m.buf[2*i+1])<<8)
			}
			m.buf = append(m.buf[:0], m.buf[need:]...)
			m.mu.Unlock()
			return len(buf), nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-m.notify:
		}
	}
}

// Drain discards captured audio, e.g. the agent's own voice after playback.
func (m *Microphone) Drain() {
	m.mu.Lock()
	m.buf = m.buf[:0]
	m.mu.Unlock()
}

func (m *Microphone) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	return err
}

var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// Speaker plays mono PCM16 through the default output device. oto allows a
// single context per process, so all speakers share one.
type Speaker struct {
	sampleRate int
	mu         sync.Mutex
}

func OpenSpeaker(sampleRate int) (*Speaker, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
		})
		if otoErr == nil {
			<-ready
		}
	})
	if otoErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAudioDevice, otoErr)
	}
	return &Speaker{sampleRate: sampleRate}, nil
}

// Play blocks until the clip finishes or ctx is cancelled.
func (s *Speaker) Play(ctx context.Context, pcm []int16, sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := encodePCM(Resample(pcm, sampleRate, s.sampleRate))
	player := otoCtx.NewPlayer(bytes.NewReader(data))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return player.Err()
}

func (s *Speaker) Close() error { return nil }
