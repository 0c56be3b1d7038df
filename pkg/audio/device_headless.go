//go:build headless

package audio

import "context"

// Microphone is unavailable in headless builds.
type Microphone struct{}

func OpenMicrophone(int) (*Microphone, error) { return nil, ErrNoAudioDevice }

func (*Microphone) ReadFrame(context.Context, []int16) (int, error) { return 0, ErrDeviceClosed }
func (*Microphone) Drain()                                          {}
func (*Microphone) Close() error                                    { return nil }

// Speaker is unavailable in headless builds.
type Speaker struct{}

func OpenSpeaker(int) (*Speaker, error) { return nil, ErrNoAudioDevice }

func (*Speaker) Play(context.Context, []int16, int) error { return ErrNoAudioDevice }
func (*Speaker) Close() error                             { return nil }
