package audio

import (
	"encoding/binary"
	"errors"
)

var (
	ErrNoAudioDevice = errors.New("audio device unavailable")
	ErrDeviceClosed  = errors.New("audio device closed")
)

func encodePCM(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
