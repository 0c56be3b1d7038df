package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 stream to mono PCM16. go-mp3 always yields
// interleaved stereo.
func DecodeMP3(data []byte) ([]int16, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("open mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return ToMono(samples, 2), dec.SampleRate(), nil
}

// Decode sniffs the container and returns mono PCM16. Unknown data is treated
// as raw PCM16 at fallbackRate.
func Decode(data []byte, fallbackRate int) ([]int16, int, error) {
	switch {
	case IsWAV(data):
		return DecodeWAV(data)
	case IsMP3(data):
		return DecodeMP3(data)
	default:
		samples := make([]int16, len(data)/2)
		for i := range samples {
			samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
		}
		return samples, fallbackRate, nil
	}
}

func IsWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// IsMP3 checks for an ID3 tag or an MPEG frame sync.
func IsMP3(b []byte) bool {
	if len(b) >= 3 && string(b[0:3]) == "ID3" {
		return true
	}
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}
