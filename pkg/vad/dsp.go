package vad

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square amplitude of a PCM16 frame.
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)))
}

// HighPass applies a first-difference filter in place. The first sample
// becomes zero.
func HighPass(x []float64) []float64 {
	if len(x) == 0 {
		return x
	}
	prev := x[0]
	for i := range x {
		cur := x[i]
		x[i] = cur - prev
		prev = cur
	}
	return x
}

// Normalize scales x in place so its peak magnitude equals target.
// Silent input is left unchanged.
func Normalize(x []float64, target float64) []float64 {
	var peak float64
	for _, v := range x {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return x
	}
	scale := target / peak
	for i := range x {
		x[i] *= scale
	}
	return x
}

// Clean high-passes and peak-normalizes an utterance.
func Clean(pcm []int16, targetPeak float64) []int16 {
	x := make([]float64, len(pcm))
	for i, s := range pcm {
		x[i] = float64(s) / 32768.0
	}
	Normalize(HighPass(x), targetPeak)

	out := make([]int16, len(x))
	for i, v := range x {
		out[i] = clampInt16(v * 32768.0)
	}
	return out
}

func clampInt16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// BytesToPCM decodes little-endian PCM16. A trailing odd byte is dropped.
func BytesToPCM(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// PCMToBytes encodes PCM16 as little-endian bytes.
func PCMToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
