package vad

import "sync"

// Frame is one fixed-duration chunk of mono PCM16 audio.
type Frame struct {
	Samples    []int16
	SampleRate int
}

// Classifier decides whether a frame contains speech.
type Classifier interface {
	IsSpeech(f Frame) bool
}

// ClassifierFunc adapts an external classifier that works on raw
// little-endian PCM16 bytes, such as a WebRTC VAD binding.
type ClassifierFunc func(raw []byte, sampleRate int) bool

func (fn ClassifierFunc) IsSpeech(f Frame) bool {
	return fn(PCMToBytes(f.Samples), f.SampleRate)
}

const (
	DefaultEnergyFloor     = 200.0
	DefaultNoiseMultiplier = 2.0
	noiseKeep              = 0.995
	noiseLearn             = 0.005
)

// EnergyClassifier is an adaptive RMS classifier. The noise floor starts at
// the first frame's RMS and tracks silence frames with an exponential moving
// average; the threshold is max(floor, noise * multiplier).
type EnergyClassifier struct {
	Floor      float64
	Multiplier float64

	mu          sync.Mutex
	noise       float64
	initialized bool
}

// NewEnergyClassifier returns a classifier with the given floor and multiplier;
// non-positive values select the defaults.
func NewEnergyClassifier(floor, multiplier float64) *EnergyClassifier {
	if floor <= 0 {
		floor = DefaultEnergyFloor
	}
	if multiplier <= 0 {
		multiplier = DefaultNoiseMultiplier
	}
	return &EnergyClassifier{Floor: floor, Multiplier: multiplier}
}

func (c *EnergyClassifier) IsSpeech(f Frame) bool {
	level := RMS(f.Samples)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		c.noise = level
		c.initialized = true
	}
	speech := level >= c.threshold()
	if !speech {
		c.noise = noiseKeep*c.noise + noiseLearn*level
	}
	return speech
}

// Threshold returns the current speech threshold.
func (c *EnergyClassifier) Threshold() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold()
}

// NoiseFloor returns the current noise estimate.
func (c *EnergyClassifier) NoiseFloor() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noise
}

func (c *EnergyClassifier) threshold() float64 {
	t := c.noise * c.Multiplier
	if t < c.Floor {
		return c.Floor
	}
	return t
}
