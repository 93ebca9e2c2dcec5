// Package vad detects speech boundaries in a stream of audio frames.
// A Classifier scores individual frames, a Detector turns those scores
// into speech start and end events with padding and hangover applied.
package vad

import (
	"math"

	"github.com/voicewire/go-voicewire/pkg/audioio"
)

// Classifier scores a single audio frame for speech probability.
type Classifier interface {
	// Classify returns the probability [0,1] that the frame contains speech.
	Classify(chunk audioio.AudioChunk) (float64, error)
}

// EnergyClassifier scores frames by RMS energy. It needs no model or
// native code and serves as the fallback when the WebRTC classifier
// is unavailable.
type EnergyClassifier struct {
	gain float64
}

// NewEnergyClassifier creates an energy-based classifier. The gain
// scales normalized RMS into a probability; pass 0 for the default.
func NewEnergyClassifier(gain float64) *EnergyClassifier {
	if gain <= 0 {
		gain = 12
	}
	return &EnergyClassifier{gain: gain}
}

// Classify implements Classifier.
func (c *EnergyClassifier) Classify(chunk audioio.AudioChunk) (float64, error) {
	rms := audioio.CalculateRMS(chunk.Samples)
	return math.Min(rms*c.gain, 1), nil
}
