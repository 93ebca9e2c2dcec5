package vad

import (
	"errors"
	"fmt"
	"sync"

	webrtcvad "github.com/baabaaox/go-webrtcvad"

	"github.com/voicewire/go-voicewire/pkg/audioio"
)

// ErrClassifierClosed indicates Classify was called after Close.
var ErrClassifierClosed = errors.New("vad: classifier closed")

// WebRTCClassifier scores frames with the WebRTC voice activity
// detector. The underlying instance is not thread safe, so all calls
// are serialized. Frames must be 10, 20 or 30 ms of 8/16/32/48 kHz
// mono PCM.
type WebRTCClassifier struct {
	mu   sync.Mutex
	inst webrtcvad.VadInst
}

// NewWebRTCClassifier creates a classifier with the given aggressiveness
// mode (0 least, 3 most aggressive).
func NewWebRTCClassifier(mode int) (*WebRTCClassifier, error) {
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("vad: mode must be 0-3, got %d", mode)
	}

	inst := webrtcvad.Create()
	if inst == nil {
		return nil, errors.New("vad: failed to create webrtc vad instance")
	}
	if err := webrtcvad.Init(inst); err != nil {
		webrtcvad.Free(inst)
		return nil, fmt.Errorf("vad: init: %w", err)
	}
	if err := webrtcvad.SetMode(inst, mode); err != nil {
		webrtcvad.Free(inst)
		return nil, fmt.Errorf("vad: set mode: %w", err)
	}
	return &WebRTCClassifier{inst: inst}, nil
}

// Classify implements Classifier. The WebRTC detector is binary, so
// the result is either 0 or 1.
func (c *WebRTCClassifier) Classify(chunk audioio.AudioChunk) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inst == nil {
		return 0, ErrClassifierClosed
	}

	frame := audioio.SamplesToBytes(chunk.Samples)
	active, err := webrtcvad.Process(c.inst, chunk.SampleRate, frame, len(chunk.Samples))
	if err != nil {
		return 0, fmt.Errorf("vad: process frame: %w", err)
	}
	if active {
		return 1, nil
	}
	return 0, nil
}

// Close releases the native detector instance.
func (c *WebRTCClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inst != nil {
		webrtcvad.Free(c.inst)
		c.inst = nil
	}
	return nil
}
