package vad

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/voicewire/go-voicewire/pkg/audioio"
)

// Preset names a sensitivity profile for the detector.
type Preset string

const (
	// PresetQuiet is for quiet rooms; it demands strong evidence of speech.
	PresetQuiet Preset = "quiet"

	// PresetNormal is the default profile.
	PresetNormal Preset = "normal"

	// PresetSensitive triggers on faint speech at the cost of false starts.
	PresetSensitive Preset = "sensitive"
)

// Config holds detector tuning.
type Config struct {
	// PositiveThreshold is the probability at or above which a frame
	// counts as speech.
	PositiveThreshold float64

	// NegativeThreshold is the probability below which a frame counts
	// as silence. Frames between the two thresholds keep the current
	// speaking state.
	NegativeThreshold float64

	// MinSpeechFrames is the minimum number of speech frames for a
	// segment to count as a real utterance. Shorter segments are
	// reported as misfires.
	MinSpeechFrames int

	// PreSpeechPadFrames is how many frames before the trigger frame
	// are prepended to the utterance.
	PreSpeechPadFrames int

	// RedemptionFrames is how many consecutive silence frames end the
	// utterance.
	RedemptionFrames int
}

// DefaultConfig returns the normal preset.
func DefaultConfig() Config {
	return ConfigForPreset(PresetNormal)
}

// ConfigForPreset returns tuning for a named sensitivity profile.
// Unknown presets fall back to normal.
func ConfigForPreset(p Preset) Config {
	cfg := Config{
		PositiveThreshold:  0.60,
		NegativeThreshold:  0.40,
		MinSpeechFrames:    3,
		PreSpeechPadFrames: 5,
		RedemptionFrames:   8,
	}
	switch p {
	case PresetQuiet:
		cfg.PositiveThreshold = 0.75
		cfg.NegativeThreshold = 0.55
	case PresetSensitive:
		cfg.PositiveThreshold = 0.45
		cfg.NegativeThreshold = 0.25
	}
	return cfg
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.PositiveThreshold <= 0 || c.PositiveThreshold > 1 {
		return fmt.Errorf("vad: positive threshold must be in (0,1], got %f", c.PositiveThreshold)
	}
	if c.NegativeThreshold < 0 || c.NegativeThreshold >= c.PositiveThreshold {
		return fmt.Errorf("vad: negative threshold must be in [0, positive), got %f", c.NegativeThreshold)
	}
	if c.MinSpeechFrames < 1 {
		return fmt.Errorf("vad: min speech frames must be at least 1, got %d", c.MinSpeechFrames)
	}
	if c.PreSpeechPadFrames < 0 {
		return fmt.Errorf("vad: pre-speech pad frames must be non-negative, got %d", c.PreSpeechPadFrames)
	}
	if c.RedemptionFrames < 1 {
		return fmt.Errorf("vad: redemption frames must be at least 1, got %d", c.RedemptionFrames)
	}
	return nil
}

// Detector applies hysteresis, padding and hangover to per-frame
// speech probabilities and emits utterance boundaries.
type Detector struct {
	cfg        Config
	classifier Classifier
	logger     *slog.Logger

	mu           sync.Mutex
	speaking     bool
	pad          []audioio.AudioChunk
	utterance    []int16
	sampleRate   int
	channels     int
	speechFrames int
	silenceRun   int

	onSpeechStart    func()
	onSpeechEnd      func(audioio.AudioChunk)
	onMisfire        func()
	onFrameProcessed func(probability float64, speaking bool)
}

// NewDetector creates a detector over the given classifier.
func NewDetector(cfg Config, classifier Classifier, logger *slog.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if classifier == nil {
		return nil, fmt.Errorf("vad: classifier is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cfg:        cfg,
		classifier: classifier,
		logger:     logger.With("component", "vad"),
	}, nil
}

// OnSpeechStart sets the callback fired when an utterance begins.
func (d *Detector) OnSpeechStart(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSpeechStart = fn
}

// OnSpeechEnd sets the callback fired with the complete utterance,
// including the pre-speech pad.
func (d *Detector) OnSpeechEnd(fn func(audioio.AudioChunk)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSpeechEnd = fn
}

// OnMisfire sets the callback fired when a segment ends before
// reaching MinSpeechFrames.
func (d *Detector) OnMisfire(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMisfire = fn
}

// OnFrameProcessed sets the callback fired after every classified frame.
func (d *Detector) OnFrameProcessed(fn func(probability float64, speaking bool)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFrameProcessed = fn
}

// Speaking reports whether an utterance is currently in progress.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Process classifies one frame and advances the boundary state machine.
func (d *Detector) Process(chunk audioio.AudioChunk) error {
	prob, err := d.classifier.Classify(chunk)
	if err != nil {
		return fmt.Errorf("vad: classify: %w", err)
	}

	d.mu.Lock()

	positive := prob >= d.cfg.PositiveThreshold
	negative := prob < d.cfg.NegativeThreshold

	var (
		fireStart bool
		fireEnd   bool
		fireMiss  bool
		utterance audioio.AudioChunk
	)

	if !d.speaking {
		if positive {
			d.speaking = true
			d.speechFrames = 1
			d.silenceRun = 0
			d.sampleRate = chunk.SampleRate
			d.channels = chunk.Channels
			d.utterance = d.utterance[:0]
			for _, p := range d.pad {
				d.utterance = append(d.utterance, p.Samples...)
			}
			d.utterance = append(d.utterance, chunk.Samples...)
			d.pad = d.pad[:0]
			fireStart = true
		} else {
			d.pushPadLocked(chunk)
		}
	} else {
		d.utterance = append(d.utterance, chunk.Samples...)
		if positive {
			d.speechFrames++
			d.silenceRun = 0
		} else if negative {
			d.silenceRun++
			if d.silenceRun >= d.cfg.RedemptionFrames {
				if d.speechFrames >= d.cfg.MinSpeechFrames {
					samples := make([]int16, len(d.utterance))
					copy(samples, d.utterance)
					utterance = audioio.AudioChunk{
						Samples:    samples,
						SampleRate: d.sampleRate,
						Channels:   d.channels,
					}
					fireEnd = true
				} else {
					fireMiss = true
				}
				d.resetLocked()
			}
		} else {
			d.silenceRun = 0
		}
	}

	speaking := d.speaking
	cbFrame := d.onFrameProcessed
	cbStart := d.onSpeechStart
	cbEnd := d.onSpeechEnd
	cbMiss := d.onMisfire
	d.mu.Unlock()

	if cbFrame != nil {
		cbFrame(prob, speaking)
	}
	if fireStart {
		d.logger.Debug("speech started", "probability", prob)
		if cbStart != nil {
			cbStart()
		}
	}
	if fireEnd {
		d.logger.Debug("speech ended",
			"samples", len(utterance.Samples),
			"duration_ms", utterance.Duration().Milliseconds(),
		)
		if cbEnd != nil {
			cbEnd(utterance)
		}
	}
	if fireMiss {
		d.logger.Debug("vad misfire, segment too short")
		if cbMiss != nil {
			cbMiss()
		}
	}
	return nil
}

// Reset discards any in-progress utterance and pad frames.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
	d.pad = d.pad[:0]
}

func (d *Detector) resetLocked() {
	d.speaking = false
	d.speechFrames = 0
	d.silenceRun = 0
	d.utterance = d.utterance[:0]
}

func (d *Detector) pushPadLocked(chunk audioio.AudioChunk) {
	if d.cfg.PreSpeechPadFrames == 0 {
		return
	}
	d.pad = append(d.pad, chunk)
	if len(d.pad) > d.cfg.PreSpeechPadFrames {
		d.pad = d.pad[len(d.pad)-d.cfg.PreSpeechPadFrames:]
	}
}
