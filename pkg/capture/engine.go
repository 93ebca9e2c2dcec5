// Package capture reads microphone audio and turns it into utterances.
// It supports two exclusive modes: manual push-to-talk, which streams
// encoded chunks while the user holds the mic open, and hands-free,
// which uses voice activity detection to find utterance boundaries.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/go-voicewire/pkg/audioio"
	"github.com/voicewire/go-voicewire/pkg/vad"
)

// Sentinel errors for the capture package.
var (
	// ErrCaptureBusy indicates a capture mode is already active.
	ErrCaptureBusy = errors.New("capture: another capture mode is active")

	// ErrNotCapturing indicates Stop was called with no mode active.
	ErrNotCapturing = errors.New("capture: not capturing")
)

// Mode identifies the active capture strategy.
type Mode string

const (
	// ModeNone means the microphone is released.
	ModeNone Mode = ""

	// ModeManual is push-to-talk chunk streaming.
	ModeManual Mode = "manual"

	// ModeVAD is hands-free boundary detection.
	ModeVAD Mode = "vad"
)

// Encoding identifies the wire encoding of streamed chunks.
type Encoding string

const (
	// EncodingPCM streams raw 16-bit little-endian PCM.
	EncodingPCM Encoding = "pcm"

	// EncodingOpus streams one Opus packet per chunk.
	EncodingOpus Encoding = "opus"
)

// Config holds capture tuning.
type Config struct {
	// ChunkDuration is how much audio each manual-mode chunk carries.
	ChunkDuration time.Duration

	// GraceDelay is how long after a manual stop the end-of-speech
	// event is held back, so trailing audio is not cut off.
	GraceDelay time.Duration

	// LevelInterval throttles audio level callbacks.
	LevelInterval time.Duration

	// ChunkEncoding selects the manual-mode wire encoding.
	ChunkEncoding Encoding

	// VAD tunes the hands-free detector.
	VAD vad.Config
}

// DefaultConfig returns capture defaults.
func DefaultConfig() Config {
	return Config{
		ChunkDuration: 100 * time.Millisecond,
		GraceDelay:    300 * time.Millisecond,
		LevelInterval: 33 * time.Millisecond,
		ChunkEncoding: EncodingPCM,
		VAD:           vad.DefaultConfig(),
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("capture: chunk duration must be positive, got %v", c.ChunkDuration)
	}
	if c.GraceDelay < 0 {
		return fmt.Errorf("capture: grace delay must be non-negative, got %v", c.GraceDelay)
	}
	if c.LevelInterval <= 0 {
		return fmt.Errorf("capture: level interval must be positive, got %v", c.LevelInterval)
	}
	switch c.ChunkEncoding {
	case EncodingPCM, EncodingOpus:
	default:
		return fmt.Errorf("capture: unknown chunk encoding %q", c.ChunkEncoding)
	}
	return c.VAD.Validate()
}

// Engine owns the audio source and runs at most one capture mode.
type Engine struct {
	cfg        Config
	source     audioio.Source
	classifier vad.Classifier
	logger     *slog.Logger

	mu         sync.Mutex
	mode       Mode
	stop       chan struct{}
	wg         sync.WaitGroup
	graceTimer *time.Timer
	lastLevel  time.Time

	onModeChange  func(Mode)
	onManualStart func()
	onChunk       func(data []byte, enc Encoding)
	onManualEnd   func()
	onSpeechStart func()
	onUtterance   func(wav []byte)
	onMisfire     func()
	onLevel       func(level float64)
	onFault       func(fault vad.Fault, err error)
}

// New creates an engine over the given source. The classifier is used
// in hands-free mode; pass nil to default to energy-based detection.
func New(cfg Config, source audioio.Source, classifier vad.Classifier, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, errors.New("capture: source is required")
	}
	if classifier == nil {
		classifier = vad.NewEnergyClassifier(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		source:     source,
		classifier: classifier,
		logger:     logger.With("component", "capture"),
	}, nil
}

// Mode returns the active capture mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Recording reports whether the microphone is currently held open.
func (e *Engine) Recording() bool {
	return e.Mode() != ModeNone
}

// OnModeChange sets the callback fired when the capture mode changes.
func (e *Engine) OnModeChange(fn func(Mode)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onModeChange = fn
}

// OnManualStart sets the callback fired when manual capture opens the
// mic, before any chunk is emitted.
func (e *Engine) OnManualStart(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onManualStart = fn
}

// OnChunk sets the callback for manual-mode audio chunks.
func (e *Engine) OnChunk(fn func(data []byte, enc Encoding)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChunk = fn
}

// OnManualEnd sets the callback fired after the grace delay once
// manual capture stops.
func (e *Engine) OnManualEnd(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onManualEnd = fn
}

// OnSpeechStart sets the callback fired when hands-free detection
// sees an utterance begin.
func (e *Engine) OnSpeechStart(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSpeechStart = fn
}

// OnUtterance sets the callback fired with a complete WAV utterance
// in hands-free mode.
func (e *Engine) OnUtterance(fn func(wav []byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUtterance = fn
}

// OnMisfire sets the callback fired when a detected segment was too
// short to be speech.
func (e *Engine) OnMisfire(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMisfire = fn
}

// OnLevel sets the throttled audio level callback.
func (e *Engine) OnLevel(fn func(level float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLevel = fn
}

// OnFault sets the callback fired when capture fails to start or the
// source dies mid-capture.
func (e *Engine) OnFault(fn func(fault vad.Fault, err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFault = fn
}

// Stop releases the microphone synchronously. Any pending manual
// grace timer still fires so the utterance is finalized.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.mode == ModeNone {
		e.mu.Unlock()
		return ErrNotCapturing
	}
	e.setModeLocked(ModeNone)
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	e.mu.Unlock()

	err := e.source.Stop()
	e.wg.Wait()
	return err
}

// Abort is Stop plus cancellation of any pending manual end event.
func (e *Engine) Abort() error {
	e.mu.Lock()
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
	e.mu.Unlock()

	err := e.Stop()
	if errors.Is(err, ErrNotCapturing) {
		return nil
	}
	return err
}

// begin transitions from idle to the given mode and starts the source.
func (e *Engine) begin(ctx context.Context, mode Mode) (chan struct{}, error) {
	e.mu.Lock()
	if e.mode != ModeNone {
		e.mu.Unlock()
		return nil, ErrCaptureBusy
	}
	stop := make(chan struct{})
	e.stop = stop
	e.setModeLocked(mode)
	e.mu.Unlock()

	if err := e.source.Start(ctx); err != nil {
		e.mu.Lock()
		e.setModeLocked(ModeNone)
		e.stop = nil
		e.mu.Unlock()
		e.fault(err)
		return nil, fmt.Errorf("capture: start source: %w", err)
	}
	return stop, nil
}

// finish returns the engine to idle after a read loop exits on its own.
func (e *Engine) finish(stop chan struct{}) {
	e.mu.Lock()
	if e.stop == stop {
		e.setModeLocked(ModeNone)
		e.stop = nil
	}
	e.mu.Unlock()
}

func (e *Engine) setModeLocked(m Mode) {
	if e.mode == m {
		return
	}
	e.mode = m
	if e.onModeChange != nil {
		go e.onModeChange(m)
	}
}

func (e *Engine) fault(err error) {
	fault := vad.ClassifyFault(err)
	e.logger.Error("capture fault", "fault", fault, "error", err)

	e.mu.Lock()
	cb := e.onFault
	e.mu.Unlock()
	if cb != nil {
		cb(fault, err)
	}
}

// meterLevel emits a throttled RMS level for the chunk.
func (e *Engine) meterLevel(chunk audioio.AudioChunk) {
	e.mu.Lock()
	if time.Since(e.lastLevel) < e.cfg.LevelInterval {
		e.mu.Unlock()
		return
	}
	e.lastLevel = time.Now()
	cb := e.onLevel
	e.mu.Unlock()

	if cb != nil {
		cb(audioio.CalculateRMS(chunk.Samples))
	}
}
