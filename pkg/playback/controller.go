// Package playback plays response audio through a single shared sink
// and tracks which utterance currently owns it. Only one utterance can
// be playing or paused at a time; starting a new one releases the old.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voicewire/go-voicewire/pkg/audioio"
)

// Sentinel errors for the playback package.
var (
	// ErrNotPlaying indicates Pause was called with nothing playing.
	ErrNotPlaying = errors.New("playback: nothing is playing")

	// ErrNotPaused indicates Resume was called without a paused utterance.
	ErrNotPaused = errors.New("playback: nothing is paused")

	// ErrWrongUtterance indicates Resume named an utterance that does
	// not own the sink.
	ErrWrongUtterance = errors.New("playback: utterance does not match")

	// ErrEmptyAudio indicates Play was given no samples.
	ErrEmptyAudio = errors.New("playback: empty audio")
)

// State is the playback state.
type State int

const (
	// StateStopped means no utterance owns the sink.
	StateStopped State = iota

	// StatePlaying means audio is being fed to the sink.
	StatePlaying

	// StatePaused means an utterance owns the sink but is not feeding it.
	StatePaused
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Controller owns the audio sink and enforces exclusive playback.
type Controller struct {
	sink   audioio.Sink
	logger *slog.Logger

	mu        sync.Mutex
	started   bool
	state     State
	currentID string
	samples   []int16
	rate      int
	channels  int
	pos       int
	gen       int

	onDone  func(id string)
	onError func(id string, err error)
	onState func(state State, id string)
}

// New creates a controller over the given sink.
func New(sink audioio.Sink, logger *slog.Logger) (*Controller, error) {
	if sink == nil {
		return nil, errors.New("playback: sink is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		sink:   sink,
		logger: logger.With("component", "playback"),
		state:  StateStopped,
	}, nil
}

// OnDone sets the callback fired when an utterance plays to completion.
func (c *Controller) OnDone(fn func(id string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDone = fn
}

// OnError sets the callback fired when the sink fails mid-playback.
func (c *Controller) OnError(fn func(id string, err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// OnStateChange sets the callback fired on every state transition.
// The id is empty when the new state is stopped.
func (c *Controller) OnStateChange(fn func(state State, id string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the id of the utterance that owns the sink.
// ok is false exactly when playback is stopped.
func (c *Controller) Current() (id string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentID, c.state != StateStopped
}

// PlayWAV decodes a WAV payload and plays it as utterance id.
func (c *Controller) PlayWAV(id string, wav []byte) error {
	samples, rate, channels, err := audioio.DecodeWAV(wav)
	if err != nil {
		return fmt.Errorf("playback: decode wav: %w", err)
	}
	return c.Play(id, audioio.AudioChunk{Samples: samples, SampleRate: rate, Channels: channels})
}

// Play starts the given audio as utterance id, releasing any utterance
// that currently owns the sink. Playing the id that is currently paused
// resumes it from where it left off instead of starting over.
func (c *Controller) Play(id string, audio audioio.AudioChunk) error {
	if len(audio.Samples) == 0 {
		return ErrEmptyAudio
	}
	if err := c.ensureStarted(); err != nil {
		return fmt.Errorf("playback: start sink: %w", err)
	}

	c.mu.Lock()
	if c.state == StatePaused && c.currentID == id {
		c.gen++
		gen := c.gen
		c.setStateLocked(StatePlaying)
		c.mu.Unlock()

		c.logger.Debug("resuming", "id", id)
		go c.feed(gen)
		return nil
	}
	if c.state != StateStopped {
		c.logger.Debug("releasing current utterance", "id", c.currentID)
	}
	c.gen++
	gen := c.gen
	c.currentID = id
	c.samples = audio.Samples
	c.rate = audio.SampleRate
	c.channels = audio.Channels
	c.pos = 0
	c.setStateLocked(StatePlaying)
	c.mu.Unlock()

	if err := c.sink.Clear(); err != nil {
		c.logger.Warn("sink clear failed", "error", err)
	}

	c.logger.Debug("playing", "id", id, "duration_ms", audio.Duration().Milliseconds())
	go c.feed(gen)
	return nil
}

// Pause suspends playback but keeps the utterance's claim on the sink.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return ErrNotPlaying
	}
	c.gen++ // stops the feeder
	c.setStateLocked(StatePaused)
	c.mu.Unlock()

	if err := c.sink.Clear(); err != nil {
		c.logger.Warn("sink clear failed", "error", err)
	}
	return nil
}

// Resume continues a paused utterance from where it left off. The id
// must match the utterance that owns the sink.
func (c *Controller) Resume(id string) error {
	c.mu.Lock()
	if c.state != StatePaused {
		c.mu.Unlock()
		return ErrNotPaused
	}
	if c.currentID != id {
		c.mu.Unlock()
		return ErrWrongUtterance
	}
	c.gen++
	gen := c.gen
	c.setStateLocked(StatePlaying)
	c.mu.Unlock()

	go c.feed(gen)
	return nil
}

// Stop releases the sink and discards the current utterance.
// Stopping when already stopped is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	c.releaseLocked()
	c.mu.Unlock()

	if err := c.sink.Clear(); err != nil {
		c.logger.Warn("sink clear failed", "error", err)
	}
	return nil
}

// Close stops playback and closes the sink.
func (c *Controller) Close() error {
	_ = c.Stop()
	return c.sink.Close()
}

func (c *Controller) ensureStarted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	if err := c.sink.Start(context.Background()); err != nil {
		return err
	}
	c.started = true
	return nil
}

// feed writes audio to the sink in frame-sized chunks until the
// utterance ends, the generation changes, or the sink fails.
func (c *Controller) feed(gen int) {
	ctx := context.Background()
	frame := c.sink.Config().BufferSize()
	if frame <= 0 {
		frame = 320
	}

	for {
		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		if c.pos >= len(c.samples) {
			id := c.currentID
			cb := c.onDone
			c.releaseLocked()
			c.mu.Unlock()

			c.logger.Debug("playback finished", "id", id)
			if cb != nil {
				cb(id)
			}
			return
		}
		end := c.pos + frame
		if end > len(c.samples) {
			end = len(c.samples)
		}
		chunk := audioio.AudioChunk{
			Samples:    c.samples[c.pos:end],
			SampleRate: c.rate,
			Channels:   c.channels,
		}
		c.pos = end
		id := c.currentID
		c.mu.Unlock()

		if err := c.sink.Write(ctx, chunk); err != nil {
			c.mu.Lock()
			if c.gen != gen {
				c.mu.Unlock()
				return
			}
			cb := c.onError
			c.releaseLocked()
			c.mu.Unlock()

			c.logger.Error("sink write failed", "id", id, "error", err)
			if cb != nil {
				cb(id, err)
			}
			return
		}
	}
}

// releaseLocked returns the controller to the stopped state. The
// current id is cleared in the same step so the two can never disagree.
func (c *Controller) releaseLocked() {
	c.currentID = ""
	c.samples = nil
	c.pos = 0
	c.setStateLocked(StateStopped)
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onState != nil {
		go c.onState(s, c.currentID)
	}
}
