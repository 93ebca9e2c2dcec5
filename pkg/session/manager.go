// Package session is the facade over the whole client pipeline. The
// manager bootstraps a server session, owns the transport, capture,
// playback and conversation state, and exposes the user actions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voicewire/go-voicewire/internal/httpc"
	"github.com/voicewire/go-voicewire/pkg/capture"
	"github.com/voicewire/go-voicewire/pkg/conversation"
	"github.com/voicewire/go-voicewire/pkg/playback"
	"github.com/voicewire/go-voicewire/pkg/protocol"
	"github.com/voicewire/go-voicewire/pkg/transport"
)

// Sentinel errors for the session package.
var (
	// ErrNotReady indicates an action was attempted before a
	// successful Initialize.
	ErrNotReady = errors.New("session: not initialized")

	// ErrMissingEndpoint indicates the config lacks a required URL.
	ErrMissingEndpoint = errors.New("session: api and ws endpoints are required")
)

// BootstrapError reports a non-2xx response from the session endpoint.
type BootstrapError struct {
	Status int
}

// Error implements the error interface.
func (e *BootstrapError) Error() string {
	return fmt.Sprintf("session: bootstrap failed with status %d", e.Status)
}

// Status is the manager lifecycle state.
type Status int

const (
	// StatusNew means Initialize has not been called.
	StatusNew Status = iota

	// StatusReady means the session is bootstrapped and connected.
	StatusReady

	// StatusError means initialization failed.
	StatusError
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Transport is the slice of the transport channel the manager uses.
// *transport.Channel satisfies it.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Close() error
	Send(msg *protocol.Message) error
	SendBinary(data []byte) error
	SetURL(url string)
	State() transport.State
	Latency() time.Duration
	OnMessage(fn func(*protocol.Message))
	OnBinary(fn func([]byte))
	OnStateChange(fn func(transport.State))
	OnLatency(fn func(time.Duration))
}

// Config holds session settings.
type Config struct {
	// APIURL is the HTTP base for the bootstrap endpoint.
	APIURL string

	// WSURL is the WebSocket base. When set, the transport endpoint is
	// rebuilt after bootstrap to carry the session id.
	WSURL string

	// Voice names the TTS voice selected for the session. The backend
	// does not take it at bootstrap; it is held for the settings surface.
	Voice string

	// Model names the selected LLM, held for the settings surface.
	Model string

	// HandsFree selects VAD capture for StartRecording.
	HandsFree bool
}

// DefaultConfig returns session defaults.
func DefaultConfig() Config {
	return Config{}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.APIURL == "" {
		return ErrMissingEndpoint
	}
	return nil
}

// Option configures a Manager.
type Option func(*Config)

// WithVoice sets the requested TTS voice.
func WithVoice(voice string) Option {
	return func(c *Config) { c.Voice = voice }
}

// WithModel sets the requested LLM.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithHandsFree selects VAD capture for StartRecording.
func WithHandsFree(on bool) Option {
	return func(c *Config) { c.HandsFree = on }
}

// Manager owns the pipeline and exposes the user-facing actions.
type Manager struct {
	cfg     Config
	channel Transport
	engine  *capture.Engine
	player  *playback.Controller
	store   *conversation.Store
	agg     *Aggregator
	logger  *slog.Logger

	mu        sync.Mutex
	status    Status
	initErr   error
	sessionID string
	handsFree bool
}

// NewManager wires the pipeline together. The transport, engine,
// player and store are owned by the manager from this point on.
func NewManager(
	cfg Config,
	channel Transport,
	engine *capture.Engine,
	player *playback.Controller,
	store *conversation.Store,
	logger *slog.Logger,
	opts ...Option,
) (*Manager, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if channel == nil || engine == nil || player == nil || store == nil {
		return nil, errors.New("session: channel, engine, player and store are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:       cfg,
		channel:   channel,
		engine:    engine,
		player:    player,
		store:     store,
		agg:       NewAggregator(store, player, logger),
		logger:    logger.With("component", "session"),
		handsFree: cfg.HandsFree,
	}
	m.wire()
	return m, nil
}

// Aggregator exposes the response aggregator for callback wiring.
func (m *Manager) Aggregator() *Aggregator {
	return m.agg
}

// Store exposes the conversation store.
func (m *Manager) Store() *conversation.Store {
	return m.store
}

// wire connects transport and capture events to the pipeline.
func (m *Manager) wire() {
	m.channel.OnMessage(m.agg.HandleMessage)
	m.channel.OnBinary(m.agg.HandleBinary)
	m.channel.OnStateChange(func(s transport.State) {
		if s == transport.StateDisconnected || s == transport.StateError {
			m.agg.HandleDisconnect()
		}
	})

	// Manual mode: announce, stream, then close the utterance.
	m.engine.OnManualStart(func() {
		m.send(protocol.NewStartRecording())
	})
	m.engine.OnChunk(func(data []byte, _ capture.Encoding) {
		if err := m.channel.SendBinary(data); err != nil {
			m.logger.Warn("audio chunk send failed", "error", err)
		}
	})
	m.engine.OnManualEnd(func() {
		m.send(protocol.NewEndOfSpeech())
	})

	// Hands-free: barge in if the assistant is talking, then announce.
	m.engine.OnSpeechStart(func() {
		if m.player.State() == playback.StatePlaying {
			m.logger.Debug("barge-in, stopping playback")
			if err := m.player.Stop(); err != nil {
				m.logger.Warn("barge-in stop failed", "error", err)
			}
			m.send(protocol.NewInterrupt())
		}
		m.send(protocol.NewStartRecording())
	})
	m.engine.OnUtterance(func(wav []byte) {
		if err := m.channel.SendBinary(wav); err != nil {
			m.logger.Warn("utterance send failed", "error", err)
			return
		}
		m.send(protocol.NewEndOfSpeech())
	})
}

// Initialize bootstraps the server session and connects the transport.
// It is idempotent: repeat calls after success are no-ops, and repeat
// calls after failure return the original error without retrying.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.status {
	case StatusReady:
		return nil
	case StatusError:
		return m.initErr
	}

	if err := m.bootstrapLocked(ctx); err != nil {
		m.status = StatusError
		m.initErr = err
		return err
	}

	if m.cfg.WSURL != "" {
		url := m.cfg.WSURL + "/ws/audio-stream"
		if m.sessionID != "" {
			url += "?session_id=" + m.sessionID
		}
		m.channel.SetURL(url)
	}

	if err := m.channel.Connect(ctx); err != nil {
		m.status = StatusError
		m.initErr = fmt.Errorf("session: connect: %w", err)
		return m.initErr
	}

	m.status = StatusReady
	m.logger.Info("session ready", "session_id", m.sessionID)
	return nil
}

// bootstrapLocked performs the one-time session POST. The endpoint
// takes an empty JSON object and answers with the assigned session id.
func (m *Manager) bootstrapLocked(ctx context.Context) error {
	resp, err := httpc.PostJSON(ctx, m.cfg.APIURL+"/api/v1/session/", []byte("{}"))
	if err != nil {
		return fmt.Errorf("session: bootstrap request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &BootstrapError{Status: resp.StatusCode}
	}

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
		m.sessionID = payload.ID
	}
	return nil
}

// Status returns the manager lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// SessionID returns the id assigned at bootstrap, if any.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// StartRecording opens the microphone in the configured mode.
func (m *Manager) StartRecording(ctx context.Context) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	m.mu.Lock()
	handsFree := m.handsFree
	m.mu.Unlock()

	if handsFree {
		return m.engine.StartHandsFree(ctx)
	}
	return m.engine.StartManual(ctx)
}

// StopRecording releases the microphone. In manual mode the end of
// speech event still fires after the grace delay.
func (m *Manager) StopRecording() error {
	return m.engine.Stop()
}

// SendText sends a typed message, echoing it locally first.
func (m *Manager) SendText(text string) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	m.agg.UserTextSent(text)
	return m.channel.Send(protocol.NewTextMessage(text))
}

// Interrupt stops playback and tells the server to cancel the
// in-flight response.
func (m *Manager) Interrupt() error {
	if err := m.requireReady(); err != nil {
		return err
	}
	if err := m.player.Stop(); err != nil {
		m.logger.Warn("playback stop failed", "error", err)
	}
	m.agg.ClearThinking()
	return m.channel.Send(protocol.NewInterrupt())
}

// SetHandsFree switches the capture mode used by StartRecording.
// Any active capture is released first.
func (m *Manager) SetHandsFree(on bool) error {
	if err := m.engine.Abort(); err != nil {
		return err
	}
	m.mu.Lock()
	m.handsFree = on
	m.mu.Unlock()
	return nil
}

// HandsFree reports the configured capture mode.
func (m *Manager) HandsFree() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handsFree
}

// Reset stops capture and playback, discards partial response state,
// and starts a fresh conversation.
func (m *Manager) Reset() error {
	if err := m.engine.Abort(); err != nil {
		return err
	}
	if err := m.player.Stop(); err != nil {
		m.logger.Warn("playback stop failed", "error", err)
	}
	m.agg.HandleDisconnect()
	m.store.New()
	return nil
}

// Latency returns the last measured heartbeat round trip.
func (m *Manager) Latency() time.Duration {
	return m.channel.Latency()
}

// OnLatency forwards heartbeat measurements to fn.
func (m *Manager) OnLatency(fn func(time.Duration)) {
	m.channel.OnLatency(fn)
}

// OnAudioLevel forwards throttled capture levels to fn.
func (m *Manager) OnAudioLevel(fn func(level float64)) {
	m.engine.OnLevel(fn)
}

// Teardown releases everything: capture, playback, and the transport.
func (m *Manager) Teardown() error {
	var errs []error
	if err := m.engine.Abort(); err != nil {
		errs = append(errs, err)
	}
	if err := m.player.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.channel.Close(); err != nil {
		errs = append(errs, err)
	}

	m.mu.Lock()
	m.status = StatusNew
	m.initErr = nil
	m.mu.Unlock()

	return errors.Join(errs...)
}

func (m *Manager) requireReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusReady {
		return ErrNotReady
	}
	return nil
}

func (m *Manager) send(msg *protocol.Message) {
	if err := m.channel.Send(msg); err != nil {
		m.logger.Warn("send failed", "type", msg.Type, "error", err)
	}
}
