// Package transport maintains the WebSocket connection that carries
// voice session traffic. It handles framing, heartbeats, latency
// measurement and automatic reconnection after abnormal closes.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/go-voicewire/pkg/protocol"
)

// Channel is a WebSocket client for the voice session wire protocol.
// Text frames carry protocol messages, binary frames carry raw audio.
// All methods are safe for concurrent use.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	state          State
	closed         bool
	intentional    bool
	reconnects     int
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	pingSent       time.Time
	latency        time.Duration

	onMessage func(*protocol.Message)
	onBinary  func([]byte)
	onState   func(State)
	onLatency func(time.Duration)
}

// New creates a channel for the given endpoint.
func New(url string, logger *slog.Logger, opts ...Option) (*Channel, error) {
	cfg := DefaultConfig()
	cfg.URL = url
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:    cfg,
		logger: logger.With("component", "transport"),
		state:  StateDisconnected,
	}, nil
}

// SetURL replaces the endpoint used by subsequent dials, for callers
// that learn the final URL (e.g. with a session id) after bootstrap.
func (c *Channel) SetURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.URL = url
}

// Connect dials the endpoint and starts the read and heartbeat loops.
// A fresh Connect resets the reconnect budget.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil || c.state == StateConnecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.intentional = false
	c.reconnects = 0
	c.mu.Unlock()

	return c.dial(ctx)
}

// Disconnect closes the connection with a normal close frame and
// cancels any pending reconnect. The channel can be connected again.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	c.intentional = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	c.setState(StateDisconnected)
	return nil
}

// Close permanently shuts down the channel.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.Disconnect()
}

// Send encodes a protocol message and writes it as a text frame.
func (c *Channel) Send(msg *protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("transport: encode message: %w", err)
	}
	return c.write(websocket.TextMessage, data)
}

// SendBinary writes raw audio bytes as a binary frame.
func (c *Channel) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if the channel can send frames.
func (c *Channel) IsConnected() bool {
	return c.State() == StateConnected
}

// Latency returns the round-trip time of the last heartbeat,
// or zero if no pong has been received yet.
func (c *Channel) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// OnMessage sets the callback for decoded protocol messages.
func (c *Channel) OnMessage(fn func(*protocol.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnBinary sets the callback for binary audio frames.
func (c *Channel) OnBinary(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBinary = fn
}

// OnStateChange sets the callback for connection state transitions.
func (c *Channel) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// OnLatency sets the callback for heartbeat round-trip measurements.
func (c *Channel) OnLatency(fn func(time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLatency = fn
}

func (c *Channel) dial(ctx context.Context) error {
	c.setState(StateConnecting)

	c.mu.Lock()
	url := c.cfg.URL
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.logger.Warn("dial failed", "url", url, "error", err)
		if c.scheduleReconnect() {
			return NewConnectionError("dial failed", err, true)
		}
		c.setState(StateError)
		return NewConnectionError("dial failed", err, false)
	}

	c.mu.Lock()
	if c.closed || c.intentional {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.mu.Unlock()

	c.setState(StateConnected)
	c.logger.Info("connected", "url", url)

	go c.readLoop(conn)
	go c.heartbeat(stop)
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(conn, err)
			return
		}

		switch mt {
		case websocket.TextMessage:
			msg, perr := protocol.Parse(data)
			if perr != nil {
				c.logger.Warn("dropping malformed frame", "error", perr)
				continue
			}
			if msg.Type == protocol.TypePong {
				c.recordPong()
			}
			c.mu.Lock()
			cb := c.onMessage
			c.mu.Unlock()
			if cb != nil {
				cb(msg)
			}
		case websocket.BinaryMessage:
			c.mu.Lock()
			cb := c.onBinary
			c.mu.Unlock()
			if cb != nil {
				cb(data)
			}
		}
	}
}

func (c *Channel) handleClosed(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection has replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.stopHeartbeatLocked()
	intentional := c.closed || c.intentional
	c.mu.Unlock()

	_ = conn.Close()

	if intentional || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.setState(StateDisconnected)
		return
	}

	c.logger.Warn("connection lost", "error", err)
	c.setState(StateDisconnected)
	if !c.scheduleReconnect() {
		c.logger.Error("giving up", "error", ErrRetriesExhausted)
		c.setState(StateError)
	}
}

// scheduleReconnect arms the reconnect timer if the budget allows.
// Returns false when the channel was closed intentionally or the
// attempt cap has been reached.
func (c *Channel) scheduleReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.intentional || c.reconnects >= c.cfg.ReconnectAttempts {
		return false
	}
	c.reconnects++
	attempt := c.reconnects
	c.reconnectTimer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.logger.Info("reconnecting", "attempt", attempt, "max", c.cfg.ReconnectAttempts)
		if err := c.dial(context.Background()); err != nil {
			c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
		}
	})
	return true
}

func (c *Channel) heartbeat(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.pingSent = time.Now()
			c.mu.Unlock()
			if err := c.Send(protocol.NewPing()); err != nil {
				c.logger.Warn("heartbeat send failed", "error", err)
				return
			}
		}
	}
}

func (c *Channel) recordPong() {
	c.mu.Lock()
	if c.pingSent.IsZero() {
		c.mu.Unlock()
		return
	}
	c.latency = time.Since(c.pingSent)
	// A pong means the link is genuinely healthy, not just that the
	// handshake succeeded, so the retry budget starts over.
	c.reconnects = 0
	rtt := c.latency
	cb := c.onLatency
	c.mu.Unlock()

	c.logger.Debug("heartbeat", "rtt_ms", rtt.Milliseconds())
	if cb != nil {
		cb(rtt)
	}
}

func (c *Channel) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.onState
	c.mu.Unlock()

	if cb != nil {
		cb(s)
	}
}

func (c *Channel) write(mt int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(mt, data); err != nil {
		return NewConnectionError("write failed", err, true)
	}
	return nil
}
