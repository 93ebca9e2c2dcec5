package transport

import (
	"fmt"
	"time"
)

// Config holds the channel configuration.
type Config struct {
	// URL is the WebSocket endpoint to dial.
	URL string

	// HeartbeatPeriod is the interval between application-level pings.
	HeartbeatPeriod time.Duration

	// ReconnectDelay is the fixed wait before a reconnect attempt.
	ReconnectDelay time.Duration

	// ReconnectAttempts caps how many reconnects are tried before
	// the channel enters the error state. Zero disables reconnection.
	ReconnectAttempts int

	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each outgoing frame write.
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatPeriod:   30 * time.Second,
		ReconnectDelay:    3 * time.Second,
		ReconnectAttempts: 5,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.URL == "" {
		return ErrMissingURL
	}
	if c.HeartbeatPeriod <= 0 {
		return fmt.Errorf("transport: heartbeat period must be positive, got %v", c.HeartbeatPeriod)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("transport: reconnect delay must be positive, got %v", c.ReconnectDelay)
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("transport: reconnect attempts must be non-negative, got %d", c.ReconnectAttempts)
	}
	return nil
}

// Option configures a Channel.
type Option func(*Config)

// WithHeartbeatPeriod sets the application ping interval.
func WithHeartbeatPeriod(d time.Duration) Option {
	return func(c *Config) { c.HeartbeatPeriod = d }
}

// WithReconnectDelay sets the fixed delay before reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Config) { c.ReconnectDelay = d }
}

// WithReconnectAttempts sets the reconnect attempt cap.
func WithReconnectAttempts(n int) Option {
	return func(c *Config) { c.ReconnectAttempts = n }
}

// WithHandshakeTimeout sets the dial timeout.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) { c.HandshakeTimeout = d }
}

// WithWriteTimeout sets the per-frame write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) { c.WriteTimeout = d }
}
