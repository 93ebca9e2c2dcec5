package session

import (
	"context"
	"sync"
	"time"

	"github.com/voicewire/go-voicewire/pkg/protocol"
	"github.com/voicewire/go-voicewire/pkg/transport"
)

// MockTransport is a test double for the transport channel. It records
// sent messages and lets tests inject incoming traffic through the
// registered callbacks.
type MockTransport struct {
	mu sync.Mutex

	// Overridable behaviors.
	ConnectFunc    func(ctx context.Context) error
	SendFunc       func(msg *protocol.Message) error
	SendBinaryFunc func(data []byte) error

	// Captured calls.
	connects  int
	sent      []*protocol.Message
	sentBin   [][]byte
	connected bool
	url       string

	onMessage func(*protocol.Message)
	onBinary  func([]byte)
	onState   func(transport.State)
	onLatency func(time.Duration)
}

// NewMockTransport creates a mock channel.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Connect implements Transport.
func (m *MockTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.connects++
	fn := m.ConnectFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// Disconnect implements Transport.
func (m *MockTransport) Disconnect() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// Close implements Transport.
func (m *MockTransport) Close() error {
	return m.Disconnect()
}

// Send implements Transport.
func (m *MockTransport) Send(msg *protocol.Message) error {
	m.mu.Lock()
	fn := m.SendFunc
	m.mu.Unlock()
	if fn != nil {
		if err := fn(msg); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	return nil
}

// SendBinary implements Transport.
func (m *MockTransport) SendBinary(data []byte) error {
	m.mu.Lock()
	fn := m.SendBinaryFunc
	m.mu.Unlock()
	if fn != nil {
		if err := fn(data); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.sentBin = append(m.sentBin, data)
	m.mu.Unlock()
	return nil
}

// SetURL implements Transport.
func (m *MockTransport) SetURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
}

// URL returns the endpoint last set with SetURL.
func (m *MockTransport) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// State implements Transport.
func (m *MockTransport) State() transport.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return transport.StateConnected
	}
	return transport.StateDisconnected
}

// Latency implements Transport.
func (m *MockTransport) Latency() time.Duration { return 0 }

// OnMessage implements Transport.
func (m *MockTransport) OnMessage(fn func(*protocol.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = fn
}

// OnBinary implements Transport.
func (m *MockTransport) OnBinary(fn func([]byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBinary = fn
}

// OnStateChange implements Transport.
func (m *MockTransport) OnStateChange(fn func(transport.State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = fn
}

// OnLatency implements Transport.
func (m *MockTransport) OnLatency(fn func(time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLatency = fn
}

// Deliver injects an incoming control message.
func (m *MockTransport) Deliver(msg *protocol.Message) {
	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

// DeliverBinary injects an incoming binary frame.
func (m *MockTransport) DeliverBinary(data []byte) {
	m.mu.Lock()
	fn := m.onBinary
	m.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// EmitState injects a connection state transition.
func (m *MockTransport) EmitState(s transport.State) {
	m.mu.Lock()
	fn := m.onState
	m.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Sent returns a copy of all control messages sent so far.
func (m *MockTransport) Sent() []*protocol.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*protocol.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentBinary returns a copy of all binary frames sent so far.
func (m *MockTransport) SentBinary() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sentBin))
	copy(out, m.sentBin)
	return out
}

// Connects returns how many times Connect was called.
func (m *MockTransport) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

var _ Transport = (*MockTransport)(nil)
