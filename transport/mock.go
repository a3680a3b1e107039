package transport

import (
	"sync"
	"sync/atomic"
)

// SentText records one SendText invocation on the Mock.
type SentText struct {
	ID      uint32
	Text    string
	Dest    string
	Channel int
	WantAck bool
}

// Mock is a scripted in-memory transport for tests. AckFunc, when set, is
// invoked synchronously inside SendText with the assigned id so tests can
// exercise the ack-before-registration race deterministically.
type Mock struct {
	mu        sync.Mutex
	connected atomic.Bool
	handler   Handler
	nextID    uint32
	sent      []SentText
	probes    atomic.Int32

	// AckFunc decides per send whether (and how) an ack is produced. It
	// runs on the sender goroutine, mirroring an adapter whose receive
	// path can outrun the SendText return.
	AckFunc func(s SentText, h Handler)

	// SendErr, when non-nil, is returned by every SendText call.
	SendErr error

	Self     string
	Metadata map[string]string
	NodeList string
}

// NewMock constructs a connected mock transport.
func NewMock() *Mock {
	m := &Mock{Self: "!bridge00", Metadata: map[string]string{}}
	m.connected.Store(true)
	return m
}

// Connect implements Interface.
func (m *Mock) Connect(h Handler) error {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
	m.connected.Store(true)
	return nil
}

// IsConnected implements Interface.
func (m *Mock) IsConnected() bool { return m.connected.Load() }

// SetConnected toggles the reported link state.
func (m *Mock) SetConnected(up bool) { m.connected.Store(up) }

// SendText implements Interface.
func (m *Mock) SendText(text, dest string, channel int, wantAck bool) (uint32, error) {
	if m.SendErr != nil {
		return 0, m.SendErr
	}
	m.mu.Lock()
	m.nextID++
	s := SentText{ID: m.nextID, Text: text, Dest: dest, Channel: channel, WantAck: wantAck}
	m.sent = append(m.sent, s)
	h := m.handler
	ack := m.AckFunc
	m.mu.Unlock()
	if ack != nil && h != nil {
		ack(s, h)
	}
	return s.ID, nil
}

// SendProbe implements Interface.
func (m *Mock) SendProbe() error {
	m.probes.Add(1)
	return nil
}

// Probes returns how many probes were sent.
func (m *Mock) Probes() int { return int(m.probes.Load()) }

// Sent returns a copy of all recorded sends.
func (m *Mock) Sent() []SentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentText, len(m.sent))
	copy(out, m.sent)
	return out
}

// Handler returns the registered event handler, or nil.
func (m *Mock) Handler() Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

// SelfID implements Interface.
func (m *Mock) SelfID() string { return m.Self }

// SelfMetadata implements Interface.
func (m *Mock) SelfMetadata() string { return m.Metadata[m.Self] }

// NodeMetadata implements Interface.
func (m *Mock) NodeMetadata(nodeID string) string { return m.Metadata[nodeID] }

// NodeListSummary implements Interface.
func (m *Mock) NodeListSummary() string { return m.NodeList }

var _ Interface = (*Mock)(nil)
