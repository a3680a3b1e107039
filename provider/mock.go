package provider

import (
	"context"
	"sync"
)

// Mock is a scripted in-memory Provider for tests. Responses are consumed in
// order; the final one repeats once the script runs out.
type Mock struct {
	mu        sync.Mutex
	name      string
	tools     bool
	responses []*Response
	errs      []error
	requests  []Request
	calls     int
}

var _ Provider = (*Mock)(nil)

// NewMock constructs a mock backend with native tool support.
func NewMock(name string) *Mock {
	return &Mock{name: name, tools: true}
}

// SetSupportsTools toggles the reported tool capability.
func (m *Mock) SetSupportsTools(v bool) { m.tools = v }

// Script appends a canned response (or error) to the reply sequence.
func (m *Mock) Script(resp *Response, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errs = append(m.errs, err)
}

// Requests returns a copy of every request received so far.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Name implements Provider.
func (m *Mock) Name() string { return m.name }

// SupportsTools implements Provider.
func (m *Mock) SupportsTools() bool { return m.tools }

// GetResponse implements Provider.
func (m *Mock) GetResponse(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.responses) == 0 {
		return &Response{Text: "mock response"}, nil
	}
	i := m.calls
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	m.calls++
	return m.responses[i], m.errs[i]
}
