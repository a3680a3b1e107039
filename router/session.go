package router

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/meshbridge/logging"
)

// Session is a DM-scoped continuous conversation. While active the sender
// may talk without the invocation prefix. Routing metadata is captured at
// start so an out-of-band timeout notification reaches the right place.
type Session struct {
	UserID       string
	Name         string
	Started      time.Time
	LastActivity time.Time
	Channel      int
	Dest         string
}

// Indicator is the prefix attached to responses sent inside the session.
func (s *Session) Indicator() string {
	return fmt.Sprintf("[\U0001F7E2 %s] ", s.Name)
}

// Manager tracks active sessions per user. Safe for concurrent use by query
// workers and the periodic sweep.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timeout  time.Duration
	log      logging.Logger
	now      func() time.Time
}

// ManagerOptions carries optional Manager collaborators.
type ManagerOptions struct {
	Logger logging.Logger
	Now    func() time.Time
}

// NewManager constructs a session manager with the given idle timeout.
func NewManager(timeout time.Duration, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		log:      logging.OrNoOp(opts.Logger),
		now:      opts.Now,
	}
}

// GenerateName produces a timestamped session name ("chat_YYYYMMDD_HHMMSS").
func (m *Manager) GenerateName() string {
	return "chat_" + m.now().Format("20060102_150405")
}

// Start activates a session for userID, replacing any existing one. An empty
// name is auto-generated. Channel and dest record where timeout notifications
// must be routed. Callers enforce the DM-only rule; sessions never exist for
// channel contexts.
func (m *Manager) Start(userID, name string, channel int, dest string) *Session {
	if name == "" {
		name = m.GenerateName()
	}
	now := m.now()
	s := &Session{
		UserID:       userID,
		Name:         name,
		Started:      now,
		LastActivity: now,
		Channel:      channel,
		Dest:         dest,
	}
	m.mu.Lock()
	m.sessions[userID] = s
	m.mu.Unlock()
	m.log.Info("session started", "user", userID, "name", name)
	return s.clone()
}

// End deactivates the user's session, reporting the ended session and whether
// one was active.
func (m *Manager) End(userID string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	m.log.Info("session ended", "user", userID, "name", s.Name)
	return s.clone(), true
}

// Active returns a copy of the user's session when one exists, regardless of
// idle time; expiry is decided by CheckTimeout or Sweep.
func (m *Manager) Active(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Touch refreshes the session's last-activity timestamp.
func (m *Manager) Touch(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[userID]; ok {
		s.LastActivity = m.now()
	}
}

// Timeout returns the configured idle timeout.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// CheckTimeout lazily expires the user's session when its idle time exceeds
// the timeout. It reports the ended session so the caller can notify, and
// ends it at most once.
func (m *Manager) CheckTimeout(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok || m.now().Sub(s.LastActivity) <= m.timeout {
		return nil, false
	}
	delete(m.sessions, userID)
	m.log.Info("session timed out", "user", userID, "name", s.Name)
	return s.clone(), true
}

// Sweep proactively expires every idle session, returning each ended session
// exactly once. Needed because no further inbound message may ever arrive to
// trigger lazy expiry.
func (m *Manager) Sweep() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var expired []*Session
	for userID, s := range m.sessions {
		if now.Sub(s.LastActivity) > m.timeout {
			delete(m.sessions, userID)
			expired = append(expired, s.clone())
			m.log.Info("session timed out", "user", userID, "name", s.Name)
		}
	}
	return expired
}

func (s *Session) clone() *Session {
	c := *s
	return &c
}
