package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(timeout time.Duration) (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	m := NewManager(timeout, func(o *ManagerOptions) { o.Now = clock.now })
	return m, clock
}

func TestManager_StartAutoGeneratesName(t *testing.T) {
	m, _ := newTestManager(5 * time.Minute)
	s := m.Start("!user1", "", 0, "!user1")
	assert.Equal(t, "chat_20260825_120000", s.Name)
	assert.Equal(t, "!user1", s.Dest)
}

func TestManager_ActiveAndEnd(t *testing.T) {
	m, _ := newTestManager(5 * time.Minute)
	m.Start("!user1", "trip", 0, "!user1")

	s, ok := m.Active("!user1")
	require.True(t, ok)
	assert.Equal(t, "trip", s.Name)

	ended, ok := m.End("!user1")
	require.True(t, ok)
	assert.Equal(t, "trip", ended.Name)

	_, ok = m.Active("!user1")
	assert.False(t, ok)

	_, ok = m.End("!user1")
	assert.False(t, ok)
}

func TestManager_CheckTimeoutLazy(t *testing.T) {
	m, clock := newTestManager(5 * time.Minute)
	m.Start("!user1", "trip", 0, "!user1")

	clock.advance(4 * time.Minute)
	_, expired := m.CheckTimeout("!user1")
	assert.False(t, expired)

	clock.advance(2 * time.Minute)
	s, expired := m.CheckTimeout("!user1")
	require.True(t, expired)
	assert.Equal(t, "trip", s.Name)

	// Already ended: a second check must not report it again.
	_, expired = m.CheckTimeout("!user1")
	assert.False(t, expired)
}

func TestManager_TouchDefersTimeout(t *testing.T) {
	m, clock := newTestManager(5 * time.Minute)
	m.Start("!user1", "trip", 0, "!user1")

	clock.advance(4 * time.Minute)
	m.Touch("!user1")
	clock.advance(4 * time.Minute)

	_, expired := m.CheckTimeout("!user1")
	assert.False(t, expired)
}

func TestManager_SweepEndsEachSessionOnce(t *testing.T) {
	m, clock := newTestManager(5 * time.Minute)
	m.Start("!user1", "one", 0, "!user1")
	m.Start("!user2", "two", 2, "!user2")

	clock.advance(6 * time.Minute)
	m.Start("!user3", "fresh", 0, "!user3")

	expired := m.Sweep()
	require.Len(t, expired, 2)
	names := []string{expired[0].Name, expired[1].Name}
	assert.ElementsMatch(t, []string{"one", "two"}, names)

	// Expired sessions keep their routing metadata for the notification.
	for _, s := range expired {
		assert.NotEmpty(t, s.Dest)
	}

	assert.Empty(t, m.Sweep())
	_, ok := m.Active("!user3")
	assert.True(t, ok)
}

func TestSession_Indicator(t *testing.T) {
	s := &Session{Name: "trip"}
	assert.Equal(t, "[\U0001F7E2 trip] ", s.Indicator())
}
