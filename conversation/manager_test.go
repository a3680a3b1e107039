package conversation

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshbridge/core"
)

func newTestArchive(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(dir, 10)
	require.NoError(t, err)
	return m, dir
}

func sampleEntries() []core.Entry {
	return []core.Entry{
		{Role: core.RoleUser, Content: "what is the weather"},
		{Role: core.RoleAssistant, Content: "clear skies tonight"},
	}
}

func TestManager_SaveLoadRoundtrip(t *testing.T) {
	m, dir := newTestArchive(t)
	require.NoError(t, m.Save("!user1", "trip", sampleEntries()))

	entries, name, err := m.Load("!user1", "trip")
	require.NoError(t, err)
	assert.Equal(t, "trip", name)
	require.Len(t, entries, 2)
	assert.Equal(t, "clear skies tonight", entries[1].Content)

	// Archives are gzip files under the owner's directory.
	_, statErr := os.Stat(filepath.Join(dir, "_user1", "trip.json.gz"))
	assert.NoError(t, statErr)
}

func TestManager_LoadBySlotNumber(t *testing.T) {
	m, _ := newTestArchive(t)
	require.NoError(t, m.Save("!user1", "first", sampleEntries()))
	require.NoError(t, m.Save("!user1", "second", sampleEntries()))

	_, name, err := m.Load("!user1", "2")
	require.NoError(t, err)
	assert.Equal(t, "second", name)
}

func TestManager_SlotExhaustion(t *testing.T) {
	m, dir := newTestArchive(t)
	for i := 1; i <= 10; i++ {
		require.NoError(t, m.Save("!user1", fmt.Sprintf("conv%d", i), sampleEntries()))
	}

	err := m.Save("!user1", "overflow", sampleEntries())
	require.ErrorIs(t, err, ErrSlotsFull)

	// The failed save must leave no file behind.
	_, statErr := os.Stat(filepath.Join(dir, "_user1", "overflow.json.gz"))
	assert.True(t, os.IsNotExist(statErr))

	// Overwriting an existing name still works at capacity.
	assert.NoError(t, m.Save("!user1", "conv3", sampleEntries()))
}

func TestManager_DeleteFreesSlotForReuse(t *testing.T) {
	m, _ := newTestArchive(t)
	require.NoError(t, m.Save("!user1", "one", sampleEntries()))
	require.NoError(t, m.Save("!user1", "two", sampleEntries()))
	require.NoError(t, m.Save("!user1", "three", sampleEntries()))

	name, err := m.Delete("!user1", "two")
	require.NoError(t, err)
	assert.Equal(t, "two", name)

	require.NoError(t, m.Save("!user1", "replacement", sampleEntries()))
	infos, err := m.List("!user1")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "replacement", infos[1].Name)
	assert.Equal(t, 2, infos[1].Slot)
}

func TestManager_DeleteBySlotNumber(t *testing.T) {
	m, _ := newTestArchive(t)
	require.NoError(t, m.Save("!user1", "keep", sampleEntries()))
	require.NoError(t, m.Save("!user1", "drop", sampleEntries()))

	name, err := m.Delete("!user1", "2")
	require.NoError(t, err)
	assert.Equal(t, "drop", name)

	_, _, err = m.Load("!user1", "drop")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_DeleteAll(t *testing.T) {
	m, _ := newTestArchive(t)
	require.NoError(t, m.Save("!user1", "one", sampleEntries()))
	require.NoError(t, m.Save("!user1", "two", sampleEntries()))
	require.NoError(t, m.Save("!user2", "theirs", sampleEntries()))

	n, err := m.DeleteAll("!user1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	infos, err := m.List("!user1")
	require.NoError(t, err)
	assert.Empty(t, infos)

	// Other users keep their archives.
	_, _, err = m.Load("!user2", "theirs")
	assert.NoError(t, err)
}

func TestManager_ListOrderedBySlot(t *testing.T) {
	m, _ := newTestArchive(t)
	require.NoError(t, m.Save("!user1", "alpha", sampleEntries()))
	require.NoError(t, m.Save("!user1", "beta", sampleEntries()))
	require.NoError(t, m.Save("!user1", "gamma", sampleEntries()))

	infos, err := m.List("!user1")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	for i, info := range infos {
		assert.Equal(t, i+1, info.Slot)
	}
}

func TestManager_ChannelPoolBypassesSlots(t *testing.T) {
	m, _ := newTestArchive(t)
	for i := 1; i <= 10; i++ {
		require.NoError(t, m.Save("!user1", fmt.Sprintf("conv%d", i), sampleEntries()))
	}

	// Channel conversations never count against the owner's slots.
	for ch := 0; ch < 12; ch++ {
		require.NoError(t, m.Save("!user1", fmt.Sprintf("channel_%d", ch), sampleEntries()))
	}

	infos, err := m.List("!user1")
	require.NoError(t, err)
	assert.Len(t, infos, 10)

	// The pool is only reachable through its own reserved owner.
	_, name, err := m.Load("channels", "channel_7")
	require.NoError(t, err)
	assert.Equal(t, "channel_7", name)
}

func TestManager_ChannelPoolIsNotUserDeletable(t *testing.T) {
	m, _ := newTestArchive(t)
	require.NoError(t, m.Save("!user1", "channel_0", sampleEntries()))

	// Load and Delete resolve channel_ refs in the caller's own namespace,
	// so no user can read or remove the shared archive by reference.
	_, _, err := m.Load("!user2", "channel_0")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Delete("!user2", "channel_0")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, _, err := m.Load("channels", "channel_0")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestManager_LoadBumpsLastAccess(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	m, err := NewManager(t.TempDir(), 10, func(o *ManagerOptions) { o.Now = clock.now })
	require.NoError(t, err)
	require.NoError(t, m.Save("!user1", "trip", sampleEntries()))

	clock.advance(time.Hour)
	_, _, err = m.Load("!user1", "trip")
	require.NoError(t, err)

	infos, err := m.List("!user1")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, clock.t, infos[0].LastAccess)
	assert.Equal(t, time.Hour, infos[0].LastAccess.Sub(infos[0].Created))
}

func TestManager_SanitizesIdentifiers(t *testing.T) {
	m, dir := newTestArchive(t)
	require.NoError(t, m.Save("../../evil", "../escape", sampleEntries()))

	// Nothing may be written outside the archive root.
	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, _, err = m.Load("../../evil", "../escape")
	assert.NoError(t, err)
}

func TestManager_LoadUnknown(t *testing.T) {
	m, _ := newTestArchive(t)
	_, _, err := m.Load("!user1", "nothing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Delete("!user1", "nothing")
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }
