package conversation

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/meshbridge/core"
	"github.com/hupe1980/meshbridge/internal/util"
	"github.com/hupe1980/meshbridge/logging"
)

var (
	// ErrSlotsFull is returned when a user tries to save a new conversation
	// with every slot occupied. Nothing is written.
	ErrSlotsFull = errors.New("all conversation slots are in use")
	// ErrNotFound is returned when no saved conversation matches the given
	// name or slot number.
	ErrNotFound = errors.New("conversation not found")
)

// channelOwner is the reserved owner directory backing channel contexts.
// Channel conversations live outside the slot system entirely.
const channelOwner = "channels"

// channelPrefix marks conversation names that belong to the channel pool.
const channelPrefix = "channel_"

// Meta indexes one saved conversation inside a user's metadata file.
type Meta struct {
	Slot       int       `json:"slot"`
	Created    time.Time `json:"created"`
	LastAccess time.Time `json:"last_access"`
}

// Info is one row of a user's conversation listing.
type Info struct {
	Name       string
	Slot       int
	Created    time.Time
	LastAccess time.Time
}

// ManagerOptions carries optional Manager collaborators.
type ManagerOptions struct {
	Logger logging.Logger
	Now    func() time.Time
}

// Manager archives named conversations as gzip-compressed JSON under a
// per-user directory, indexed by a metadata file that assigns each name a
// numbered slot. Users hold a fixed number of slots; the channel pool is
// unbounded and slotless.
type Manager struct {
	mu       sync.Mutex
	dir      string
	maxSlots int
	log      logging.Logger
	now      func() time.Time
}

// NewManager creates a conversation manager rooted at dir with maxSlots
// per-user slots.
func NewManager(dir string, maxSlots int, optFns ...func(o *ManagerOptions)) (*Manager, error) {
	opts := ManagerOptions{Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &core.PersistenceError{Path: dir, Err: err}
	}
	return &Manager{
		dir:      dir,
		maxSlots: maxSlots,
		log:      logging.OrNoOp(opts.Logger),
		now:      opts.Now,
	}, nil
}

// MaxSlots returns the per-user slot capacity.
func (m *Manager) MaxSlots() int { return m.maxSlots }

// Save archives entries under the given name for owner. An existing name is
// overwritten in place and keeps its slot; a new name takes the lowest free
// slot and fails with ErrSlotsFull when none remains. Channel conversations
// bypass the slot system.
func (m *Manager) Save(owner, name string, entries []core.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner = m.resolveOwner(owner, name)
	index, err := m.readIndex(owner)
	if err != nil {
		return err
	}
	now := m.now()
	meta, exists := index[name]
	switch {
	case exists:
		meta.LastAccess = now
	case owner == channelOwner:
		meta = Meta{Slot: 0, Created: now, LastAccess: now}
	default:
		slot, ok := lowestFreeSlot(index, m.maxSlots)
		if !ok {
			return ErrSlotsFull
		}
		meta = Meta{Slot: slot, Created: now, LastAccess: now}
	}
	if err := m.writeArchive(owner, name, entries); err != nil {
		return err
	}
	index[name] = meta
	if err := m.writeIndex(owner, index); err != nil {
		return err
	}
	m.log.Info("conversation saved", "owner", owner, "name", name, "slot", meta.Slot, "entries", len(entries))
	return nil
}

// Load retrieves a saved conversation by name, or by slot number when ref
// parses as an integer. The resolved name is returned and its last-access
// time bumped.
func (m *Manager) Load(owner, ref string) ([]core.Entry, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner = util.SanitizeKey(owner)
	index, err := m.readIndex(owner)
	if err != nil {
		return nil, "", err
	}
	name, ok := resolveRef(index, ref)
	if !ok {
		return nil, "", ErrNotFound
	}
	entries, err := m.readArchive(owner, name)
	if err != nil {
		return nil, "", err
	}
	meta := index[name]
	meta.LastAccess = m.now()
	index[name] = meta
	if err := m.writeIndex(owner, index); err != nil {
		return nil, "", err
	}
	return entries, name, nil
}

// List returns owner's saved conversations ordered by slot.
func (m *Manager) List(owner string) ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index, err := m.readIndex(util.SanitizeKey(owner))
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(index))
	for name, meta := range index {
		infos = append(infos, Info{Name: name, Slot: meta.Slot, Created: meta.Created, LastAccess: meta.LastAccess})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Slot != infos[j].Slot {
			return infos[i].Slot < infos[j].Slot
		}
		return infos[i].Name < infos[j].Name
	})
	return infos, nil
}

// SlotUsage reports how many of owner's slots are occupied.
func (m *Manager) SlotUsage(owner string) (int, error) {
	infos, err := m.List(owner)
	if err != nil {
		return 0, err
	}
	return len(infos), nil
}

// Delete removes one saved conversation by name or slot number, freeing its
// slot for reuse.
func (m *Manager) Delete(owner, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner = util.SanitizeKey(owner)
	index, err := m.readIndex(owner)
	if err != nil {
		return "", err
	}
	name, ok := resolveRef(index, ref)
	if !ok {
		return "", ErrNotFound
	}
	path := m.archivePath(owner, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", &core.PersistenceError{Path: path, Err: err}
	}
	delete(index, name)
	if err := m.writeIndex(owner, index); err != nil {
		return "", err
	}
	m.log.Info("conversation deleted", "owner", owner, "name", name)
	return name, nil
}

// DeleteAll removes every saved conversation owned by owner, reporting how
// many were deleted. The channel pool is untouched.
func (m *Manager) DeleteAll(owner string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner = util.SanitizeKey(owner)
	index, err := m.readIndex(owner)
	if err != nil {
		return 0, err
	}
	for name := range index {
		path := m.archivePath(owner, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return 0, &core.PersistenceError{Path: path, Err: err}
		}
	}
	n := len(index)
	if err := m.writeIndex(owner, map[string]Meta{}); err != nil {
		return 0, err
	}
	m.log.Info("conversations deleted", "owner", owner, "count", n)
	return n, nil
}

// resolveOwner redirects channel conversation names into the shared pool.
// Only Save uses it; Load and Delete stay inside the caller's own namespace
// so no user can touch the shared channel archives by reference.
func (m *Manager) resolveOwner(owner, name string) string {
	if strings.HasPrefix(name, channelPrefix) {
		return channelOwner
	}
	return util.SanitizeKey(owner)
}

func (m *Manager) archivePath(owner, name string) string {
	return filepath.Join(m.dir, owner, util.SanitizeKey(name)+".json.gz")
}

func (m *Manager) indexPath(owner string) string {
	return filepath.Join(m.dir, owner, "metadata.json")
}

func (m *Manager) readIndex(owner string) (map[string]Meta, error) {
	path := m.indexPath(owner)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]Meta{}, nil
	}
	if err != nil {
		return nil, &core.PersistenceError{Path: path, Err: err}
	}
	index := map[string]Meta{}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, &core.PersistenceError{Path: path, Err: err}
	}
	return index, nil
}

func (m *Manager) writeIndex(owner string, index map[string]Meta) error {
	path := m.indexPath(owner)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &core.PersistenceError{Path: path, Err: err}
	}
	data, err := json.Marshal(index)
	if err != nil {
		return &core.PersistenceError{Path: path, Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &core.PersistenceError{Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &core.PersistenceError{Path: path, Err: err}
	}
	return nil
}

func (m *Manager) writeArchive(owner, name string, entries []core.Entry) error {
	path := m.archivePath(owner, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &core.PersistenceError{Path: path, Err: err}
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return &core.PersistenceError{Path: path, Err: err}
	}
	zw := gzip.NewWriter(f)
	encodeErr := json.NewEncoder(zw).Encode(entries)
	if err := zw.Close(); encodeErr == nil {
		encodeErr = err
	}
	if err := f.Close(); encodeErr == nil {
		encodeErr = err
	}
	if encodeErr != nil {
		os.Remove(tmp)
		return &core.PersistenceError{Path: path, Err: encodeErr}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &core.PersistenceError{Path: path, Err: err}
	}
	return nil
}

func (m *Manager) readArchive(owner, name string) ([]core.Entry, error) {
	path := m.archivePath(owner, name)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &core.PersistenceError{Path: path, Err: err}
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, &core.PersistenceError{Path: path, Err: err}
	}
	defer zr.Close()
	var entries []core.Entry
	if err := json.NewDecoder(zr).Decode(&entries); err != nil {
		return nil, &core.PersistenceError{Path: path, Err: err}
	}
	return entries, nil
}

// lowestFreeSlot scans slots 1..max for the first unoccupied one.
func lowestFreeSlot(index map[string]Meta, max int) (int, bool) {
	used := make(map[int]bool, len(index))
	for _, meta := range index {
		used[meta.Slot] = true
	}
	for slot := 1; slot <= max; slot++ {
		if !used[slot] {
			return slot, true
		}
	}
	return 0, false
}

// resolveRef matches ref against names first, then slot numbers.
func resolveRef(index map[string]Meta, ref string) (string, bool) {
	if _, ok := index[ref]; ok {
		return ref, true
	}
	if slot, err := strconv.Atoi(ref); err == nil {
		for name, meta := range index {
			if meta.Slot == slot {
				return name, true
			}
		}
	}
	return "", false
}
