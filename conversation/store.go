package conversation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hupe1980/meshbridge/core"
	"github.com/hupe1980/meshbridge/internal/util"
	"github.com/hupe1980/meshbridge/logging"
)

// StoreOptions carries optional Store collaborators.
type StoreOptions struct {
	Logger logging.Logger
}

// Stats describes one context's footprint for the memory status report.
type Stats struct {
	Messages    int
	Bytes       int
	MaxMessages int
	MaxBytes    int
}

// Store is the ambient history layer. Each isolation key owns an ordered
// entry list, bounded by message count and serialized byte size; overflow
// prunes the oldest fifth so a long-running context degrades gradually
// instead of thrashing at the cap. Entries are written through to one JSON
// file per key.
type Store struct {
	mu          sync.Mutex
	dir         string
	maxMessages int
	maxBytes    int
	entries     map[string][]core.Entry
	log         logging.Logger
}

// NewStore creates an ambient history store rooted at dir.
func NewStore(dir string, maxMessages, maxBytes int, optFns ...func(o *StoreOptions)) (*Store, error) {
	opts := StoreOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &core.PersistenceError{Path: dir, Err: err}
	}
	return &Store{
		dir:         dir,
		maxMessages: maxMessages,
		maxBytes:    maxBytes,
		entries:     make(map[string][]core.Entry),
		log:         logging.OrNoOp(opts.Logger),
	}, nil
}

// Append adds an entry to the key's history, prunes past the caps and
// persists the result.
func (s *Store) Append(key string, e core.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.loadLocked(key)
	if err != nil {
		return err
	}
	entries = append(entries, e)
	entries = s.prune(key, entries)
	s.entries[key] = entries
	return s.persistLocked(key, entries)
}

// Entries returns a copy of the key's full history, oldest first.
func (s *Store) Entries(key string) ([]core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.loadLocked(key)
	if err != nil {
		return nil, err
	}
	out := make([]core.Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Window returns up to the last n entries of the key's history.
func (s *Store) Window(key string, n int) ([]core.Entry, error) {
	entries, err := s.Entries(key)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Replace overwrites the key's history wholesale, used when a named
// conversation is loaded back into the ambient layer.
func (s *Store) Replace(key string, entries []core.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]core.Entry, len(entries))
	copy(cp, entries)
	cp = s.prune(key, cp)
	s.entries[key] = cp
	return s.persistLocked(key, cp)
}

// Clear discards the key's history in memory and on disk.
func (s *Store) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	path := s.path(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &core.PersistenceError{Path: path, Err: err}
	}
	return nil
}

// Stats reports the key's current footprint against the configured caps.
func (s *Store) Stats(key string) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.loadLocked(key)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Messages:    len(entries),
		Bytes:       byteSize(entries),
		MaxMessages: s.maxMessages,
		MaxBytes:    s.maxBytes,
	}, nil
}

// prune drops the oldest fifth of the history (at least one entry) while
// either cap is exceeded.
func (s *Store) prune(key string, entries []core.Entry) []core.Entry {
	for (s.maxMessages > 0 && len(entries) > s.maxMessages) ||
		(s.maxBytes > 0 && byteSize(entries) > s.maxBytes) {
		drop := len(entries) / 5
		if drop < 1 {
			drop = 1
		}
		entries = entries[drop:]
		s.log.Warn("history pruned", "key", key, "dropped", drop, "remaining", len(entries))
	}
	return entries
}

func (s *Store) loadLocked(key string) ([]core.Entry, error) {
	if entries, ok := s.entries[key]; ok {
		return entries, nil
	}
	path := s.path(key)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.entries[key] = nil
		return nil, nil
	}
	if err != nil {
		return nil, &core.PersistenceError{Path: path, Err: err}
	}
	var entries []core.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		// A corrupt file must not wedge the context forever.
		s.log.Error("discarding corrupt history file", "path", path, "error", err)
		entries = nil
	}
	s.entries[key] = entries
	return entries, nil
}

func (s *Store) persistLocked(key string, entries []core.Entry) error {
	path := s.path(key)
	data, err := json.Marshal(entries)
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

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", util.SanitizeKey(key)))
}

// byteSize approximates the stored footprint as the payload bytes of each
// entry, ignoring JSON framing. The cap only needs to bound growth, so the
// cheap sum beats re-marshaling on every append.
func byteSize(entries []core.Entry) int {
	n := 0
	for _, e := range entries {
		n += len(e.Role) + len(e.Content)
	}
	return n
}
