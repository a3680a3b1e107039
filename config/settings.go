package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// Settings is the mutable runtime state persisted as JSON: current provider,
// allowed public channels and admin node ids. Safe for concurrent use.
//
// Bootstrap mode: while no admin nodes are configured every node counts as
// admin, so the first operator can register themselves over the air.
type Settings struct {
	mu   sync.RWMutex
	path string
	data settingsData
}

type settingsData struct {
	CurrentProvider string   `json:"current_provider"`
	AllowedChannels []int    `json:"allowed_channels"`
	AdminNodes      []string `json:"admin_nodes"`
}

// LoadSettings reads settings from path, seeding defaults from cfg when the
// file does not exist.
func LoadSettings(path string, cfg *Config) (*Settings, error) {
	s := &Settings{
		path: path,
		data: settingsData{
			CurrentProvider: cfg.Providers.Default,
			AllowedChannels: []int{0},
			AdminNodes:      []string{},
		},
	}
	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// save writes the current state to disk; caller holds at least a read lock.
// Failures are best-effort: in-memory state stays authoritative.
func (s *Settings) save() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}

// Provider returns the currently selected backend name.
func (s *Settings) Provider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.CurrentProvider
}

// SetProvider switches the active backend and persists the change.
func (s *Settings) SetProvider(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.CurrentProvider = name
	return s.save()
}

// ChannelAllowed reports whether public traffic on the channel index should
// be answered.
func (s *Settings) ChannelAllowed(channel int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.data.AllowedChannels, channel)
}

// AllowedChannels returns a copy of the allow list.
func (s *Settings) AllowedChannels() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.data.AllowedChannels)
}

// AddChannel adds a channel to the allow list.
func (s *Settings) AddChannel(channel int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.data.AllowedChannels, channel) {
		return nil
	}
	s.data.AllowedChannels = append(s.data.AllowedChannels, channel)
	return s.save()
}

// RemoveChannel removes a channel from the allow list.
func (s *Settings) RemoveChannel(channel int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.Index(s.data.AllowedChannels, channel)
	if idx < 0 {
		return nil
	}
	s.data.AllowedChannels = slices.Delete(s.data.AllowedChannels, idx, idx+1)
	return s.save()
}

// IsAdmin reports whether the node may run admin commands. With an empty
// admin list every node is admin (bootstrap mode).
func (s *Settings) IsAdmin(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.data.AdminNodes) == 0 {
		return true
	}
	return slices.Contains(s.data.AdminNodes, nodeID)
}

// Admins returns a copy of the configured admin node ids.
func (s *Settings) Admins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.data.AdminNodes)
}

// AddAdmin registers a node id as admin.
func (s *Settings) AddAdmin(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.data.AdminNodes, nodeID) {
		return nil
	}
	s.data.AdminNodes = append(s.data.AdminNodes, nodeID)
	return s.save()
}

// RemoveAdmin drops a node id from the admin list.
func (s *Settings) RemoveAdmin(nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.Index(s.data.AdminNodes, nodeID)
	if idx < 0 {
		return nil
	}
	s.data.AdminNodes = slices.Delete(s.data.AdminNodes, idx, idx+1)
	return s.save()
}
