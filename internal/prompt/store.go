// Package prompt assembles the layered system prompt from operator-owned
// static layers and live game state fetched through the engine.
package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"loremaster/internal/logging"
)

// Layer keys with built-in defaults.
const (
	LayerIdentity = "identity"
	LayerRules    = "rules"
	LayerPlaytest = "playtest"
)

var defaultLayers = map[string]string{
	LayerIdentity: `You are the Dungeon Master for an ongoing tabletop campaign. You narrate
the world in second person, stay in character, and keep scenes moving.
You never invent game state: dice, world facts, party status, and combat
all come from your tools. When a tool returns an error, work it into the
fiction or tell the player plainly that something went wrong.`,

	LayerRules: `Core conduct:
- Resolve every uncertain outcome with roll_dice; never make up numbers.
- Consult world and party state before describing consequences.
- Keep secrets from the secrets layer out of narration until revealed.
- Record notable events with save_note so future sessions can recall them.
- One scene at a time; end each reply with a clear hook for the player.`,

	LayerPlaytest: `Playtest mode is active. After your narration, append a short
out-of-character line flagging any rules friction or pacing problem you
noticed this turn.`,
}

type storeFile struct {
	Layers          map[string]string `json:"layers,omitempty"`
	PlaytestEnabled bool              `json:"playtest_enabled"`
}

// LayerStore is a file-backed key-value store for prompt layers. Keys with
// built-in defaults fall back to them; operator overrides and arbitrary
// extra keys (session notes use one) persist to a single JSON file.
type LayerStore struct {
	path string

	mu       sync.RWMutex
	values   map[string]string
	playtest bool
}

// NewLayerStore loads the store at path, creating an empty one when the
// file does not exist yet.
func NewLayerStore(path string) (*LayerStore, error) {
	s := &LayerStore{
		path:   path,
		values: make(map[string]string),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *LayerStore) Path() string { return s.path }

// Reload re-reads the backing file, replacing in-memory state. A missing
// file resets to defaults; a corrupt file is an error so operator edits
// are never silently discarded.
func (s *LayerStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.values = make(map[string]string)
		s.playtest = false
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read layer store: %w", err)
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse layer store %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.values = f.Layers
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.playtest = f.PlaytestEnabled
	s.mu.Unlock()
	return nil
}

// Get returns the stored value for key, falling back to the built-in
// default when no override exists.
func (s *LayerStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[key]; ok {
		return v, true
	}
	if v, ok := defaultLayers[key]; ok {
		return v, true
	}
	return "", false
}

// Set stores an override for key and persists it.
func (s *LayerStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.save()
}

// Reset removes the override for key, restoring any built-in default.
func (s *LayerStore) Reset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return s.save()
}

// SetPlaytest toggles the playtest layer and persists the flag.
func (s *LayerStore) SetPlaytest(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playtest = enabled
	return s.save()
}

// PlaytestEnabled reports whether the playtest layer is active.
func (s *LayerStore) PlaytestEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playtest
}

// LayerKeys lists the known layer keys, overridden ones marked by the
// caller via IsOverridden.
func (s *LayerStore) LayerKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(defaultLayers)+len(s.values))
	for k := range defaultLayers {
		seen[k] = struct{}{}
	}
	for k := range s.values {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsOverridden reports whether key carries an operator override.
func (s *LayerStore) IsOverridden(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[key]
	return ok
}

// save writes the store atomically. Caller holds s.mu.
func (s *LayerStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create layer store directory: %w", err)
	}

	data, err := json.MarshalIndent(storeFile{Layers: s.values, PlaytestEnabled: s.playtest}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode layer store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write layer store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace layer store: %w", err)
	}
	logging.Debug("layer store saved", "path", s.path)
	return nil
}
