package session

import "sync"

// State tracks the entity ids the prompt assembler keys its cache on.
// Only the post-batch sync callbacks mutate it.
type State struct {
	mu          sync.Mutex
	worldID     string
	characterID string
	encounterID string
}

// Snapshot returns the current ids.
func (s *State) Snapshot() (worldID, characterID, encounterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worldID, s.characterID, s.encounterID
}

// setWorld installs a new active world and drops the encounter, which
// cannot outlive its world.
func (s *State) setWorld(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.worldID {
		s.encounterID = ""
	}
	s.worldID = id
}

func (s *State) setCharacter(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.characterID = id
}

func (s *State) setEncounter(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encounterID = id
}
