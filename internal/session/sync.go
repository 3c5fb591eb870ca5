package session

import (
	"context"
	"encoding/json"

	"loremaster/internal/logging"
)

type syncEffect int

const (
	effectRefreshWorld syncEffect = iota
	effectRefreshEncounter
	effectInvalidatePrompt
)

// syncEffects maps engine tool names to the state maintenance they imply.
// Effects are deduplicated per batch; invoking create_encounter twice in
// one batch still refreshes the encounter id once.
var syncEffects = map[string][]syncEffect{
	"create_encounter": {effectRefreshEncounter, effectInvalidatePrompt},
	"end_encounter":    {effectRefreshEncounter, effectInvalidatePrompt},
	"travel_to_region": {effectInvalidatePrompt},
	"advance_time":     {effectInvalidatePrompt},
	"set_active_world": {effectRefreshWorld, effectInvalidatePrompt},
	"regenerate_world": {effectRefreshWorld, effectInvalidatePrompt},
}

// syncAfterBatch is installed as the agent's post-batch hook.
func (s *Session) syncAfterBatch(ctx context.Context, invoked map[string]bool) {
	pending := make(map[syncEffect]bool)
	for name := range invoked {
		for _, e := range syncEffects[name] {
			pending[e] = true
		}
	}
	if len(pending) == 0 {
		return
	}

	if pending[effectRefreshWorld] {
		s.refreshWorld(ctx)
	}
	if pending[effectRefreshEncounter] {
		s.refreshEncounter(ctx)
	}
	if pending[effectInvalidatePrompt] {
		s.assembler.Invalidate()
	}
}

// refreshWorld asks the engine for the active world and adopts its ids.
// The encounter id resets with the world.
func (s *Session) refreshWorld(ctx context.Context) {
	res, err := s.engine.CallTool(ctx, "get_world_state", map[string]any{})
	if err != nil || res.IsError {
		logging.Warn("world refresh failed", "error", err)
		return
	}
	worldID := extractID(res.Text(), "world_id", "id")
	if worldID == "" {
		logging.Debug("no active world reported by engine")
		return
	}
	s.state.setWorld(worldID)
	if characterID := extractID(res.Text(), "character_id", "active_character_id"); characterID != "" {
		s.state.setCharacter(characterID)
	}
	logging.Info("active world updated", "world_id", worldID)
}

// refreshEncounter asks the engine for combat state. No active encounter
// clears the id, which is how end_encounter propagates.
func (s *Session) refreshEncounter(ctx context.Context) {
	worldID, _, _ := s.state.Snapshot()
	if worldID == "" {
		return
	}
	res, err := s.engine.CallTool(ctx, "get_combat_state", map[string]any{"world_id": worldID})
	if err != nil || res.IsError {
		logging.Warn("encounter refresh failed", "error", err)
		s.state.setEncounter("")
		return
	}
	encounterID := extractID(res.Text(), "encounter_id", "id")
	s.state.setEncounter(encounterID)
	if encounterID != "" {
		logging.Info("active encounter updated", "encounter_id", encounterID)
	}
}

// extractID pulls the first matching string field out of a JSON tool
// result, looking one level into a "data" wrapper when present.
func extractID(text string, keys ...string) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return ""
	}
	if id := lookupID(m, keys); id != "" {
		return id
	}
	if data, ok := m["data"].(map[string]any); ok {
		return lookupID(data, keys)
	}
	return ""
}

func lookupID(m map[string]any, keys []string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
