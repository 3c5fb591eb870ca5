package prompt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"loremaster/internal/config"
	"loremaster/internal/engine"
	"loremaster/internal/logging"
)

// layerDelimiter separates assembled layers.
const layerDelimiter = "\n\n---\n\n"

// EngineCaller is the slice of the engine client the assembler needs.
type EngineCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*engine.CallToolResult, error)
}

// StateSource exposes the session's current entity ids.
type StateSource interface {
	Snapshot() (worldID, characterID, encounterID string)
}

type cacheKey struct {
	worldID     string
	characterID string
	encounterID string
}

// Assembler builds the layered system prompt. Static layers come from the
// LayerStore; dynamic layers are fetched through the engine and cached for
// a short TTL keyed by the session's entity ids.
type Assembler struct {
	engine EngineCaller
	store  *LayerStore
	state  StateSource
	ttl    time.Duration

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
	key      cacheKey
}

// NewAssembler creates an assembler. A non-positive ttl falls back to the
// default cache TTL.
func NewAssembler(eng EngineCaller, store *LayerStore, state StateSource, ttl time.Duration) *Assembler {
	if ttl <= 0 {
		ttl = config.DefaultPromptTTL
	}
	return &Assembler{
		engine: eng,
		store:  store,
		state:  state,
		ttl:    ttl,
	}
}

// SystemPrompt returns the assembled prompt for the current session state.
// Without an active world it returns an empty prompt and performs no
// fetches. Fetch failures degrade to missing layers, never errors.
func (a *Assembler) SystemPrompt(ctx context.Context) string {
	worldID, characterID, encounterID := a.state.Snapshot()
	if worldID == "" {
		return ""
	}
	key := cacheKey{worldID: worldID, characterID: characterID, encounterID: encounterID}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cached != "" && a.key == key && time.Since(a.cachedAt) < a.ttl {
		return a.cached
	}

	prompt := a.build(ctx, key)
	a.cached = prompt
	a.cachedAt = time.Now()
	a.key = key
	return prompt
}

// Invalidate drops the cached prompt so the next call rebuilds it.
func (a *Assembler) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cached = ""
	a.cachedAt = time.Time{}
}

func (a *Assembler) build(ctx context.Context, key cacheKey) string {
	var world, party, narrative, scene, secrets string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		world = a.fetchLayer(gctx, "get_world_state", map[string]any{"world_id": key.worldID},
			fmt.Sprintf("## World State (world %s)", key.worldID))
		return nil
	})
	g.Go(func() error {
		args := map[string]any{"world_id": key.worldID}
		header := fmt.Sprintf("## Party (world %s)", key.worldID)
		if key.characterID != "" {
			args["character_id"] = key.characterID
			header = fmt.Sprintf("## Party (world %s, character %s)", key.worldID, key.characterID)
		}
		party = a.fetchLayer(gctx, "get_party_state", args, header)
		return nil
	})
	g.Go(func() error {
		narrative = a.fetchLayer(gctx, "get_narrative_memory", map[string]any{"world_id": key.worldID},
			"## Narrative Memory")
		return nil
	})
	g.Go(func() error {
		scene = a.sceneLayer(gctx, key)
		return nil
	})
	g.Go(func() error {
		secrets = a.fetchLayer(gctx, "get_dm_secrets", map[string]any{"world_id": key.worldID},
			"## DM Secrets (never reveal directly)")
		return nil
	})
	g.Wait()

	layers := make([]string, 0, 8)
	appendLayer := func(text string) {
		if text != "" {
			layers = append(layers, text)
		}
	}

	if identity, ok := a.store.Get(LayerIdentity); ok {
		appendLayer(strings.TrimSpace(identity))
	}
	if a.store.PlaytestEnabled() {
		if playtest, ok := a.store.Get(LayerPlaytest); ok {
			appendLayer(strings.TrimSpace(playtest))
		}
	}
	if rules, ok := a.store.Get(LayerRules); ok {
		appendLayer(strings.TrimSpace(rules))
	}
	appendLayer(world)
	appendLayer(party)
	appendLayer(narrative)
	appendLayer(scene)
	appendLayer(secrets)

	return strings.Join(layers, layerDelimiter)
}

// sceneLayer picks the most urgent scene context: active combat first,
// then dialogue, then exploration.
func (a *Assembler) sceneLayer(ctx context.Context, key cacheKey) string {
	if key.encounterID != "" {
		return a.fetchLayer(ctx, "get_combat_state", map[string]any{"encounter_id": key.encounterID},
			fmt.Sprintf("## Combat (encounter %s)", key.encounterID))
	}
	if dialogue := a.fetchLayer(ctx, "get_active_dialogue", map[string]any{"world_id": key.worldID},
		"## Active Dialogue"); dialogue != "" {
		return dialogue
	}
	return a.fetchLayer(ctx, "get_exploration_context", map[string]any{"world_id": key.worldID},
		"## Exploration")
}

// fetchLayer calls one engine tool and wraps its text in the layer header.
// Any failure collapses to an empty layer.
func (a *Assembler) fetchLayer(ctx context.Context, tool string, args map[string]any, header string) string {
	res, err := a.engine.CallTool(ctx, tool, args)
	if err != nil {
		logging.Warn("prompt layer fetch failed", "tool", tool, "error", err)
		return ""
	}
	if res.IsError {
		logging.Warn("prompt layer fetch returned error", "tool", tool, "text", res.Text())
		return ""
	}
	text := strings.TrimSpace(res.Text())
	if text == "" {
		return ""
	}
	return header + "\n" + text
}
