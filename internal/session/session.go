// Package session wires the engine client, provider, dispatcher, and
// prompt assembler into one playable unit and keeps their shared state in
// sync after tool batches.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"loremaster/internal/agent"
	"loremaster/internal/config"
	"loremaster/internal/engine"
	"loremaster/internal/logging"
	"loremaster/internal/provider"
	"loremaster/internal/prompt"
	"loremaster/internal/tools"
)

// layerStoreFile is the layer store's filename under the config dir.
const layerStoreFile = "prompt_layers.json"

// engineAPI is the slice of the engine client the session depends on.
type engineAPI interface {
	ListTools(ctx context.Context) ([]*engine.ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*engine.CallToolResult, error)
	Close() error
}

// Session owns all components for one play session. Construct it once and
// pass it by reference; there is exactly one engine connection behind it.
type Session struct {
	ID string

	cfg        *config.Config
	engine     engineAPI
	provider   provider.Client
	dispatcher *tools.Dispatcher
	store      *prompt.LayerStore
	assembler  *prompt.Assembler
	watcher    *prompt.StoreWatcher
	agent      *agent.Agent
	state      *State
}

// New spawns the engine, connects the provider, and assembles the agent.
// The caller must Close the session to release the engine process.
func New(ctx context.Context, cfg *config.Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng := engine.NewClient(&engine.Config{
		Command: cfg.Engine.Command,
		Args:    cfg.Engine.Args,
		Env:     cfg.Engine.Env,
	})
	if err := eng.Connect(); err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	if err := eng.Initialize(ctx); err != nil {
		eng.Close()
		return nil, fmt.Errorf("engine handshake failed: %w", err)
	}

	prov, err := provider.New(ctx, cfg)
	if err != nil {
		eng.Close()
		return nil, err
	}

	store, err := prompt.NewLayerStore(filepath.Join(config.ConfigDir(), layerStoreFile))
	if err != nil {
		prov.Close()
		eng.Close()
		return nil, err
	}

	s := newWith(cfg, eng, prov, store)

	if cfg.Prompt.WatchStore {
		w, err := prompt.WatchStore(store, s.assembler)
		if err != nil {
			logging.Warn("layer store watcher unavailable", "error", err)
		} else {
			s.watcher = w
		}
	}

	// Adopt whatever world the engine already considers active.
	s.refreshWorld(ctx)
	return s, nil
}

// newWith wires components around injected engine, provider, and store.
func newWith(cfg *config.Config, eng engineAPI, prov provider.Client, store *prompt.LayerStore) *Session {
	state := &State{}
	assembler := prompt.NewAssembler(eng, store, state, cfg.Prompt.CacheTTL)

	registry := tools.NewRegistry()
	registry.MustRegister(tools.NewDiceTool(rand.New(rand.NewSource(time.Now().UnixNano()))))
	registry.MustRegister(tools.NewSaveNoteTool(store))
	registry.MustRegister(tools.NewRecallNotesTool(store))

	dispatcher := tools.NewDispatcher(registry, eng, cfg.Tools.CatalogTTL)
	ag := agent.New(prov, dispatcher, assembler, cfg)

	s := &Session{
		ID:         uuid.New().String(),
		cfg:        cfg,
		engine:     eng,
		provider:   prov,
		dispatcher: dispatcher,
		store:      store,
		assembler:  assembler,
		agent:      ag,
		state:      state,
	}
	ag.SetSyncHook(s.syncAfterBatch)
	return s
}

// Run processes one player input and returns the full narrative reply.
func (s *Session) Run(ctx context.Context, input string) (string, error) {
	return s.agent.Run(ctx, input)
}

// RunStream processes one player input, streaming narrative text to onText.
func (s *Session) RunStream(ctx context.Context, input string, onText func(string)) error {
	return s.agent.RunStream(ctx, input, onText)
}

// Reset starts a fresh conversation against the same world.
func (s *Session) Reset() {
	s.agent.Reset()
	s.assembler.Invalidate()
	logging.Info("session reset", "session_id", s.ID)
}

// Store exposes the layer store for the operator CLI commands.
func (s *Session) Store() *prompt.LayerStore { return s.store }

// Close releases the watcher, provider, and engine process.
func (s *Session) Close() error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if err := s.provider.Close(); err != nil {
		logging.Warn("provider close failed", "error", err)
	}
	return s.engine.Close()
}
