package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"loremaster/internal/config"
	"loremaster/internal/engine"
	"loremaster/internal/prompt"
	"loremaster/internal/provider"
)

type engineCall struct {
	name string
	args map[string]any
}

type fakeEngine struct {
	mu        sync.Mutex
	calls     []engineCall
	responses map[string]string
}

func (f *fakeEngine) ListTools(ctx context.Context) ([]*engine.ToolInfo, error) {
	return nil, nil
}

func (f *fakeEngine) CallTool(ctx context.Context, name string, args map[string]any) (*engine.CallToolResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, engineCall{name: name, args: args})
	f.mu.Unlock()
	return &engine.CallToolResult{
		Content: []*engine.ContentBlock{{Type: "text", Text: f.responses[name]}},
	}, nil
}

func (f *fakeEngine) Close() error { return nil }

func (f *fakeEngine) countCalls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.name == name {
			n++
		}
	}
	return n
}

type fakeProvider struct {
	responses []*provider.Response
	calls     int
}

func (f *fakeProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func (f *fakeProvider) Stream(ctx context.Context, req *provider.Request, onText func(string)) (*provider.Response, error) {
	resp, err := f.Complete(ctx, req)
	if err == nil && resp.Text != "" {
		onText(resp.Text)
	}
	return resp, err
}

func (f *fakeProvider) Model() string { return "test-model" }
func (f *fakeProvider) Close() error  { return nil }

func newTestSession(t *testing.T, eng *fakeEngine, prov provider.Client) *Session {
	t.Helper()
	store, err := prompt.NewLayerStore(filepath.Join(t.TempDir(), "prompt_layers.json"))
	require.NoError(t, err)
	return newWith(config.DefaultConfig(), eng, prov, store)
}

func TestSyncCreateEncounterRefreshesOnce(t *testing.T) {
	eng := &fakeEngine{responses: map[string]string{
		"get_combat_state": `{"encounter_id":"enc-1"}`,
	}}
	s := newTestSession(t, eng, &fakeProvider{})
	s.state.setWorld("w1")

	s.syncAfterBatch(context.Background(), map[string]bool{"create_encounter": true})

	require.Equal(t, 1, eng.countCalls("get_combat_state"))
	_, _, encounterID := s.state.Snapshot()
	require.Equal(t, "enc-1", encounterID)
}

func TestSyncSharedEffectRunsOnce(t *testing.T) {
	eng := &fakeEngine{responses: map[string]string{
		"get_combat_state": `{"encounter_id":"enc-2"}`,
	}}
	s := newTestSession(t, eng, &fakeProvider{})
	s.state.setWorld("w1")

	// Two tools mapping to the same refresh still trigger it once.
	s.syncAfterBatch(context.Background(), map[string]bool{
		"create_encounter": true,
		"end_encounter":    true,
	})

	require.Equal(t, 1, eng.countCalls("get_combat_state"))
}

func TestSyncEndEncounterClearsID(t *testing.T) {
	eng := &fakeEngine{responses: map[string]string{
		"get_combat_state": `{"active":false}`,
	}}
	s := newTestSession(t, eng, &fakeProvider{})
	s.state.setWorld("w1")
	s.state.setEncounter("enc-1")

	s.syncAfterBatch(context.Background(), map[string]bool{"end_encounter": true})

	_, _, encounterID := s.state.Snapshot()
	require.Empty(t, encounterID)
}

func TestSyncWorldSwitchResetsEncounter(t *testing.T) {
	eng := &fakeEngine{responses: map[string]string{
		"get_world_state": `{"world_id":"w2","character_id":"ch7"}`,
	}}
	s := newTestSession(t, eng, &fakeProvider{})
	s.state.setWorld("w1")
	s.state.setEncounter("enc-1")

	s.syncAfterBatch(context.Background(), map[string]bool{"set_active_world": true})

	worldID, characterID, encounterID := s.state.Snapshot()
	require.Equal(t, "w2", worldID)
	require.Equal(t, "ch7", characterID)
	require.Empty(t, encounterID)
}

func TestSyncTravelOnlyInvalidates(t *testing.T) {
	eng := &fakeEngine{responses: map[string]string{}}
	s := newTestSession(t, eng, &fakeProvider{})
	s.state.setWorld("w1")

	s.syncAfterBatch(context.Background(), map[string]bool{"travel_to_region": true})

	require.Zero(t, eng.countCalls("get_world_state"))
	require.Zero(t, eng.countCalls("get_combat_state"))
}

func TestSyncUnmappedToolsNoEffects(t *testing.T) {
	eng := &fakeEngine{responses: map[string]string{}}
	s := newTestSession(t, eng, &fakeProvider{})

	s.syncAfterBatch(context.Background(), map[string]bool{"roll_dice": true, "save_note": true})

	require.Empty(t, eng.calls)
}

func TestEncounterToolTurnSyncsExactlyOnce(t *testing.T) {
	eng := &fakeEngine{responses: map[string]string{
		"create_encounter": `{"success":true}`,
		"get_combat_state": `{"encounter_id":"enc-1"}`,
	}}
	prov := &fakeProvider{responses: []*provider.Response{
		{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "create_encounter", Arguments: `{"difficulty":"hard"}`}}, FinishReason: "tool_calls"},
		{Text: "Goblins burst from the treeline!", FinishReason: "stop"},
	}}
	s := newTestSession(t, eng, prov)
	s.state.setWorld("w1")

	out, err := s.Run(context.Background(), "I kick the door open")
	require.NoError(t, err)
	require.Contains(t, out, "Goblins")
	require.Equal(t, 1, eng.countCalls("create_encounter"))

	// Combat sync ran once after the batch: exactly one world-keyed
	// get_combat_state call beyond any prompt-layer fetches.
	syncCalls := 0
	for _, c := range eng.calls {
		if c.name == "get_combat_state" {
			if _, ok := c.args["world_id"]; ok {
				syncCalls++
			}
		}
	}
	require.Equal(t, 1, syncCalls)
}

func TestExtractID(t *testing.T) {
	tests := map[string]struct {
		text string
		keys []string
		want string
	}{
		"top level":     {`{"world_id":"w1"}`, []string{"world_id", "id"}, "w1"},
		"fallback key":  {`{"id":"w2"}`, []string{"world_id", "id"}, "w2"},
		"data wrapper":  {`{"data":{"encounter_id":"e1"}}`, []string{"encounter_id"}, "e1"},
		"missing":       {`{"other":"x"}`, []string{"world_id"}, ""},
		"not json":      {`the world of w1`, []string{"world_id"}, ""},
		"non string id": {`{"world_id":42}`, []string{"world_id"}, ""},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, extractID(tt.text, tt.keys...))
		})
	}
}

func TestSessionResetClearsHistory(t *testing.T) {
	eng := &fakeEngine{responses: map[string]string{}}
	prov := &fakeProvider{responses: []*provider.Response{{Text: "hello", FinishReason: "stop"}}}
	s := newTestSession(t, eng, prov)

	_, err := s.Run(context.Background(), "hi")
	require.NoError(t, err)

	s.Reset()
	require.NotEmpty(t, s.ID)
}
