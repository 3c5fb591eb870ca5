package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LayerStore {
	t.Helper()
	s, err := NewLayerStore(filepath.Join(t.TempDir(), "prompt_layers.json"))
	require.NoError(t, err)
	return s
}

func TestStoreDefaults(t *testing.T) {
	s := newTestStore(t)

	identity, ok := s.Get(LayerIdentity)
	require.True(t, ok)
	require.Contains(t, identity, "Dungeon Master")

	rules, ok := s.Get(LayerRules)
	require.True(t, ok)
	require.Contains(t, rules, "roll_dice")

	require.False(t, s.PlaytestEnabled())
	require.False(t, s.IsOverridden(LayerIdentity))

	_, ok = s.Get("no_such_layer")
	require.False(t, ok)
}

func TestStoreSetPersists(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set(LayerIdentity, "You are a grim chronicler."))
	require.True(t, s.IsOverridden(LayerIdentity))

	reopened, err := NewLayerStore(s.Path())
	require.NoError(t, err)
	got, ok := reopened.Get(LayerIdentity)
	require.True(t, ok)
	require.Equal(t, "You are a grim chronicler.", got)
}

func TestStoreResetRestoresDefault(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set(LayerRules, "house rules only"))
	require.NoError(t, s.Reset(LayerRules))

	got, ok := s.Get(LayerRules)
	require.True(t, ok)
	require.Contains(t, got, "roll_dice")
	require.False(t, s.IsOverridden(LayerRules))
}

func TestStorePlaytestTogglePersists(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetPlaytest(true))

	reopened, err := NewLayerStore(s.Path())
	require.NoError(t, err)
	require.True(t, reopened.PlaytestEnabled())
}

func TestStoreArbitraryKeys(t *testing.T) {
	s := newTestStore(t)

	// The dispatcher's note tools store under their own key.
	require.NoError(t, s.Set("session_notes", `[{"topic":"npc","text":"owes us gold"}]`))
	got, ok := s.Get("session_notes")
	require.True(t, ok)
	require.Contains(t, got, "owes us gold")
	require.Contains(t, s.LayerKeys(), "session_notes")
}

func TestStoreCorruptFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt_layers.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewLayerStore(path)
	require.Error(t, err)
}
