package tools

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"loremaster/internal/engine"
	"loremaster/internal/provider"
)

type fakeEngine struct {
	tools     []*engine.ToolInfo
	listErr   error
	listCalls atomic.Int32

	callFn func(name string, args map[string]any) (*engine.CallToolResult, error)
}

func (f *fakeEngine) ListTools(ctx context.Context) ([]*engine.ToolInfo, error) {
	f.listCalls.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeEngine) CallTool(ctx context.Context, name string, args map[string]any) (*engine.CallToolResult, error) {
	if f.callFn != nil {
		return f.callFn(name, args)
	}
	return &engine.CallToolResult{
		Content: []*engine.ContentBlock{{Type: "text", Text: "engine handled " + name}},
	}, nil
}

// stubTool is a configurable local tool for dispatcher tests.
type stubTool struct {
	name     string
	validate func(map[string]any) error
	execute  func(context.Context, map[string]any) (ToolResult, error)
}

func (s *stubTool) Name() string                { return s.name }
func (s *stubTool) Description() string         { return "stub" }
func (s *stubTool) Schema() *engine.JSONSchema  { return &engine.JSONSchema{Type: "object"} }
func (s *stubTool) Validate(args map[string]any) error {
	if s.validate != nil {
		return s.validate(args)
	}
	return nil
}
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	if s.execute != nil {
		return s.execute(ctx, args)
	}
	return NewSuccessResult("ok"), nil
}

func TestCatalogMergesLocalAndEngineTools(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(&stubTool{name: "roll_dice"})

	eng := &fakeEngine{tools: []*engine.ToolInfo{
		{Name: "get_world_state", Description: "World snapshot"},
		{Name: "roll_dice", Description: "Engine dice (shadowed)"},
	}}

	d := NewDispatcher(registry, eng, time.Minute)
	catalog := d.Catalog(context.Background())

	names := make(map[string]int)
	for _, def := range catalog {
		names[def.Name]++
	}
	require.Equal(t, 1, names["roll_dice"], "local tool shadows the engine tool")
	require.Equal(t, 1, names["get_world_state"])
}

func TestCatalogCachesWithinTTL(t *testing.T) {
	eng := &fakeEngine{tools: []*engine.ToolInfo{{Name: "get_world_state"}}}
	d := NewDispatcher(NewRegistry(), eng, time.Minute)

	d.Catalog(context.Background())
	d.Catalog(context.Background())
	require.Equal(t, int32(1), eng.listCalls.Load())

	d.InvalidateCatalog()
	d.Catalog(context.Background())
	require.Equal(t, int32(2), eng.listCalls.Load())
}

func TestCatalogFallsBackToLastGoodOnEngineFailure(t *testing.T) {
	eng := &fakeEngine{tools: []*engine.ToolInfo{{Name: "get_world_state"}}}
	d := NewDispatcher(NewRegistry(), eng, time.Minute)

	first := d.Catalog(context.Background())
	require.Len(t, first, 1)

	eng.listErr = errors.New("engine down")
	d.InvalidateCatalog()

	catalog := d.Catalog(context.Background())
	require.Len(t, catalog, 1)
	require.Equal(t, "get_world_state", catalog[0].Name)
}

func TestCatalogLocalOnlyWhenEngineNeverAnswered(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(&stubTool{name: "roll_dice"})

	eng := &fakeEngine{listErr: errors.New("engine down")}
	d := NewDispatcher(registry, eng, time.Minute)

	catalog := d.Catalog(context.Background())
	require.Len(t, catalog, 1)
	require.Equal(t, "roll_dice", catalog[0].Name)
}

func TestExecuteBatchContainsFailures(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(&stubTool{name: "good"})
	registry.MustRegister(&stubTool{
		name: "failing",
		execute: func(context.Context, map[string]any) (ToolResult, error) {
			return ToolResult{}, errors.New("handler blew up")
		},
	})
	registry.MustRegister(&stubTool{
		name: "panicking",
		execute: func(context.Context, map[string]any) (ToolResult, error) {
			panic("unexpected nil")
		},
	})

	d := NewDispatcher(registry, &fakeEngine{}, time.Minute)
	calls := []provider.ToolCall{
		{ID: "c1", Name: "good", Arguments: "{}"},
		{ID: "c2", Name: "failing", Arguments: "{}"},
		{ID: "c3", Name: "panicking", Arguments: "{}"},
		{ID: "c4", Name: "good", Arguments: "{broken json"},
	}

	results := d.ExecuteBatch(context.Background(), calls)
	require.Len(t, results, len(calls))

	require.Equal(t, "c1", results[0].ID)
	require.False(t, results[0].IsError)

	require.True(t, results[1].IsError)
	require.Contains(t, results[1].Err, "handler blew up")

	require.True(t, results[2].IsError)
	require.Contains(t, results[2].Err, "panicked")

	require.True(t, results[3].IsError)
	require.Contains(t, results[3].Err, "invalid arguments")
}

func TestExecuteBatchValidationFailure(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(&stubTool{
		name: "strict",
		validate: func(args map[string]any) error {
			return NewValidationError("target", "is required")
		},
	})

	d := NewDispatcher(registry, &fakeEngine{}, time.Minute)
	results := d.ExecuteBatch(context.Background(), []provider.ToolCall{
		{ID: "c1", Name: "strict", Arguments: "{}"},
	})

	require.True(t, results[0].IsError)
	require.Contains(t, results[0].Err, "target")
}

func TestExecuteBatchRoutesUnknownToolsToEngine(t *testing.T) {
	var gotName string
	var gotArgs map[string]any
	eng := &fakeEngine{
		callFn: func(name string, args map[string]any) (*engine.CallToolResult, error) {
			gotName = name
			gotArgs = args
			return &engine.CallToolResult{
				Content: []*engine.ContentBlock{{Type: "text", Text: `{"encounter_id":"e7"}`}},
			}, nil
		},
	}

	d := NewDispatcher(NewRegistry(), eng, time.Minute)
	results := d.ExecuteBatch(context.Background(), []provider.ToolCall{
		{ID: "c1", Name: "create_encounter", Arguments: `{"difficulty":"deadly"}`},
	})

	require.Equal(t, "create_encounter", gotName)
	require.Equal(t, "deadly", gotArgs["difficulty"])
	require.False(t, results[0].IsError)
	require.Contains(t, results[0].Content, "e7")
}

func TestExecuteBatchEngineToolError(t *testing.T) {
	eng := &fakeEngine{
		callFn: func(name string, args map[string]any) (*engine.CallToolResult, error) {
			return &engine.CallToolResult{
				Content: []*engine.ContentBlock{{Type: "text", Text: "no active encounter"}},
				IsError: true,
			}, nil
		},
	}

	d := NewDispatcher(NewRegistry(), eng, time.Minute)
	results := d.ExecuteBatch(context.Background(), []provider.ToolCall{
		{ID: "c1", Name: "get_combat_state", Arguments: "{}"},
	})

	require.True(t, results[0].IsError)
	require.Contains(t, results[0].Err, "no active encounter")
}

func TestExecuteBatchPreservesOrderUnderConcurrency(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister(&stubTool{
		name: "echo",
		execute: func(ctx context.Context, args map[string]any) (ToolResult, error) {
			n, _ := GetInt(args, "n")
			return NewSuccessResult(fmt.Sprintf("result-%d", n)), nil
		},
	})

	d := NewDispatcher(registry, &fakeEngine{}, time.Minute)

	var calls []provider.ToolCall
	for i := 0; i < 16; i++ {
		calls = append(calls, provider.ToolCall{
			ID:        fmt.Sprintf("c%d", i),
			Name:      "echo",
			Arguments: fmt.Sprintf(`{"n":%d}`, i),
		})
	}

	results := d.ExecuteBatch(context.Background(), calls)
	require.Len(t, results, 16)
	for i, r := range results {
		require.Equal(t, fmt.Sprintf("c%d", i), r.ID)
		require.Contains(t, r.Content, fmt.Sprintf("result-%d", i))
	}
}
