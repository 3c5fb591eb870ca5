package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"loremaster/internal/engine"
	"loremaster/internal/logging"
	"loremaster/internal/provider"
)

// EngineCaller is the slice of the engine client the dispatcher needs.
type EngineCaller interface {
	ListTools(ctx context.Context) ([]*engine.ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*engine.CallToolResult, error)
}

// Result is the outcome of one dispatched call, correlated by the call id.
type Result struct {
	ID      string
	Name    string
	Content string
	Err     string
	IsError bool
}

// Payload renders the result as the text handed back to the model. Errors
// travel in-band so the model can react to them.
func (r Result) Payload() string {
	if r.IsError {
		data, _ := json.Marshal(map[string]any{"success": false, "error": r.Err})
		return string(data)
	}
	return r.Content
}

// Dispatcher merges local tools with the engine's catalog and executes
// batches of model-requested calls.
type Dispatcher struct {
	registry *Registry
	engine   EngineCaller
	ttl      time.Duration

	mu       sync.Mutex
	catalog  []provider.ToolDef
	fetched  time.Time
	lastGood []provider.ToolDef // survives engine outages
}

// NewDispatcher creates a dispatcher. ttl bounds how long a merged catalog
// is served without asking the engine again.
func NewDispatcher(registry *Registry, eng EngineCaller, ttl time.Duration) *Dispatcher {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		engine:   eng,
		ttl:      ttl,
	}
}

// Catalog returns the merged tool catalog: local tools plus whatever the
// engine advertises. It never fails; when the engine is unreachable it
// serves the last good catalog, or local tools alone.
func (d *Dispatcher) Catalog(ctx context.Context) []provider.ToolDef {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.catalog != nil && time.Since(d.fetched) < d.ttl {
		return d.catalog
	}

	defs := d.registry.Defs()

	engineTools, err := d.engine.ListTools(ctx)
	if err != nil {
		logging.Warn("engine tool listing failed, using fallback catalog", "error", err)
		if d.lastGood != nil {
			return d.lastGood
		}
		return defs
	}

	for _, info := range engineTools {
		// Local tools shadow engine tools of the same name
		if _, exists := d.registry.Get(info.Name); exists {
			continue
		}
		defs = append(defs, provider.ToolDef{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  info.InputSchema,
		})
	}

	d.catalog = defs
	d.lastGood = defs
	d.fetched = time.Now()
	return defs
}

// InvalidateCatalog drops the cached catalog so the next Catalog call asks
// the engine again.
func (d *Dispatcher) InvalidateCatalog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.catalog = nil
	d.fetched = time.Time{}
}

// ExecuteBatch runs every call concurrently and returns exactly one result
// per call, in the order given. A failing call never disturbs its
// neighbours: argument parse failures, validation failures, handler errors,
// and panics all land in that call's result.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, calls []provider.ToolCall) []Result {
	results := make([]Result, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = d.executeOne(ctx, call)
			return nil
		})
	}
	g.Wait()

	return results
}

func (d *Dispatcher) executeOne(ctx context.Context, call provider.ToolCall) (res Result) {
	res = Result{ID: call.ID, Name: call.Name}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("tool handler panicked", "tool", call.Name, "panic", r)
			res.IsError = true
			res.Err = fmt.Sprintf("tool %s panicked: %v", call.Name, r)
		}
	}()

	var args map[string]any
	raw := call.Arguments
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		res.IsError = true
		res.Err = fmt.Sprintf("invalid arguments for %s: %v", call.Name, err)
		return res
	}

	if tool, ok := d.registry.Get(call.Name); ok {
		if err := tool.Validate(args); err != nil {
			res.IsError = true
			res.Err = err.Error()
			return res
		}
		out, err := tool.Execute(ctx, args)
		if err != nil {
			res.IsError = true
			res.Err = err.Error()
			return res
		}
		res.Content = out.Serialize()
		res.IsError = !out.Success
		res.Err = out.Error
		return res
	}

	// Unknown names route to the engine; it owns the authoritative catalog.
	out, err := d.engine.CallTool(ctx, call.Name, args)
	if err != nil {
		res.IsError = true
		res.Err = err.Error()
		return res
	}

	res.Content = out.Text()
	if out.IsError {
		res.IsError = true
		res.Err = out.Text()
	}
	return res
}
