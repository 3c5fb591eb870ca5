package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"loremaster/internal/logging"
)

// State tracks the connection lifecycle of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Request timeout classes. The handshake and catalog listing are expected to
// be fast; world generation tools run long.
const (
	handshakeTimeout = 10 * time.Second
	complexTimeout   = 120 * time.Second
	defaultTimeout   = 30 * time.Second
)

// complexTools are engine tools allowed the long timeout class.
var complexTools = map[string]bool{
	"regenerate_world": true,
	"generate_region":  true,
	"create_world":     true,
	"advance_era":      true,
}

func timeoutFor(method, tool string) time.Duration {
	switch method {
	case MethodInitialize, MethodToolsList:
		return handshakeTimeout
	case MethodToolsCall:
		if complexTools[tool] {
			return complexTimeout
		}
	}
	return defaultTimeout
}

// Client handles JSON-RPC communication with the engine worker. Several
// logical channels (game state, combat, context fetches) share one Client;
// requests are correlated by id, so they interleave freely.
type Client struct {
	cfg       *Config
	transport Transport

	state atomic.Int32

	serverInfo *ServerInfo
	mu         sync.Mutex // guards Connect/Initialize transitions and serverInfo

	// Request correlation. A pending channel is closed (never sent to) when
	// the worker disconnects, so waiters can tell a response from a failure.
	nextID    int64
	pending   map[int64]chan *JSONRPCMessage
	pendingMu sync.Mutex

	// Swapped by tests to avoid waiting out real timeout classes.
	timeoutFn func(method, tool string) time.Duration

	done chan struct{}
}

// NewClient creates a client for the given worker configuration. The worker
// is not spawned until Connect.
func NewClient(cfg *Config) *Client {
	return &Client{
		cfg:       cfg,
		pending:   make(map[int64]chan *JSONRPCMessage),
		timeoutFn: timeoutFor,
	}
}

// newClientWithTransport wires a client to an existing transport. Used by
// tests to substitute an in-memory transport.
func newClientWithTransport(transport Transport) *Client {
	c := &Client{
		cfg:       &Config{},
		transport: transport,
		pending:   make(map[int64]chan *JSONRPCMessage),
		timeoutFn: timeoutFor,
		done:      make(chan struct{}),
	}
	c.state.Store(int32(StateConnected))
	go c.receiveLoop()
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connect spawns the engine worker and starts the read loop. Calling Connect
// on an already connected client is a no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() >= StateConnected {
		return nil
	}

	c.state.Store(int32(StateConnecting))

	transport, err := NewStdioTransport(c.cfg)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return &SpawnError{Command: c.cfg.Command, Err: err}
	}

	c.transport = transport
	c.done = make(chan struct{})
	c.state.Store(int32(StateConnected))

	go c.receiveLoop()

	return nil
}

// receiveLoop reads messages from the transport and routes them. When the
// worker exits or the stream ends, every in-flight request fails with
// ErrDisconnected.
func (c *Client) receiveLoop() {
	defer close(c.done)
	defer c.failAllPending()

	for {
		msg, err := c.transport.Receive()
		if err != nil {
			if c.State() != StateDisconnected {
				logging.Warn("engine receive loop ended", "error", err)
			}
			c.state.Store(int32(StateDisconnected))
			return
		}
		c.handleMessage(msg)
	}
}

// failAllPending closes every pending channel and clears the table.
func (c *Client) failAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// handleMessage routes an incoming message to the waiting request.
func (c *Client) handleMessage(msg *JSONRPCMessage) {
	if msg.IsResponse() {
		id, ok := msg.ID.(float64) // JSON numbers are float64
		if !ok {
			logging.Warn("engine response with invalid id type", "id", msg.ID)
			return
		}

		c.pendingMu.Lock()
		ch, exists := c.pending[int64(id)]
		if exists {
			delete(c.pending, int64(id))
		}
		c.pendingMu.Unlock()

		if !exists {
			// Late response after a timeout, or a worker bug. Either way
			// nobody is waiting.
			logging.Warn("engine response for unknown request", "id", id)
			return
		}
		ch <- msg
	} else if msg.IsNotification() {
		logging.Debug("engine notification received", "method", msg.Method)
	}
}

// request sends a request and waits for the response, the timeout class, or
// disconnection, whichever comes first.
func (c *Client) request(ctx context.Context, method string, params any) (*JSONRPCMessage, error) {
	tool := ""
	if p, ok := params.(*CallToolParams); ok {
		tool = p.Name
	}

	id := atomic.AddInt64(&c.nextID, 1)

	respCh := make(chan *JSONRPCMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	removePending := func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}

	msg := &JSONRPCMessage{
		ID:     id,
		Method: method,
		Params: params,
	}

	if err := c.transport.Send(msg); err != nil {
		removePending()
		if c.State() == StateDisconnected {
			return nil, ErrDisconnected
		}
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	timeout := c.timeoutFn(method, tool)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrDisconnected
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	case <-timer.C:
		removePending()
		return nil, &TimeoutError{Method: method, Tool: tool, Timeout: timeout}
	case <-ctx.Done():
		removePending()
		return nil, ctx.Err()
	}
}

// notify sends a notification (no response expected).
func (c *Client) notify(method string, params any) error {
	return c.transport.Send(&JSONRPCMessage{Method: method, Params: params})
}

// Initialize performs the protocol handshake. Idempotent; requires Connect.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateReady:
		return nil
	case StateConnected:
	default:
		return fmt.Errorf("cannot initialize in state %s", c.State())
	}

	params := &InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo: &ClientInfo{
			Name:    "loremaster",
			Version: "1.0.0",
		},
		Capabilities: map[string]any{},
	}

	resp, err := c.request(ctx, MethodInitialize, params)
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	var result InitializeResult
	if err := remarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("failed to parse initialize result: %w", err)
	}

	c.serverInfo = result.ServerInfo

	if err := c.notify(MethodInitialized, nil); err != nil {
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}

	c.state.Store(int32(StateReady))

	if c.serverInfo != nil {
		logging.Info("engine initialized",
			"server", c.serverInfo.Name,
			"version", c.serverInfo.Version)
	}

	return nil
}

// ListTools retrieves the engine's tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]*ToolInfo, error) {
	if c.State() != StateReady {
		return nil, fmt.Errorf("engine not ready (state %s)", c.State())
	}

	resp, err := c.request(ctx, MethodToolsList, nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list failed: %w", err)
	}

	var result ListToolsResult
	if err := remarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tools result: %w", err)
	}

	logging.Debug("engine tools listed", "count", len(result.Tools))

	return result.Tools, nil
}

// CallTool invokes a tool on the engine worker.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	if c.State() != StateReady {
		return nil, fmt.Errorf("engine not ready (state %s)", c.State())
	}

	params := &CallToolParams{
		Name:      name,
		Arguments: args,
	}

	resp, err := c.request(ctx, MethodToolsCall, params)
	if err != nil {
		return nil, err
	}

	var result CallToolResult
	if err := remarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to parse call result: %w", err)
	}

	logging.Debug("engine tool called",
		"tool", name,
		"is_error", result.IsError)

	return &result, nil
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	if c.State() != StateReady {
		return fmt.Errorf("engine not ready (state %s)", c.State())
	}
	_, err := c.request(ctx, MethodPing, nil)
	return err
}

// ServerInfo returns the worker's self-reported identity, if initialized.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Close shuts down the worker and releases resources.
func (c *Client) Close() error {
	if c.transport == nil {
		return nil
	}

	c.state.Store(int32(StateDisconnected))

	if err := c.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}

	if c.done != nil {
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			logging.Warn("engine receive loop did not stop in time")
		}
	}

	logging.Debug("engine client closed")
	return nil
}

// remarshal converts a decoded JSON value into a typed struct.
func remarshal(from any, to any) error {
	data, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, to)
}
