package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory transport driven by the test.
type fakeTransport struct {
	sent   chan *JSONRPCMessage
	recv   chan *JSONRPCMessage
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:   make(chan *JSONRPCMessage, 16),
		recv:   make(chan *JSONRPCMessage, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(msg *JSONRPCMessage) error {
	select {
	case <-f.closed:
		return errors.New("transport is closed")
	default:
	}
	f.sent <- msg
	return nil
}

func (f *fakeTransport) Receive() (*JSONRPCMessage, error) {
	select {
	case msg := <-f.recv:
		return msg, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// respond answers every sent request using fn, until the transport closes.
func (f *fakeTransport) respond(fn func(req *JSONRPCMessage) *JSONRPCMessage) {
	go func() {
		for {
			select {
			case req := <-f.sent:
				if req.ID == nil {
					continue // notification
				}
				if resp := fn(req); resp != nil {
					// Round-trip through the id type the wire produces
					resp.ID = float64(req.ID.(int64))
					f.recv <- resp
				}
			case <-f.closed:
				return
			}
		}
	}()
}

func initResponse() *JSONRPCMessage {
	return &JSONRPCMessage{
		Result: map[string]any{
			"protocolVersion": ProtocolVersion,
			"serverInfo":      map[string]any{"name": "worldkit", "version": "0.3.0"},
		},
	}
}

func readyClient(t *testing.T, ft *fakeTransport) *Client {
	t.Helper()
	c := newClientWithTransport(ft)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Initialize(context.Background()))
	require.Equal(t, StateReady, c.State())
	return c
}

func TestInitializeHandshake(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(func(req *JSONRPCMessage) *JSONRPCMessage {
		require.Equal(t, MethodInitialize, req.Method)
		return initResponse()
	})

	c := readyClient(t, ft)

	info := c.ServerInfo()
	require.NotNil(t, info)
	require.Equal(t, "worldkit", info.Name)

	// Second Initialize is a no-op
	require.NoError(t, c.Initialize(context.Background()))
}

func TestCallToolRoundTrip(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(func(req *JSONRPCMessage) *JSONRPCMessage {
		switch req.Method {
		case MethodInitialize:
			return initResponse()
		case MethodToolsCall:
			params := req.Params.(*CallToolParams)
			require.Equal(t, "get_world_state", params.Name)
			return &JSONRPCMessage{
				Result: map[string]any{
					"content": []any{
						map[string]any{"type": "text", "text": "The Sundered Vale"},
					},
				},
			}
		}
		return nil
	})

	c := readyClient(t, ft)

	result, err := c.CallTool(context.Background(), "get_world_state", map[string]any{"world_id": "w1"})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Equal(t, "The Sundered Vale", result.Text())
}

func TestListTools(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(func(req *JSONRPCMessage) *JSONRPCMessage {
		switch req.Method {
		case MethodInitialize:
			return initResponse()
		case MethodToolsList:
			return &JSONRPCMessage{
				Result: map[string]any{
					"tools": []any{
						map[string]any{"name": "get_world_state", "description": "Current world snapshot"},
						map[string]any{"name": "create_encounter"},
					},
				},
			}
		}
		return nil
	})

	c := readyClient(t, ft)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	require.Equal(t, "get_world_state", tools[0].Name)
}

func TestRequestTimeoutRemovesPendingEntry(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(func(req *JSONRPCMessage) *JSONRPCMessage {
		if req.Method == MethodInitialize {
			return initResponse()
		}
		return nil // swallow everything else
	})

	c := readyClient(t, ft)
	c.timeoutFn = func(method, tool string) time.Duration { return 20 * time.Millisecond }

	_, err := c.CallTool(context.Background(), "roll_initiative", nil)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, MethodToolsCall, timeoutErr.Method)
	require.Equal(t, "roll_initiative", timeoutErr.Tool)

	c.pendingMu.Lock()
	require.Empty(t, c.pending)
	c.pendingMu.Unlock()
}

func TestWorkerExitFailsAllPending(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(func(req *JSONRPCMessage) *JSONRPCMessage {
		if req.Method == MethodInitialize {
			return initResponse()
		}
		return nil
	})

	c := readyClient(t, ft)

	const n = 5
	errs := make(chan error, n)
	var started sync.WaitGroup
	for i := 0; i < n; i++ {
		started.Add(1)
		go func() {
			started.Done()
			_, err := c.CallTool(context.Background(), "get_party_state", nil)
			errs <- err
		}()
	}
	started.Wait()

	// Wait until all requests are registered before killing the worker
	require.Eventually(t, func() bool {
		c.pendingMu.Lock()
		defer c.pendingMu.Unlock()
		return len(c.pending) == n
	}, time.Second, 5*time.Millisecond)

	ft.Close()

	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			require.ErrorIs(t, err, ErrDisconnected)
		case <-time.After(time.Second):
			t.Fatal("pending request did not resolve after disconnect")
		}
	}

	c.pendingMu.Lock()
	require.Empty(t, c.pending)
	c.pendingMu.Unlock()
	require.Equal(t, StateDisconnected, c.State())
}

func TestUnknownResponseIDIgnored(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(func(req *JSONRPCMessage) *JSONRPCMessage {
		if req.Method == MethodInitialize {
			return initResponse()
		}
		if req.Method == MethodPing {
			return &JSONRPCMessage{Result: map[string]any{}}
		}
		return nil
	})

	c := readyClient(t, ft)

	// A stray response nobody asked for must not disturb the client
	ft.recv <- &JSONRPCMessage{ID: float64(9999), Result: map[string]any{}}

	require.NoError(t, c.Ping(context.Background()))
}

func TestErrorResponseSurfacesRPCError(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(func(req *JSONRPCMessage) *JSONRPCMessage {
		if req.Method == MethodInitialize {
			return initResponse()
		}
		return &JSONRPCMessage{
			Error: &Error{Code: ErrCodeMethodNotFound, Message: "no such tool"},
		}
	})

	c := readyClient(t, ft)

	_, err := c.CallTool(context.Background(), "summon_demon", nil)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, ErrCodeMethodNotFound, rpcErr.Code)
}

func TestContextCancellationAbortsRequest(t *testing.T) {
	ft := newFakeTransport()
	ft.respond(func(req *JSONRPCMessage) *JSONRPCMessage {
		if req.Method == MethodInitialize {
			return initResponse()
		}
		return nil
	})

	c := readyClient(t, ft)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.CallTool(ctx, "get_dm_secrets", nil)
	require.ErrorIs(t, err, context.Canceled)

	c.pendingMu.Lock()
	require.Empty(t, c.pending)
	c.pendingMu.Unlock()
}

func TestTimeoutClasses(t *testing.T) {
	tests := map[string]struct {
		method string
		tool   string
		want   time.Duration
	}{
		"initialize is fast class":  {MethodInitialize, "", handshakeTimeout},
		"tools list is fast class":  {MethodToolsList, "", handshakeTimeout},
		"world regeneration":        {MethodToolsCall, "regenerate_world", complexTimeout},
		"region generation":         {MethodToolsCall, "generate_region", complexTimeout},
		"world creation":            {MethodToolsCall, "create_world", complexTimeout},
		"era advance":               {MethodToolsCall, "advance_era", complexTimeout},
		"ordinary tool call":        {MethodToolsCall, "roll_initiative", defaultTimeout},
		"ping gets default timeout": {MethodPing, "", defaultTimeout},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, timeoutFor(tc.method, tc.tool))
		})
	}
}

func TestCallBeforeReadyIsRejected(t *testing.T) {
	ft := newFakeTransport()
	c := newClientWithTransport(ft)
	t.Cleanup(func() { c.Close() })

	_, err := c.CallTool(context.Background(), "get_world_state", nil)
	require.Error(t, err)

	_, err = c.ListTools(context.Background())
	require.Error(t, err)
}
