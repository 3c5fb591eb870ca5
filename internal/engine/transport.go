package engine

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"loremaster/internal/logging"
)

// Transport defines the interface for engine transport implementations.
type Transport interface {
	// Send sends a JSON-RPC message to the worker.
	Send(msg *JSONRPCMessage) error

	// Receive receives a JSON-RPC message from the worker.
	// Returns io.EOF when the transport is closed.
	Receive() (*JSONRPCMessage, error)

	// Close closes the transport connection.
	Close() error
}

// SafeEnvVars is the whitelist of environment variables passed to the engine
// worker process. This prevents leaking sensitive variables like API keys.
var SafeEnvVars = []string{
	"PATH",
	"HOME",
	"USER",
	"SHELL",
	"TERM",
	"LANG",
	"LC_ALL",
	"LC_CTYPE",
	"TMPDIR",
	"TMP",
	"TEMP",
	"XDG_CONFIG_HOME",
	"XDG_DATA_HOME",
	"XDG_CACHE_HOME",
	"XDG_RUNTIME_DIR",
	// Node/npm
	"NODE_PATH",
	"NPM_CONFIG_PREFIX",
	// Python
	"PYTHONPATH",
	"VIRTUAL_ENV",
}

// buildSafeEnv creates a sanitized environment for the worker process.
func buildSafeEnv() []string {
	env := make([]string, 0, len(SafeEnvVars))
	for _, key := range SafeEnvVars {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}
	hasPath := false
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
			break
		}
	}
	if !hasPath {
		env = append(env, "PATH=/usr/local/bin:/usr/bin:/bin")
	}
	return env
}

// frameDecoder splits a byte stream into newline-delimited frames. It keeps a
// running buffer so frame boundaries never depend on how the stream was
// chunked by the pipe.
type frameDecoder struct {
	buf []byte
}

// Feed appends raw bytes from the stream to the decoder buffer.
func (d *frameDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next complete frame without its trailing newline, or
// false if no full frame is buffered yet. Empty frames are skipped.
func (d *frameDecoder) Next() ([]byte, bool) {
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return nil, false
		}
		frame := d.buf[:i]
		d.buf = d.buf[i+1:]
		frame = bytes.TrimSuffix(frame, []byte{'\r'})
		if len(frame) == 0 {
			continue
		}
		return frame, true
	}
}

// StdioTransport communicates with the engine worker over stdin/stdout.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	encoder *json.Encoder
	decoder frameDecoder
	readBuf []byte

	mu     sync.Mutex
	closed bool

	stderrDone chan struct{}
}

// NewStdioTransport starts the engine worker and wires up its pipes.
func NewStdioTransport(cfg *Config) (*StdioTransport, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)

	cmd.Env = buildSafeEnv()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+os.ExpandEnv(v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, err
	}

	t := &StdioTransport{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		encoder:    json.NewEncoder(stdin),
		readBuf:    make([]byte, 32*1024),
		stderrDone: make(chan struct{}),
	}

	go t.logStderr()

	logging.Debug("engine worker started",
		"command", cfg.Command,
		"args", cfg.Args,
		"pid", cmd.Process.Pid)

	return t, nil
}

// logStderr reads and logs stderr output from the worker.
func (t *StdioTransport) logStderr() {
	defer close(t.stderrDone)
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		logging.Debug("engine stderr", "line", scanner.Text())
	}
}

// Send sends a JSON-RPC message to the worker.
func (t *StdioTransport) Send(msg *JSONRPCMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport is closed")
	}

	msg.JSONRPC = "2.0"

	// json.Encoder appends the newline that frames the message
	if err := t.encoder.Encode(msg); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	logging.Debug("engine message sent",
		"method", msg.Method,
		"id", msg.ID)

	return nil
}

// Receive receives the next JSON-RPC message from the worker. Malformed
// frames are logged and dropped.
func (t *StdioTransport) Receive() (*JSONRPCMessage, error) {
	for {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return nil, io.EOF
		}

		if frame, ok := t.decoder.Next(); ok {
			var msg JSONRPCMessage
			if err := json.Unmarshal(frame, &msg); err != nil {
				logging.Warn("engine sent malformed frame", "error", err)
				continue
			}
			logging.Debug("engine message received",
				"method", msg.Method,
				"id", msg.ID,
				"has_error", msg.Error != nil)
			return &msg, nil
		}

		n, err := t.stdout.Read(t.readBuf)
		if n > 0 {
			t.decoder.Feed(t.readBuf[:n])
		}
		if err != nil {
			if frame, ok := t.decoder.Next(); ok {
				var msg JSONRPCMessage
				if jerr := json.Unmarshal(frame, &msg); jerr == nil {
					return &msg, nil
				}
			}
			return nil, err
		}
	}
}

// Close closes the transport and terminates the worker process.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	// Closing stdin signals the worker to exit
	if t.stdin != nil {
		t.stdin.Close()
	}

	select {
	case <-t.stderrDone:
	case <-time.After(time.Second):
	}

	done := make(chan error, 1)
	go func() {
		done <- t.cmd.Wait()
	}()

	select {
	case <-done:
		logging.Debug("engine worker exited")
	case <-time.After(5 * time.Second):
		logging.Warn("engine worker not responding, killing process")
		if t.cmd.Process != nil {
			t.cmd.Process.Kill()
		}
		<-done
	}

	return nil
}
