package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrDisconnected is returned for every request that was in flight when the
// engine process exited or the read loop hit EOF.
var ErrDisconnected = errors.New("engine disconnected")

// SpawnError indicates the engine process could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn engine %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// TimeoutError indicates a request exceeded its timeout class. The pending
// entry is removed before this is returned, so a late response is ignored.
type TimeoutError struct {
	Method  string
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("engine request %s (%s) timed out after %v", e.Method, e.Tool, e.Timeout)
	}
	return fmt.Sprintf("engine request %s timed out after %v", e.Method, e.Timeout)
}
