package provider

import (
	"encoding/json"
	"sort"
	"strings"

	"loremaster/internal/logging"
)

// ToolCallAssembler reassembles tool calls from streamed deltas. Providers
// fragment a single call's JSON arguments across many chunks, identified
// only by the call's index in the response; the id and name arrive on the
// first fragment and later fragments carry argument text.
type ToolCallAssembler struct {
	partial map[int]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// NewToolCallAssembler creates an empty assembler.
func NewToolCallAssembler() *ToolCallAssembler {
	return &ToolCallAssembler{partial: make(map[int]*partialCall)}
}

// AddDelta merges one streamed fragment. id and name are usually empty on
// every fragment after the first; argument fragments are concatenated in
// arrival order.
func (a *ToolCallAssembler) AddDelta(index int, id, name, args string) {
	pc, ok := a.partial[index]
	if !ok {
		pc = &partialCall{}
		a.partial[index] = pc
	}
	if id != "" {
		pc.id = id
	}
	if name != "" {
		pc.name = name
	}
	pc.args.WriteString(args)
}

// Pending reports whether any fragments have been received this turn.
func (a *ToolCallAssembler) Pending() bool {
	return len(a.partial) > 0
}

// Finalize validates and returns the assembled calls in index order, then
// clears all state so the assembler carries nothing into the next turn.
// Calls whose arguments never became valid JSON are dropped with a warning;
// empty arguments normalize to an empty object.
func (a *ToolCallAssembler) Finalize() []ToolCall {
	indexes := make([]int, 0, len(a.partial))
	for i := range a.partial {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]ToolCall, 0, len(a.partial))
	for _, i := range indexes {
		pc := a.partial[i]
		args := pc.args.String()
		if args == "" {
			args = "{}"
		}
		if !json.Valid([]byte(args)) {
			logging.Warn("dropping tool call with malformed arguments",
				"tool", pc.name,
				"index", i,
				"arguments", args)
			continue
		}
		if pc.name == "" {
			logging.Warn("dropping tool call without a name", "index", i)
			continue
		}
		calls = append(calls, ToolCall{ID: pc.id, Name: pc.name, Arguments: args})
	}

	a.partial = make(map[int]*partialCall)
	return calls
}
