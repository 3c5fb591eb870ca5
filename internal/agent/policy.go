package agent

import (
	"fmt"

	"loremaster/internal/config"
	"loremaster/internal/provider"
)

// Rough chars-per-token estimate used for history budgeting. Exact
// tokenization differs per model; this stays on the conservative side.
const charsPerToken = 4

// Minimum useful size for a partially kept message. Anything smaller is
// dropped instead of truncated.
const minKeepChars = 256

// turnPolicy bundles the per-turn limits the loop enforces.
type turnPolicy struct {
	maxTurns        int
	toolResultLimit int
	maxInputChars   int
}

func newTurnPolicy(agentCfg config.AgentConfig, modelCfg config.ModelConfig) turnPolicy {
	maxTurns := agentCfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = config.DefaultMaxTurns
	}
	resultLimit := agentCfg.ToolResultLimit
	if resultLimit <= 0 {
		resultLimit = config.DefaultToolResultLimit
	}
	inputTokens := modelCfg.MaxInputTokens
	if inputTokens <= 0 {
		inputTokens = config.DefaultMaxInputTokens
	}
	return turnPolicy{
		maxTurns:        maxTurns,
		toolResultLimit: resultLimit,
		maxInputChars:   inputTokens * charsPerToken,
	}
}

// truncateResult caps a tool result payload, marking the cut so the model
// knows output is missing rather than complete.
func (p turnPolicy) truncateResult(s string) string {
	if len(s) <= p.toolResultLimit {
		return s
	}
	return s[:p.toolResultLimit] + fmt.Sprintf("\n[truncated: result exceeded %d characters]", p.toolResultLimit)
}

func messageSize(m provider.Message) int {
	size := len(m.Content) + len(m.ToolCallID) + len(m.ToolName)
	for _, tc := range m.ToolCalls {
		size += len(tc.Name) + len(tc.Arguments)
	}
	return size
}

// trimHistory drops the oldest conversation entries until the estimated
// size fits the input budget. The leading system message always survives,
// relative order is preserved, and the oldest kept message may itself be
// truncated to use the remaining budget.
func (p turnPolicy) trimHistory(msgs []provider.Message) []provider.Message {
	if len(msgs) == 0 {
		return msgs
	}

	budget := p.maxInputChars
	var system []provider.Message
	rest := msgs
	if msgs[0].Role == provider.RoleSystem {
		system = msgs[:1]
		rest = msgs[1:]
		budget -= messageSize(msgs[0])
	}

	// Walk backwards keeping the newest suffix that fits.
	total := 0
	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		size := messageSize(rest[i])
		if total+size > budget {
			break
		}
		total += size
		start = i
	}

	if start == 0 {
		return msgs
	}

	kept := rest[start:]

	// Use leftover budget to keep a truncated tail of the next-oldest
	// message when enough of it fits to be worth reading.
	remaining := budget - total
	if remaining >= minKeepChars {
		boundary := rest[start-1]
		if boundary.Role != provider.RoleTool && len(boundary.ToolCalls) == 0 && len(boundary.Content) > 0 {
			cut := boundary
			if len(cut.Content) > remaining {
				cut.Content = "[earlier content trimmed]\n" + cut.Content[len(cut.Content)-remaining:]
			}
			kept = append([]provider.Message{cut}, kept...)
		}
	}

	// Never lead the kept window with orphaned tool results; the backends
	// reject tool messages with no preceding tool-call message.
	for len(kept) > 0 && kept[0].Role == provider.RoleTool {
		kept = kept[1:]
	}

	out := make([]provider.Message, 0, len(system)+len(kept))
	out = append(out, system...)
	out = append(out, kept...)
	return out
}
