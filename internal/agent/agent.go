// Package agent runs the tool-use loop between the model and the
// dispatcher, carrying conversation history across turns.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"loremaster/internal/config"
	"loremaster/internal/logging"
	"loremaster/internal/provider"
	"loremaster/internal/tools"
)

// turnLimitNotice is surfaced in-band when a single user turn exhausts the
// tool-use budget, so the model's partial progress is not lost.
const turnLimitNotice = "I've hit my action limit for this turn. The story so far is saved; tell me to continue and I'll pick up where I left off."

// PromptSource supplies the system prompt, rebuilt before every model call
// so state changes made by tools show up on the next turn.
type PromptSource interface {
	SystemPrompt(ctx context.Context) string
}

// SyncHook runs once after each tool batch with the set of invoked tool
// names. The session uses it to refresh tracked state and drop stale
// prompt caches.
type SyncHook func(ctx context.Context, invoked map[string]bool)

// Agent drives one conversation: user input in, tool rounds in the middle,
// narrative text out.
type Agent struct {
	provider   provider.Client
	dispatcher *tools.Dispatcher
	prompts    PromptSource
	policy     turnPolicy

	temperature float32
	maxTokens   int32

	mu       sync.Mutex
	history  []provider.Message
	syncHook SyncHook
}

// New creates an agent. prompts may be nil, in which case turns run
// without a system prompt.
func New(p provider.Client, d *tools.Dispatcher, prompts PromptSource, cfg *config.Config) *Agent {
	return &Agent{
		provider:    p,
		dispatcher:  d,
		prompts:     prompts,
		policy:      newTurnPolicy(cfg.Agent, cfg.Model),
		temperature: cfg.Model.Temperature,
		maxTokens:   cfg.Model.MaxOutputTokens,
	}
}

// SetSyncHook installs the post-batch hook. Pass nil to remove it.
func (a *Agent) SetSyncHook(h SyncHook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncHook = h
}

// Reset discards the conversation history.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
}

// HistoryLen reports the number of stored history messages.
func (a *Agent) HistoryLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history)
}

// Run processes one user input to completion and returns the assistant's
// narrative text for the turn.
func (a *Agent) Run(ctx context.Context, input string) (string, error) {
	var b strings.Builder
	err := a.run(ctx, input, func(s string) {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s)
	}, false)
	return b.String(), err
}

// RunStream processes one user input, delivering narrative text through
// onText as it arrives. Tool rounds happen between fragments; onText is
// never called concurrently.
func (a *Agent) RunStream(ctx context.Context, input string, onText func(string)) error {
	return a.run(ctx, input, onText, true)
}

func (a *Agent) run(ctx context.Context, input string, onText func(string), streaming bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.history = append(a.history, provider.Message{Role: provider.RoleUser, Content: input})

	for turn := 0; turn < a.policy.maxTurns; turn++ {
		req := &provider.Request{
			Model:       a.provider.Model(),
			Messages:    a.buildMessages(ctx),
			Tools:       provider.FilterTools(a.provider.Model(), a.dispatcher.Catalog(ctx)),
			Temperature: a.temperature,
			MaxTokens:   a.maxTokens,
		}

		var resp *provider.Response
		var err error
		if streaming {
			resp, err = a.provider.Stream(ctx, req, onText)
		} else {
			resp, err = a.provider.Complete(ctx, req)
		}
		if err != nil {
			return fmt.Errorf("model call failed: %w", err)
		}

		a.history = append(a.history, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		if !streaming && resp.Text != "" {
			onText(resp.Text)
		}

		if len(resp.ToolCalls) == 0 {
			return nil
		}

		logging.Debug("executing tool batch", "turn", turn, "calls", len(resp.ToolCalls))
		results := a.dispatcher.ExecuteBatch(ctx, resp.ToolCalls)

		if a.syncHook != nil {
			invoked := make(map[string]bool, len(resp.ToolCalls))
			for _, tc := range resp.ToolCalls {
				invoked[tc.Name] = true
			}
			a.syncHook(ctx, invoked)
		}

		for _, r := range results {
			a.history = append(a.history, provider.Message{
				Role:       provider.RoleTool,
				Content:    a.policy.truncateResult(r.Payload()),
				ToolCallID: r.ID,
				ToolName:   r.Name,
			})
		}
	}

	logging.Warn("turn budget exhausted", "max_turns", a.policy.maxTurns)
	a.history = append(a.history, provider.Message{Role: provider.RoleAssistant, Content: turnLimitNotice})
	onText(turnLimitNotice)
	return nil
}

// buildMessages prepends the current system prompt and trims the result to
// the input budget.
func (a *Agent) buildMessages(ctx context.Context) []provider.Message {
	msgs := make([]provider.Message, 0, len(a.history)+1)
	if a.prompts != nil {
		if system := a.prompts.SystemPrompt(ctx); system != "" {
			msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: system})
		}
	}
	msgs = append(msgs, a.history...)
	return a.policy.trimHistory(msgs)
}
