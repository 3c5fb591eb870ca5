package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"loremaster/internal/engine"
)

// notesKey is where session notes live in the key-value store.
const notesKey = "session_notes"

// KV is the key-value storage the note tools persist into. Satisfied by
// the prompt layer store.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

type note struct {
	Topic string    `json:"topic"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

func loadNotes(store KV) []note {
	raw, ok := store.Get(notesKey)
	if !ok || raw == "" {
		return nil
	}
	var notes []note
	if err := json.Unmarshal([]byte(raw), &notes); err != nil {
		return nil
	}
	return notes
}

func saveNotes(store KV, notes []note) error {
	data, err := json.Marshal(notes)
	if err != nil {
		return err
	}
	return store.Set(notesKey, string(data))
}

// SaveNoteTool records a narrative note for later recall in the session.
type SaveNoteTool struct {
	store KV
}

// NewSaveNoteTool creates the save_note tool over the given store.
func NewSaveNoteTool(store KV) *SaveNoteTool {
	return &SaveNoteTool{store: store}
}

func (t *SaveNoteTool) Name() string {
	return "save_note"
}

func (t *SaveNoteTool) Description() string {
	return "Save a short note about the session (player decisions, NPC names, " +
		"plot threads) for later recall with recall_notes."
}

func (t *SaveNoteTool) Schema() *engine.JSONSchema {
	return &engine.JSONSchema{
		Type: "object",
		Properties: map[string]*engine.JSONSchema{
			"topic": {
				Type:        "string",
				Description: "Short topic label, e.g. 'npc' or 'quest'",
			},
			"text": {
				Type:        "string",
				Description: "The note text",
			},
		},
		Required: []string{"text"},
	}
}

func (t *SaveNoteTool) Validate(args map[string]any) error {
	text, ok := GetString(args, "text")
	if !ok || strings.TrimSpace(text) == "" {
		return NewValidationError("text", "is required")
	}
	return nil
}

func (t *SaveNoteTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	text, _ := GetString(args, "text")
	topic := GetStringDefault(args, "topic", "general")

	notes := loadNotes(t.store)
	notes = append(notes, note{Topic: topic, Text: text, At: time.Now().UTC()})

	if err := saveNotes(t.store, notes); err != nil {
		return NewErrorResult(fmt.Sprintf("failed to save note: %v", err)), nil
	}

	return NewSuccessResult(fmt.Sprintf("Noted under %q (%d notes total).", topic, len(notes))), nil
}

// RecallNotesTool retrieves previously saved session notes.
type RecallNotesTool struct {
	store KV
}

// NewRecallNotesTool creates the recall_notes tool over the given store.
func NewRecallNotesTool(store KV) *RecallNotesTool {
	return &RecallNotesTool{store: store}
}

func (t *RecallNotesTool) Name() string {
	return "recall_notes"
}

func (t *RecallNotesTool) Description() string {
	return "Recall saved session notes, optionally filtered by topic."
}

func (t *RecallNotesTool) Schema() *engine.JSONSchema {
	return &engine.JSONSchema{
		Type: "object",
		Properties: map[string]*engine.JSONSchema{
			"topic": {
				Type:        "string",
				Description: "Only return notes whose topic contains this text",
			},
		},
	}
}

func (t *RecallNotesTool) Validate(args map[string]any) error {
	return nil
}

func (t *RecallNotesTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	topic := GetStringDefault(args, "topic", "")

	notes := loadNotes(t.store)
	var lines []string
	for _, n := range notes {
		if topic != "" && !strings.Contains(strings.ToLower(n.Topic), strings.ToLower(topic)) {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s", n.Topic, n.Text))
	}

	if len(lines) == 0 {
		if topic != "" {
			return NewSuccessResult(fmt.Sprintf("No notes found for topic %q.", topic)), nil
		}
		return NewSuccessResult("No notes saved this session."), nil
	}

	return NewSuccessResult(strings.Join(lines, "\n")), nil
}
