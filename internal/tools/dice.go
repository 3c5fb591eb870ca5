package tools

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"loremaster/internal/engine"
)

// diceExprRe matches dice expressions like "d20", "2d6", "4d8+3", "1d20-1".
var diceExprRe = regexp.MustCompile(`^(\d*)[dD](\d+)([+-]\d+)?$`)

const (
	maxDiceCount = 100
	maxDieSides  = 1000
)

// DiceTool rolls dice expressions locally so the outcome never depends on
// the model inventing numbers.
type DiceTool struct {
	rng *rand.Rand
	mu  sync.Mutex
}

// NewDiceTool creates a dice roller with the given source of randomness.
// Pass nil to use a time-seeded source.
func NewDiceTool(rng *rand.Rand) *DiceTool {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &DiceTool{rng: rng}
}

func (t *DiceTool) Name() string {
	return "roll_dice"
}

func (t *DiceTool) Description() string {
	return "Roll dice using standard notation (e.g. '1d20+5', '2d6'). " +
		"Supports advantage and disadvantage, which roll the expression twice " +
		"and keep the higher or lower total."
}

func (t *DiceTool) Schema() *engine.JSONSchema {
	return &engine.JSONSchema{
		Type: "object",
		Properties: map[string]*engine.JSONSchema{
			"expression": {
				Type:        "string",
				Description: "Dice expression in NdM+K notation, e.g. '1d20+5'",
			},
			"mode": {
				Type:        "string",
				Description: "Roll mode",
				Enum:        []string{"normal", "advantage", "disadvantage"},
			},
		},
		Required: []string{"expression"},
	}
}

func (t *DiceTool) Validate(args map[string]any) error {
	expr, ok := GetString(args, "expression")
	if !ok || strings.TrimSpace(expr) == "" {
		return NewValidationError("expression", "is required")
	}
	if _, _, _, err := parseDiceExpr(expr); err != nil {
		return NewValidationError("expression", err.Error())
	}
	mode := GetStringDefault(args, "mode", "normal")
	switch mode {
	case "normal", "advantage", "disadvantage":
	default:
		return NewValidationError("mode", "must be normal, advantage, or disadvantage")
	}
	return nil
}

func (t *DiceTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	expr, _ := GetString(args, "expression")
	count, sides, modifier, err := parseDiceExpr(expr)
	if err != nil {
		return NewErrorResult(err.Error()), nil
	}
	mode := GetStringDefault(args, "mode", "normal")

	first := t.roll(count, sides, modifier)
	result := first
	detail := formatRoll(expr, first)

	if mode == "advantage" || mode == "disadvantage" {
		second := t.roll(count, sides, modifier)
		keepFirst := first.total >= second.total
		if mode == "disadvantage" {
			keepFirst = !keepFirst
		}
		if !keepFirst {
			result = second
		}
		detail = fmt.Sprintf("%s with %s: %s vs %s, kept %d",
			expr, mode, formatRoll(expr, first), formatRoll(expr, second), result.total)
	}

	return NewSuccessResultWithData(detail, map[string]any{
		"expression": expr,
		"mode":       mode,
		"rolls":      result.rolls,
		"modifier":   modifier,
		"total":      result.total,
	}), nil
}

type rollOutcome struct {
	rolls []int
	total int
}

func (t *DiceTool) roll(count, sides, modifier int) rollOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := rollOutcome{rolls: make([]int, count)}
	for i := 0; i < count; i++ {
		out.rolls[i] = t.rng.Intn(sides) + 1
		out.total += out.rolls[i]
	}
	out.total += modifier
	return out
}

func formatRoll(expr string, out rollOutcome) string {
	parts := make([]string, len(out.rolls))
	for i, r := range out.rolls {
		parts[i] = strconv.Itoa(r)
	}
	return fmt.Sprintf("%s -> [%s] = %d", expr, strings.Join(parts, " "), out.total)
}

// parseDiceExpr parses NdM+K notation into its parts.
func parseDiceExpr(expr string) (count, sides, modifier int, err error) {
	m := diceExprRe.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return 0, 0, 0, fmt.Errorf("invalid dice expression %q, expected NdM+K like '2d6+3'", expr)
	}

	count = 1
	if m[1] != "" {
		count, err = strconv.Atoi(m[1])
		if err != nil || count < 1 {
			return 0, 0, 0, fmt.Errorf("invalid dice count %q", m[1])
		}
	}
	if count > maxDiceCount {
		return 0, 0, 0, fmt.Errorf("too many dice: %d (max %d)", count, maxDiceCount)
	}

	sides, err = strconv.Atoi(m[2])
	if err != nil || sides < 2 {
		return 0, 0, 0, fmt.Errorf("invalid die sides %q", m[2])
	}
	if sides > maxDieSides {
		return 0, 0, 0, fmt.Errorf("too many sides: %d (max %d)", sides, maxDieSides)
	}

	if m[3] != "" {
		modifier, err = strconv.Atoi(m[3])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid modifier %q", m[3])
		}
	}

	return count, sides, modifier, nil
}
