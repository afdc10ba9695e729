package windowing

import (
	"unicode/utf8"

	"github.com/petasbytes/market-agent/internal/provider"
)

// TokenCounter estimates input-token cost for messages or groups.
type TokenCounter interface {
	CountMessage(m provider.Message) int
	CountGroup(g Group, all []provider.Message) int
}

// HeuristicCounter is the current default deterministic estimator.
// Rules:
// - message text: rune count
// - structured tool call: rune count of name plus arguments, with its own overhead
// - a small per-block overhead for minimal formatting
type HeuristicCounter struct{}

// Fixed per-block overhead for deterministic counts; changing this requires updating the guard test.
const blockOverhead = 4

func (HeuristicCounter) CountMessage(m provider.Message) int {
	total := utf8.RuneCountInString(m.Text) + blockOverhead
	if tc := m.ToolCall; tc != nil && !tc.Inline {
		total += utf8.RuneCountInString(tc.Name) + utf8.RuneCountInString(tc.Arguments) + blockOverhead
	}
	return total
}

func (h HeuristicCounter) CountGroup(g Group, all []provider.Message) int {
	total := 0
	for i := g.Start; i < g.End && i < len(all); i++ {
		total += h.CountMessage(all[i])
	}
	return total
}
