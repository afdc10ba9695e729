package windowing

import (
	"log/slog"

	"github.com/petasbytes/market-agent/internal/provider"
)

// GroupKind denotes the atomic unit type when preparing a send window.
type GroupKind int

const (
	GroupSingleton GroupKind = iota
	// GroupPair is an assistant tool call and the tool result answering it.
	GroupPair
	// GroupExchange is a user message and every assistant or tool message
	// that follows it up to the next user message.
	GroupExchange
)

func (k GroupKind) String() string {
	switch k {
	case GroupPair:
		return "pair"
	case GroupExchange:
		return "exchange"
	default:
		return "singleton"
	}
}

// Group describes a contiguous span of messages [Start, End) in the original slice.
type Group struct {
	Kind  GroupKind
	Start int // inclusive index into msgs
	End   int // exclusive index into msgs
}

// GroupBlocks groups messages into atomic units that are never split by the window.
// Invariants:
// - An exchange starts at a user message and runs until the next user or system message.
// - Outside an exchange, an assistant structured tool call followed immediately by the
// tool result carrying its id forms a pair.
// - Everything else is a singleton.
func GroupBlocks(msgs []provider.Message) []Group {
	groups := make([]Group, 0, len(msgs))
	for i := 0; i < len(msgs); {
		m := msgs[i]
		if m.Role == provider.RoleUser {
			j := i + 1
			for j < len(msgs) && msgs[j].Role != provider.RoleUser && msgs[j].Role != provider.RoleSystem {
				j++
			}
			if id, ok := unansweredCall(msgs[i+1 : j]); ok {
				logger().Debug("window exchange has unanswered tool call", "idx", i, "tool_call_id", id)
			}
			groups = append(groups, Group{Kind: GroupExchange, Start: i, End: j})
			i = j
			continue
		}
		if isStructuredCall(m) {
			if i+1 < len(msgs) && answers(msgs[i+1], m.ToolCall.ID) {
				groups = append(groups, Group{Kind: GroupPair, Start: i, End: i + 2})
				i += 2
				continue
			}
			logger().Debug("window exclude pair", "reason", "not_followed_by_result", "idx", i)
		}
		groups = append(groups, Group{Kind: GroupSingleton, Start: i, End: i + 1})
		i++
	}
	return groups
}

// Helpers

func isStructuredCall(m provider.Message) bool {
	return m.Role == provider.RoleAssistant && m.ToolCall != nil && !m.ToolCall.Inline
}

func answers(m provider.Message, id string) bool {
	return m.Role == provider.RoleTool && m.ToolCallID == id
}

// unansweredCall returns the id of the first structured call in span that is
// not immediately followed by its result.
func unansweredCall(span []provider.Message) (string, bool) {
	for i, m := range span {
		if !isStructuredCall(m) {
			continue
		}
		if i+1 >= len(span) || !answers(span[i+1], m.ToolCall.ID) {
			return m.ToolCall.ID, true
		}
	}
	return "", false
}

// Logger receives grouping diagnostics at debug level. Nil uses slog.Default.
var Logger *slog.Logger

func logger() *slog.Logger {
	if Logger != nil {
		return Logger
	}
	return slog.Default()
}
