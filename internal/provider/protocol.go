package provider

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Text protocol markers. A model without structured tool calls asks for a
// tool by answering with
//
//	USE_TOOL: <name>
//	INPUT: <value>
const (
	UseToolMarker = "USE_TOOL:"
	InputMarker   = "INPUT:"
)

// ParseTextToolCall finds a USE_TOOL/INPUT request in text. Both lines must be
// present and non-empty; the last occurrence of each wins.
func ParseTextToolCall(text string) (ToolCall, bool) {
	if !strings.Contains(text, UseToolMarker) {
		return ToolCall{}, false
	}
	var name, input string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, UseToolMarker):
			name = strings.TrimSpace(strings.TrimPrefix(line, UseToolMarker))
		case strings.HasPrefix(line, InputMarker):
			input = strings.TrimSpace(strings.TrimPrefix(line, InputMarker))
		}
	}
	if name == "" || input == "" {
		return ToolCall{}, false
	}
	return ToolCall{Name: name, Arguments: input, Inline: true}, true
}

// StripMarkers removes protocol markers from a final answer.
func StripMarkers(text string) string {
	text = strings.ReplaceAll(text, UseToolMarker, "")
	text = strings.ReplaceAll(text, InputMarker, "")
	return strings.TrimSpace(text)
}

// parseResponse reduces a raw backend response to a text answer or one tool
// call. A structured call without a name, or with arguments that cannot be
// repaired into JSON, is dropped and the text is used instead.
func parseResponse(raw Response) Response {
	out := raw
	out.ToolCall = nil

	if tc := raw.ToolCall; tc != nil {
		name := strings.TrimSpace(tc.Name)
		if args, ok := repairArgs(tc.Arguments); name != "" && ok {
			out.ToolCall = &ToolCall{ID: tc.ID, Name: name, Arguments: args}
			return out
		}
	}
	if tc, ok := ParseTextToolCall(raw.Text); ok {
		out.ToolCall = &tc
	}
	return out
}

func repairArgs(args string) (string, bool) {
	args = strings.TrimSpace(args)
	if args == "" {
		return "{}", true
	}
	if json.Valid([]byte(args)) {
		return args, true
	}
	fixed, err := jsonrepair.JSONRepair(args)
	if err != nil || !json.Valid([]byte(fixed)) {
		return "", false
	}
	return fixed, true
}
