package provider

import (
	"context"

	"github.com/petasbytes/market-agent/tools"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a vendor-neutral chat message.
type Message struct {
	Role Role
	Text string

	// ToolCall is set on assistant messages that requested a structured tool call.
	ToolCall *ToolCall

	// ToolCallID and IsError are set on RoleTool messages.
	ToolCallID string
	ToolName   string
	IsError    bool
}

func System(text string) Message    { return Message{Role: RoleSystem, Text: text} }
func User(text string) Message      { return Message{Role: RoleUser, Text: text} }
func Assistant(text string) Message { return Message{Role: RoleAssistant, Text: text} }

// ToolResult answers the structured call c.
func ToolResult(c ToolCall, text string, isError bool) Message {
	return Message{Role: RoleTool, Text: text, ToolCallID: c.ID, ToolName: c.Name, IsError: isError}
}

// ToolCall is a request from the model to run one tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string

	// Inline marks calls made through the USE_TOOL text protocol rather than
	// the vendor's structured tool-call field.
	Inline bool
}

// Request is one completion request.
type Request struct {
	Messages []Message
	Tools    []tools.ToolDefinition

	// DisableTools forbids tool calls for this request.
	DisableTools bool

	Temperature float64
	MaxTokens   int
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is a parsed completion. Exactly one of Text or ToolCall is
// meaningful: a ToolCall means the model asked for a tool.
type Response struct {
	Text         string
	ToolCall     *ToolCall
	FinishReason string
	Usage        Usage

	// Attempts is the number of backend calls made to obtain the response.
	Attempts int
}

// Backend sends a single request to a vendor API without retrying. The
// returned Response carries the raw text and the first structured tool call,
// if any. API status failures are returned as *HTTPError.
type Backend interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req Request) (Response, error)
}
