package tools

import (
	"encoding/json"
	"errors"
)

var (
	ErrUnknownTool = errors.New("unknown tool")
	ErrInvalidArgs = errors.New("invalid tool arguments")
)

// Error codes reported to the model.
const (
	CodeUnknownTool       = "ERR_UNKNOWN_TOOL"
	CodeInvalidArgs       = "ERR_INVALID_ARGS"
	CodeInvalidExpression = "ERR_INVALID_EXPRESSION"
	CodeDivisionByZero    = "ERR_DIVISION_BY_ZERO"
	CodeFetch             = "ERR_FETCH"
	CodeKnowledge         = "ERR_KNOWLEDGE"
	CodeTool              = "ERR_TOOL"
)

// Error is a tool-level failure. It renders as compact JSON so it can be
// handed back to the model verbatim.
type Error struct {
	Tool    string `json:"tool,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	b, _ := json.Marshal(e)
	return string(b)
}

func (e *Error) Unwrap() error { return e.Err }
