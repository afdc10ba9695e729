package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// ToolDefinition describes a tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
	// PrimaryArg receives free-text input that is not a JSON object.
	PrimaryArg string
}

// Tool is a callable tool. Run receives arguments that already passed the
// schema in Definition.
type Tool interface {
	Definition() ToolDefinition
	Run(ctx context.Context, input json.RawMessage) (string, error)
}

// GenerateSchema reflects T into a JSON Schema object.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	var v T
	b, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}
