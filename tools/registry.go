package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

type entry struct {
	tool   Tool
	def    ToolDefinition
	schema *jsonschema.Resolved
}

// Registry maps tool names to tools. It is built once at startup and only
// read afterwards.
type Registry struct {
	entries []entry
	byName  map[string]int
}

// NewRegistry registers ts in order.
func NewRegistry(ts ...Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]int)}
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Names must be unique after normalisation.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	key := normalizeName(def.Name)
	if key == "" {
		return fmt.Errorf("tools: empty tool name")
	}
	if _, dup := r.byName[key]; dup {
		return fmt.Errorf("tools: duplicate tool %q", def.Name)
	}
	resolved, err := resolveSchema(def.InputSchema)
	if err != nil {
		return fmt.Errorf("tools: schema for %q: %w", def.Name, err)
	}
	r.byName[key] = len(r.entries)
	r.entries = append(r.entries, entry{tool: t, def: def, schema: resolved})
	return nil
}

// List returns the definitions in registration order.
func (r *Registry) List() []ToolDefinition {
	out := make([]ToolDefinition, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.def
	}
	return out
}

// Lookup finds a tool by exact name, then by its case and
// underscore-insensitive form, so "WebScraper" finds "web_scraper".
func (r *Registry) Lookup(name string) (ToolDefinition, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return ToolDefinition{}, false
	}
	return e.def, true
}

func (r *Registry) lookup(name string) (entry, bool) {
	for _, e := range r.entries {
		if e.def.Name == name {
			return e, true
		}
	}
	i, ok := r.byName[normalizeName(name)]
	if !ok {
		return entry{}, false
	}
	return r.entries[i], true
}

// Invoke runs the named tool. args may be a JSON object, JSON in need of
// repair, or bare text for the tool's primary argument. Every failure is a
// *Error; unknown names and rejected arguments also match ErrUnknownTool and
// ErrInvalidArgs.
func (r *Registry) Invoke(ctx context.Context, name, args string) (string, error) {
	e, ok := r.lookup(name)
	if !ok {
		return "", &Error{Tool: name, Code: CodeUnknownTool, Message: fmt.Sprintf("no tool named %q", name), Err: ErrUnknownTool}
	}
	input, err := prepareArgs(e, args)
	if err != nil {
		return "", &Error{Tool: e.def.Name, Code: CodeInvalidArgs, Message: err.Error(), Err: fmt.Errorf("%w: %v", ErrInvalidArgs, err)}
	}
	out, err := e.tool.Run(ctx, input)
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			if te.Tool == "" {
				te.Tool = e.def.Name
			}
			return "", te
		}
		return "", &Error{Tool: e.def.Name, Code: CodeTool, Message: err.Error(), Err: err}
	}
	return out, nil
}

func prepareArgs(e entry, raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	var obj map[string]any
	switch {
	case raw == "":
		obj = map[string]any{}
	case strings.HasPrefix(raw, "{"):
		if err := unmarshalJSON([]byte(raw), &obj); err != nil {
			return nil, fmt.Errorf("arguments are not a JSON object: %v", err)
		}
	default:
		if e.def.PrimaryArg == "" {
			return nil, fmt.Errorf("arguments must be a JSON object")
		}
		obj = map[string]any{e.def.PrimaryArg: unquote(raw)}
	}
	if obj == nil {
		obj = map[string]any{}
	}
	if err := e.schema.Validate(obj); err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// unmarshalJSON decodes data, repairing it first when it is not valid JSON.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	var syn *json.SyntaxError
	if !errors.As(err, &syn) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(data))
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}

func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch r {
		case '_', '-', ' ':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func resolveSchema(m map[string]any) (*jsonschema.Resolved, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return s.Resolve(&jsonschema.ResolveOptions{})
}
