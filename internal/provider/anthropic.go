package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/petasbytes/market-agent/tools"
)

const DefaultAnthropicModel = anthropic.ModelClaude3_7SonnetLatest
const APIVersion = "2023-06-01"

// defaultAnthropicMaxTokens is used when the request does not set MaxTokens;
// the Messages API requires a value.
const defaultAnthropicMaxTokens = 1024

// AnthropicOptions configures NewAnthropic.
type AnthropicOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Anthropic is a Backend for the Anthropic Messages API.
type Anthropic struct {
	client *anthropic.Client
	model  anthropic.Model
}

var _ Backend = (*Anthropic)(nil)

func NewAnthropic(opts AnthropicOptions) *Anthropic {
	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	model := anthropic.Model(opts.Model)
	if model == "" {
		model = DefaultAnthropicModel
	}
	c := anthropic.NewClient(clientOpts...)
	return &Anthropic{client: &c, model: model}
}

func (a *Anthropic) Name() string  { return "anthropic" }
func (a *Anthropic) Model() string { return string(a.model) }

func (a *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	system, msgs := anthropicMessages(req.Messages)
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages:  msgs,
		System:    system,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = anthropicTools(req.Tools)
		if req.DisableTools {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return Response{}, httpError(apiErr.StatusCode, apiErr.Response, err)
		}
		return Response{}, err
	}

	out := Response{
		FinishReason: string(msg.StopReason),
		Usage:        Usage{InputTokens: msg.Usage.InputTokens, OutputTokens: msg.Usage.OutputTokens},
	}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += v.Text
		case anthropic.ToolUseBlock:
			if out.ToolCall == nil {
				out.ToolCall = &ToolCall{ID: v.ID, Name: v.Name, Arguments: v.JSON.Input.Raw()}
			}
		}
	}
	return out, nil
}

func anthropicTools(defs []tools.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := anthropic.ToolInputSchemaParam{Properties: d.InputSchema["properties"]}
		if req, ok := d.InputSchema["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: schema,
		}})
	}
	return out
}

// anthropicMessages splits system messages out of msgs; the Messages API
// takes them as a separate field.
func anthropicMessages(msgs []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Text})
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		case RoleAssistant:
			if m.ToolCall == nil || m.ToolCall.Inline {
				out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
				continue
			}
			var blocks []anthropic.ContentBlockParamUnion
			if m.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			input := json.RawMessage(normalizeArgs(m.ToolCall.Arguments))
			blocks = append(blocks, anthropic.NewToolUseBlock(m.ToolCall.ID, input, m.ToolCall.Name))
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Text, m.IsError)))
		}
	}
	return system, out
}
