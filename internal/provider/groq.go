package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/petasbytes/market-agent/tools"
)

const (
	GroqBaseURL      = "https://api.groq.com/openai/v1/"
	DefaultGroqModel = "llama-3.3-70b-versatile"
)

// OpenAIOptions configures an OpenAI-compatible backend.
type OpenAIOptions struct {
	Name       string
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// OpenAI is a Backend for OpenAI-compatible chat completion APIs.
type OpenAI struct {
	client *openai.Client
	name   string
	model  string
}

var _ Backend = (*OpenAI)(nil)

// NewGroq returns a Backend for Groq's OpenAI-compatible endpoint.
func NewGroq(apiKey, model string, hc *http.Client) *OpenAI {
	if model == "" {
		model = DefaultGroqModel
	}
	return NewOpenAI(OpenAIOptions{Name: "groq", APIKey: apiKey, BaseURL: GroqBaseURL, Model: model, HTTPClient: hc})
}

func NewOpenAI(opts OpenAIOptions) *OpenAI {
	if opts.Name == "" {
		opts.Name = "openai"
	}
	clientOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	c := openai.NewClient(clientOpts...)
	return &OpenAI{client: &c, name: opts.Name, model: opts.Model}
}

func (o *OpenAI) Name() string  { return o.name }
func (o *OpenAI) Model() string { return o.model }

func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: openaiMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = openaiTools(req.Tools)
		if req.DisableTools {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt("none")}
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Response{}, httpError(apiErr.StatusCode, apiErr.Response, err)
		}
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("response has no choices")
	}

	choice := resp.Choices[0]
	out := Response{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}
	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		out.ToolCall = &ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
	}
	return out, nil
}

func openaiTools(defs []tools.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: param.NewOpt(d.Description),
				Parameters:  openai.FunctionParameters(d.InputSchema),
			},
		})
	}
	return out
}

func openaiMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Text))
		case RoleAssistant:
			if m.ToolCall == nil || m.ToolCall.Inline {
				out = append(out, openai.AssistantMessage(m.Text))
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
					ID: m.ToolCall.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      m.ToolCall.Name,
						Arguments: normalizeArgs(m.ToolCall.Arguments),
					},
				}},
			}
			if m.Text != "" {
				asst.Content.OfString = param.NewOpt(m.Text)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Text, m.ToolCallID))
		}
	}
	return out
}

// normalizeArgs returns args as a JSON object string, for replaying a call
// whose arguments were free text.
func normalizeArgs(args string) string {
	if json.Valid([]byte(args)) {
		return args
	}
	b, _ := json.Marshal(map[string]string{"input": args})
	return string(b)
}
