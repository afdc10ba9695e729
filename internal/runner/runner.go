package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petasbytes/market-agent/internal/provider"
	"github.com/petasbytes/market-agent/internal/telemetry"
	"github.com/petasbytes/market-agent/internal/windowing"
	"github.com/petasbytes/market-agent/knowledge"
	"github.com/petasbytes/market-agent/memory"
	"github.com/petasbytes/market-agent/tools"
)

const (
	DefaultMaxToolRounds = 3
	DefaultContextK      = 2
	DefaultTokenBudget   = 4000
)

var ErrEmptyInput = errors.New("runner: empty input")

// LLM is the model client; *provider.Client satisfies it.
type LLM interface {
	Complete(ctx context.Context, req provider.Request) (provider.Response, error)
}

type State string

const (
	StateIdle          State = "idle"
	StateAwaitingLLM   State = "awaiting_llm"
	StateToolRequested State = "tool_requested"
	StateToolExecuting State = "tool_executing"
	StateResponding    State = "responding"
)

type Options struct {
	// SystemPrompt defaults to DefaultSystemPrompt over the registry's tools.
	SystemPrompt string

	MaxToolRounds int
	// ContextK fragments scoring above MinScore are added as context.
	ContextK int
	MinScore float64
	// TokenBudget bounds the history window, in heuristic tokens.
	TokenBudget int

	Temperature float64
	MaxTokens   int

	// RememberExchanges stores every finished exchange in the knowledge index.
	RememberExchanges bool

	Logger *slog.Logger
}

type Runner struct {
	llm   LLM
	tools *tools.Registry
	opts  Options
	log   *slog.Logger
}

func New(llm LLM, reg *tools.Registry, opts Options) *Runner {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = DefaultMaxToolRounds
	}
	if opts.ContextK <= 0 {
		opts.ContextK = DefaultContextK
	}
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = DefaultTokenBudget
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt(reg.List())
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Runner{llm: llm, tools: reg, opts: opts, log: log}
}

func (r *Runner) Tools() []tools.ToolDefinition { return r.tools.List() }

// ToolUse records one tool execution within a turn.
type ToolUse struct {
	Name     string
	Input    string
	Output   string
	Failed   bool
	Duration time.Duration
}

// Reply is the outcome of one turn.
type Reply struct {
	TurnID string
	Text   string
	Tools  []ToolUse
	Rounds int
	// Forced is set when the tool cap was reached and tools were disabled
	// for the final request.
	Forced   bool
	States   []State
	Context  []knowledge.Result
	Usage    provider.Usage
	Warnings []string
}

func (rp *Reply) enter(s State) { rp.States = append(rp.States, s) }

func (rp *Reply) warn(format string, args ...any) {
	rp.Warnings = append(rp.Warnings, fmt.Sprintf(format, args...))
}

// Chat answers input within session s. On error the history is left as it
// was; model outages match provider.ErrLLMUnavailable.
func (r *Runner) Chat(ctx context.Context, s *Session, input string) (Reply, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Reply{}, ErrEmptyInput
	}

	turnID, ok := telemetry.TurnIDFromContext(ctx)
	if !ok {
		turnID = telemetry.NewTurnID()
	}
	ctx = telemetry.WithTurnID(telemetry.WithSessionID(ctx, s.ID), turnID)
	if s.Knowledge != nil {
		ctx = knowledge.WithIndex(ctx, s.Knowledge)
	}

	start := time.Now()
	reply := Reply{TurnID: turnID}
	reply.enter(StateIdle)
	telemetry.Emit("turn_started", telemetry.Tag(ctx, map[string]any{
		"input_size": len(input),
	}))
	telemetry.EmitLocalFeatures(ctx, input)

	msgs, err := r.buildMessages(ctx, s, input, &reply)
	if err == nil {
		err = r.loop(ctx, s, msgs, &reply)
	}
	reply.enter(StateIdle)

	outcome := "ok"
	switch {
	case errors.Is(err, provider.ErrLLMUnavailable):
		outcome = "llm_unavailable"
	case err != nil:
		outcome = "error"
	}
	telemetry.Emit("turn_finished", map[string]any{
		"turn_id":       turnID,
		"outcome":       outcome,
		"rounds":        reply.Rounds,
		"forced":        reply.Forced,
		"output_size":   len(reply.Text),
		"input_tokens":  reply.Usage.InputTokens,
		"output_tokens": reply.Usage.OutputTokens,
		"duration_ms":   time.Since(start).Milliseconds(),
	})
	if s.Tally != nil {
		s.Tally.Turn(err != nil, reply.Forced)
	}
	if err != nil {
		r.log.Warn("turn failed", "turn_id", turnID, "rounds", reply.Rounds, "err", err)
		return reply, err
	}

	r.remember(ctx, s, input, &reply)
	r.log.Debug("turn finished",
		"turn_id", turnID,
		"rounds", reply.Rounds,
		"forced", reply.Forced,
		"duration", time.Since(start))
	return reply, nil
}

// buildMessages assembles system prompt, retrieved context, and the
// budgeted history window ending with the user input.
func (r *Runner) buildMessages(ctx context.Context, s *Session, input string, reply *Reply) ([]provider.Message, error) {
	msgs := []provider.Message{provider.System(r.opts.SystemPrompt)}

	if s.Knowledge != nil && s.Knowledge.Len() > 0 {
		results, err := s.Knowledge.Search(ctx, input, r.opts.ContextK)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Warn("knowledge retrieval failed", "turn_id", reply.TurnID, "err", err)
			reply.warn("knowledge retrieval failed: %v", err)
		}
		for _, res := range results {
			if res.Score > r.opts.MinScore {
				reply.Context = append(reply.Context, res)
			}
		}
		if len(reply.Context) > 0 {
			msgs = append(msgs, provider.System(knowledge.FormatContext(reply.Context)))
		}
	}

	convo := append(historyMessages(s.History.Turns()), provider.User(input))
	window, stats := windowing.PrepareSendWindow(convo, r.opts.TokenBudget, windowing.HeuristicCounter{})
	telemetry.Emit("window_prepared", map[string]any{
		"turn_id":            reply.TurnID,
		"model":              r.modelName(),
		"budget":             stats.Budget,
		"total_estimated":    stats.Total,
		"included_groups":    stats.IncludedGroups,
		"skipped_groups":     stats.SkippedGroups,
		"dropped_messages":   stats.DroppedMessages,
		"over_budget_newest": stats.OverBudgetNewest,
		"context_fragments":  len(reply.Context),
	})
	if stats.OverBudgetNewest {
		// The input alone is over budget; send it without history.
		reply.warn("input exceeds the context budget of %d tokens; history was left out", r.opts.TokenBudget)
		window = convo[len(convo)-1:]
	}
	return append(msgs, window...), nil
}

func (r *Runner) loop(ctx context.Context, s *Session, msgs []provider.Message, reply *Reply) error {
	defs := r.tools.List()
	calibrating := telemetry.CalibrationModeEnabled()
	for seq := 1; ; seq++ {
		forced := reply.Rounds >= r.opts.MaxToolRounds
		req := provider.Request{
			Messages:     msgs,
			Tools:        defs,
			DisableTools: forced,
			Temperature:  r.opts.Temperature,
			MaxTokens:    r.opts.MaxTokens,
		}
		if calibrating {
			req.Tools = nil
		}

		reply.enter(StateAwaitingLLM)
		resp, err := r.complete(ctx, s, seq, req, reply)
		if err != nil {
			return err
		}

		if resp.ToolCall == nil || forced || calibrating {
			reply.Forced = forced
			reply.enter(StateResponding)
			reply.Text = provider.StripMarkers(resp.Text)
			switch {
			case reply.Text != "":
			case forced:
				reply.Text = FallbackAnswer
			default:
				reply.Text = EmptyAnswer
			}
			return nil
		}

		call := *resp.ToolCall
		if call.ID == "" && !call.Inline {
			call.ID = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		}
		reply.enter(StateToolRequested)
		reply.Rounds++
		s.tracef("Using %s with input: %s", call.Name, call.Arguments)

		reply.enter(StateToolExecuting)
		use := r.execTool(ctx, s, call)
		reply.Tools = append(reply.Tools, use)
		s.tracef("Tool result: %s", preview(use.Output, 200))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgs = append(msgs, replay(call, resp.Text, use)...)
	}
}

func (r *Runner) complete(ctx context.Context, s *Session, seq int, req provider.Request, reply *Reply) (provider.Response, error) {
	telemetry.PersistPayload(reply.TurnID, seq, "request", req)
	start := time.Now()
	resp, err := r.llm.Complete(ctx, req)
	if err != nil {
		telemetry.Emit("llm_call", map[string]any{
			"turn_id":     reply.TurnID,
			"seq":         seq,
			"duration_ms": time.Since(start).Milliseconds(),
			"error":       "llm unavailable",
		})
		return provider.Response{}, fmt.Errorf("model request %d: %w", seq, err)
	}
	telemetry.PersistPayload(reply.TurnID, seq, "response", resp)
	telemetry.Emit("llm_call", map[string]any{
		"turn_id":       reply.TurnID,
		"seq":           seq,
		"attempts":      resp.Attempts,
		"tool_call":     resp.ToolCall != nil,
		"tools_enabled": len(req.Tools) > 0 && !req.DisableTools,
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
		"duration_ms":   time.Since(start).Milliseconds(),
		"error":         nil,
	})
	reply.Usage.InputTokens += resp.Usage.InputTokens
	reply.Usage.OutputTokens += resp.Usage.OutputTokens
	if s.Tally != nil {
		s.Tally.LLMCall(resp.Attempts, resp.Usage.InputTokens, resp.Usage.OutputTokens, time.Since(start))
	}
	return resp, nil
}

// remember appends the exchange to history and, when enabled, to the
// knowledge index. Failures here only produce warnings.
func (r *Runner) remember(ctx context.Context, s *Session, input string, reply *Reply) {
	s.History.Append(
		memory.Turn{Role: memory.RoleUser, Text: input},
		memory.Turn{Role: memory.RoleAssistant, Text: reply.Text},
	)
	if err := s.saveHistory(); err != nil {
		r.log.Warn("saving conversation failed", "path", s.HistoryPath, "err", err)
		reply.warn("saving conversation failed: %v", err)
	}

	if !r.opts.RememberExchanges || s.Knowledge == nil {
		return
	}
	if err := s.remember(ctx, exchangeText(input, reply.Text)); err != nil {
		r.log.Warn("storing exchange failed", "turn_id", reply.TurnID, "err", err)
		reply.warn("storing exchange in knowledge base failed: %v", err)
	}
}

func (r *Runner) modelName() string {
	if c, ok := r.llm.(interface{ Backend() provider.Backend }); ok {
		return c.Backend().Model()
	}
	return ""
}

// replay returns the messages that report a tool run back to the model.
func replay(call provider.ToolCall, text string, use ToolUse) []provider.Message {
	if call.Inline {
		return []provider.Message{
			provider.Assistant(inlineResult(call.Name, use.Output)),
			provider.User(FinalAnswerPrompt),
		}
	}
	return []provider.Message{
		{Role: provider.RoleAssistant, Text: text, ToolCall: &call},
		provider.ToolResult(call, use.Output, use.Failed),
	}
}

func historyMessages(turns []memory.Turn) []provider.Message {
	out := make([]provider.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case memory.RoleUser:
			out = append(out, provider.User(t.Text))
		case memory.RoleAssistant:
			out = append(out, provider.Assistant(t.Text))
		case memory.RoleTool:
			out = append(out, provider.Assistant(inlineResult(t.Tool, t.Text)))
		}
	}
	return out
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
