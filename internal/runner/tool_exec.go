package runner

import (
	"context"
	"errors"
	"time"

	"github.com/petasbytes/market-agent/internal/provider"
	"github.com/petasbytes/market-agent/internal/telemetry"
	"github.com/petasbytes/market-agent/tools"
)

// ToolErrorPrefix starts the result handed to the model when a tool fails.
const ToolErrorPrefix = "Tool error: "

// execTool runs one requested call. Failures become a "Tool error: ..."
// result for the model; the turn continues.
func (r *Runner) execTool(ctx context.Context, s *Session, call provider.ToolCall) ToolUse {
	turnID, _ := telemetry.TurnIDFromContext(ctx)
	use := ToolUse{Name: call.Name, Input: call.Arguments}

	// Helper to emit a tool_exec event. Only sizes and an error code are
	// recorded, never the payloads.
	emit := func(durationMs int64, outputSize int, code string) {
		fields := telemetry.Tag(ctx, map[string]any{
			"tool_name":   call.Name,
			"inline":      call.Inline,
			"duration_ms": durationMs,
			"input_size":  len(call.Arguments),
			"output_size": outputSize,
		})
		if code != "" {
			fields["error"] = code
		} else {
			fields["error"] = nil
		}
		telemetry.Emit("tool_exec", fields)
	}

	start := time.Now()
	out, err := r.tools.Invoke(ctx, call.Name, call.Arguments)
	use.Duration = time.Since(start)

	if def, ok := r.tools.Lookup(call.Name); ok {
		use.Name = def.Name
	}
	if err != nil {
		use.Failed = true
		use.Output = ToolErrorPrefix + err.Error()
		code := tools.CodeTool
		var te *tools.Error
		if errors.As(err, &te) {
			code = te.Code
		}
		emit(use.Duration.Milliseconds(), 0, code)
		r.log.Info("tool failed", "turn_id", turnID, "tool", use.Name, "code", code, "duration", use.Duration)
	} else {
		use.Output = out
		emit(use.Duration.Milliseconds(), len(out), "")
		r.log.Debug("tool finished", "turn_id", turnID, "tool", use.Name, "output_size", len(out), "duration", use.Duration)
	}
	if s.Tally != nil {
		s.Tally.ToolCall(use.Name, use.Failed)
	}
	return use
}
