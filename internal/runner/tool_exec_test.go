package runner_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/petasbytes/market-agent/internal/provider"
	"github.com/petasbytes/market-agent/internal/runner"
	"github.com/petasbytes/market-agent/internal/telemetry"
)

func observe(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AGT_ARTIFACTS_DIR", dir)
	t.Setenv("AGT_OBSERVE_JSON", "1")
	return dir
}

func readEvents(t *testing.T, dir string) []map[string]any {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	defer f.Close()
	var out []map[string]any
	s := bufio.NewScanner(f)
	for s.Scan() {
		var m map[string]any
		if err := json.Unmarshal(s.Bytes(), &m); err != nil {
			t.Fatalf("invalid JSON line: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func eventsNamed(events []map[string]any, name string) []map[string]any {
	var out []map[string]any
	for _, e := range events {
		if e["event"] == name {
			out = append(out, e)
		}
	}
	return out
}

func TestRunner_ToolExec_JSONL_Success(t *testing.T) {
	dir := observe(t)

	llm := &mockLLM{}
	llm.On("Complete", mock.Anything, mock.Anything).
		Return(provider.Response{ToolCall: calcCall("25% of 10000"), Attempts: 1}, nil).Once()
	llm.On("Complete", mock.Anything, mock.Anything).
		Return(provider.Response{Text: "2500", Attempts: 1}, nil).Once()

	ctx := telemetry.WithTurnID(context.Background(), "turn-fixed")
	reply, err := newRunner(t, llm, runner.Options{}).Chat(ctx, newSession(), "What is 25% of 10000?")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if reply.TurnID != "turn-fixed" {
		t.Fatalf("turn id from context not used: %s", reply.TurnID)
	}

	events := readEvents(t, dir)
	var names []string
	for _, e := range events {
		names = append(names, e["event"].(string))
	}
	want := []string{"turn_started", "window_prepared", "llm_call", "tool_exec", "llm_call", "turn_finished"}
	if len(names) != len(want) {
		t.Fatalf("events: want %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("events: want %v, got %v", want, names)
		}
	}

	exec := eventsNamed(events, "tool_exec")[0]
	if exec["tool_name"] != "calculator" {
		t.Errorf("tool_name: want calculator, got %v", exec["tool_name"])
	}
	if exec["turn_id"] != "turn-fixed" {
		t.Errorf("turn_id: got %v", exec["turn_id"])
	}
	if sid, _ := exec["session_id"].(string); sid == "" {
		t.Errorf("session_id should be set, got %v", exec["session_id"])
	}
	if v, ok := exec["duration_ms"].(float64); !ok || v < 0 {
		t.Errorf("duration_ms should be >= 0, got %v", exec["duration_ms"])
	}
	if v, ok := exec["input_size"].(float64); !ok || v <= 0 {
		t.Errorf("input_size should be > 0, got %v", exec["input_size"])
	}
	if v, ok := exec["output_size"].(float64); !ok || v != float64(len("Result: 2500")) {
		t.Errorf("output_size: got %v", exec["output_size"])
	}
	if e, ok := exec["error"]; !ok || e != nil {
		t.Errorf("error should be present and null on success, got %v", exec["error"])
	}

	fin := eventsNamed(events, "turn_finished")[0]
	if fin["outcome"] != "ok" || fin["rounds"] != float64(1) {
		t.Errorf("turn_finished: %#v", fin)
	}
}

func TestRunner_ToolExec_JSONL_Error(t *testing.T) {
	dir := observe(t)

	llm := &mockLLM{}
	llm.On("Complete", mock.Anything, mock.Anything).Return(provider.Response{
		ToolCall: &provider.ToolCall{ID: "c", Name: "calculator", Arguments: `{"expression":"import os"}`},
	}, nil).Once()
	llm.On("Complete", mock.Anything, mock.Anything).Return(provider.Response{Text: "Cannot do that."}, nil).Once()

	if _, err := newRunner(t, llm, runner.Options{}).Chat(context.Background(), newSession(), "run import os"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	exec := eventsNamed(readEvents(t, dir), "tool_exec")
	if len(exec) != 1 {
		t.Fatalf("want 1 tool_exec event, got %d", len(exec))
	}
	if exec[0]["error"] != "ERR_INVALID_EXPRESSION" {
		t.Errorf("error: want ERR_INVALID_EXPRESSION, got %v", exec[0]["error"])
	}
	if exec[0]["output_size"] != float64(0) {
		t.Errorf("output_size on error should be 0, got %v", exec[0]["output_size"])
	}
	raw, _ := json.Marshal(exec[0])
	if strings.Contains(string(raw), "import os") {
		t.Errorf("tool input leaked into telemetry: %s", raw)
	}
}

func TestRunner_TurnFinished_LLMUnavailable(t *testing.T) {
	dir := observe(t)

	llm := &mockLLM{}
	llm.On("Complete", mock.Anything, mock.Anything).
		Return(provider.Response{}, &provider.UnavailableError{Backend: "groq", Attempts: 3, Err: context.DeadlineExceeded}).Once()

	_, _ = newRunner(t, llm, runner.Options{}).Chat(context.Background(), newSession(), "hello")

	fin := eventsNamed(readEvents(t, dir), "turn_finished")
	if len(fin) != 1 || fin[0]["outcome"] != "llm_unavailable" {
		t.Fatalf("turn_finished: %#v", fin)
	}
}

func TestRunner_CalibrationMode_NoTools(t *testing.T) {
	dir := observe(t)
	t.Setenv("AGT_CALIBRATION_MODE", "1")
	t.Setenv("AGT_PERSIST_API_PAYLOADS", "1")

	llm := &mockLLM{}
	llm.On("Complete", mock.Anything, mock.Anything).
		Return(provider.Response{Text: "USE_TOOL: calculator\nINPUT: 1+1", ToolCall: calcCall("1+1")}, nil).Once()

	reply, err := newRunner(t, llm, runner.Options{}).Chat(context.Background(), newSession(), "1+1?")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if reply.Rounds != 0 {
		t.Fatalf("tools must not run in calibration mode, rounds=%d", reply.Rounds)
	}
	if req := llm.request(t, 0); req.Tools != nil {
		t.Fatalf("calibration request carried %d tools", len(req.Tools))
	}
	if len(eventsNamed(readEvents(t, dir), "local_features")) != 1 {
		t.Fatal("expected a local_features event")
	}
	for _, name := range []string{"01-request.json", "01-response.json"} {
		if _, err := os.Stat(filepath.Join(dir, "payloads", reply.TurnID, name)); err != nil {
			t.Errorf("payload %s not persisted: %v", name, err)
		}
	}
}
