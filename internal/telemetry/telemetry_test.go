package telemetry_test

import (
	"encoding/json"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/petasbytes/market-agent/internal/telemetry"
)

// artifacts points telemetry at a fresh directory with observation on.
func artifacts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AGT_ARTIFACTS_DIR", dir)
	t.Setenv("AGT_OBSERVE_JSON", "1")
	return dir
}

func readEvents(t *testing.T, dir string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "events.jsonl"))
	if err != nil {
		t.Fatalf("read events.jsonl: %v", err)
	}
	var out []map[string]any
	for i, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("line %d invalid JSON: %v", i+1, err)
		}
		out = append(out, m)
	}
	return out
}

func TestEmit_Gating(t *testing.T) {
	// Startup-evaluated config needs a subprocess with AGT_OBSERVE_JSON=0.
	dir := t.TempDir()
	cmd := exec.Command(os.Args[0], "-test.run=TestEmitGatingProbe")
	cmd.Env = append(os.Environ(),
		"GO_WANT_HELPER_PROCESS=1",
		"AGT_OBSERVE_JSON=0",
		"AGT_CALIBRATION_MODE=",
		"AGT_PERSIST_API_PAYLOADS=",
		"AGT_ARTIFACTS_DIR="+dir,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("subprocess error: %v\n%s", err, out)
	}
	if !strings.Contains(string(out), "no_file=true") {
		t.Fatalf("expected no_file=true, got output:\n%s", out)
	}
}

func TestEmitGatingProbe(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	telemetry.Emit("test_event", map[string]any{"foo": "bar"})
	if _, err := os.Stat(filepath.Join(telemetry.ArtifactsDir(), "events.jsonl")); os.IsNotExist(err) {
		println("no_file=true")
	} else {
		println("no_file=false")
	}
}

func TestEmit_HappyPath(t *testing.T) {
	dir := artifacts(t)

	telemetry.Emit("tool_exec", map[string]any{"tool_name": "calculator", "input_size": 42})

	events := readEvents(t, dir)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev["event"] != "tool_exec" {
		t.Errorf("event: got %v", ev["event"])
	}
	if ev["tool_name"] != "calculator" {
		t.Errorf("tool_name: got %v", ev["tool_name"])
	}
	if ev["input_size"] != float64(42) {
		t.Errorf("input_size: got %v", ev["input_size"])
	}
	ts, ok := ev["time"].(string)
	if !ok {
		t.Fatal("expected time field as string")
	}
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Errorf("time not RFC3339Nano: %v", err)
	}
}

func TestEmit_AppendsInOrder(t *testing.T) {
	dir := artifacts(t)

	telemetry.Emit("turn_started", map[string]any{"n": 1})
	telemetry.Emit("window_prepared", map[string]any{"n": 2})
	telemetry.Emit("turn_finished", map[string]any{"n": 3})

	events := readEvents(t, dir)
	want := []string{"turn_started", "window_prepared", "turn_finished"}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev["event"] != want[i] {
			t.Errorf("line %d: want %s, got %v", i+1, want[i], ev["event"])
		}
	}
}

func TestEmit_DoesNotMutateFields(t *testing.T) {
	artifacts(t)
	fields := map[string]any{"key": "value"}
	telemetry.Emit("test", fields)

	if len(fields) != 1 || fields["key"] != "value" {
		t.Fatalf("fields mutated: %#v", fields)
	}
}

func TestEmit_NilFields(t *testing.T) {
	dir := artifacts(t)
	telemetry.Emit("nil_fields", nil)

	events := readEvents(t, dir)
	if len(events) != 1 || len(events[0]) != 2 {
		t.Fatalf("expected a single event with event+time, got %#v", events)
	}
}

func TestEmit_MarshalErrorWritesNothing(t *testing.T) {
	dir := artifacts(t)
	telemetry.Emit("bad", map[string]any{"x": math.NaN()})

	if _, err := os.Stat(filepath.Join(dir, "events.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("expected no events file on marshal error, got err=%v", err)
	}
}

func TestEmit_ReadOnlyFileDoesNotPanic(t *testing.T) {
	dir := artifacts(t)
	path := filepath.Join(dir, "events.jsonl")
	if err := os.WriteFile(path, nil, 0o444); err != nil {
		t.Fatal(err)
	}
	if os.Geteuid() == 0 {
		t.Skip("root ignores file permissions")
	}

	telemetry.Emit("x", map[string]any{"a": 1})

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != 0 {
		t.Fatalf("expected read-only file to stay empty, got %d bytes", fi.Size())
	}
}

func TestArtifactsDir_Default(t *testing.T) {
	t.Setenv("AGT_ARTIFACTS_DIR", "")
	if got := telemetry.ArtifactsDir(); got != telemetry.DefaultArtifactsDir {
		t.Fatalf("want %s, got %s", telemetry.DefaultArtifactsDir, got)
	}
}

func TestNewTurnID_Unique(t *testing.T) {
	a, b := telemetry.NewTurnID(), telemetry.NewTurnID()
	if a == b {
		t.Fatalf("turn IDs collide: %s", a)
	}
	if !strings.HasPrefix(a, "turn-") {
		t.Fatalf("unexpected turn ID %q", a)
	}
}

func TestPersistPayload(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AGT_ARTIFACTS_DIR", dir)
	t.Setenv("AGT_PERSIST_API_PAYLOADS", "1")

	path := telemetry.PersistPayload("turn-1", 2, "request", map[string]any{"model": "llama"})
	if want := filepath.Join(dir, "payloads", "turn-1", "02-request.json"); path != want {
		t.Fatalf("path: want %s, got %s", want, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m["model"] != "llama" {
		t.Fatalf("unexpected payload %s (%v)", data, err)
	}
}
