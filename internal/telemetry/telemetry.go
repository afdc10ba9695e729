package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petasbytes/market-agent/internal/fsops"
)

// DefaultArtifactsDir holds events.jsonl and persisted payloads unless
// AGT_ARTIFACTS_DIR points elsewhere.
const DefaultArtifactsDir = ".agent"

var mu sync.Mutex

// ArtifactsDir returns the directory telemetry writes into.
func ArtifactsDir() string {
	if v := os.Getenv("AGT_ARTIFACTS_DIR"); v != "" {
		return v
	}
	return DefaultArtifactsDir
}

// NewTurnID returns a fresh identifier for one user turn.
func NewTurnID() string {
	return "turn-" + uuid.NewString()
}

// Emit appends a single JSON line to events.jsonl in ArtifactsDir when
// observation is enabled. The event name and an RFC3339Nano time are added
// to a copy of fields.
func Emit(name string, fields map[string]any) {
	if !ObserveEnabled() {
		return
	}

	m := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		m[k] = v
	}
	m["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	m["event"] = name

	b, err := json.Marshal(m)
	if err != nil {
		slog.Warn("telemetry: marshal", "event", name, "err", err)
		return
	}

	dir := ArtifactsDir()
	mu.Lock()
	defer mu.Unlock()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("telemetry: mkdir", "dir", dir, "err", err)
		return
	}

	path := filepath.Join(dir, "events.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Warn("telemetry: open", "path", path, "err", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(b, '\n')); err != nil {
		slog.Warn("telemetry: write", "path", path, "err", err)
	}
}

// PersistPayload writes v as indented JSON to
// <ArtifactsDir>/payloads/<turn>/<seq>-<kind>.json when payload persistence
// is enabled. It returns the written path, or "" when nothing was written.
func PersistPayload(turnID string, seq int, kind string, v any) string {
	if !PersistPayloadsEnabled() {
		return ""
	}
	if turnID == "" {
		turnID = "no-turn"
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		slog.Warn("telemetry: marshal payload", "kind", kind, "err", err)
		return ""
	}
	path := filepath.Join(ArtifactsDir(), "payloads", turnID, payloadName(seq, kind))
	if err := fsops.WriteFileAtomic(path, b, 0o644); err != nil {
		slog.Warn("telemetry: write payload", "path", path, "err", err)
		return ""
	}
	return path
}

func payloadName(seq int, kind string) string {
	return fmt.Sprintf("%02d-%s.json", seq, kind)
}
