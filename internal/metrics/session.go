package metrics

import (
	"maps"
	"sync"
	"time"
)

// Tally accumulates per-session counters shown by /stats.
type Tally struct {
	mu sync.Mutex
	s  Snapshot
}

// Snapshot is a point-in-time copy of a Tally.
type Snapshot struct {
	Turns        int
	FailedTurns  int
	ForcedFinals int
	ToolCalls    map[string]int
	ToolErrors   int
	LLMCalls     int
	LLMAttempts  int
	InputTokens  int64
	OutputTokens int64
	LLMTime      time.Duration
}

// NewTally returns an empty Tally.
func NewTally() *Tally {
	return &Tally{s: Snapshot{ToolCalls: map[string]int{}}}
}

// LLMCall records one completed (possibly retried) model call.
func (t *Tally) LLMCall(attempts int, in, out int64, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.LLMCalls++
	t.s.LLMAttempts += attempts
	t.s.InputTokens += in
	t.s.OutputTokens += out
	t.s.LLMTime += d
}

// ToolCall records one tool invocation.
func (t *Tally) ToolCall(name string, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.ToolCalls[name]++
	if failed {
		t.s.ToolErrors++
	}
}

// Turn records the outcome of one user turn.
func (t *Tally) Turn(failed, forced bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Turns++
	if failed {
		t.s.FailedTurns++
	}
	if forced {
		t.s.ForcedFinals++
	}
}

// Snapshot returns a copy of the counters.
func (t *Tally) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.s
	out.ToolCalls = maps.Clone(t.s.ToolCalls)
	return out
}

// Reset zeroes every counter.
func (t *Tally) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s = Snapshot{ToolCalls: map[string]int{}}
}
