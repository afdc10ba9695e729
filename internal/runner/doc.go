// Package runner is the orchestrator: it answers one user turn by consulting
// the knowledge index and the conversation history, asking the model, and
// running at most one tool per model round.
//
// States:
//
//	Idle -> AwaitingLLM -> (ToolRequested -> ToolExecuting -> AwaitingLLM)* -> Responding -> Idle
//
// After MaxToolRounds tool executions the next request forbids tools, so a
// turn always ends with a text answer or an error.
//
// Invariant:
//   - a structured tool call and its result are replayed adjacently, so the
//     backend always sees a call answered by the very next message.
package runner
