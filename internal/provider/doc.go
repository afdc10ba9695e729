// Package provider talks to hosted chat-completion models.
//
// A Backend performs exactly one request against one vendor API (Groq via
// its OpenAI-compatible endpoint, or Anthropic). Client wraps a Backend with
// the retry policy, rate limiting and response parsing shared by all
// vendors: at most MaxAttempts attempts, jittered exponential backoff on
// transient failures, and ErrLLMUnavailable once attempts are exhausted.
//
// Responses are reduced to either a final text answer or a single tool
// call. Structured tool calls win; otherwise the USE_TOOL/INPUT text
// protocol is recognised; anything else is plain text.
package provider
