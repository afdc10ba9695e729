// Package memory holds the bounded conversation history of a session.
//
// A Buffer keeps at most Max turns; appending beyond that evicts the oldest
// turn first. Turns are immutable once appended. The history can be saved
// to and loaded from a JSON transcript.
package memory
