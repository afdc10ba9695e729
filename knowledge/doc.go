// Package knowledge is the retrieval side of the agent: a small in-process
// vector index over text fragments, the embedders that feed it, and its
// on-disk format.
//
// Invariants:
//   - Search ranks by cosine similarity; equal scores keep insertion order.
//   - Search over an empty index returns an empty slice, never an error.
//   - The persisted file holds exactly one embedding per fragment.
package knowledge
