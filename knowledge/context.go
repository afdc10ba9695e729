package knowledge

import "context"

type indexKey struct{}

// WithIndex returns a child context carrying idx, so tools invoked within a
// session search that session's index.
func WithIndex(ctx context.Context, idx *Index) context.Context {
	return context.WithValue(ctx, indexKey{}, idx)
}

// IndexFromContext returns the index stored by WithIndex.
func IndexFromContext(ctx context.Context) (*Index, bool) {
	idx, ok := ctx.Value(indexKey{}).(*Index)
	return idx, ok && idx != nil
}
