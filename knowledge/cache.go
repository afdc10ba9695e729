package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/petasbytes/market-agent/internal/kv"
)

// CachedEmbedder memoises another Embedder in a kv.Store, keyed by model,
// dimension and the SHA-256 of the text. Re-embedding the same fragment on
// index reloads or repeated queries then costs no API call.
type CachedEmbedder struct {
	inner Embedder
	store kv.Store
	log   *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Embedder = (*CachedEmbedder)(nil)

func NewCachedEmbedder(inner Embedder, store kv.Store, log *slog.Logger) *CachedEmbedder {
	if log == nil {
		log = slog.Default()
	}
	return &CachedEmbedder{inner: inner, store: store, log: log}
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

func (c *CachedEmbedder) Model() string { return c.inner.Model() }

// Stats reports cache hits and misses since creation.
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CachedEmbedder) namespace() kv.Key {
	model := strings.ReplaceAll(c.inner.Model(), ":", "_")
	return kv.Key{"embed", model + "@" + strconv.Itoa(c.inner.Dimension())}
}

func (c *CachedEmbedder) key(text string) kv.Key {
	sum := sha256.Sum256([]byte(text))
	return append(c.namespace(), hex.EncodeToString(sum[:]))
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := c.lookup(ctx, t); ok {
			out[i] = v
			c.hits.Add(1)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	c.misses.Add(int64(len(missTexts)))

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.store1(ctx, missTexts[j], vecs[j])
	}
	return out, nil
}

func (c *CachedEmbedder) lookup(ctx context.Context, text string) ([]float32, bool) {
	b, err := c.store.Get(ctx, c.key(text))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.log.Warn("embedding cache read failed", "err", err)
		}
		return nil, false
	}
	var v []float32
	if err := msgpack.Unmarshal(b, &v); err != nil || len(v) != c.inner.Dimension() {
		c.log.Warn("discarding unreadable cached embedding", "err", err)
		return nil, false
	}
	return v, true
}

func (c *CachedEmbedder) store1(ctx context.Context, text string, v []float32) {
	b, err := msgpack.Marshal(v)
	if err == nil {
		err = c.store.Set(ctx, c.key(text), b)
	}
	if err != nil {
		c.log.Warn("embedding cache write failed", "err", err)
	}
}

// Len returns the number of cached vectors for the current model.
func (c *CachedEmbedder) Len(ctx context.Context) (int, error) {
	n, err := c.store.Count(ctx, c.namespace())
	if err != nil {
		return 0, fmt.Errorf("count cache: %w", err)
	}
	return n, nil
}

// Purge drops every cached vector for the current model.
func (c *CachedEmbedder) Purge(ctx context.Context) error {
	return c.store.DeletePrefix(ctx, c.namespace())
}
