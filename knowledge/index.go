package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyText is returned when adding a blank fragment.
var ErrEmptyText = errors.New("knowledge: fragment text is empty")

// Fragment is one stored piece of knowledge.
type Fragment struct {
	ID        string
	Text      string
	Source    string
	Embedding []float32
	AddedAt   time.Time
}

// Result is a search hit. Rank starts at 1.
type Result struct {
	Fragment Fragment
	Score    float64
	Rank     int
}

// Options configures NewIndex.
type Options struct {
	// Path is the persisted index file. Empty keeps the index in memory only.
	Path   string
	Logger *slog.Logger
}

// Index is an in-process vector index. It is safe for concurrent use, but a
// session is expected to be its only writer.
type Index struct {
	mu       sync.RWMutex
	embedder Embedder
	path     string
	frags    []Fragment
	log      *slog.Logger
}

func NewIndex(e Embedder, opts Options) *Index {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Index{embedder: e, path: opts.Path, log: log}
}

// Path returns the persisted file location.
func (x *Index) Path() string { return x.path }

// Embedder returns the embedder used for fragments and queries.
func (x *Index) Embedder() Embedder { return x.embedder }

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.frags)
}

// Fragments returns a copy of the stored fragments in insertion order.
func (x *Index) Fragments() []Fragment {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]Fragment(nil), x.frags...)
}

// Add embeds text and appends it as a new fragment.
func (x *Index) Add(ctx context.Context, text, source string) (Fragment, error) {
	frags, err := x.AddBatch(ctx, []string{text}, source)
	if err != nil {
		return Fragment{}, err
	}
	return frags[0], nil
}

// AddBatch embeds all texts in one call and appends them in order. Either
// every text is added or none is.
func (x *Index) AddBatch(ctx context.Context, texts []string, source string) ([]Fragment, error) {
	clean := make([]string, 0, len(texts))
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, ErrEmptyText
		}
		clean = append(clean, t)
	}
	if len(clean) == 0 {
		return nil, ErrEmptyText
	}
	vecs, err := x.embedder.EmbedBatch(ctx, clean)
	if err != nil {
		return nil, fmt.Errorf("embed fragments: %w", err)
	}
	now := time.Now().UTC()
	added := make([]Fragment, len(clean))
	for i, t := range clean {
		added[i] = Fragment{
			ID:        uuid.NewString(),
			Text:      t,
			Source:    source,
			Embedding: vecs[i],
			AddedAt:   now,
		}
	}
	x.mu.Lock()
	x.frags = append(x.frags, added...)
	x.mu.Unlock()
	return added, nil
}

// Search returns up to k fragments ordered by descending cosine similarity
// to query. Fragments with equal scores keep their insertion order. An empty
// index, a blank query or k <= 0 yields an empty result without embedding.
func (x *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	x.mu.RLock()
	frags := x.frags
	x.mu.RUnlock()

	if len(frags) == 0 || k <= 0 || strings.TrimSpace(query) == "" {
		return []Result{}, nil
	}
	q, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	order := make([]int, len(frags))
	scores := make([]float64, len(frags))
	for i := range frags {
		order[i] = i
		scores[i] = Cosine(q, frags[i].Embedding)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	k = min(k, len(order))
	out := make([]Result, k)
	for r := 0; r < k; r++ {
		i := order[r]
		out[r] = Result{Fragment: frags[i], Score: scores[i], Rank: r + 1}
	}
	return out, nil
}

// Clear removes every fragment.
func (x *Index) Clear() {
	x.mu.Lock()
	x.frags = nil
	x.mu.Unlock()
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// FormatContext renders results as a numbered block for the model prompt.
func FormatContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant information from knowledge base:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "\n[%d] %s\n", r.Rank, r.Fragment.Text)
	}
	return strings.TrimRight(b.String(), "\n")
}
