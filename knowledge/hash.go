package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimension is the vector length of the local embedder.
const DefaultDimension = 384

// HashModel names the local embedding space.
const HashModel = "hash-v1"

// HashEmbedder is a deterministic, offline embedder. Unigrams and bigrams of
// the normalised text are feature-hashed into a signed vector, weighted with
// sublinear term frequency and L2-normalised, so texts that share words land
// close together under cosine similarity.
type HashEmbedder struct {
	dim int
}

var _ Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder returns a HashEmbedder; dim <= 0 selects DefaultDimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Model() string { return HashModel }

func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	return h.vector(text), nil
}

func (h *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

const bigramWeight = 0.5

func (h *HashEmbedder) vector(text string) []float32 {
	toks := Tokenize(text)
	counts := make(map[string]float64, len(toks)*2)
	for i, t := range toks {
		counts[t]++
		if i > 0 {
			counts[toks[i-1]+" "+t] += bigramWeight
		}
	}

	acc := make([]float64, h.dim)
	for feat, tf := range counts {
		f := fnv.New64a()
		_, _ = f.Write([]byte(feat))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dim))
		w := 1 + math.Log(tf)
		if tf < 1 {
			w = tf
		}
		if sum>>63 == 1 {
			w = -w
		}
		acc[idx] += w
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, h.dim)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"on": {}, "for": {}, "with": {}, "by": {}, "at": {}, "from": {}, "as": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "it": {},
	"its": {}, "this": {}, "that": {}, "these": {}, "those": {}, "what": {},
	"which": {}, "who": {}, "how": {}, "does": {}, "do": {}, "did": {}, "has": {},
	"have": {}, "had": {}, "s": {}, "about": {}, "into": {}, "than": {},
}

// Tokenize lowercases text, splits it on anything that is not a letter or
// digit, drops stop words and folds simple English plurals.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us"):
		return w[:len(w)-1]
	}
	return w
}
