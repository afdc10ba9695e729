package knowledge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/petasbytes/market-agent/internal/fsops"
)

// ErrCorruptIndex marks a persisted index that cannot be trusted.
var ErrCorruptIndex = errors.New("knowledge: corrupt index file")

// IndexError wraps failures reading or writing the persisted index.
type IndexError struct {
	Path string
	Err  error
}

func (e *IndexError) Error() string { return fmt.Sprintf("index %s: %v", e.Path, e.Err) }

func (e *IndexError) Unwrap() error { return e.Err }

const fileVersion = 1

type indexFile struct {
	Version    int              `msgpack:"version"`
	Model      string           `msgpack:"model"`
	Dim        int              `msgpack:"dim"`
	Fragments  []fragmentRecord `msgpack:"fragments"`
	Embeddings [][]float32      `msgpack:"embeddings"`
}

type fragmentRecord struct {
	ID      string    `msgpack:"id"`
	Text    string    `msgpack:"text"`
	Source  string    `msgpack:"source,omitempty"`
	AddedAt time.Time `msgpack:"added_at"`
}

// Save writes the index atomically. An index without a path is not persisted.
func (x *Index) Save() error {
	if x.path == "" {
		return nil
	}
	x.mu.RLock()
	f := indexFile{
		Version:    fileVersion,
		Model:      x.embedder.Model(),
		Dim:        x.embedder.Dimension(),
		Fragments:  make([]fragmentRecord, len(x.frags)),
		Embeddings: make([][]float32, len(x.frags)),
	}
	for i, fr := range x.frags {
		f.Fragments[i] = fragmentRecord{ID: fr.ID, Text: fr.Text, Source: fr.Source, AddedAt: fr.AddedAt}
		f.Embeddings[i] = fr.Embedding
	}
	x.mu.RUnlock()

	b, err := msgpack.Marshal(&f)
	if err != nil {
		return &IndexError{Path: x.path, Err: err}
	}
	if err := fsops.WriteFileAtomic(x.path, b, 0o644); err != nil {
		return &IndexError{Path: x.path, Err: err}
	}
	x.log.Debug("index saved", "path", x.path, "fragments", len(f.Fragments))
	return nil
}

// Load replaces the in-memory fragments with the persisted ones. A missing
// file yields an empty index. A file written by another embedding model or
// dimension is re-embedded. Any structural problem returns an error wrapping
// ErrCorruptIndex and leaves the index unchanged.
func (x *Index) Load(ctx context.Context) error {
	if x.path == "" {
		return nil
	}
	b, err := os.ReadFile(x.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			x.Clear()
			return nil
		}
		return &IndexError{Path: x.path, Err: err}
	}

	var f indexFile
	if err := msgpack.Unmarshal(b, &f); err != nil {
		return x.corrupt("decode: %v", err)
	}
	if f.Version != fileVersion {
		return x.corrupt("unsupported version %d", f.Version)
	}
	if len(f.Embeddings) != len(f.Fragments) {
		return x.corrupt("%d embeddings for %d fragments", len(f.Embeddings), len(f.Fragments))
	}

	embeddings := f.Embeddings
	if f.Model != x.embedder.Model() || f.Dim != x.embedder.Dimension() {
		embeddings, err = x.reembed(ctx, f)
		if err != nil {
			return &IndexError{Path: x.path, Err: err}
		}
	} else {
		for i, e := range embeddings {
			if len(e) != f.Dim {
				return x.corrupt("embedding %d has %d dimensions, want %d", i, len(e), f.Dim)
			}
		}
	}

	frags := make([]Fragment, len(f.Fragments))
	for i, r := range f.Fragments {
		frags[i] = Fragment{ID: r.ID, Text: r.Text, Source: r.Source, Embedding: embeddings[i], AddedAt: r.AddedAt.UTC()}
	}
	x.mu.Lock()
	x.frags = frags
	x.mu.Unlock()
	x.log.Debug("index loaded", "path", x.path, "fragments", len(frags))
	return nil
}

func (x *Index) corrupt(format string, args ...any) error {
	return &IndexError{Path: x.path, Err: fmt.Errorf("%w: %s", ErrCorruptIndex, fmt.Sprintf(format, args...))}
}

func (x *Index) reembed(ctx context.Context, f indexFile) ([][]float32, error) {
	x.log.Info("re-embedding persisted index",
		"path", x.path,
		"from_model", f.Model, "from_dim", f.Dim,
		"to_model", x.embedder.Model(), "to_dim", x.embedder.Dimension(),
		"fragments", len(f.Fragments))
	if len(f.Fragments) == 0 {
		return nil, nil
	}
	texts := make([]string, len(f.Fragments))
	for i, r := range f.Fragments {
		texts[i] = r.Text
	}
	return x.embedder.EmbedBatch(ctx, texts)
}
