package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/petasbytes/market-agent/internal/metrics"
	"github.com/petasbytes/market-agent/knowledge"
	"github.com/petasbytes/market-agent/memory"
)

// Session is the per-conversation state handed to every Chat call.
type Session struct {
	ID        string
	History   *memory.Buffer
	Knowledge *knowledge.Index

	// HistoryPath, when set, receives the transcript after every turn.
	HistoryPath string

	// Verbose writes tool activity to Trace while a turn runs.
	Verbose bool
	Trace   io.Writer

	Tally *metrics.Tally

	// indexHeld is set when the persisted index could not be loaded but is
	// not corrupt. The file is not written until an explicit add or clear.
	indexHeld bool
	log       *slog.Logger
}

// NewSession returns a session with a fresh ID. A nil history gets a
// default-sized buffer.
func NewSession(history *memory.Buffer, idx *knowledge.Index) *Session {
	if history == nil {
		history = memory.NewBuffer(memory.DefaultMaxTurns)
	}
	return &Session{
		ID:        uuid.NewString(),
		History:   history,
		Knowledge: idx,
		Tally:     metrics.NewTally(),
	}
}

type SessionOptions struct {
	Index       *knowledge.Index
	MaxTurns    int
	HistoryPath string
	Logger      *slog.Logger
}

// OpenSession builds a session and loads its persisted state. An index or
// transcript that cannot be loaded is replaced by an empty one and reported
// as a warning. A corrupt index file is overwritten on the next save; any
// other unreadable index file is left alone until AddKnowledge or
// ClearKnowledge.
func OpenSession(ctx context.Context, opts SessionOptions) (*Session, []string, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := NewSession(memory.NewBuffer(opts.MaxTurns), opts.Index)
	s.HistoryPath = opts.HistoryPath
	s.log = log

	var warnings []string
	if s.Knowledge != nil {
		if err := s.Knowledge.Load(ctx); err != nil {
			var ie *knowledge.IndexError
			if !errors.As(err, &ie) {
				return nil, nil, err
			}
			s.Knowledge.Clear()
			s.indexHeld = !errors.Is(err, knowledge.ErrCorruptIndex)
			log.Warn("starting with an empty knowledge index", "path", s.Knowledge.Path(), "held", s.indexHeld, "err", err)
			if s.indexHeld {
				warnings = append(warnings, fmt.Sprintf("knowledge index could not be loaded, starting empty; the file is kept until the next add or clear: %v", err))
			} else {
				warnings = append(warnings, fmt.Sprintf("knowledge index could not be read, starting empty: %v", err))
			}
		}
	}
	if s.HistoryPath != "" {
		if err := s.History.Load(s.HistoryPath); err != nil {
			s.History.Reset()
			log.Warn("starting with an empty conversation", "path", s.HistoryPath, "err", err)
			warnings = append(warnings, fmt.Sprintf("conversation history could not be read, starting empty: %v", err))
		}
	}
	log.Debug("session opened",
		"session_id", s.ID,
		"history_turns", s.History.Len(),
		"fragments", s.fragments())
	return s, warnings, nil
}

var errNoIndex = errors.New("session has no knowledge index")

// AddKnowledge adds texts as fragments, all or none, and saves the index.
// A held index file is loaded again first; if that still fails the file is
// replaced.
func (s *Session) AddKnowledge(ctx context.Context, source string, texts ...string) ([]knowledge.Fragment, error) {
	if s.Knowledge == nil {
		return nil, errNoIndex
	}
	if s.indexHeld {
		if err := s.Knowledge.Load(ctx); err != nil {
			s.Knowledge.Clear()
			s.logger().Warn("replacing unreadable knowledge index", "path", s.Knowledge.Path(), "err", err)
		}
	}
	frags, err := s.Knowledge.AddBatch(ctx, texts, source)
	if err != nil {
		return nil, err
	}
	s.indexHeld = false
	if err := s.Knowledge.Save(); err != nil {
		return frags, err
	}
	return frags, nil
}

// remember stores an exchange. It never writes a held index file.
func (s *Session) remember(ctx context.Context, text string) error {
	if s.Knowledge == nil {
		return errNoIndex
	}
	if _, err := s.Knowledge.AddBatch(ctx, []string{text}, "conversation"); err != nil {
		return err
	}
	if s.indexHeld {
		return nil
	}
	return s.Knowledge.Save()
}

// ClearKnowledge empties the index and saves it.
func (s *Session) ClearKnowledge() error {
	if s.Knowledge == nil {
		return errNoIndex
	}
	s.Knowledge.Clear()
	s.indexHeld = false
	return s.Knowledge.Save()
}

// IndexHeld reports whether an unreadable index file is being kept on disk.
func (s *Session) IndexHeld() bool { return s.indexHeld }

func (s *Session) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return slog.Default()
}

// Reset forgets the conversation history and the session counters.
func (s *Session) Reset() error {
	s.History.Reset()
	if s.Tally != nil {
		s.Tally.Reset()
	}
	return s.saveHistory()
}

func (s *Session) saveHistory() error {
	if s.HistoryPath == "" {
		return nil
	}
	return s.History.Save(s.HistoryPath)
}

func (s *Session) fragments() int {
	if s.Knowledge == nil {
		return 0
	}
	return s.Knowledge.Len()
}

// SessionStats is what /stats prints.
type SessionStats struct {
	SessionID      string
	HistoryTurns   int
	MaxTurns       int
	Fragments      int
	IndexPath      string
	EmbeddingModel string
	Usage          metrics.Snapshot
}

func (s *Session) Stats() SessionStats {
	st := SessionStats{
		SessionID:    s.ID,
		HistoryTurns: s.History.Len(),
		MaxTurns:     s.History.Max(),
		Fragments:    s.fragments(),
	}
	if s.Knowledge != nil {
		st.IndexPath = s.Knowledge.Path()
		st.EmbeddingModel = s.Knowledge.Embedder().Model()
	}
	if s.Tally != nil {
		st.Usage = s.Tally.Snapshot()
	}
	return st
}

func (s *Session) tracef(format string, args ...any) {
	if s.Verbose && s.Trace != nil {
		fmt.Fprintf(s.Trace, format+"\n", args...)
	}
}
