package runner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/petasbytes/market-agent/internal/provider"
	"github.com/petasbytes/market-agent/internal/runner"
	"github.com/petasbytes/market-agent/knowledge"
	"github.com/petasbytes/market-agent/memory"
)

func fileIndex(path string) *knowledge.Index {
	return knowledge.NewIndex(knowledge.NewHashEmbedder(0), knowledge.Options{Path: path})
}

func TestOpenSession_MissingFilesStartEmpty(t *testing.T) {
	dir := t.TempDir()
	s, warnings, err := runner.OpenSession(context.Background(), runner.SessionOptions{
		Index:       fileIndex(filepath.Join(dir, "kb.idx")),
		HistoryPath: filepath.Join(dir, "conversation.json"),
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Zero(t, s.Knowledge.Len())
	assert.Zero(t, s.History.Len())
	assert.NotEmpty(t, s.ID)
}

func TestOpenSession_CorruptIndexFallsBackToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.idx")
	require.NoError(t, os.WriteFile(path, []byte("definitely not msgpack"), 0o644))

	s, warnings, err := runner.OpenSession(context.Background(), runner.SessionOptions{Index: fileIndex(path)})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "knowledge index")
	assert.Zero(t, s.Knowledge.Len())

	// The session stays usable and overwrites the bad file on the next add.
	_, err = s.AddKnowledge(context.Background(), "cli", "Tourism is a major contributor to the economy.")
	require.NoError(t, err)
	reopened := fileIndex(path)
	require.NoError(t, reopened.Load(context.Background()))
	assert.Equal(t, 1, reopened.Len())
}

func TestOpenSession_LoadsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversation.json")
	require.NoError(t, memory.SaveConversation(path, []memory.Turn{
		{Role: memory.RoleUser, Text: "one"},
		{Role: memory.RoleAssistant, Text: "two"},
		{Role: memory.RoleUser, Text: "three"},
	}))

	s, warnings, err := runner.OpenSession(context.Background(), runner.SessionOptions{MaxTurns: 2, HistoryPath: path})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	turns := s.History.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "two", turns[0].Text)
	assert.Equal(t, "three", turns[1].Text)
}

func TestOpenSession_BadHistoryIsAWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversation.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, warnings, err := runner.OpenSession(context.Background(), runner.SessionOptions{HistoryPath: path})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Zero(t, s.History.Len())
}

func TestSession_KnowledgePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.idx")
	s := runner.NewSession(nil, fileIndex(path))

	frags, err := s.AddKnowledge(context.Background(), "cli", "Currency: Sri Lankan Rupee (LKR).", "Main exports: tea, textiles, rubber, spices.")
	require.NoError(t, err)
	assert.Len(t, frags, 2)

	reopened := fileIndex(path)
	require.NoError(t, reopened.Load(context.Background()))
	assert.Equal(t, 2, reopened.Len())

	_, err = s.AddKnowledge(context.Background(), "cli", "  ")
	assert.ErrorIs(t, err, knowledge.ErrEmptyText)
	assert.Equal(t, 2, s.Knowledge.Len())

	require.NoError(t, s.ClearKnowledge())
	reopened = fileIndex(path)
	require.NoError(t, reopened.Load(context.Background()))
	assert.Zero(t, reopened.Len())
}

func TestSession_NoIndex(t *testing.T) {
	s := runner.NewSession(nil, nil)
	_, err := s.AddKnowledge(context.Background(), "cli", "x")
	assert.Error(t, err)
	assert.Error(t, s.ClearKnowledge())
	assert.Zero(t, s.Stats().Fragments)
}

func TestSession_ResetAndStats(t *testing.T) {
	dir := t.TempDir()
	histPath := filepath.Join(dir, "conversation.json")
	s := runner.NewSession(memory.NewBuffer(6), fileIndex(filepath.Join(dir, "kb.idx")))
	s.HistoryPath = histPath

	llm := &mockLLM{}
	llm.On("Complete", mock.Anything, mock.Anything).
		Return(provider.Response{Text: "Hello.", Attempts: 2, Usage: provider.Usage{InputTokens: 40, OutputTokens: 5}}, nil)
	_, err := newRunner(t, llm, runner.Options{}).Chat(context.Background(), s, "hi")
	require.NoError(t, err)

	saved, err := memory.LoadConversation(histPath)
	require.NoError(t, err)
	assert.Len(t, saved, 2)

	st := s.Stats()
	assert.Equal(t, s.ID, st.SessionID)
	assert.Equal(t, 2, st.HistoryTurns)
	assert.Equal(t, 6, st.MaxTurns)
	assert.Equal(t, knowledge.HashModel, st.EmbeddingModel)
	assert.Equal(t, 1, st.Usage.Turns)
	assert.Equal(t, 2, st.Usage.LLMAttempts)
	assert.Equal(t, int64(40), st.Usage.InputTokens)

	require.NoError(t, s.Reset())
	assert.Zero(t, s.History.Len())
	assert.Zero(t, s.Stats().Usage.Turns)
	saved, err = memory.LoadConversation(histPath)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

// flakyEmbedder is a remote-style embedder whose endpoint can be down.
type flakyEmbedder struct {
	*knowledge.HashEmbedder
	down bool
}

func (f *flakyEmbedder) Model() string { return "remote-model" }

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.down {
		return nil, errors.New("dial tcp: connection refused")
	}
	return f.HashEmbedder.Embed(ctx, text)
}

func (f *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.down {
		return nil, errors.New("dial tcp: connection refused")
	}
	return f.HashEmbedder.EmbedBatch(ctx, texts)
}

// savedIndex writes an index built with the local hash embedder.
func savedIndex(t *testing.T, texts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kb.idx")
	idx := fileIndex(path)
	_, err := idx.AddBatch(context.Background(), texts, "seed")
	require.NoError(t, err)
	require.NoError(t, idx.Save())
	return path
}

func TestOpenSession_ReembedFailureFallsBackAndKeepsFile(t *testing.T) {
	path := savedIndex(t, "Tea is the main export.", "Rubber exports fell.")
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	emb := &flakyEmbedder{HashEmbedder: knowledge.NewHashEmbedder(0), down: true}
	s, warnings, err := runner.OpenSession(context.Background(), runner.SessionOptions{
		Index: knowledge.NewIndex(emb, knowledge.Options{Path: path}),
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "knowledge index")
	assert.Zero(t, s.Knowledge.Len())
	assert.True(t, s.IndexHeld())

	// A remembered exchange is kept in memory only while the file is held.
	emb.down = false
	llm := &mockLLM{}
	llm.On("Complete", mock.Anything, mock.Anything).Return(provider.Response{Text: "About LKR 300."}, nil).Once()
	_, err = newRunner(t, llm, runner.Options{RememberExchanges: true}).Chat(context.Background(), s, "USD rate?")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Knowledge.Len())

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, onDisk)
}

func TestOpenSession_HeldIndexRestoredOnAdd(t *testing.T) {
	path := savedIndex(t, "Tea is the main export.", "Rubber exports fell.")

	emb := &flakyEmbedder{HashEmbedder: knowledge.NewHashEmbedder(0), down: true}
	s, _, err := runner.OpenSession(context.Background(), runner.SessionOptions{
		Index: knowledge.NewIndex(emb, knowledge.Options{Path: path}),
	})
	require.NoError(t, err)
	require.True(t, s.IndexHeld())

	emb.down = false
	_, err = s.AddKnowledge(context.Background(), "cli", "Cinnamon prices rose.")
	require.NoError(t, err)
	assert.False(t, s.IndexHeld())
	assert.Equal(t, 3, s.Knowledge.Len())

	reopened := knowledge.NewIndex(emb, knowledge.Options{Path: path})
	require.NoError(t, reopened.Load(context.Background()))
	assert.Equal(t, 3, reopened.Len())
}

func TestOpenSession_HeldIndexReplacedOnClear(t *testing.T) {
	path := savedIndex(t, "Tea is the main export.")

	emb := &flakyEmbedder{HashEmbedder: knowledge.NewHashEmbedder(0), down: true}
	s, _, err := runner.OpenSession(context.Background(), runner.SessionOptions{
		Index: knowledge.NewIndex(emb, knowledge.Options{Path: path}),
	})
	require.NoError(t, err)

	require.NoError(t, s.ClearKnowledge())
	assert.False(t, s.IndexHeld())

	emb.down = false
	reopened := knowledge.NewIndex(emb, knowledge.Options{Path: path})
	require.NoError(t, reopened.Load(context.Background()))
	assert.Zero(t, reopened.Len())
}
