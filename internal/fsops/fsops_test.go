package fsops_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petasbytes/market-agent/internal/fsops"
	"github.com/petasbytes/market-agent/internal/safety"
)

// readRoot is the sandbox every test in this package reads from. fsops
// resolves AGT_READ_ROOT once, so it is set before any test runs.
var readRoot string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "fsops-")
	if err != nil {
		panic(err)
	}
	_ = os.Setenv("AGT_READ_ROOT", dir)
	readRoot = dir

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

// put writes content under readRoot/<test name>/name and returns the
// relative path to it.
func put(t *testing.T, name, content string) string {
	t.Helper()
	rel := filepath.Join(t.Name(), name)
	abs := filepath.Join(readRoot, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	return rel
}

func TestReadFile(t *testing.T) {
	want := "Tea accounts for a large share of export earnings."
	got, err := fsops.ReadFile(put(t, "tea.txt", want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadFile_Rejected(t *testing.T) {
	require.NoError(t, os.MkdirAll(filepath.Join(readRoot, "TestReadFile_Rejected", "reports"), 0o755))
	big := put(t, "big.txt", strings.Repeat("x", fsops.MaxReadBytes+1))
	require.NoError(t, os.MkdirAll(filepath.Join(readRoot, ".agent"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(readRoot, ".agent", "events.jsonl"), []byte("{}"), 0o644))

	cases := []struct {
		path string
		code string
	}{
		{filepath.Join("TestReadFile_Rejected", "reports"), "ERR_NOT_A_FILE"},
		{big, "ERR_FILE_TOO_LARGE"},
		{".agent/events.jsonl", "ERR_DENIED_READ"},
		{"../../etc/passwd", "ERR_PATH_OUTSIDE_SANDBOX"},
		{"/etc/passwd", "ERR_PATH_OUTSIDE_SANDBOX"},
	}
	for _, tc := range cases {
		t.Run(tc.code+" "+tc.path, func(t *testing.T) {
			_, err := fsops.ReadFile(tc.path)
			var te safety.ToolError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tc.code, te.Code)
		})
	}
}

func TestReadFile_Missing(t *testing.T) {
	_, err := fsops.ReadFile("no-such-report.txt")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteFileAtomic(t *testing.T) {
	p := filepath.Join(t.TempDir(), "vector_store", "market_knowledge.idx")

	require.NoError(t, fsops.WriteFileAtomic(p, []byte("v1"), 0o600))
	require.NoError(t, fsops.WriteFileAtomic(p, []byte("v2"), 0o600))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b))

	entries, err := os.ReadDir(filepath.Dir(p))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files left behind")
	assert.Equal(t, "market_knowledge.idx", entries[0].Name())
}
