// Package fsops implements the file operations the agent performs: sandboxed
// reads of user-supplied knowledge files and atomic writes of its own state.
package fsops

import (
	"os"

	"github.com/petasbytes/market-agent/internal/safety"
)

// MaxReadBytes caps the size of a knowledge file import.
const MaxReadBytes = 1 << 20

// ReadFile reads a file addressed by a relative path under the sandbox read root
// (AGT_READ_ROOT, default the working directory). Policy violations are returned
// as safety.ToolError.
func ReadFile(relPath string) (string, error) {
	root, err := getRoot()
	if err != nil {
		return "", err
	}

	absPath, err := safety.ValidateRelPath(root, relPath)
	if err != nil {
		return "", err
	}

	fi, err := os.Stat(absPath)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return "", safety.ToolError{Code: "ERR_NOT_A_FILE", Message: "path is a directory"}
	}
	if fi.Size() > MaxReadBytes {
		return "", safety.ToolError{Code: "ERR_FILE_TOO_LARGE", Message: "file exceeds the 1 MiB import limit"}
	}

	b, err := os.ReadFile(absPath)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
