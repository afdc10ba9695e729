package fsops

import (
	"os"
	"sync"

	"github.com/petasbytes/market-agent/internal/safety"
)

var (
	rootOnce    sync.Once
	absReadRoot string
	initRootErr error
)

func initRoot() {
	absReadRoot, initRootErr = safety.InitSandboxRoot(os.Getenv("AGT_READ_ROOT"))
}

// getRoot returns the cached absolute read root, initialising it once on first use.
func getRoot() (string, error) {
	rootOnce.Do(initRoot)
	return absReadRoot, initRootErr
}
