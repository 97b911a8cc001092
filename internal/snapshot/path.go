package snapshot

import (
	"os"
	"path/filepath"
)

// FileName is the state database file name inside the chosen directory.
const FileName = "state.db"

// ResolvePath picks where the state database lives. The session-scoped
// directory (cleared at logout/reboot) is preferred; the long-lived data
// directory is used only when no session directory is available. An empty
// sessionDir falls back to $XDG_RUNTIME_DIR/pinstay.
func ResolvePath(sessionDir, dataDir string) (path string, sessionScoped bool) {
	if sessionDir == "" {
		if rt := os.Getenv("XDG_RUNTIME_DIR"); rt != "" {
			sessionDir = filepath.Join(rt, "pinstay")
		}
	}
	if sessionDir != "" {
		if parent, err := os.Stat(filepath.Dir(sessionDir)); err == nil && parent.IsDir() {
			return filepath.Join(sessionDir, FileName), true
		}
	}
	if dataDir == "" {
		dataDir = "data"
	}
	return filepath.Join(dataDir, FileName), false
}
