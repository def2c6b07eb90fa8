package upload

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
)

// Ledger records every file and directory created while serving one request
// so the boundary can remove them when the request fails.
type Ledger struct {
	mu    sync.Mutex
	paths []string
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Add is nil-safe so callers without a ledger can still create files.
func (l *Ledger) Add(paths ...string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, paths...)
}

func (l *Ledger) Files() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

// Cleanup removes every recorded path, newest first, and empties the ledger.
// Failures are logged and do not stop the remaining removals.
func (l *Ledger) Cleanup(log *slog.Logger) {
	if l == nil {
		return
	}
	l.mu.Lock()
	paths := l.paths
	l.paths = nil
	l.mu.Unlock()

	for i := len(paths) - 1; i >= 0; i-- {
		if err := os.RemoveAll(paths[i]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("failed to remove request file", "path", paths[i], "error", err)
		}
	}
}
