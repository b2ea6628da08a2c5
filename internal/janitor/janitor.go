// Package janitor periodically reclaims worker working directories left
// behind on disk after their owning Worker entity is gone, using a
// scan-and-clean ticker in the same shape as a stale-lock sweep,
// repurposed from fencing distributed locks to sweeping orphaned
// worktrees. Git worktree creation/management itself is out of scope
// here; this only removes directories under Root that no live or
// recently-stopped Worker claims.
package janitor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sethdford/fleetctl/internal/store"
)

// staleGrace keeps a stopped worker's directory around briefly after
// it disappears from the store, so a retry or a slow delete doesn't
// race the janitor into removing a directory still being read.
const staleGrace = 5 * time.Minute

type Janitor struct {
	st     store.Store
	root   string
	logger *slog.Logger

	now func() time.Time
}

func New(st store.Store, root string, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{st: st, root: root, logger: logger.With("component", "janitor"), now: time.Now}
}

// Clean scans root's immediate subdirectories and removes any whose
// name doesn't match the base name of a stored worker's working
// directory and whose mtime is older
// than staleGrace. Root not existing is not an error: worktrees are
// optional.
func (j *Janitor) Clean(ctx context.Context) int {
	if j.root == "" {
		return 0
	}
	entries, err := os.ReadDir(j.root)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn("read worktree root", "error", err)
		}
		return 0
	}

	workers, err := j.st.ListWorkers(ctx, "")
	if err != nil {
		j.logger.Warn("list workers", "error", err)
		return 0
	}
	claimed := make(map[string]struct{}, len(workers))
	for _, w := range workers {
		if w.WorkingDir != "" {
			claimed[filepath.Base(w.WorkingDir)] = struct{}{}
		}
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := claimed[entry.Name()]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if j.now().Sub(info.ModTime()) < staleGrace {
			continue
		}
		path := filepath.Join(j.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("remove orphaned worktree", "path", path, "error", err)
			continue
		}
		j.logger.Info("removed orphaned worktree", "path", path)
		removed++
	}
	return removed
}
