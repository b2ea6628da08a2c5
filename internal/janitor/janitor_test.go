package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethdford/fleetctl/internal/store"
)

func TestCleanRemovesOnlyStaleUnclaimedDirs(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	st := store.NewMemoryStore()

	claimedDir := filepath.Join(root, "claimed")
	staleDir := filepath.Join(root, "stale")
	freshDir := filepath.Join(root, "fresh")
	for _, d := range []string{claimedDir, staleDir, freshDir} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-1 * time.Hour)
	if err := os.Chtimes(staleDir, old, old); err != nil {
		t.Fatal(err)
	}

	_ = st.SaveWorker(ctx, &store.Worker{ID: "w1", Handle: "w1", WorkingDir: claimedDir, State: store.WorkerReady})

	j := New(st, root, nil)
	removed := j.Clean(ctx)
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Fatal("expected stale dir removed")
	}
	if _, err := os.Stat(claimedDir); err != nil {
		t.Fatal("expected claimed dir kept")
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Fatal("expected fresh (not-yet-stale) dir kept")
	}
}

func TestCleanOnMissingRootIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	j := New(st, filepath.Join(t.TempDir(), "does-not-exist"), nil)
	if removed := j.Clean(context.Background()); removed != 0 {
		t.Fatalf("expected 0, got %d", removed)
	}
}
