package workspace

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awaitPaths(t *testing.T, ch <-chan []string) []string {
	t.Helper()
	select {
	case paths := <-ch:
		return paths
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
		return nil
	}
}

func TestWatcherReportsChanges(t *testing.T) {
	dir := t.TempDir()
	ws, err := New(dir, LocalFS{}, nil)
	require.NoError(t, err)

	got := make(chan []string, 4)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wt, err := NewWatcher(ws, logger, func(paths []string) { got <- paths })
	require.NoError(t, err)
	defer wt.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))
	assert.Contains(t, awaitPaths(t, got), "new.txt")

	// Directories created after the watcher starts are picked up too.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	awaitPaths(t, got)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "inner.txt"), []byte("y"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case paths := <-got:
			for _, p := range paths {
				if p == "sub/inner.txt" {
					return
				}
			}
		case <-deadline:
			t.Fatal("nested write never reported")
		}
	}
}

func TestWatcherBatchesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	ws, err := New(dir, LocalFS{}, nil)
	require.NoError(t, err)

	got := make(chan []string, 4)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	wt, err := NewWatcher(ws, logger, func(paths []string) { got <- paths })
	require.NoError(t, err)
	defer wt.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("2"), 0o644))

	paths := awaitPaths(t, got)
	seen := map[string]bool{}
	for _, p := range paths {
		seen[p] = true
	}
	assert.True(t, seen["a.txt"] && seen["b.txt"], "both writes land in one batch: %v", paths)
}
