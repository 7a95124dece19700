package workspace

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes a local workspace and reports changed paths so the
// UI's file tree stays current while commands mutate the tree outside
// the tool surface. Events are debounced per path.
type Watcher struct {
	ws       *Watchable
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	notify   func(paths []string)
	done     chan struct{}
	debounce time.Duration
}

// Watchable narrows Workspace to what the watcher needs.
type Watchable struct {
	Root string
	Rel  func(abs string) string
}

// NewWatcher starts watching the workspace root recursively. notify is
// called from the watcher goroutine with root-relative paths. Remote
// workspaces are not watchable; callers skip construction for those.
func NewWatcher(w *Workspace, logger *slog.Logger, notify func(paths []string)) (*Watcher, error) {
	if _, ok := w.fs.(LocalFS); !ok {
		return nil, ErrNoRepo
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	wt := &Watcher{
		ws:       &Watchable{Root: w.Root(), Rel: w.Rel},
		fsw:      fsw,
		logger:   logger,
		notify:   notify,
		done:     make(chan struct{}),
		debounce: 300 * time.Millisecond,
	}
	if err := wt.addRecursive(w.Root()); err != nil {
		fsw.Close()
		return nil, err
	}
	go wt.loop()
	return wt, nil
}

// Close stops the watcher.
func (wt *Watcher) Close() error {
	close(wt.done)
	return wt.fsw.Close()
}

func (wt *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if !d.IsDir() {
			return nil
		}
		if skipDirs[d.Name()] && path != dir {
			return filepath.SkipDir
		}
		if err := wt.fsw.Add(path); err != nil {
			wt.logger.Debug("watch add failed", "path", path, "error", err)
		}
		return nil
	})
}

func (wt *Watcher) loop() {
	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]struct{})
		wt.notify(paths)
	}

	for {
		select {
		case <-wt.done:
			return
		case ev, ok := <-wt.fsw.Events:
			if !ok {
				return
			}
			rel := wt.ws.Rel(ev.Name)
			if rel == "" || strings.HasPrefix(rel, ".git/") || rel == ".git" {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = wt.addRecursive(ev.Name)
				}
			}
			pending[rel] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(wt.debounce)
			} else {
				timer.Reset(wt.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			flush()
		case err, ok := <-wt.fsw.Errors:
			if !ok {
				return
			}
			wt.logger.Debug("watch error", "error", err)
		}
	}
}
