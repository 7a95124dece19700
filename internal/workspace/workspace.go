// Package workspace implements the file surface the agent operates on:
// scoped reads and writes, anchored edits, diffs against checkpoint
// baselines, and snapshot/restore of any subset of changes.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/sftp"

	"github.com/haasonsaas/forge/internal/workspace/checkpoint"
)

// Workspace confines all operations to a single root directory on an FS.
// Mutating operations record pre-mutation baselines under the active
// checkpoint so the owning turn can be reverted.
type Workspace struct {
	root   string
	fs     FS
	logger *slog.Logger

	// Checkpoints is owned by the session that owns this workspace.
	Checkpoints *checkpoint.Store

	locks *pathLocks
}

// Entry is one directory listing row.
type Entry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// Match is one grep hit.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// New creates a workspace rooted at dir on the given FS. The root must
// exist; it is canonicalized through symlinks once so the scope check
// compares canonical forms.
func New(dir string, fsys FS, logger *slog.Logger) (*Workspace, error) {
	if fsys == nil {
		fsys = LocalFS{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	root, err := fsys.RealPath(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root %s: %w", dir, err)
	}
	info, err := fsys.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", root)
	}
	return &Workspace{
		root:        root,
		fs:          fsys,
		logger:      logger,
		Checkpoints: checkpoint.NewStore(),
		locks:       newPathLocks(),
	}, nil
}

// Root returns the canonical workspace root.
func (w *Workspace) Root() string { return w.root }

// Resolve confines path to the workspace root and returns its absolute
// form. Relative paths are joined to the root; absolute paths are
// accepted only when already inside the root. Symlinks are resolved
// before the containment check.
func (w *Workspace) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", scopeErr(path)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(w.root, clean)
	}
	canonical, err := w.fs.RealPath(target)
	if err != nil {
		return "", ioErr(path, err)
	}
	rel, err := filepath.Rel(w.root, canonical)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", scopeErr(path)
	}
	return canonical, nil
}

// Rel converts a resolved absolute path back to its root-relative form
// used in events and checkpoints.
func (w *Workspace) Rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// Read returns the content of path. When offset or limit are positive
// the result is sliced by lines: offset is 1-based first line, limit the
// number of lines.
func (w *Workspace) Read(path string, offset, limit int) ([]byte, error) {
	abs, err := w.Resolve(path)
	if err != nil {
		return nil, err
	}
	unlock := w.locks.lock(abs, false)
	defer unlock()

	data, err := w.fs.ReadFile(abs)
	if err != nil {
		if isNotExist(err) {
			return nil, notFound(path)
		}
		return nil, ioErr(path, err)
	}
	if offset <= 0 && limit <= 0 {
		return data, nil
	}
	lines := strings.Split(string(data), "\n")
	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return nil, nil
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return []byte(strings.Join(lines[start:end], "\n")), nil
}

// Write stores content at path, creating parent directories. The
// pre-mutation content is recorded under the active checkpoint before
// the first mutation of the path.
func (w *Workspace) Write(path string, content []byte) error {
	abs, err := w.Resolve(path)
	if err != nil {
		return err
	}
	unlock := w.locks.lock(abs, true)
	defer unlock()

	w.recordBaseline(abs)
	if err := w.fs.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return ioErr(path, err)
	}
	if err := w.fs.WriteFile(abs, content, 0o644); err != nil {
		return ioErr(path, err)
	}
	return nil
}

// Edit replaces old with new in path. Without replaceAll the anchor must
// match exactly once. Returns the unified diff of the change.
func (w *Workspace) Edit(path, old, new string, replaceAll bool) (*DiffResult, error) {
	abs, err := w.Resolve(path)
	if err != nil {
		return nil, err
	}
	unlock := w.locks.lock(abs, true)
	defer unlock()

	data, err := w.fs.ReadFile(abs)
	if err != nil {
		if isNotExist(err) {
			return nil, notFound(path)
		}
		return nil, ioErr(path, err)
	}
	content := string(data)
	count := strings.Count(content, old)
	if count == 0 {
		return nil, &Error{Kind: EAnchorMissing, Path: path}
	}
	if count > 1 && !replaceAll {
		return nil, &Error{Kind: EAnchorAmbiguous, Path: path}
	}

	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(content, old, new)
	} else {
		updated = strings.Replace(content, old, new, 1)
	}

	w.recordBaseline(abs)
	if err := w.fs.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return nil, ioErr(path, err)
	}
	return UnifiedDiff(w.Rel(abs), data, []byte(updated)), nil
}

// Delete removes path after recording its baseline.
func (w *Workspace) Delete(path string) error {
	abs, err := w.Resolve(path)
	if err != nil {
		return err
	}
	unlock := w.locks.lock(abs, true)
	defer unlock()

	if _, err := w.fs.Stat(abs); err != nil {
		if isNotExist(err) {
			return notFound(path)
		}
		return ioErr(path, err)
	}
	w.recordBaseline(abs)
	if err := w.fs.Remove(abs); err != nil {
		return ioErr(path, err)
	}
	return nil
}

// Rename moves oldPath to newPath inside the root, recording baselines
// for both ends so a revert restores the original layout.
func (w *Workspace) Rename(oldPath, newPath string) error {
	absOld, err := w.Resolve(oldPath)
	if err != nil {
		return err
	}
	absNew, err := w.Resolve(newPath)
	if err != nil {
		return err
	}
	unlockOld := w.locks.lock(absOld, true)
	defer unlockOld()
	unlockNew := w.locks.lock(absNew, true)
	defer unlockNew()

	if _, err := w.fs.Stat(absOld); err != nil {
		if isNotExist(err) {
			return notFound(oldPath)
		}
		return ioErr(oldPath, err)
	}
	w.recordBaseline(absOld)
	w.recordBaseline(absNew)
	if err := w.fs.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return ioErr(newPath, err)
	}
	if err := w.fs.Rename(absOld, absNew); err != nil {
		return ioErr(oldPath, err)
	}
	return nil
}

// List returns the entries of dir sorted directories-first.
func (w *Workspace) List(dir string) ([]Entry, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	abs, err := w.Resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := w.fs.ReadDir(abs)
	if err != nil {
		if isNotExist(err) {
			return nil, notFound(dir)
		}
		return nil, ioErr(dir, err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		out = append(out, Entry{
			Name:  e.Name(),
			Path:  w.Rel(filepath.Join(abs, e.Name())),
			IsDir: e.IsDir(),
			Size:  size,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Mkdir creates a directory, with parents, inside the workspace.
func (w *Workspace) Mkdir(path string) error {
	abs, err := w.Resolve(path)
	if err != nil {
		return err
	}
	if err := w.fs.MkdirAll(abs, 0o755); err != nil {
		return ioErr(path, err)
	}
	return nil
}

// Exists reports whether path resolves to an existing file or directory.
func (w *Workspace) Exists(path string) bool {
	abs, err := w.Resolve(path)
	if err != nil {
		return false
	}
	_, err = w.fs.Stat(abs)
	return err == nil
}

// Current returns the bytes at the root-relative path, and whether the
// file exists. Used when assembling review diffs.
func (w *Workspace) Current(rel string) ([]byte, bool, error) {
	abs, err := w.Resolve(rel)
	if err != nil {
		return nil, false, err
	}
	data, err := w.fs.ReadFile(abs)
	if err != nil {
		if isNotExist(err) {
			return nil, false, nil
		}
		return nil, false, ioErr(rel, err)
	}
	return data, true, nil
}

// Restore applies checkpoint restore operations, bypassing baseline
// recording: a revert must not itself be checkpointed. Returns the
// root-relative paths touched.
func (w *Workspace) Restore(ops []checkpoint.RestoreOp) ([]string, error) {
	paths := make([]string, 0, len(ops))
	for _, op := range ops {
		abs, err := w.Resolve(op.Path)
		if err != nil {
			return paths, err
		}
		unlock := w.locks.lock(abs, true)
		if op.Delete {
			if err := w.fs.Remove(abs); err != nil && !isNotExist(err) {
				unlock()
				return paths, ioErr(op.Path, err)
			}
		} else {
			if err := w.fs.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				unlock()
				return paths, ioErr(op.Path, err)
			}
			if err := w.fs.WriteFile(abs, op.Content, 0o644); err != nil {
				unlock()
				return paths, ioErr(op.Path, err)
			}
		}
		unlock()
		paths = append(paths, op.Path)
	}
	sort.Strings(paths)
	return paths, nil
}

// recordBaseline captures the pre-mutation content of abs under the
// active checkpoint. Safe to call when no checkpoint is open.
func (w *Workspace) recordBaseline(abs string) {
	if !w.Checkpoints.Active() {
		return
	}
	rel := w.Rel(abs)
	data, err := w.fs.ReadFile(abs)
	if err != nil {
		if isNotExist(err) {
			w.Checkpoints.Record(rel, nil, false)
		}
		return
	}
	w.Checkpoints.Record(rel, data, true)
}

// pathLocks provides per-path advisory reader/writer locks so facade
// reads do not race an in-progress tool write. Locks are refcounted and
// removed when released.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	rw   sync.RWMutex
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

func (p *pathLocks) lock(path string, write bool) func() {
	p.mu.Lock()
	l := p.locks[path]
	if l == nil {
		l = &pathLock{}
		p.locks[path] = l
	}
	l.refs++
	p.mu.Unlock()

	if write {
		l.rw.Lock()
	} else {
		l.rw.RLock()
	}
	return func() {
		if write {
			l.rw.Unlock()
		} else {
			l.rw.RUnlock()
		}
		p.mu.Lock()
		l.refs--
		if l.refs <= 0 {
			delete(p.locks, path)
		}
		p.mu.Unlock()
	}
}

// isNotExist recognizes a missing path from either backend: the local
// FS wraps fs.ErrNotExist, the SSH FS can surface a raw SFTP status.
func isNotExist(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var status *sftp.StatusError
	if errors.As(err, &status) {
		return status.FxCode() == sftp.ErrSSHFxNoSuchFile
	}
	return false
}
