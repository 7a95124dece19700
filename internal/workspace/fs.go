package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
)

// FS abstracts the filesystem under a workspace so local directories and
// SSH-mounted remotes share one implementation of the tool surface.
// All paths are absolute on the target system.
type FS interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm fs.FileMode) error
	Remove(path string) error
	Rename(oldPath, newPath string) error
	MkdirAll(path string, perm fs.FileMode) error
	Stat(path string) (fs.FileInfo, error)
	ReadDir(path string) ([]fs.DirEntry, error)

	// RealPath resolves symlinks to the canonical absolute path. Paths
	// that do not exist resolve their deepest existing ancestor.
	RealPath(path string) (string, error)
}

// LocalFS implements FS on the local filesystem.
type LocalFS struct{}

func (LocalFS) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (LocalFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (LocalFS) Remove(path string) error { return os.Remove(path) }

func (LocalFS) Rename(oldPath, newPath string) error { return os.Rename(oldPath, newPath) }

func (LocalFS) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }

func (LocalFS) Stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

func (LocalFS) ReadDir(path string) ([]fs.DirEntry, error) { return os.ReadDir(path) }

func (LocalFS) RealPath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	// Resolve the deepest existing ancestor and reattach the remainder,
	// so paths about to be created still get scope-checked.
	dir, base := filepath.Split(filepath.Clean(path))
	dir = filepath.Clean(dir)
	if dir == path {
		return path, nil
	}
	resolvedDir, err := LocalFS{}.RealPath(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}
