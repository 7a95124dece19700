package remote

import (
	"io"
	"io/fs"
	"path"

	"github.com/pkg/sftp"
)

// FS adapts the SFTP session to the workspace filesystem interface.
// Paths are absolute on the remote host and slash-separated.
type FS struct {
	client *sftp.Client
}

// NewFS returns the workspace filesystem backed by the client's SFTP
// session.
func NewFS(c *Client) *FS {
	return &FS{client: c.sftp}
}

func (f *FS) ReadFile(p string) ([]byte, error) {
	file, err := f.client.Open(p)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (f *FS) WriteFile(p string, data []byte, perm fs.FileMode) error {
	file, err := f.client.Create(p)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return f.client.Chmod(p, perm)
}

func (f *FS) Remove(p string) error { return f.client.Remove(p) }

func (f *FS) Rename(oldPath, newPath string) error {
	// POSIX rename overwrites an existing target; plain SFTP rename does
	// not, so use the openssh extension when the server offers it.
	if err := f.client.PosixRename(oldPath, newPath); err == nil {
		return nil
	}
	return f.client.Rename(oldPath, newPath)
}

func (f *FS) MkdirAll(p string, _ fs.FileMode) error { return f.client.MkdirAll(p) }

func (f *FS) Stat(p string) (fs.FileInfo, error) { return f.client.Stat(p) }

func (f *FS) ReadDir(p string) ([]fs.DirEntry, error) {
	infos, err := f.client.ReadDir(p)
	if err != nil {
		return nil, err
	}
	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = fs.FileInfoToDirEntry(info)
	}
	return entries, nil
}

// RealPath canonicalizes through the server. Nonexistent paths resolve
// their deepest existing ancestor so to-be-created files still pass the
// workspace scope check.
func (f *FS) RealPath(p string) (string, error) {
	resolved, err := f.client.RealPath(p)
	if err == nil {
		return resolved, nil
	}
	dir, base := path.Split(path.Clean(p))
	dir = path.Clean(dir)
	if dir == p || dir == "." {
		return p, nil
	}
	resolvedDir, err := f.RealPath(dir)
	if err != nil {
		return "", err
	}
	return path.Join(resolvedDir, base), nil
}
