package workspace

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitStatus is one changed path from `git status` semantics.
type GitStatus struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// ErrNoRepo is returned by git operations when the workspace root is not
// inside a git repository, or is a remote workspace.
var ErrNoRepo = errors.New("workspace is not a git repository")

// openRepo opens the repository at the workspace root. Remote (SSH)
// workspaces have no local repository to open.
func (w *Workspace) openRepo() (*git.Repository, error) {
	if _, ok := w.fs.(LocalFS); !ok {
		return nil, ErrNoRepo
	}
	repo, err := git.PlainOpenWithOptions(w.root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNoRepo
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

// Status returns the worktree status relative to HEAD, sorted by path.
func (w *Workspace) Status() ([]GitStatus, error) {
	repo, err := w.openRepo()
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	out := make([]GitStatus, 0, len(status))
	for path, s := range status {
		code := string(s.Staging)
		if s.Staging == git.Unmodified || s.Staging == git.Untracked {
			code = string(s.Worktree)
		}
		out = append(out, GitStatus{Path: path, Status: code})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// HeadContent returns the HEAD blob for a root-relative path, and
// whether the path is tracked at HEAD.
func (w *Workspace) HeadContent(rel string) ([]byte, bool, error) {
	repo, err := w.openRepo()
	if err != nil {
		return nil, false, err
	}
	head, err := repo.Head()
	if err != nil {
		return nil, false, nil // unborn HEAD: everything is new
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, false, fmt.Errorf("head commit: %w", err)
	}
	file, err := commit.File(rel)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("head file %s: %w", rel, err)
	}
	reader, err := file.Blob.Reader()
	if err != nil {
		return nil, false, fmt.Errorf("head blob %s: %w", rel, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("read head blob %s: %w", rel, err)
	}
	return data, true, nil
}

// GitDiff diffs a path's worktree content against HEAD.
func (w *Workspace) GitDiff(rel string) (*DiffResult, error) {
	headData, tracked, err := w.HeadContent(rel)
	if err != nil {
		return nil, err
	}
	current, exists, err := w.Current(rel)
	if err != nil {
		return nil, err
	}
	return FileDiff(rel, headData, tracked, current, exists), nil
}
