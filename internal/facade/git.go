package facade

import (
	"errors"
	"net/http"

	"github.com/haasonsaas/forge/internal/workspace"
)

func (s *Server) handleGitStatus(w http.ResponseWriter, r *http.Request) {
	ws, err := s.resolveWorkspace(r)
	if err != nil {
		fail(w, err)
		return
	}
	statuses, err := ws.Status()
	if errors.Is(err, workspace.ErrNoRepo) {
		respond(w, http.StatusOK, map[string]any{"is_repo": false})
		return
	}
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"is_repo": true, "files": statuses})
}

func (s *Server) handleGitFileDiff(w http.ResponseWriter, r *http.Request) {
	ws, err := s.resolveWorkspace(r)
	if err != nil {
		fail(w, err)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		fail(w, errors.New("path is required"))
		return
	}
	diff, err := ws.GitDiff(path)
	if errors.Is(err, workspace.ErrNoRepo) {
		respond(w, http.StatusOK, map[string]any{"is_repo": false})
		return
	}
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, diff)
}

// handleGitDiffStats sums additions and deletions across the worktree
// against HEAD, the counts the IDE shows in its source-control badge.
func (s *Server) handleGitDiffStats(w http.ResponseWriter, r *http.Request) {
	ws, err := s.resolveWorkspace(r)
	if err != nil {
		fail(w, err)
		return
	}
	statuses, err := ws.Status()
	if errors.Is(err, workspace.ErrNoRepo) {
		respond(w, http.StatusOK, map[string]any{"is_repo": false})
		return
	}
	if err != nil {
		fail(w, err)
		return
	}

	type fileStat struct {
		Path      string `json:"path"`
		Status    string `json:"status"`
		Additions int    `json:"additions"`
		Deletions int    `json:"deletions"`
	}
	out := make([]fileStat, 0, len(statuses))
	additions, deletions := 0, 0
	for _, st := range statuses {
		stat := fileStat{Path: st.Path, Status: st.Status}
		if diff, err := ws.GitDiff(st.Path); err == nil {
			stat.Additions = diff.Additions
			stat.Deletions = diff.Deletions
		}
		additions += stat.Additions
		deletions += stat.Deletions
		out = append(out, stat)
	}
	respond(w, http.StatusOK, map[string]any{
		"is_repo":   true,
		"files":     out,
		"additions": additions,
		"deletions": deletions,
	})
}
