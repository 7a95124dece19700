package facade

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/haasonsaas/forge/internal/tools/files"
	"github.com/haasonsaas/forge/internal/workspace"
)

// maxEditorFileBytes caps reads served to the editor pane.
const maxEditorFileBytes = 5_000_000

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	ws, err := s.resolveWorkspace(r)
	if err != nil {
		fail(w, err)
		return
	}
	entries, err := ws.List(r.URL.Query().Get("path"))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request) {
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
	data, err := ws.Read(path, 0, 0)
	if err != nil {
		fail(w, err)
		return
	}
	truncated := false
	if len(data) > maxEditorFileBytes {
		data = data[:maxEditorFileBytes]
		truncated = true
	}
	respond(w, http.StatusOK, map[string]any{
		"path":      path,
		"content":   string(data),
		"truncated": truncated,
	})
}

type filePutRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (s *Server) handleFilePut(w http.ResponseWriter, r *http.Request) {
	ws, err := s.resolveWorkspace(r)
	if err != nil {
		fail(w, err)
		return
	}
	var req filePutRequest
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		fail(w, errors.New("path is required"))
		return
	}
	if err := ws.Write(req.Path, []byte(req.Content)); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"path": req.Path, "saved": true})
}

type filePathRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	ws, err := s.resolveWorkspace(r)
	if err != nil {
		fail(w, err)
		return
	}
	var req filePathRequest
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	if err := ws.Delete(req.Path); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"path": req.Path, "deleted": true})
}

type fileRenameRequest struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

func (s *Server) handleFileRename(w http.ResponseWriter, r *http.Request) {
	ws, err := s.resolveWorkspace(r)
	if err != nil {
		fail(w, err)
		return
	}
	var req fileRenameRequest
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	if err := ws.Rename(req.OldPath, req.NewPath); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"old_path": req.OldPath, "new_path": req.NewPath})
}

func (s *Server) handleFileMkdir(w http.ResponseWriter, r *http.Request) {
	ws, err := s.resolveWorkspace(r)
	if err != nil {
		fail(w, err)
		return
	}
	var req filePathRequest
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	if err := ws.Mkdir(req.Path); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"path": req.Path, "created": true})
}

// handleFileDiff diffs a file against its earliest checkpoint baseline
// of the session, falling back to the git HEAD diff when the agent
// never touched it.
func (s *Server) handleFileDiff(w http.ResponseWriter, r *http.Request) {
	sess, err := s.resolveSession(r)
	if err != nil {
		fail(w, err)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		fail(w, errors.New("path is required"))
		return
	}
	ws := sess.Workspace()

	for _, cp := range ws.Checkpoints.List() {
		before, baseline, ok := ws.Checkpoints.Baseline(cp, path)
		if !ok {
			continue
		}
		current, exists, err := ws.Current(path)
		if err != nil {
			fail(w, err)
			return
		}
		respond(w, http.StatusOK, workspace.FileDiff(path, before, baseline.Existed, current, exists))
		return
	}

	diff, err := ws.GitDiff(path)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, diff)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ws, err := s.resolveWorkspace(r)
	if err != nil {
		fail(w, err)
		return
	}
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		fail(w, errors.New("pattern is required"))
		return
	}
	matches, err := ws.Grep(pattern, r.URL.Query().Get("include"))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *Server) handleFindSymbol(w http.ResponseWriter, r *http.Request) {
	ws, err := s.resolveWorkspace(r)
	if err != nil {
		fail(w, err)
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		fail(w, errors.New("name is required"))
		return
	}
	matches, err := files.FindSymbol(ws, name, r.URL.Query().Get("include"))
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"matches": matches})
}

type replaceRequest struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`
	Include     string `json:"include,omitempty"`
}

// handleReplace applies a regex substitution across matching files.
// Writes go through the workspace so an active checkpoint still records
// baselines.
func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	ws, err := s.resolveWorkspace(r)
	if err != nil {
		fail(w, err)
		return
	}
	var req replaceRequest
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	re, err := regexp.Compile(req.Pattern)
	if err != nil {
		fail(w, err)
		return
	}
	matches, err := ws.Grep(req.Pattern, req.Include)
	if err != nil {
		fail(w, err)
		return
	}

	seen := make(map[string]bool)
	changed := 0
	replaced := 0
	for _, m := range matches {
		if seen[m.Path] {
			continue
		}
		seen[m.Path] = true
		data, err := ws.Read(m.Path, 0, 0)
		if err != nil {
			continue
		}
		count := len(re.FindAllIndex(data, -1))
		if count == 0 {
			continue
		}
		updated := re.ReplaceAll(data, []byte(req.Replacement))
		if err := ws.Write(m.Path, updated); err != nil {
			fail(w, err)
			return
		}
		changed++
		replaced += count
	}
	respond(w, http.StatusOK, map[string]any{
		"files_changed": changed,
		"replacements":  replaced,
	})
}
