package facade

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/forge/internal/config"
)

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{"projects": s.projects.List()})
}

type projectRemoveRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleProjectRemove(w http.ResponseWriter, r *http.Request) {
	var req projectRemoveRequest
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	if err := s.projects.Remove(req.Path); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"removed": req.Path})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.manager.List()
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"sessions": summaries})
}

type sessionNewRequest struct {
	Dir string `json:"dir"`

	// SSH is "user@host[:port]:/dir" for a remote workspace.
	SSH string `json:"ssh,omitempty"`
}

func (s *Server) handleSessionNew(w http.ResponseWriter, r *http.Request) {
	var req sessionNewRequest
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	workdir, isSSH, err := s.resolveTarget(req.Dir, req.SSH)
	if err != nil {
		fail(w, err)
		return
	}
	sess, err := s.manager.Create(workdir, isSSH)
	if err != nil {
		fail(w, err)
		return
	}
	s.touchProject(workdir, isSSH)
	respond(w, http.StatusOK, map[string]any{
		"session_id":        sess.ID,
		"working_directory": sess.WorkingDirectory,
		"is_ssh":            sess.IsSSH,
	})
}

type setDirectoryRequest struct {
	Dir string `json:"dir"`
	SSH string `json:"ssh,omitempty"`
}

// handleSetDirectory points the IDE at a workspace, reusing the most
// recent session for it or creating one.
func (s *Server) handleSetDirectory(w http.ResponseWriter, r *http.Request) {
	var req setDirectoryRequest
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	workdir, isSSH, err := s.resolveTarget(req.Dir, req.SSH)
	if err != nil {
		fail(w, err)
		return
	}
	sess, err := s.manager.Latest(workdir, isSSH)
	if err != nil {
		fail(w, err)
		return
	}
	s.touchProject(workdir, isSSH)
	respond(w, http.StatusOK, map[string]any{
		"session_id":        sess.ID,
		"working_directory": sess.WorkingDirectory,
		"is_ssh":            sess.IsSSH,
	})
}

// resolveTarget validates a local dir or a composite SSH target and
// returns the canonical working directory string.
func (s *Server) resolveTarget(dir, sshTarget string) (workdir string, isSSH bool, err error) {
	if sshTarget != "" {
		target, err := config.ParseSSHTarget(sshTarget)
		if err != nil {
			return "", false, err
		}
		return target.String(), true, nil
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", false, errors.New("dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", false, fmt.Errorf("directory %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", false, fmt.Errorf("%s is not a directory", abs)
	}
	return abs, false, nil
}

func (s *Server) touchProject(workdir string, isSSH bool) {
	sshInfo := ""
	if isSSH {
		if target, err := config.ParseSSHTarget(workdir); err == nil {
			sshInfo = fmt.Sprintf("%s@%s:%d", target.User, target.Host, target.Port)
		}
	}
	if err := s.projects.Touch(workdir, isSSH, sshInfo); err != nil {
		s.logger.Warn("projects registry update failed", "error", err)
	}
}

type sshConnectRequest struct {
	// SSH is "user@host[:port]:/dir".
	SSH string `json:"ssh"`
}

// handleSSHConnect establishes (or reuses) the SSH connection for a
// target so the IDE can browse before opening a session.
func (s *Server) handleSSHConnect(w http.ResponseWriter, r *http.Request) {
	if s.ssh == nil {
		fail(w, errors.New("ssh workspaces are disabled"))
		return
	}
	var req sshConnectRequest
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	target, err := config.ParseSSHTarget(req.SSH)
	if err != nil {
		fail(w, err)
		return
	}
	if _, err := s.ssh.Connect(target); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"connected": true,
		"target":    target.String(),
	})
}

// handleSSHListDir lists a remote directory over the cached connection.
func (s *Server) handleSSHListDir(w http.ResponseWriter, r *http.Request) {
	if s.ssh == nil {
		fail(w, errors.New("ssh workspaces are disabled"))
		return
	}
	target, err := config.ParseSSHTarget(r.URL.Query().Get("target"))
	if err != nil {
		fail(w, err)
		return
	}
	client, ok := s.ssh.Get(target)
	if !ok {
		fail(w, errors.New("not connected; call /api/ssh-connect first"))
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = target.Dir
	}
	entries, err := client.ListDir(path)
	if err != nil {
		fail(w, err)
		return
	}
	type entry struct {
		Name  string `json:"name"`
		IsDir bool   `json:"is_dir"`
	}
	out := make([]entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, entry{Name: e.Name(), IsDir: e.IsDir()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDir != out[j].IsDir {
			return out[i].IsDir
		}
		return out[i].Name < out[j].Name
	})
	respond(w, http.StatusOK, map[string]any{"path": path, "entries": out})
}
