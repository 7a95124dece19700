// Package facade is the HTTP surface the IDE calls outside the event
// stream: file browsing and editing, git state, search, and project and
// session management.
package facade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/forge/internal/bridge"
	"github.com/haasonsaas/forge/internal/remote"
	"github.com/haasonsaas/forge/internal/session"
	"github.com/haasonsaas/forge/internal/workspace"
)

// Server holds the REST handlers.
type Server struct {
	manager  *session.Manager
	projects *session.Projects
	ssh      *remote.Registry
	version  string
	logger   *slog.Logger
}

// New builds the facade. ssh may be nil when remote workspaces are
// disabled.
func New(manager *session.Manager, projects *session.Projects, ssh *remote.Registry, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager:  manager,
		projects: projects,
		ssh:      ssh,
		version:  version,
		logger:   logger,
	}
}

// Router assembles the full HTTP surface, including the WebSocket
// bridge and the Prometheus endpoint.
func (s *Server) Router(b *bridge.Server) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", b.ServeEvents)
	r.Get("/ws/terminal", b.ServeTerminal)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/info", s.handleInfo)

		r.Get("/files", s.handleFiles)
		r.Get("/file", s.handleFileGet)
		r.Put("/file", s.handleFilePut)
		r.Post("/file/delete", s.handleFileDelete)
		r.Post("/file/rename", s.handleFileRename)
		r.Post("/file/mkdir", s.handleFileMkdir)
		r.Get("/file-diff", s.handleFileDiff)

		r.Get("/git-status", s.handleGitStatus)
		r.Get("/git-file-diff", s.handleGitFileDiff)
		r.Get("/git-diff-stats", s.handleGitDiffStats)

		r.Get("/search", s.handleSearch)
		r.Post("/replace", s.handleReplace)
		r.Get("/find-symbol", s.handleFindSymbol)

		r.Get("/projects", s.handleProjects)
		r.Post("/projects/remove", s.handleProjectRemove)
		r.Get("/sessions", s.handleSessions)
		r.Post("/sessions/new", s.handleSessionNew)
		r.Post("/set-directory", s.handleSetDirectory)

		r.Post("/ssh-connect", s.handleSSHConnect)
		r.Get("/ssh-list-dir", s.handleSSHListDir)
	})
	return r
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]any{
		"name":    "forge",
		"version": s.version,
	})
}

// resolveWorkspace finds the workspace for the request's session_id,
// defaulting to the most recently updated session.
func (s *Server) resolveWorkspace(r *http.Request) (*workspace.Workspace, error) {
	sess, err := s.resolveSession(r)
	if err != nil {
		return nil, err
	}
	return sess.Workspace(), nil
}

func (s *Server) resolveSession(r *http.Request) (*session.Session, error) {
	if id := r.URL.Query().Get("session_id"); id != "" {
		return s.manager.Get(id)
	}
	summaries, err := s.manager.List()
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, errors.New("no sessions exist; create one first")
	}
	return s.manager.Get(summaries[0].ID)
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, err error) {
	respond(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps workspace error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch workspace.KindOf(err) {
	case workspace.ENotFound:
		return http.StatusNotFound
	case workspace.EScope:
		return http.StatusForbidden
	case workspace.EAnchorMissing, workspace.EAnchorAmbiguous:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
