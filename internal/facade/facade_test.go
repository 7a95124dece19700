package facade

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/bridge"
	"github.com/haasonsaas/forge/internal/session"
	"github.com/haasonsaas/forge/internal/turn"
	"github.com/haasonsaas/forge/internal/workspace"
)

type silentProvider struct{}

func (silentProvider) Stream(ctx context.Context, req agent.Request) (<-chan agent.Chunk, error) {
	ch := make(chan agent.Chunk, 1)
	ch <- agent.Chunk{Type: agent.ChunkDone}
	close(ch)
	return ch, nil
}

// newTestFacade stands up the full router over a manager with one
// session and returns the server plus that session.
func newTestFacade(t *testing.T) (*httptest.Server, *session.Session) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	newWorkspace := func(workdir string, isSSH bool) (*workspace.Workspace, error) {
		return workspace.New(workdir, workspace.LocalFS{}, logger)
	}
	newEngine := func(s *session.Session) (*turn.Engine, error) {
		reg := agent.NewRegistry()
		return &turn.Engine{
			Provider: silentProvider{},
			Registry: reg,
			Executor: agent.NewExecutor(reg, agent.ExecConfig{}, nil, logger),
			WS:       s.Workspace(),
			Host:     s,
			Workdir:  s.Workspace().Root(),
			Logger:   logger,
		}, nil
	}
	stateDir := t.TempDir()
	manager := session.NewManager(stateDir, newWorkspace, newEngine, logger, nil)
	sess, err := manager.Create(t.TempDir(), false)
	require.NoError(t, err)

	projects, err := session.LoadProjects(stateDir)
	require.NoError(t, err)

	facade := New(manager, projects, nil, "test", logger)
	b := bridge.NewServer(manager, nil, logger)
	srv := httptest.NewServer(facade.Router(b))
	t.Cleanup(srv.Close)
	return srv, sess
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func sendJSON(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestInfoEndpoint(t *testing.T) {
	srv, _ := newTestFacade(t)
	var info map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/info", &info))
	assert.Equal(t, "forge", info["name"])
	assert.Equal(t, "test", info["version"])
}

func TestFileRoundTrip(t *testing.T) {
	srv, _ := newTestFacade(t)

	status := sendJSON(t, srv, http.MethodPut, "/api/file",
		map[string]string{"path": "notes/draft.md", "content": "# Draft\n"}, nil)
	require.Equal(t, http.StatusOK, status)

	var got struct {
		Path      string `json:"path"`
		Content   string `json:"content"`
		Truncated bool   `json:"truncated"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/file?path=notes/draft.md", &got))
	assert.Equal(t, "# Draft\n", got.Content)
	assert.False(t, got.Truncated)

	var listing struct {
		Entries []workspace.Entry `json:"entries"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/files?path=notes", &listing))
	require.Len(t, listing.Entries, 1)
	assert.Equal(t, "draft.md", listing.Entries[0].Name)

	status = sendJSON(t, srv, http.MethodPost, "/api/file/rename",
		map[string]string{"old_path": "notes/draft.md", "new_path": "notes/final.md"}, nil)
	require.Equal(t, http.StatusOK, status)

	status = sendJSON(t, srv, http.MethodPost, "/api/file/delete",
		map[string]string{"path": "notes/final.md"}, nil)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv, "/api/file?path=notes/final.md", nil))
}

func TestFileScopeViolation(t *testing.T) {
	srv, _ := newTestFacade(t)
	status := sendJSON(t, srv, http.MethodPut, "/api/file",
		map[string]string{"path": "../outside.txt", "content": "x"}, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestSearchAndReplace(t *testing.T) {
	srv, sess := newTestFacade(t)
	ws := sess.Workspace()
	require.NoError(t, ws.Write("a.go", []byte("var color = 1\nvar colour = 2\n")))
	require.NoError(t, ws.Write("b.go", []byte("var colour = 3\n")))

	var search struct {
		Matches []workspace.Match `json:"matches"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/search?pattern=colour", &search))
	assert.Len(t, search.Matches, 2)

	var replaced struct {
		FilesChanged int `json:"files_changed"`
		Replacements int `json:"replacements"`
	}
	status := sendJSON(t, srv, http.MethodPost, "/api/replace",
		map[string]string{"pattern": "colour", "replacement": "color"}, &replaced)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, replaced.FilesChanged)
	assert.Equal(t, 2, replaced.Replacements)

	data, err := ws.Read("b.go", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "var color = 3\n", string(data))
}

func TestFileDiffUsesCheckpointBaseline(t *testing.T) {
	srv, sess := newTestFacade(t)
	ws := sess.Workspace()

	require.NoError(t, ws.Write("main.go", []byte("package main\n")))
	ws.Checkpoints.Open("turn", 0)
	require.NoError(t, ws.Write("main.go", []byte("package main\n\nfunc main() {}\n")))
	ws.Checkpoints.Seal()

	var diff struct {
		Label     string `json:"label"`
		Additions int    `json:"additions"`
		Deletions int    `json:"deletions"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/file-diff?path=main.go", &diff))
	assert.Equal(t, workspace.LabelModified, diff.Label)
	assert.Equal(t, 2, diff.Additions)
	assert.Zero(t, diff.Deletions)
}

func TestGitStatusOutsideRepo(t *testing.T) {
	srv, _ := newTestFacade(t)
	var status struct {
		IsRepo bool `json:"is_repo"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/git-status", &status))
	assert.False(t, status.IsRepo)
}

func TestSessionsEndpoints(t *testing.T) {
	srv, sess := newTestFacade(t)

	var list struct {
		Sessions []session.Summary `json:"sessions"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/sessions", &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, sess.ID, list.Sessions[0].ID)

	var created struct {
		SessionID        string `json:"session_id"`
		WorkingDirectory string `json:"working_directory"`
	}
	dir := t.TempDir()
	status := sendJSON(t, srv, http.MethodPost, "/api/sessions/new",
		map[string]string{"dir": dir}, &created)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, dir, created.WorkingDirectory)
	assert.NotEqual(t, sess.ID, created.SessionID)

	// The project registry picked up the new workspace.
	var projects struct {
		Projects []session.Project `json:"projects"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv, "/api/projects", &projects))
	require.Len(t, projects.Projects, 1)
	assert.Equal(t, dir, projects.Projects[0].Path)
}

func TestSessionNewRejectsBadDir(t *testing.T) {
	srv, _ := newTestFacade(t)
	status := sendJSON(t, srv, http.MethodPost, "/api/sessions/new",
		map[string]string{"dir": "/definitely/not/a/real/dir"}, nil)
	assert.Equal(t, http.StatusInternalServerError, status)

	status = sendJSON(t, srv, http.MethodPost, "/api/sessions/new",
		map[string]string{"dir": ""}, nil)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestSSHEndpointsDisabled(t *testing.T) {
	srv, _ := newTestFacade(t)
	status := sendJSON(t, srv, http.MethodPost, "/api/ssh-connect",
		map[string]string{"ssh": "dev@box:/srv"}, nil)
	assert.Equal(t, http.StatusInternalServerError, status)
}
