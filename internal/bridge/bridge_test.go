package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/protocol"
	"github.com/haasonsaas/forge/internal/session"
	"github.com/haasonsaas/forge/internal/turn"
	"github.com/haasonsaas/forge/internal/workspace"
)

// echoProvider answers every model call with one text response.
type echoProvider struct{}

func (echoProvider) Stream(ctx context.Context, req agent.Request) (<-chan agent.Chunk, error) {
	ch := make(chan agent.Chunk, 2)
	ch <- agent.Chunk{Type: agent.ChunkText, Text: "acknowledged"}
	ch <- agent.Chunk{Type: agent.ChunkDone, Usage: agent.Usage{InputTokens: 4, OutputTokens: 2}}
	close(ch)
	return ch, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, terminal TerminalFactory) (*httptest.Server, *session.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	newWorkspace := func(workdir string, isSSH bool) (*workspace.Workspace, error) {
		return workspace.New(workdir, workspace.LocalFS{}, logger)
	}
	newEngine := func(s *session.Session) (*turn.Engine, error) {
		reg := agent.NewRegistry()
		return &turn.Engine{
			Provider:      echoProvider{},
			Registry:      reg,
			Executor:      agent.NewExecutor(reg, agent.ExecConfig{}, nil, logger),
			WS:            s.Workspace(),
			Host:          s,
			Workdir:       s.Workspace().Root(),
			ContextWindow: 200000,
			Logger:        logger,
		}, nil
	}
	manager := session.NewManager(t.TempDir(), newWorkspace, newEngine, logger, nil)

	bridge := NewServer(manager, terminal, logger)
	mux := http.NewServeMux()
	bridge.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, manager
}

func dialEvents(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if sessionID != "" {
		url += "?session_id=" + sessionID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil collects events until the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, until string) []protocol.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var events []protocol.Event
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %q, saw %d events", until, len(events))
		var ev protocol.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		events = append(events, ev)
		if ev.Type == until {
			return events
		}
	}
}

func TestServeEventsReplaysAndRunsTask(t *testing.T) {
	srv, manager := newTestServer(t)
	sess, err := manager.Create(t.TempDir(), false)
	require.NoError(t, err)

	conn := dialEvents(t, srv, sess.ID)

	events := readUntil(t, conn, protocol.EventResumed)
	assert.Equal(t, protocol.EventInit, events[0].Type)
	assert.Equal(t, sess.ID, events[0].Data["session_id"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "task",
		"content": "explain the project layout",
	}))

	events = readUntil(t, conn, protocol.EventDone)
	var sawText bool
	for _, ev := range events {
		if ev.Type == protocol.EventText && ev.Content == "acknowledged" {
			sawText = true
		}
	}
	assert.True(t, sawText, "model text streams to the client")
}

func TestServeEventsReconnectReplaysHistory(t *testing.T) {
	srv, manager := newTestServer(t)
	sess, err := manager.Create(t.TempDir(), false)
	require.NoError(t, err)

	conn := dialEvents(t, srv, sess.ID)
	readUntil(t, conn, protocol.EventResumed)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "task", "content": "explain it"}))
	readUntil(t, conn, protocol.EventDone)
	conn.Close()

	// A second connection sees the finished exchange in replay.
	conn2 := dialEvents(t, srv, sess.ID)
	events := readUntil(t, conn2, protocol.EventResumed)

	var sawUser, sawText bool
	for _, ev := range events {
		switch ev.Type {
		case protocol.EventReplayUser:
			sawUser = ev.Content == "explain it"
		case protocol.EventReplayText:
			sawText = ev.Content == "acknowledged"
		}
	}
	assert.True(t, sawUser)
	assert.True(t, sawText)

	resumed := events[len(events)-1]
	require.NotNil(t, resumed.AgentRunning)
	assert.False(t, *resumed.AgentRunning)
}

func TestServeEventsReportsRequestErrors(t *testing.T) {
	srv, manager := newTestServer(t)
	sess, err := manager.Create(t.TempDir(), false)
	require.NoError(t, err)

	conn := dialEvents(t, srv, sess.ID)
	readUntil(t, conn, protocol.EventResumed)

	// keep without a running turn is a soft rejection on this connection.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "keep"}))
	events := readUntil(t, conn, protocol.EventError)
	assert.Contains(t, events[len(events)-1].Content, "no turn is running")

	// Malformed frames are rejected the same way.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"task"}`)))
	events = readUntil(t, conn, protocol.EventError)
	assert.Contains(t, events[len(events)-1].Content, "task requires content")
}

func TestServeEventsNoSession(t *testing.T) {
	srv, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeEventsUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session_id=missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
