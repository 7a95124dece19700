// Package bridge is the WebSocket transport between the backend and the
// IDE: the event channel carrying the turn protocol, and the terminal
// channel multiplexing an interactive PTY.
package bridge

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/forge/internal/session"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingInterval    = 25 * time.Second
)

// Server holds the WebSocket handlers. Register mounts them on a mux.
type Server struct {
	manager  *session.Manager
	terminal TerminalFactory
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer builds the bridge. terminal may be nil when the deployment
// has no shell access.
func NewServer(manager *session.Manager, terminal TerminalFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager:  manager,
		terminal: terminal,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			// The IDE is served from its own dev origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the bridge endpoints.
func (s *Server) Register(mux interface {
	HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request))
}) {
	mux.HandleFunc("/ws", s.ServeEvents)
	mux.HandleFunc("/ws/terminal", s.ServeTerminal)
}

// resolveSession finds the session named by the request, falling back to
// the most recent one for the requested directory.
func (s *Server) resolveSession(r *http.Request) (*session.Session, error) {
	if id := r.URL.Query().Get("session_id"); id != "" {
		return s.manager.Get(id)
	}
	summaries, err := s.manager.List()
	if err != nil {
		return nil, err
	}
	if len(summaries) > 0 {
		return s.manager.Get(summaries[0].ID)
	}
	return nil, errNoSessions
}
