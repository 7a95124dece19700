package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
)

// Terminal is an interactive shell attached to a PTY. Both the local
// and the SSH implementations satisfy it.
type Terminal interface {
	io.ReadWriteCloser
	Resize(cols, rows int) error
}

// TerminalFactory spawns a terminal rooted at a workspace directory.
type TerminalFactory func(workdir string, cols, rows int) (Terminal, error)

// localTerminal runs the user's shell on a local PTY.
type localTerminal struct {
	cmd  *exec.Cmd
	ptmx *os.File
}

// NewLocalTerminal is the TerminalFactory for local workspaces.
func NewLocalTerminal(workdir string, cols, rows int) (Terminal, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.Command(shell, "-l")
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("start shell: %w", err)
	}
	return &localTerminal{cmd: cmd, ptmx: ptmx}, nil
}

func (t *localTerminal) Read(p []byte) (int, error)  { return t.ptmx.Read(p) }
func (t *localTerminal) Write(p []byte) (int, error) { return t.ptmx.Write(p) }

func (t *localTerminal) Resize(cols, rows int) error {
	return pty.Setsize(t.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (t *localTerminal) Close() error {
	_ = t.ptmx.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	return t.cmd.Wait()
}

// terminalControl is an inbound text frame on the terminal socket.
// Binary frames are raw keyboard input; the only control message is
// {"resize": [rows, cols]}.
type terminalControl struct {
	Resize []int `json:"resize"`
}

// ServeTerminal multiplexes one PTY over a WebSocket: binary frames
// both ways for terminal I/O, text frames for control. A {"type":
// "ready"} frame is sent once the shell has spawned.
func (s *Server) ServeTerminal(w http.ResponseWriter, r *http.Request) {
	if s.terminal == nil {
		http.Error(w, "terminal access is disabled", http.StatusForbidden)
		return
	}
	sess, err := s.resolveSession(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	cols := queryInt(r, "cols", 80)
	rows := queryInt(r, "rows", 24)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	term, err := s.terminal(sess.WorkingDirectory, cols, rows)
	if err != nil {
		s.logger.Error("terminal spawn failed", "session_id", sess.ID, "error", err)
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"error","content":`+strconv.Quote(err.Error())+`}`))
		return
	}
	defer term.Close()

	var writeMu sync.Mutex
	writeFrame := func(messageType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
		return conn.WriteMessage(messageType, data)
	}

	if err := writeFrame(websocket.TextMessage, []byte(`{"type":"ready"}`)); err != nil {
		return
	}

	// PTY output to the socket.
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 16*1024)
		for {
			n, err := term.Read(buf)
			if n > 0 {
				if werr := writeFrame(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Socket input to the PTY.
	for {
		select {
		case <-done:
			return
		default:
		}
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			if _, err := term.Write(data); err != nil {
				return
			}
		case websocket.TextMessage:
			var ctl terminalControl
			if err := json.Unmarshal(data, &ctl); err == nil && len(ctl.Resize) == 2 {
				if err := term.Resize(ctl.Resize[1], ctl.Resize[0]); err != nil {
					s.logger.Warn("terminal resize failed", "error", err)
				}
				continue
			}
			// Clients that cannot send binary frames deliver keystrokes
			// as text; anything that is not a control message is input.
			if _, err := term.Write(data); err != nil {
				return
			}
		}
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
