package bridge

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/forge/internal/protocol"
	"github.com/haasonsaas/forge/internal/session"
	"github.com/haasonsaas/forge/internal/turn"
)

var errNoSessions = errors.New("no sessions exist; create one first")

// ServeEvents is the event WebSocket: the client sends ClientMessage
// frames, the server streams protocol events. On connect the full
// session history is replayed so a reconnecting client rebuilds its view.
func (s *Server) ServeEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := s.resolveSession(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// SubscribeReplay enqueues the full replay sequence before any live
	// event from a running turn can reach this subscriber.
	c := &eventConn{
		server: s,
		sess:   sess,
		conn:   conn,
		sub:    sess.SubscribeReplay(),
		direct: make(chan protocol.Event, 16),
		done:   make(chan struct{}),
	}
	defer c.close()

	go c.writeLoop()
	c.readLoop()
}

type eventConn struct {
	server *Server
	sess   *session.Session
	conn   *websocket.Conn
	sub    *session.Subscriber

	// direct carries per-connection frames (request errors) that must
	// not be broadcast to other subscribers.
	direct chan protocol.Event
	done   chan struct{}
}

func (c *eventConn) close() {
	close(c.done)
	c.sess.Unsubscribe(c.sub)
	_ = c.conn.Close()
}

func (c *eventConn) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.sub.Events():
			if !ok {
				return
			}
			if !c.writeEvent(ev) {
				return
			}
		case ev := <-c.direct:
			if !c.writeEvent(ev) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *eventConn) writeEvent(ev protocol.Event) bool {
	data, err := ev.Marshal()
	if err != nil {
		c.server.logger.Error("event marshal failed", "type", ev.Type, "error", err)
		return true
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
	return c.conn.WriteMessage(websocket.TextMessage, data) == nil
}

func (c *eventConn) readLoop() {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.reportError(err)
			continue
		}
		if err := c.route(msg); err != nil {
			c.reportError(err)
		}
	}
}

// reportError sends a request failure to this connection only. Turn
// rejections are soft: the session state is untouched.
func (c *eventConn) reportError(err error) {
	select {
	case c.direct <- protocol.Event{Type: protocol.EventError, Content: err.Error()}:
	default:
	}
}

func (c *eventConn) route(msg *protocol.ClientMessage) error {
	switch msg.Type {
	case protocol.ClientTask:
		return c.sess.StartTurn(context.Background(), turn.Input{
			Content: msg.Content,
			Images:  msg.Images,
			Context: msg.Context,
		})
	case protocol.ClientCancel:
		return c.sess.Cancel()
	case protocol.ClientBuild:
		return c.sess.Build(msg.Steps)
	case protocol.ClientReplan:
		return c.sess.Replan(msg.Content)
	case protocol.ClientRejectPlan:
		return c.sess.RejectPlan()
	case protocol.ClientKeep:
		return c.sess.Keep()
	case protocol.ClientRevert:
		return c.sess.Revert()
	case protocol.ClientRevertToStep:
		return c.sess.RevertToStep(msg.Step)
	case protocol.ClientUserAnswer:
		return c.sess.Answer(msg.ToolUseID, msg.Answer)
	case protocol.ClientReset:
		return c.sess.Reset()
	case protocol.ClientCheckpointList:
		c.sess.CheckpointList()
		return nil
	case protocol.ClientCheckpointRestore:
		c.sess.CheckpointRestore(msg.CheckpointID)
		return nil
	case protocol.ClientAddTodo:
		c.sess.AddTodo(msg.Content)
		return nil
	case protocol.ClientRemoveTodo:
		c.sess.RemoveTodo(msg.ID)
		return nil
	default:
		// ParseClientMessage already rejected unknown types.
		return nil
	}
}
