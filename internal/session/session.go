// Package session owns the durable unit of the backend: conversation
// history, todos, pending plan and diffs, checkpoints, and the one
// in-flight turn. A manager maps session ids to sessions and persists
// them as JSON files with debounced writes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/internal/protocol"
	"github.com/haasonsaas/forge/internal/tools/todo"
	"github.com/haasonsaas/forge/internal/turn"
	"github.com/haasonsaas/forge/internal/workspace"
)

var (
	// ErrTurnRunning rejects a second task while one is in flight.
	ErrTurnRunning = errors.New("a turn is already running; cancel it first")

	// ErrAwaitingReview rejects a new task while diffs await keep/revert.
	ErrAwaitingReview = errors.New("changes are awaiting keep or revert; answer first")

	// ErrNoTurn rejects turn interactions when nothing is running.
	ErrNoTurn = errors.New("no turn is running")
)

// Session is the durable unit of concurrency: one workspace, one
// conversation, at most one in-flight turn.
type Session struct {
	ID               string
	WorkingDirectory string
	IsSSH            bool

	mu           sync.Mutex
	name         string
	createdAt    time.Time
	updatedAt    time.Time
	history      []agent.Message
	pendingPlan  *turn.Plan
	pendingDiffs []protocol.FileDiff
	tokenStats   protocol.Usage
	agentRunning bool

	subscribers map[*Subscriber]struct{}

	ws      *workspace.Workspace
	todos   *todo.Store
	engine  *turn.Engine
	active  *turn.Turn
	watcher *workspace.Watcher

	// schedulePersist is the manager's debounced writer; persistNow is
	// the synchronous flush used before terminal events.
	schedulePersist func()
	persistNow      func()

	metrics *observability.Metrics
	logger  *slog.Logger
}

func newSession(id, workdir string, isSSH bool, ws *workspace.Workspace, logger *slog.Logger, metrics *observability.Metrics) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		ID:               id,
		WorkingDirectory: workdir,
		IsSSH:            isSSH,
		createdAt:        time.Now(),
		updatedAt:        time.Now(),
		subscribers:      make(map[*Subscriber]struct{}),
		ws:               ws,
		metrics:          metrics,
		logger:           logger.With("session_id", id),
		schedulePersist:  func() {},
		persistNow:       func() {},
	}
	s.todos = todo.NewStore(func(items []protocol.TodoItem) {
		s.Emit(protocol.Event{Type: protocol.EventTodosUpdated, Todos: items})
		s.touch()
	})
	return s
}

// AttachEngine wires the turn engine after construction. The engine
// needs the session as its Host, so the two are built in sequence.
func (s *Session) AttachEngine(e *turn.Engine) {
	s.mu.Lock()
	s.engine = e
	s.mu.Unlock()
}

// Workspace returns the session's workspace.
func (s *Session) Workspace() *workspace.Workspace { return s.ws }

// Todos returns the session's todo store.
func (s *Session) Todos() *todo.Store { return s.todos }

// Subscribe attaches a client to the event stream.
func (s *Session) Subscribe() *Subscriber {
	sub := NewSubscriber()
	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

// Unsubscribe detaches and closes the subscriber.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.mu.Lock()
	delete(s.subscribers, sub)
	s.mu.Unlock()
	sub.Close()
}

// Emit fans an event out to every subscriber without blocking; slow
// subscribers drop events. State-changing events also schedule a
// persistence write.
func (s *Session) Emit(ev protocol.Event) {
	s.mu.Lock()
	subs := make([]*Subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.EventsEmitted.WithLabelValues(ev.Type).Inc()
	}
	for _, sub := range subs {
		if !sub.send(ev) && s.metrics != nil {
			s.metrics.EventsDropped.Inc()
		}
	}
	s.schedulePersist()
}

// AppendHistory implements turn.Host.
func (s *Session) AppendHistory(msg agent.Message) {
	s.mu.Lock()
	s.history = append(s.history, msg)
	s.updatedAt = time.Now()
	s.mu.Unlock()
	s.schedulePersist()
}

// History implements turn.Host with a snapshot copy.
func (s *Session) History() []agent.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]agent.Message(nil), s.history...)
}

// SetPendingPlan implements turn.Host.
func (s *Session) SetPendingPlan(p *turn.Plan) {
	s.mu.Lock()
	s.pendingPlan = p
	s.updatedAt = time.Now()
	s.mu.Unlock()
	s.schedulePersist()
}

// PendingPlan returns the plan awaiting a decision, if any.
func (s *Session) PendingPlan() *turn.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingPlan
}

// SetPendingDiffs implements turn.Host.
func (s *Session) SetPendingDiffs(diffs []protocol.FileDiff) {
	s.mu.Lock()
	s.pendingDiffs = diffs
	s.updatedAt = time.Now()
	s.mu.Unlock()
	s.schedulePersist()
}

// PendingDiffs returns the diffs awaiting keep/revert, if any.
func (s *Session) PendingDiffs() []protocol.FileDiff {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.FileDiff(nil), s.pendingDiffs...)
}

// AddUsage implements turn.Host.
func (s *Session) AddUsage(usage agent.Usage, contextPercent float64) {
	s.mu.Lock()
	s.tokenStats.InputTokens += usage.InputTokens
	s.tokenStats.OutputTokens += usage.OutputTokens
	s.tokenStats.CacheReadTokens += usage.CacheReadTokens
	s.tokenStats.ContextPercent = contextPercent
	s.mu.Unlock()
	s.schedulePersist()
}

// TokenStats returns accumulated usage.
func (s *Session) TokenStats() protocol.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenStats
}

// Name implements turn.Host.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName implements turn.Host.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.updatedAt = time.Now()
	s.mu.Unlock()
	s.schedulePersist()
}

// Flush implements turn.Host: synchronous durable write.
func (s *Session) Flush() { s.persistNow() }

// AgentRunning reports whether a turn is in flight.
func (s *Session) AgentRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentRunning
}

func (s *Session) touch() {
	s.mu.Lock()
	s.updatedAt = time.Now()
	s.mu.Unlock()
	s.schedulePersist()
}

// StartTurn begins a new turn for the user message. Exactly one turn
// runs at a time; tasks during review or a running turn are rejected
// with soft errors the bridge reports as status events.
func (s *Session) StartTurn(ctx context.Context, input turn.Input) error {
	s.mu.Lock()
	if s.agentRunning {
		s.mu.Unlock()
		return ErrTurnRunning
	}
	if len(s.pendingDiffs) > 0 {
		s.mu.Unlock()
		return ErrAwaitingReview
	}
	if s.engine == nil {
		s.mu.Unlock()
		return fmt.Errorf("session %s has no engine attached", s.ID)
	}
	t := s.engine.NewTurn()
	s.active = t
	s.agentRunning = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.agentRunning = false
			s.active = nil
			s.mu.Unlock()
			s.schedulePersist()
		}()
		t.Run(ctx, input)
	}()
	return nil
}

// activeTurn returns the running turn or ErrNoTurn.
func (s *Session) activeTurn() (*turn.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, ErrNoTurn
	}
	return s.active, nil
}

// Cancel fires the running turn's cancel token, if any.
func (s *Session) Cancel() error {
	t, err := s.activeTurn()
	if err != nil {
		return err
	}
	t.Cancel()
	return nil
}

// Build, Replan, RejectPlan, Keep, Revert, RevertToStep, and Answer
// forward interaction messages into the suspended turn.

func (s *Session) Build(steps []string) error {
	t, err := s.activeTurn()
	if err != nil {
		return err
	}
	return t.Build(steps)
}

func (s *Session) Replan(content string) error {
	t, err := s.activeTurn()
	if err != nil {
		return err
	}
	return t.Replan(content)
}

func (s *Session) RejectPlan() error {
	t, err := s.activeTurn()
	if err != nil {
		return err
	}
	return t.RejectPlan()
}

func (s *Session) Keep() error {
	t, err := s.activeTurn()
	if err != nil {
		return err
	}
	return t.Keep()
}

func (s *Session) Revert() error {
	t, err := s.activeTurn()
	if err != nil {
		return err
	}
	return t.Revert()
}

func (s *Session) RevertToStep(step int) error {
	t, err := s.activeTurn()
	if err != nil {
		return err
	}
	return t.RevertToStep(step)
}

func (s *Session) Answer(toolUseID, answer string) error {
	t, err := s.activeTurn()
	if err != nil {
		return err
	}
	return t.Answer(toolUseID, answer)
}

// Reset clears history, todos, pending state, and checkpoints while
// preserving identity and working directory.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.agentRunning {
		s.mu.Unlock()
		return ErrTurnRunning
	}
	s.history = nil
	s.pendingPlan = nil
	s.pendingDiffs = nil
	s.tokenStats = protocol.Usage{}
	s.updatedAt = time.Now()
	s.mu.Unlock()

	s.todos.Load(nil)
	s.ws.Checkpoints.Reset()
	s.persistNow()
	s.Emit(protocol.Event{Type: protocol.EventResetDone})
	return nil
}

// CheckpointList emits the checkpoint inventory.
func (s *Session) CheckpointList() {
	list := s.ws.Checkpoints.List()
	entries := make([]map[string]any, 0, len(list))
	for _, cp := range list {
		entries = append(entries, map[string]any{
			"id":         cp.ID,
			"label":      cp.Label,
			"step_index": cp.StepIndex,
			"files":      len(cp.Files),
			"created_at": cp.CreatedAt,
		})
	}
	s.Emit(protocol.Event{
		Type: protocol.EventCheckpointList,
		Data: map[string]any{"checkpoints": entries},
	})
}

// CheckpointRestore restores one checkpoint's baselines.
func (s *Session) CheckpointRestore(id string) {
	if s.AgentRunning() {
		s.Emit(protocol.Event{Type: protocol.EventCheckpointError, Content: "cannot restore while a turn is running"})
		return
	}
	if _, ok := s.ws.Checkpoints.Get(id); !ok {
		s.Emit(protocol.Event{Type: protocol.EventCheckpointError, Content: "checkpoint not found: " + id})
		return
	}
	ops, err := s.ws.Checkpoints.Ops(id)
	if err != nil {
		s.Emit(protocol.Event{Type: protocol.EventCheckpointError, Content: err.Error()})
		return
	}
	paths, err := s.ws.Restore(ops)
	if err != nil {
		s.Emit(protocol.Event{Type: protocol.EventCheckpointError, Content: err.Error()})
		return
	}
	s.touch()
	s.Emit(protocol.Event{
		Type: protocol.EventCheckpointRestored,
		Data: map[string]any{"checkpoint_id": id, "count": len(paths), "paths": paths},
	})
}

// AddTodo and RemoveTodo service the client-side todo buttons.

func (s *Session) AddTodo(content string) { s.todos.Add(content) }

func (s *Session) RemoveTodo(id string) { s.todos.Remove(id) }
