package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/protocol"
	"github.com/haasonsaas/forge/internal/turn"
	"github.com/haasonsaas/forge/internal/workspace"
)

// gateProvider blocks each Stream call until released, then answers with
// a single text response.
type gateProvider struct {
	mu      sync.Mutex
	release chan struct{}
	calls   int
}

func newGateProvider() *gateProvider {
	return &gateProvider{release: make(chan struct{})}
}

func (p *gateProvider) Stream(ctx context.Context, req agent.Request) (<-chan agent.Chunk, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	ch := make(chan agent.Chunk, 2)
	go func() {
		defer close(ch)
		select {
		case <-p.release:
		case <-ctx.Done():
			ch <- agent.Chunk{Type: agent.ChunkError, Err: ctx.Err()}
			return
		}
		ch <- agent.Chunk{Type: agent.ChunkText, Text: "all done"}
		ch <- agent.Chunk{Type: agent.ChunkDone, Usage: agent.Usage{InputTokens: 7, OutputTokens: 3}}
	}()
	return ch, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager builds a manager over a temp state dir with local
// workspaces and an engine backed by the given provider.
func newTestManager(t *testing.T, provider agent.Provider) *Manager {
	t.Helper()
	logger := discardLogger()
	newWorkspace := func(workdir string, isSSH bool) (*workspace.Workspace, error) {
		return workspace.New(workdir, workspace.LocalFS{}, logger)
	}
	newEngine := func(s *Session) (*turn.Engine, error) {
		reg := agent.NewRegistry()
		return &turn.Engine{
			Provider:      provider,
			Registry:      reg,
			Executor:      agent.NewExecutor(reg, agent.ExecConfig{}, nil, logger),
			WS:            s.Workspace(),
			Host:          s,
			Workdir:       s.Workspace().Root(),
			ContextWindow: 200000,
			Logger:        logger,
		}, nil
	}
	return NewManager(t.TempDir(), newWorkspace, newEngine, logger, nil)
}

// drain collects subscriber events until the wanted type arrives.
func drain(t *testing.T, sub *Subscriber, until string) []protocol.Event {
	t.Helper()
	var events []protocol.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscriber closed while waiting for %q", until)
			}
			events = append(events, ev)
			if ev.Type == until {
				return events
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q, saw %d events", until, len(events))
		}
	}
}

func TestStartTurnLifecycle(t *testing.T) {
	provider := newGateProvider()
	m := newTestManager(t, provider)
	s, err := m.Create(t.TempDir(), false)
	require.NoError(t, err)

	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	require.NoError(t, s.StartTurn(context.Background(), turn.Input{Content: "explain the code"}))

	require.Eventually(t, s.AgentRunning, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.StartTurn(context.Background(), turn.Input{Content: "another"}), ErrTurnRunning)

	close(provider.release)
	drain(t, sub, protocol.EventDone)

	require.Eventually(t, func() bool { return !s.AgentRunning() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 7, s.TokenStats().InputTokens)
	assert.NotEmpty(t, s.Name(), "first request names the session")
}

func TestStartTurnRejectedDuringReview(t *testing.T) {
	m := newTestManager(t, newGateProvider())
	s, err := m.Create(t.TempDir(), false)
	require.NoError(t, err)

	s.SetPendingDiffs([]protocol.FileDiff{{Path: "a.txt"}})
	assert.ErrorIs(t, s.StartTurn(context.Background(), turn.Input{Content: "next task"}), ErrAwaitingReview)
}

func TestInteractionsWithoutTurn(t *testing.T) {
	m := newTestManager(t, newGateProvider())
	s, err := m.Create(t.TempDir(), false)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Cancel(), ErrNoTurn)
	assert.ErrorIs(t, s.Keep(), ErrNoTurn)
	assert.ErrorIs(t, s.Build(nil), ErrNoTurn)
	assert.ErrorIs(t, s.Answer("id", "yes"), ErrNoTurn)
}

func TestResetClearsState(t *testing.T) {
	m := newTestManager(t, newGateProvider())
	s, err := m.Create(t.TempDir(), false)
	require.NoError(t, err)

	s.AppendHistory(agent.TextMessage(agent.RoleUser, "hello"))
	s.SetName("old name")
	s.AddTodo("task one")
	s.Workspace().Checkpoints.Open("turn", 0)
	require.NoError(t, s.Workspace().Write("f.txt", []byte("x")))
	s.Workspace().Checkpoints.Seal()

	sub := s.Subscribe()
	defer s.Unsubscribe(sub)
	require.NoError(t, s.Reset())
	drain(t, sub, protocol.EventResetDone)

	assert.Empty(t, s.History())
	assert.Empty(t, s.Todos().Items())
	assert.Empty(t, s.Workspace().Checkpoints.List())
	assert.Equal(t, protocol.Usage{}, s.TokenStats())
	assert.Equal(t, "old name", s.Name(), "reset keeps the display name")
}

func TestCheckpointListAndRestore(t *testing.T) {
	m := newTestManager(t, newGateProvider())
	s, err := m.Create(t.TempDir(), false)
	require.NoError(t, err)
	ws := s.Workspace()

	require.NoError(t, ws.Write("f.txt", []byte("before")))
	cp := ws.Checkpoints.Open("step:1", 1)
	require.NoError(t, ws.Write("f.txt", []byte("after")))
	ws.Checkpoints.Seal()

	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	s.CheckpointList()
	events := drain(t, sub, protocol.EventCheckpointList)
	list := events[len(events)-1].Data["checkpoints"].([]map[string]any)
	require.Len(t, list, 1)
	assert.Equal(t, cp.ID, list[0]["id"])

	s.CheckpointRestore(cp.ID)
	drain(t, sub, protocol.EventCheckpointRestored)
	data, err := ws.Read("f.txt", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "before", string(data))

	s.CheckpointRestore("missing")
	events = drain(t, sub, protocol.EventCheckpointError)
	assert.Contains(t, events[len(events)-1].Content, "not found")
}

func TestReplayOrder(t *testing.T) {
	m := newTestManager(t, newGateProvider())
	s, err := m.Create(t.TempDir(), false)
	require.NoError(t, err)

	s.AppendHistory(agent.TextMessage(agent.RoleUser, "do the thing"))
	s.AppendHistory(agent.Message{Role: agent.RoleAssistant, Content: []agent.Block{
		{Type: agent.BlockThinking, Text: "reading first"},
		{Type: agent.BlockText, Text: "working on it"},
		{Type: agent.BlockToolUse, ID: "t1", Name: "Read", Input: []byte(`{"path":"a.txt"}`)},
	}})
	s.AppendHistory(agent.Message{Role: agent.RoleUser, Content: []agent.Block{
		{Type: agent.BlockToolResult, ToolUseID: "t1", Content: "contents"},
	}})
	sub := NewSubscriber()
	s.Replay(sub)

	events := drain(t, sub, protocol.EventResumed)
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	// No plan or diff decision is pending, so no replay_state frame.
	assert.Equal(t, []string{
		protocol.EventInit,
		protocol.EventReplayUser,
		protocol.EventReplayThinking,
		protocol.EventReplayText,
		protocol.EventReplayToolCall,
		protocol.EventReplayToolResult,
		protocol.EventReplayDone,
		protocol.EventResumed,
	}, types)

	resumed := events[len(events)-1]
	require.NotNil(t, resumed.AgentRunning)
	assert.False(t, *resumed.AgentRunning)
}

func TestReplayFlagsPendingReview(t *testing.T) {
	m := newTestManager(t, newGateProvider())
	s, err := m.Create(t.TempDir(), false)
	require.NoError(t, err)

	s.SetPendingPlan(&turn.Plan{Steps: []string{"one"}, PlanText: "plan"})
	s.SetPendingDiffs([]protocol.FileDiff{{Path: "a.txt", Label: protocol.LabelModified}})
	s.AddTodo("leftover task")

	sub := NewSubscriber()
	s.Replay(sub)
	events := drain(t, sub, protocol.EventResumed)

	var state protocol.Event
	for _, ev := range events {
		if ev.Type == protocol.EventReplayState {
			state = ev
		}
	}
	require.Equal(t, protocol.EventReplayState, state.Type)
	assert.Equal(t, true, state.Data["awaiting_build"])
	assert.Equal(t, true, state.Data["awaiting_keep_revert"])
	assert.Equal(t, []string{"one"}, state.Steps)
	require.Len(t, state.Files, 1)
	assert.Equal(t, "a.txt", state.Files[0].Path)
	require.Len(t, state.Todos, 1)
}

func TestSubscriberOverflow(t *testing.T) {
	sub := NewSubscriber()
	for i := 0; i < subscriberQueue; i++ {
		require.True(t, sub.send(protocol.Event{Type: protocol.EventText, Content: fmt.Sprint(i)}))
	}
	assert.False(t, sub.send(protocol.Event{Type: protocol.EventText}), "full queue drops")

	<-sub.Events()
	<-sub.Events()
	assert.True(t, sub.send(protocol.Event{Type: protocol.EventText, Content: "recovered"}))

	// Behind the backlog, the recovery notice precedes the first event
	// accepted after the drop.
	for i := 0; i < subscriberQueue-2; i++ {
		<-sub.Events()
	}
	ev := <-sub.Events()
	assert.Equal(t, protocol.EventStatus, ev.Type, "client is told events were dropped")
	ev = <-sub.Events()
	assert.Equal(t, "recovered", ev.Content)

	sub.Close()
	sub.Close() // idempotent
	assert.False(t, sub.send(protocol.Event{Type: protocol.EventText}))
}

func TestSubscriberGateParksLiveEvents(t *testing.T) {
	sub := NewSubscriber()
	sub.gated = true

	require.True(t, sub.send(protocol.Event{Type: protocol.EventText, Content: "live"}))
	require.True(t, sub.sendNow(protocol.Event{Type: protocol.EventInit}))
	require.True(t, sub.sendNow(protocol.Event{Type: protocol.EventResumed}))
	sub.release()
	require.True(t, sub.send(protocol.Event{Type: protocol.EventText, Content: "after"}))

	var types []string
	for i := 0; i < 4; i++ {
		types = append(types, (<-sub.Events()).Type)
	}
	assert.Equal(t, []string{
		protocol.EventInit,
		protocol.EventResumed,
		protocol.EventText,
		protocol.EventText,
	}, types)
}

func TestSubscribeReplaySerializesWithLiveEvents(t *testing.T) {
	m := newTestManager(t, newGateProvider())
	s, err := m.Create(t.TempDir(), false)
	require.NoError(t, err)
	s.AppendHistory(agent.TextMessage(agent.RoleUser, "keep going"))

	// Hammer the broadcast path while the reconnect replay runs.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					s.Emit(protocol.Event{Type: protocol.EventCommandOutput, Content: "tick"})
				}
			}
		}()
	}

	sub := s.SubscribeReplay()
	close(stop)
	wg.Wait()
	defer s.Unsubscribe(sub)

	events := drain(t, sub, protocol.EventResumed)
	assert.Equal(t, protocol.EventInit, events[0].Type, "replay opens the stream")
	for _, ev := range events[:len(events)-1] {
		assert.NotEqual(t, protocol.EventCommandOutput, ev.Type,
			"live events wait for the replay sequence")
	}
}
