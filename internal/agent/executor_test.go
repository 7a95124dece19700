package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTool is a configurable tool for executor tests.
type stubTool struct {
	name     string
	mutating bool
	schema   string
	execute  func(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "test tool " + s.name }
func (s *stubTool) Mutating() bool      { return s.mutating }

func (s *stubTool) Schema() json.RawMessage {
	if s.schema != "" {
		return json.RawMessage(s.schema)
	}
	return json.RawMessage(`{"type":"object"}`)
}

func (s *stubTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return s.execute(ctx, params)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(t *testing.T, tools ...Tool) *Executor {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister(tools...)
	return NewExecutor(reg, ExecConfig{}, nil, testLogger())
}

// concurrencyProbe tracks how many executions overlap.
type concurrencyProbe struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (p *concurrencyProbe) enter() {
	p.mu.Lock()
	p.current++
	if p.current > p.peak {
		p.peak = p.current
	}
	p.mu.Unlock()
}

func (p *concurrencyProbe) leave() {
	p.mu.Lock()
	p.current--
	p.mu.Unlock()
}

func TestExecuteReadOnlyBatchRunsInParallel(t *testing.T) {
	probe := &concurrencyProbe{}
	tool := &stubTool{
		name: "probe",
		execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			probe.enter()
			defer probe.leave()
			time.Sleep(30 * time.Millisecond)
			return TextResult("", "ok"), nil
		},
	}
	exec := newTestExecutor(t, tool)

	calls := []ToolCall{
		{ID: "a", Name: "probe", Input: json.RawMessage(`{}`)},
		{ID: "b", Name: "probe", Input: json.RawMessage(`{}`)},
		{ID: "c", Name: "probe", Input: json.RawMessage(`{}`)},
	}
	results := exec.Execute(context.Background(), calls, Hooks{})

	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, calls[i].ID, res.ToolUseID, "results keep call order")
		assert.False(t, res.IsError)
	}
	assert.Greater(t, probe.peak, 1, "read-only calls overlap")
}

func TestExecuteParallelBatchEmitsInCallOrder(t *testing.T) {
	slow := &stubTool{
		name: "slow",
		execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			time.Sleep(80 * time.Millisecond)
			return TextResult("", "slow done"), nil
		},
	}
	fast := &stubTool{
		name: "fast",
		execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			return TextResult("", "fast done"), nil
		},
	}
	exec := newTestExecutor(t, slow, fast)

	var mu sync.Mutex
	var started, finished []string
	calls := []ToolCall{
		{ID: "c1", Name: "slow", Input: json.RawMessage(`{}`)},
		{ID: "c2", Name: "fast", Input: json.RawMessage(`{}`)},
	}
	exec.Execute(context.Background(), calls, Hooks{
		OnStart: func(call ToolCall) {
			mu.Lock()
			started = append(started, call.ID)
			mu.Unlock()
		},
		OnResult: func(call ToolCall, result ToolResult, elapsed time.Duration) {
			mu.Lock()
			finished = append(finished, call.ID)
			mu.Unlock()
		},
	})

	// The fast call completes first but its events wait their turn.
	assert.Equal(t, []string{"c1", "c2"}, started)
	assert.Equal(t, []string{"c1", "c2"}, finished)
}

func TestExecuteMutatingBatchSerializes(t *testing.T) {
	probe := &concurrencyProbe{}
	var order []string
	var mu sync.Mutex

	run := func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		probe.enter()
		defer probe.leave()
		var p struct {
			Tag string `json:"tag"`
		}
		json.Unmarshal(params, &p)
		mu.Lock()
		order = append(order, p.Tag)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		return TextResult("", p.Tag), nil
	}
	reader := &stubTool{name: "reader", execute: run}
	writer := &stubTool{name: "writer", mutating: true, execute: run}
	exec := newTestExecutor(t, reader, writer)

	calls := []ToolCall{
		{ID: "1", Name: "reader", Input: json.RawMessage(`{"tag":"r1"}`)},
		{ID: "2", Name: "writer", Input: json.RawMessage(`{"tag":"w"}`)},
		{ID: "3", Name: "reader", Input: json.RawMessage(`{"tag":"r2"}`)},
	}
	results := exec.Execute(context.Background(), calls, Hooks{})

	require.Len(t, results, 3)
	assert.Equal(t, 1, probe.peak, "one mutating call serializes the whole batch")
	assert.Equal(t, []string{"r1", "w", "r2"}, order, "model order is preserved")
}

func TestExecuteUnknownTool(t *testing.T) {
	exec := newTestExecutor(t)
	results := exec.Execute(context.Background(),
		[]ToolCall{{ID: "x", Name: "nonesuch", Input: json.RawMessage(`{}`)}}, Hooks{})

	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "tool not found")
}

func TestExecuteValidatesParams(t *testing.T) {
	tool := &stubTool{
		name:     "strict",
		mutating: true,
		schema:   `{"type":"object","properties":{"n":{"type":"integer"}},"required":["n"]}`,
		execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			return TextResult("", "ran"), nil
		},
	}
	exec := newTestExecutor(t, tool)

	results := exec.Execute(context.Background(),
		[]ToolCall{{ID: "x", Name: "strict", Input: json.RawMessage(`{"n":"not a number"}`)}}, Hooks{})
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "invalid parameters")

	results = exec.Execute(context.Background(),
		[]ToolCall{{ID: "y", Name: "strict", Input: json.RawMessage(`{"n":3}`)}}, Hooks{})
	assert.False(t, results[0].IsError)
	assert.Equal(t, "ran", results[0].Content)
}

func TestExecuteRecoversPanic(t *testing.T) {
	tool := &stubTool{
		name:     "bomb",
		mutating: true,
		execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			panic("boom")
		},
	}
	exec := newTestExecutor(t, tool)

	results := exec.Execute(context.Background(),
		[]ToolCall{{ID: "x", Name: "bomb", Input: json.RawMessage(`{}`)}}, Hooks{})
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "panicked")
}

func TestExecuteCancelledContext(t *testing.T) {
	var ran atomic.Bool
	tool := &stubTool{
		name:     "never",
		mutating: true,
		execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			ran.Store(true)
			return TextResult("", "ok"), nil
		},
	}
	exec := newTestExecutor(t, tool)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := exec.Execute(ctx, []ToolCall{
		{ID: "a", Name: "never", Input: json.RawMessage(`{}`)},
		{ID: "b", Name: "never", Input: json.RawMessage(`{}`)},
	}, Hooks{})

	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content, "canceled")
	}
	assert.False(t, ran.Load(), "cancelled calls never dispatch")
}

func TestExecuteOversizedParams(t *testing.T) {
	tool := &stubTool{
		name:     "big",
		mutating: true,
		execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			return TextResult("", "ok"), nil
		},
	}
	exec := newTestExecutor(t, tool)

	huge := make([]byte, MaxToolParamsSize+1)
	results := exec.Execute(context.Background(),
		[]ToolCall{{ID: "x", Name: "big", Input: huge}}, Hooks{})
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Contains(t, results[0].Content, "exceed")
}

func TestExecuteHooksFire(t *testing.T) {
	tool := &stubTool{
		name:     "noop",
		mutating: true,
		execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			return TextResult("", "ok"), nil
		},
	}
	exec := newTestExecutor(t, tool)

	var started, finished []string
	exec.Execute(context.Background(),
		[]ToolCall{{ID: "x", Name: "noop", Input: json.RawMessage(`{}`)}}, Hooks{
			OnStart: func(call ToolCall) { started = append(started, call.ID) },
			OnResult: func(call ToolCall, result ToolResult, elapsed time.Duration) {
				finished = append(finished, result.ToolUseID)
			},
		})

	assert.Equal(t, []string{"x"}, started)
	assert.Equal(t, []string{"x"}, finished)
}

func TestExecuteToolErrorBecomesResult(t *testing.T) {
	tool := &stubTool{
		name:     "flaky",
		mutating: true,
		execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			return nil, assert.AnError
		},
	}
	exec := newTestExecutor(t, tool)

	results := exec.Execute(context.Background(),
		[]ToolCall{{ID: "x", Name: "flaky", Input: json.RawMessage(`{}`)}}, Hooks{})
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Equal(t, "x", results[0].ToolUseID)
}
