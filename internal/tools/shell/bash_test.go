package shell

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/protocol"
)

// eventSink captures events a tool emits through the context.
type eventSink struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (s *eventSink) emit(ev protocol.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) ofType(typ string) []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func runBash(t *testing.T, tool *BashTool, params string) (*agent.ToolResult, *eventSink) {
	t.Helper()
	sink := &eventSink{}
	ctx := agent.WithEmitter(context.Background(), sink.emit)
	ctx = agent.WithToolUseID(ctx, "call-1")
	res, err := tool.Execute(ctx, json.RawMessage(params))
	require.NoError(t, err)
	require.NotNil(t, res)
	return res, sink
}

func TestBashRunsCommand(t *testing.T) {
	tool := NewBashTool(LocalRunner{Dir: t.TempDir()}, Config{})
	res, sink := runBash(t, tool, `{"command":"echo hello"}`)

	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "hello")
	assert.Contains(t, res.Content, "exit code: 0")

	require.Len(t, sink.ofType(protocol.EventCommandStart), 1)
	outputs := sink.ofType(protocol.EventCommandOutput)
	require.NotEmpty(t, outputs, "output streams as events")
	assert.Contains(t, outputs[0].Content, "hello")
	assert.Equal(t, "call-1", outputs[0].Data["tool_use_id"], "chunks name their call")
	assert.Equal(t, false, outputs[0].Data["is_stderr"])
}

func TestBashNonZeroExit(t *testing.T) {
	tool := NewBashTool(LocalRunner{Dir: t.TempDir()}, Config{})
	res, _ := runBash(t, tool, `{"command":"echo bad >&2; exit 3"}`)

	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "exit code: 3")
	assert.Contains(t, res.Content, "bad", "stderr is merged into the window")
}

func TestBashRunsInWorkdir(t *testing.T) {
	dir := t.TempDir()
	tool := NewBashTool(LocalRunner{Dir: dir}, Config{})
	res, _ := runBash(t, tool, `{"command":"pwd"}`)

	assert.Contains(t, res.Content, dir)
}

func TestBashDenyPatterns(t *testing.T) {
	tool := NewBashTool(LocalRunner{Dir: t.TempDir()}, Config{
		DenyPatterns: []string{"rm -rf /", "shutdown"},
	})
	res, _ := runBash(t, tool, `{"command":"shutdown -h now"}`)

	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "denied pattern")
}

func TestBashTimeout(t *testing.T) {
	tool := NewBashTool(LocalRunner{Dir: t.TempDir()}, Config{})
	start := time.Now()
	res, _ := runBash(t, tool, `{"command":"sleep 30","timeout":1}`)

	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "timed out")
	assert.Less(t, time.Since(start), 20*time.Second)
}

func TestBashOutputWindow(t *testing.T) {
	tool := NewBashTool(LocalRunner{Dir: t.TempDir()}, Config{OutputWindow: 64})
	res, _ := runBash(t, tool, `{"command":"i=0; while [ $i -lt 50 ]; do printf 0123456789; i=$((i+1)); done"}`)

	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "[output truncated to last 64 bytes]")
	// The window holds only the tail.
	body := res.Content[:strings.Index(res.Content, "\nexit code")]
	assert.LessOrEqual(t, len(body), 64+len("[output truncated to last 64 bytes]\n"))
}

func TestBashEmptyCommand(t *testing.T) {
	tool := NewBashTool(LocalRunner{Dir: t.TempDir()}, Config{})
	res, _ := runBash(t, tool, `{"command":"  "}`)

	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "command is required")
}

func TestBashCancellation(t *testing.T) {
	tool := NewBashTool(LocalRunner{Dir: t.TempDir()}, Config{})
	sink := &eventSink{}
	ctx, cancel := context.WithCancel(agent.WithEmitter(context.Background(), sink.emit))
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := tool.Execute(ctx, json.RawMessage(`{"command":"sleep 30"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "canceled")
	assert.Less(t, time.Since(start), 20*time.Second, "cancellation interrupts the command")
}

func TestBashBackgroundReturnsImmediately(t *testing.T) {
	tool := NewBashTool(LocalRunner{Dir: t.TempDir()}, Config{})
	start := time.Now()
	res, _ := runBash(t, tool, `{"command":"sleep 1; echo late","background":true}`)

	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "background")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLocalRunnerClassifiesContextEnd(t *testing.T) {
	r := LocalRunner{Dir: t.TempDir()}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var out strings.Builder
	_, err := r.Run(ctx, "sleep 30", &out)
	assert.ErrorIs(t, err, context.DeadlineExceeded,
		"a signal-killed process reports the context error, not an exit code")

	ctx2, cancel2 := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel2()
	}()
	_, err = r.Run(ctx2, "sleep 30", &out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWindowWriterTail(t *testing.T) {
	var chunks []string
	w := newWindowWriter(8, func(chunk string) { chunks = append(chunks, chunk) })

	w.Write([]byte("abcdefgh"))
	w.Write([]byte("ij"))

	assert.Equal(t, "cdefghij", w.String())
	assert.True(t, w.truncated)
	assert.Equal(t, []string{"abcdefgh", "ij"}, chunks, "streaming sees every chunk in full")
}
