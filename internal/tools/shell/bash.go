package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/protocol"
)

type bashParams struct {
	Command    string `json:"command" jsonschema:"description=Shell command to run in the workspace directory"`
	Timeout    int    `json:"timeout,omitempty" jsonschema:"description=Timeout in seconds; defaults to the configured command timeout"`
	Background bool   `json:"background,omitempty" jsonschema:"description=Return immediately and keep streaming output while the command runs"`
}

// BashTool runs shell commands. Output streams to the client as
// command_output events while a rolling window of the merged output is
// kept for the tool result.
type BashTool struct {
	runner         Runner
	defaultTimeout time.Duration
	outputWindow   int
	denyPatterns   []string
}

// Config bounds command execution.
type Config struct {
	DefaultTimeout time.Duration
	OutputWindow   int
	DenyPatterns   []string
}

func NewBashTool(runner Runner, cfg Config) *BashTool {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 120 * time.Second
	}
	if cfg.OutputWindow <= 0 {
		cfg.OutputWindow = 50_000
	}
	return &BashTool{
		runner:         runner,
		defaultTimeout: cfg.DefaultTimeout,
		outputWindow:   cfg.OutputWindow,
		denyPatterns:   cfg.DenyPatterns,
	}
}

func (t *BashTool) Name() string { return "Bash" }

func (t *BashTool) Description() string {
	return "Run a shell command in the workspace directory. Output is streamed; long output is truncated to a rolling window."
}

func (t *BashTool) Schema() json.RawMessage { return agent.SchemaFor[bashParams]() }

func (t *BashTool) Mutating() bool { return true }

func (t *BashTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input bashParams
	if err := json.Unmarshal(params, &input); err != nil {
		return errResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return errResult("command is required"), nil
	}
	for _, pattern := range t.denyPatterns {
		if pattern != "" && strings.Contains(command, pattern) {
			return errResult(fmt.Sprintf("command refused: matches denied pattern %q", pattern)), nil
		}
	}

	emit := agent.EmitterFromContext(ctx)
	emit(protocol.Event{Type: protocol.EventCommandStart, Content: command})

	timeout := t.defaultTimeout
	if input.Timeout > 0 {
		timeout = time.Duration(input.Timeout) * time.Second
	}

	if input.Background {
		go t.run(context.WithoutCancel(ctx), command, timeout, emit)
		return &agent.ToolResult{
			Content: fmt.Sprintf("Command started in background: %s\nOutput will continue streaming.", command),
		}, nil
	}

	return t.run(ctx, command, timeout, emit), nil
}

// run executes the command and builds the result. The tool_use_id is
// filled in by the executor afterwards.
func (t *BashTool) run(ctx context.Context, command string, timeout time.Duration, emit agent.Emitter) *agent.ToolResult {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	toolUseID := agent.ToolUseIDFromContext(ctx)
	window := newWindowWriter(t.outputWindow, func(chunk string) {
		emit(protocol.Event{
			Type:    protocol.EventCommandOutput,
			Content: chunk,
			Data:    map[string]any{"tool_use_id": toolUseID, "is_stderr": false},
		})
	})

	start := time.Now()
	exitCode, err := t.runner.Run(runCtx, command, window)
	elapsed := time.Since(start)

	output := window.String()
	switch {
	case err != nil && runCtx.Err() == context.DeadlineExceeded:
		return errResult(fmt.Sprintf("command timed out after %s\n%s", timeout, output))
	case err != nil && ctx.Err() != nil:
		return errResult("command canceled\n" + output)
	case err != nil:
		return errResult(fmt.Sprintf("command failed to run: %v\n%s", err, output))
	}

	content := output
	if window.truncated {
		content = fmt.Sprintf("[output truncated to last %d bytes]\n%s", t.outputWindow, output)
	}
	content = fmt.Sprintf("%s\nexit code: %d (%.1fs)", content, exitCode, elapsed.Seconds())

	return &agent.ToolResult{Content: content, IsError: exitCode != 0}
}

func errResult(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg, IsError: true}
}

// windowWriter forwards every write to the stream callback and keeps a
// rolling tail of at most limit bytes.
type windowWriter struct {
	mu        sync.Mutex
	limit     int
	buf       []byte
	truncated bool
	onChunk   func(string)
}

func newWindowWriter(limit int, onChunk func(string)) *windowWriter {
	return &windowWriter{limit: limit, onChunk: onChunk}
}

func (w *windowWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
		w.truncated = true
	}
	w.mu.Unlock()
	if w.onChunk != nil && len(p) > 0 {
		w.onChunk(string(p))
	}
	return len(p), nil
}

func (w *windowWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
