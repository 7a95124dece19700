// Package ask implements AskUserQuestion, the clarification tool that
// suspends a turn until the user answers.
package ask

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/forge/internal/agent"
)

type askParams struct {
	Question string   `json:"question" jsonschema:"description=The question to put to the user"`
	Context  string   `json:"context,omitempty" jsonschema:"description=Short background that helps the user answer"`
	Options  []string `json:"options,omitempty" jsonschema:"description=Suggested answers the user can pick from"`
}

// Tool suspends the turn on a question. The session's Asker carries the
// question out over the transport and blocks until user_answer arrives
// with the matching tool_use_id, or the turn is cancelled.
type Tool struct{}

func New() *Tool { return &Tool{} }

func (t *Tool) Name() string { return "AskUserQuestion" }

func (t *Tool) Description() string {
	return "Ask the user a clarifying question and wait for their answer. Use sparingly, when a wrong guess would be expensive."
}

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[askParams]() }

// Mutating: the suspension must not overlap other tool calls, so the
// executor serializes batches containing a question.
func (t *Tool) Mutating() bool { return true }

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input askParams
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Question) == "" {
		return &agent.ToolResult{Content: "question is required", IsError: true}, nil
	}
	asker, ok := agent.AskerFromContext(ctx)
	if !ok {
		return &agent.ToolResult{Content: agent.ErrNoAsker.Error(), IsError: true}, nil
	}
	// The executor rewrites ToolUseID on the result afterwards; the asker
	// needs it now to match the incoming answer, so the executor also
	// tags the context with it before dispatch.
	toolUseID := agent.ToolUseIDFromContext(ctx)
	answer, err := asker.Ask(ctx, toolUseID, input.Question, input.Context, input.Options)
	if err != nil {
		if ctx.Err() != nil {
			return &agent.ToolResult{Content: "cancelled", IsError: true}, nil
		}
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: answer}, nil
}
