package files

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/workspace"
)

const maxReadBytes = 200_000

type readParams struct {
	Path   string `json:"path" jsonschema:"description=Path to the file relative to the workspace root"`
	Offset int    `json:"offset,omitempty" jsonschema:"description=1-based line to start reading from"`
	Limit  int    `json:"limit,omitempty" jsonschema:"description=Maximum number of lines to return"`
}

// ReadTool returns file contents with optional line slicing.
type ReadTool struct {
	ws *workspace.Workspace
}

func NewReadTool(ws *workspace.Workspace) *ReadTool { return &ReadTool{ws: ws} }

func (t *ReadTool) Name() string { return "Read" }

func (t *ReadTool) Description() string {
	return "Read a file from the workspace. Large files can be paged with offset and limit (line numbers)."
}

func (t *ReadTool) Schema() json.RawMessage { return agent.SchemaFor[readParams]() }

func (t *ReadTool) Mutating() bool { return false }

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input readParams
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	data, err := t.ws.Read(input.Path, input.Offset, input.Limit)
	if err != nil {
		return failure(err), nil
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
		return &agent.ToolResult{
			Content: fmt.Sprintf("%s\n[truncated at %d bytes; use offset/limit to page]", data, maxReadBytes),
		}, nil
	}
	return &agent.ToolResult{Content: string(data)}, nil
}
