package files

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/workspace"
)

type writeParams struct {
	Path    string `json:"path" jsonschema:"description=Path to write relative to the workspace root"`
	Content string `json:"content" jsonschema:"description=Full file content to store"`
}

// WriteTool creates or overwrites a file.
type WriteTool struct {
	ws *workspace.Workspace
}

func NewWriteTool(ws *workspace.Workspace) *WriteTool { return &WriteTool{ws: ws} }

func (t *WriteTool) Name() string { return "Write" }

func (t *WriteTool) Description() string {
	return "Create or overwrite a file with the given content. Parent directories are created as needed."
}

func (t *WriteTool) Schema() json.RawMessage { return agent.SchemaFor[writeParams]() }

func (t *WriteTool) Mutating() bool { return true }

func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input writeParams
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	existed := t.ws.Exists(input.Path)
	if err := t.ws.Write(input.Path, []byte(input.Content)); err != nil {
		return failure(err), nil
	}
	verb := "Created"
	if existed {
		verb = "Updated"
	}
	return &agent.ToolResult{
		Content: fmt.Sprintf("%s %s (%d bytes)", verb, input.Path, len(input.Content)),
	}, nil
}
