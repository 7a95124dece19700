package files

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/workspace"
)

type listParams struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list; defaults to the workspace root"`
}

// ListTool lists one directory level.
type ListTool struct {
	ws *workspace.Workspace
}

func NewListTool(ws *workspace.Workspace) *ListTool { return &ListTool{ws: ws} }

func (t *ListTool) Name() string { return "list_directory" }

func (t *ListTool) Description() string {
	return "List the entries of a directory, directories first."
}

func (t *ListTool) Schema() json.RawMessage { return agent.SchemaFor[listParams]() }

func (t *ListTool) Mutating() bool { return false }

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input listParams
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	entries, err := t.ws.List(input.Path)
	if err != nil {
		return failure(err), nil
	}
	if len(entries) == 0 {
		return &agent.ToolResult{Content: "(empty directory)"}, nil
	}
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir {
			fmt.Fprintf(&sb, "%s/\n", e.Name)
		} else {
			fmt.Fprintf(&sb, "%s (%d bytes)\n", e.Name, e.Size)
		}
	}
	return &agent.ToolResult{Content: strings.TrimRight(sb.String(), "\n")}, nil
}
