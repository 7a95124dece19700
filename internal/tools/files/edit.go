package files

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/workspace"
)

type editParams struct {
	Path       string `json:"path" jsonschema:"description=Path to edit relative to the workspace root"`
	OldText    string `json:"old_text" jsonschema:"description=Exact text to replace; must match the file verbatim"`
	NewText    string `json:"new_text" jsonschema:"description=Replacement text"`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema:"description=Replace every occurrence instead of requiring a unique match"`
}

// EditTool performs an anchored text replacement in one file.
type EditTool struct {
	ws *workspace.Workspace
}

func NewEditTool(ws *workspace.Workspace) *EditTool { return &EditTool{ws: ws} }

func (t *EditTool) Name() string { return "Edit" }

func (t *EditTool) Description() string {
	return "Replace old_text with new_text in a file. old_text must match exactly once unless replace_all is set."
}

func (t *EditTool) Schema() json.RawMessage { return agent.SchemaFor[editParams]() }

func (t *EditTool) Mutating() bool { return true }

func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input editParams
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if input.OldText == "" {
		return toolError("old_text is required"), nil
	}
	if input.OldText == input.NewText {
		return toolError("old_text and new_text are identical"), nil
	}
	res, err := t.ws.Edit(input.Path, input.OldText, input.NewText, input.ReplaceAll)
	if err != nil {
		return failure(err), nil
	}
	return &agent.ToolResult{
		Content: fmt.Sprintf("Edited %s (+%d -%d)\n%s", input.Path, res.Additions, res.Deletions, res.Diff),
	}, nil
}
