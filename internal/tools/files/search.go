package files

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/workspace"
)

type globParams struct {
	Pattern string `json:"pattern" jsonschema:"description=Glob pattern; ** spans directories (e.g. src/**/*.go)"`
}

// GlobTool matches file paths against a glob pattern.
type GlobTool struct {
	ws *workspace.Workspace
}

func NewGlobTool(ws *workspace.Workspace) *GlobTool { return &GlobTool{ws: ws} }

func (t *GlobTool) Name() string { return "Glob" }

func (t *GlobTool) Description() string {
	return "Find files by glob pattern. Use ** to match across directories."
}

func (t *GlobTool) Schema() json.RawMessage { return agent.SchemaFor[globParams]() }

func (t *GlobTool) Mutating() bool { return false }

func (t *GlobTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input globParams
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}
	paths, err := t.ws.Glob(input.Pattern)
	if err != nil {
		return failure(err), nil
	}
	if len(paths) == 0 {
		return &agent.ToolResult{Content: "no files match " + input.Pattern}, nil
	}
	return &agent.ToolResult{Content: strings.Join(paths, "\n")}, nil
}

type searchParams struct {
	Pattern string `json:"pattern" jsonschema:"description=Regular expression to search for"`
	Include string `json:"include,omitempty" jsonschema:"description=Glob filter on file paths (e.g. **/*.go)"`
}

// SearchTool greps file contents by regular expression.
type SearchTool struct {
	ws *workspace.Workspace
}

func NewSearchTool(ws *workspace.Workspace) *SearchTool { return &SearchTool{ws: ws} }

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) Description() string {
	return "Search file contents with a regular expression, optionally filtered by a path glob."
}

func (t *SearchTool) Schema() json.RawMessage { return agent.SchemaFor[searchParams]() }

func (t *SearchTool) Mutating() bool { return false }

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input searchParams
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}
	matches, err := t.ws.Grep(input.Pattern, input.Include)
	if err != nil {
		return failure(err), nil
	}
	if len(matches) == 0 {
		return &agent.ToolResult{Content: "no matches"}, nil
	}
	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.Path, m.Line, m.Text)
	}
	return &agent.ToolResult{Content: strings.TrimRight(sb.String(), "\n")}, nil
}
