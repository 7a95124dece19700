package files

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/workspace"
)

type symbolParams struct {
	Name    string `json:"name" jsonschema:"description=Symbol name to locate (function, type, class, method)"`
	Include string `json:"include,omitempty" jsonschema:"description=Glob filter on file paths"`
}

// SymbolTool finds likely definition sites of a named symbol across
// common languages by matching declaration keywords.
type SymbolTool struct {
	ws *workspace.Workspace
}

func NewSymbolTool(ws *workspace.Workspace) *SymbolTool { return &SymbolTool{ws: ws} }

func (t *SymbolTool) Name() string { return "find_symbol" }

func (t *SymbolTool) Description() string {
	return "Find where a function, type, class, or method named like this is defined."
}

func (t *SymbolTool) Schema() json.RawMessage { return agent.SchemaFor[symbolParams]() }

func (t *SymbolTool) Mutating() bool { return false }

// declaration keyword alternatives across Go, Python, JS/TS, Rust,
// Java-likes, and Ruby.
const declKeywords = `func|def|class|type|interface|struct|enum|trait|fn|function|const|var|let|module`

// FindSymbol locates likely definition sites of name. Shared by the
// find_symbol tool and the editor's symbol endpoint.
func FindSymbol(ws *workspace.Workspace, name, include string) ([]workspace.Match, error) {
	pattern := fmt.Sprintf(`\b(%s)\b[^=\n]*\b%s\b`, declKeywords, regexp.QuoteMeta(name))
	matches, err := ws.Grep(pattern, include)
	if err != nil {
		return nil, err
	}
	// Method definitions like "func (r *Repo) Name(" slip past the
	// keyword scan; add a direct call-signature pass for those.
	if len(matches) == 0 {
		matches, err = ws.Grep(fmt.Sprintf(`\b%s\s*\(`, regexp.QuoteMeta(name)), include)
		if err != nil {
			return nil, err
		}
	}
	return matches, nil
}

func (t *SymbolTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input symbolParams
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return toolError("name is required"), nil
	}
	matches, err := FindSymbol(t.ws, name, input.Include)
	if err != nil {
		return failure(err), nil
	}
	if len(matches) == 0 {
		return &agent.ToolResult{Content: "no definition found for " + name}, nil
	}
	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.Path, m.Line, strings.TrimSpace(m.Text))
	}
	return &agent.ToolResult{Content: strings.TrimRight(sb.String(), "\n")}, nil
}
