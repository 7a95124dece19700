// Package files implements the workspace file tools: reading, writing,
// anchored edits, listing, globbing, content search, and symbol lookup.
// Mutating tools record checkpoint baselines through the workspace
// before touching anything.
package files

import (
	"fmt"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/workspace"
)

func toolError(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg, IsError: true}
}

// failure converts a workspace error into a failed tool result with a
// recovery hint the model can act on.
func failure(err error) *agent.ToolResult {
	msg := err.Error()
	if hint := workspace.Hint(err); hint != "" {
		msg = fmt.Sprintf("%s\n%s", msg, hint)
	}
	return toolError(msg)
}
