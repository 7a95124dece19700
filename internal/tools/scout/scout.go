// Package scout implements the read-only workspace survey used to prime
// planning: layout, language mix, manifests, and entry points condensed
// into one summary.
package scout

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/haasonsaas/forge/internal/agent"
	"github.com/haasonsaas/forge/internal/protocol"
	"github.com/haasonsaas/forge/internal/workspace"
)

type scoutParams struct {
	Focus string `json:"focus,omitempty" jsonschema:"description=Optional area to pay extra attention to (e.g. a subdirectory or feature)"`
}

// manifests worth quoting in the summary, in display order.
var manifestNames = []string{
	"go.mod", "package.json", "pyproject.toml", "Cargo.toml",
	"Makefile", "Dockerfile", "README.md",
}

const (
	maxTreeEntries   = 120
	maxManifestBytes = 2_000
)

// Tool surveys the workspace and emits scout_progress events while it
// works.
type Tool struct {
	ws *workspace.Workspace
}

func New(ws *workspace.Workspace) *Tool { return &Tool{ws: ws} }

func (t *Tool) Name() string { return "scout" }

func (t *Tool) Description() string {
	return "Survey the workspace: directory layout, languages, manifests, and likely entry points."
}

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[scoutParams]() }

func (t *Tool) Mutating() bool { return false }

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input scoutParams
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	emit := agent.EmitterFromContext(ctx)

	emit(protocol.Event{Type: protocol.EventScoutProgress, Content: "scanning directory layout"})
	tree, byExt, err := t.scan(ctx)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	emit(protocol.Event{Type: protocol.EventScoutProgress, Content: "reading project manifests"})
	manifests := t.readManifests()

	var sb strings.Builder
	sb.WriteString("## Workspace layout\n")
	sb.WriteString(tree)
	sb.WriteString("\n\n## Language mix\n")
	sb.WriteString(languageMix(byExt))
	if manifests != "" {
		sb.WriteString("\n\n## Manifests\n")
		sb.WriteString(manifests)
	}
	if input.Focus != "" {
		emit(protocol.Event{Type: protocol.EventScoutProgress, Content: "inspecting " + input.Focus})
		if focus := t.focusDetail(input.Focus); focus != "" {
			sb.WriteString("\n\n## Focus: " + input.Focus + "\n")
			sb.WriteString(focus)
		}
	}
	return &agent.ToolResult{Content: sb.String()}, nil
}

func (t *Tool) scan(ctx context.Context) (string, map[string]int, error) {
	var lines []string
	byExt := make(map[string]int)
	err := t.ws.WalkTree(func(rel string, isDir bool) bool {
		if ctx.Err() != nil {
			return false
		}
		depth := strings.Count(rel, "/")
		if isDir {
			if depth < 2 && len(lines) < maxTreeEntries {
				lines = append(lines, rel+"/")
			}
			return true
		}
		byExt[strings.ToLower(path.Ext(rel))]++
		if depth < 2 && len(lines) < maxTreeEntries {
			lines = append(lines, rel)
		}
		return true
	})
	if err != nil {
		return "", nil, err
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), byExt, nil
}

func languageMix(byExt map[string]int) string {
	type count struct {
		ext string
		n   int
	}
	counts := make([]count, 0, len(byExt))
	for ext, n := range byExt {
		if ext != "" {
			counts = append(counts, count{ext, n})
		}
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].n > counts[j].n })
	if len(counts) > 8 {
		counts = counts[:8]
	}
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = fmt.Sprintf("%s ×%d", c.ext, c.n)
	}
	if len(parts) == 0 {
		return "(no files)"
	}
	return strings.Join(parts, ", ")
}

func (t *Tool) readManifests() string {
	var sb strings.Builder
	for _, name := range manifestNames {
		data, exists, err := t.ws.Current(name)
		if err != nil || !exists {
			continue
		}
		if len(data) > maxManifestBytes {
			data = data[:maxManifestBytes]
		}
		fmt.Fprintf(&sb, "### %s\n%s\n", name, strings.TrimSpace(string(data)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (t *Tool) focusDetail(focus string) string {
	entries, err := t.ws.List(focus)
	if err != nil {
		return ""
	}
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir {
			fmt.Fprintf(&sb, "%s/\n", e.Path)
		} else {
			fmt.Fprintf(&sb, "%s (%d bytes)\n", e.Path, e.Size)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
