package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is one capability the model can invoke.
type Tool interface {
	// Name is the identifier advertised to the model.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema is the JSON schema of the tool's input object.
	Schema() json.RawMessage

	// Mutating reports whether the tool changes workspace or session
	// state. Mutating calls run serially; read-only calls may run in
	// parallel.
	Mutating() bool

	// Execute runs the tool. Tool-level failures come back as IsError
	// results so the model can see and recover from them; a Go error
	// means the call never produced a result.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// MaxToolParamsSize caps tool parameter JSON.
const MaxToolParamsSize = 10 << 20

// Registry holds the tools of one session, keyed by name, with compiled
// input schemas for parameter validation before dispatch.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, replacing any previous tool of the same name.
// The tool's schema is compiled eagerly; a schema that does not compile
// is a programming error.
func (r *Registry) Register(tool Tool) error {
	compiler := jsonschema.NewCompiler()
	name := tool.Name()
	url := "tool://" + name
	if err := compiler.AddResource(url, bytes.NewReader(tool.Schema())); err != nil {
		return fmt.Errorf("tool %s: add schema: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	r.schemas[name] = schema
	return nil
}

// MustRegister registers tools whose schemas are static.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the advertised tool list, sorted by name for stable
// prompts.
func (r *Registry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Validate checks params against the tool's compiled schema.
func (r *Registry) Validate(name string, params json.RawMessage) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return fmt.Errorf("unknown tool %s", name)
	}
	var value any
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	if err := json.Unmarshal(params, &value); err != nil {
		return fmt.Errorf("parameters are not valid JSON: %w", err)
	}
	return schema.Validate(value)
}

// ErrorResult builds a failed tool result the model can read.
func ErrorResult(toolUseID, msg string) *ToolResult {
	return &ToolResult{ToolUseID: toolUseID, Content: msg, IsError: true}
}

// TextResult builds a successful tool result.
func TextResult(toolUseID, content string) *ToolResult {
	return &ToolResult{ToolUseID: toolUseID, Content: content}
}
