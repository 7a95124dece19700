package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySpecsSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		reg.MustRegister(&stubTool{name: name, execute: func(ctx context.Context, _ json.RawMessage) (*ToolResult, error) {
			return TextResult("", ""), nil
		}})
	}

	specs := reg.Specs()
	require.Len(t, specs, 3)
	assert.Equal(t, "alpha", specs[0].Name)
	assert.Equal(t, "mid", specs[1].Name)
	assert.Equal(t, "zeta", specs[2].Name)
}

func TestRegistryRejectsBrokenSchema(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&stubTool{name: "broken", schema: `{"type":`})
	assert.Error(t, err)
}

func TestRegistryValidate(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&stubTool{
		name:   "typed",
		schema: `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`,
	})

	assert.NoError(t, reg.Validate("typed", json.RawMessage(`{"path":"a.txt"}`)))
	assert.Error(t, reg.Validate("typed", json.RawMessage(`{}`)), "missing required field")
	assert.Error(t, reg.Validate("typed", json.RawMessage(`{"path":`)), "not JSON")
	assert.Error(t, reg.Validate("nonesuch", json.RawMessage(`{}`)))
}

func TestRegistryValidateEmptyParams(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(&stubTool{name: "lax"})
	assert.NoError(t, reg.Validate("lax", nil), "empty params validate as {}")
}

func TestSchemaForGeneratesObjectSchema(t *testing.T) {
	type params struct {
		Path  string `json:"path" jsonschema:"description=file path"`
		Limit int    `json:"limit,omitempty"`
	}
	raw := SchemaFor[params]()

	var schema map[string]any
	require.NoError(t, json.Unmarshal(raw, &schema))
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "path")
	assert.Contains(t, props, "limit")
}
