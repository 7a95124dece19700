package agent

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects the input schema of a tool from its parameter
// struct. Field descriptions come from jsonschema struct tags.
func SchemaFor[T any]() json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	var zero T
	schema := reflector.Reflect(&zero)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
