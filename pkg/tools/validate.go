package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaCache sync.Map

// ValidateArguments checks a tool call's argument JSON against the tool's
// parameter schema. A definition without a schema accepts any valid JSON
// object.
func ValidateArguments(def Definition, arguments string) error {
	var decoded any
	if err := json.Unmarshal([]byte(arguments), &decoded); err != nil {
		return fmt.Errorf("tool %q arguments are not valid JSON: %w", def.Name, err)
	}
	if len(def.Parameters) == 0 {
		return nil
	}

	schema, err := compileSchema(def.Parameters)
	if err != nil {
		return fmt.Errorf("compile schema for tool %q: %w", def.Name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool %q arguments invalid: %w", def.Name, err)
	}
	return nil
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
