package ollama

import (
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

// schemaCache keeps compiled schemas keyed by their raw text.
type schemaCache struct {
	mu      sync.Mutex
	entries map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{entries: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) compile(schema []byte) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("structured output requires a schema")
	}
	key := string(schema)

	c.mu.Lock()
	defer c.mu.Unlock()
	if compiled, ok := c.entries[key]; ok {
		return compiled, nil
	}
	compiled, err := jsonschema.NewCompiler().Compile(schema)
	if err != nil {
		return nil, fmt.Errorf("compile output schema: %w", err)
	}
	c.entries[key] = compiled
	return compiled, nil
}

func validateAgainst(schema *jsonschema.Schema, data []byte) error {
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("schema validation failed: %v", result.Errors)
}
