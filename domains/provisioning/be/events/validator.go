package events

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Validator checks payloads against the per-kind JSON Schema contracts shared with the notifier.
type Validator struct {
	schemas map[Kind]*jsonschema.Schema
}

// NewValidator compiles every embedded contract once.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	schemas := make(map[Kind]*jsonschema.Schema, len(Kinds))
	for _, kind := range Kinds {
		raw, err := schemaFS.ReadFile("schemas/" + string(kind) + ".json")
		if err != nil {
			return nil, fmt.Errorf("read %s contract: %w", kind, err)
		}
		url := "mem://events/" + string(kind) + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("register %s contract: %w", kind, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s contract: %w", kind, err)
		}
		schemas[kind] = compiled
	}

	return &Validator{schemas: schemas}, nil
}

// Encode validates the payload and returns the JSON-encoded envelope.
func (v *Validator) Encode(env Envelope) ([]byte, error) {
	schema, ok := v.schemas[env.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %q", env.Kind)
	}

	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", env.Kind, err)
	}

	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	if err := schema.Validate(document); err != nil {
		return nil, fmt.Errorf("%s payload: %w", env.Kind, err)
	}

	return json.Marshal(env)
}
