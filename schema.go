package workflow

import (
	"bytes"
	"encoding/json"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaCatalog resolves payload-schema refs to JSON Schema documents. It is
// read-mostly process-wide state initialized at startup and passed into the
// engine's constructor so tests can inject fakes.
type SchemaCatalog interface {
	// Resolve returns the decoded JSON Schema for the ref.
	Resolve(ref string) (map[string]any, bool)
	// RegisteredRef returns the schema ref registered for an event name,
	// used to surface drift between declared and registered refs.
	RegisteredRef(eventName string) (string, bool)
}

// StaticSchemaCatalog is a map-backed SchemaCatalog, sufficient for tests
// and for callers that load their catalog at startup.
type StaticSchemaCatalog struct {
	Schemas   map[string]map[string]any
	EventRefs map[string]string
}

func (c *StaticSchemaCatalog) Resolve(ref string) (map[string]any, bool) {
	s, ok := c.Schemas[ref]
	return s, ok
}

func (c *StaticSchemaCatalog) RegisteredRef(eventName string) (string, bool) {
	ref, ok := c.EventRefs[eventName]
	return ref, ok
}

var _ SchemaCatalog = (*StaticSchemaCatalog)(nil)

// validateAgainstSchema compiles the schema document and validates the
// payload. Numeric payload values are round-tripped through json.Number as
// the jsonschema library requires.
func validateAgainstSchema(payload map[string]any, schema map[string]any) error {
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return errors.Wrap(err, "marshalling schema")
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		return errors.Wrap(ErrValidation, "invalid schema document")
	}

	compiler := jsonschema.NewCompiler()
	err = compiler.AddResource("schema.json", doc)
	if err != nil {
		return errors.Wrap(ErrValidation, "adding schema resource")
	}

	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return errors.Wrap(ErrValidation, "compiling schema")
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshalling payload")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payloadBytes))
	if err != nil {
		return errors.Wrap(ErrValidation, "payload is not valid json")
	}

	err = compiled.Validate(inst)
	if err != nil {
		return errors.Wrap(ErrValidation, err.Error(), j.MKV{
			"check": "payload schema",
		})
	}
	return nil
}
