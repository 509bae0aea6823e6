package task

import (
	"encoding/json"
	"fmt"
	"strings"
)

// jsonSchema is the small subset of JSON Schema this validator enforces:
// object type, required properties, and primitive property types. Full
// schema semantics (oneOf, $ref, nested arrays, formats, ...) are out of
// scope — the task runner's own structured-output contract only ever
// declares flat objects with required fields and primitive types.
type jsonSchema struct {
	Type       string                `json:"type"`
	Required   []string              `json:"required"`
	Properties map[string]jsonSchema `json:"properties"`
}

// validateSchema checks obj against schemaText per spec.md §4.5: "If a
// schema is configured, validate the result". Returns nil when the
// schema is unparseable (a malformed schema is a config problem, not a
// result-validation failure) or when obj satisfies it.
func validateSchema(schemaText string, obj map[string]interface{}) error {
	var schema jsonSchema
	if err := json.Unmarshal([]byte(schemaText), &schema); err != nil {
		return nil
	}
	return validateAgainst(schema, obj)
}

func validateAgainst(schema jsonSchema, obj map[string]interface{}) error {
	for _, name := range schema.Required {
		if _, ok := obj[name]; !ok {
			return fmt.Errorf("missing required field %q", name)
		}
	}
	for name, propSchema := range schema.Properties {
		v, ok := obj[name]
		if !ok {
			continue
		}
		if err := validateType(name, propSchema.Type, v); err != nil {
			return err
		}
	}
	return nil
}

func validateType(field, typ string, v interface{}) error {
	if typ == "" || v == nil {
		return nil
	}
	ok := true
	switch typ {
	case "string":
		_, ok = v.(string)
	case "number", "integer":
		_, ok = v.(float64)
	case "boolean":
		_, ok = v.(bool)
	case "object":
		_, ok = v.(map[string]interface{})
	case "array":
		_, ok = v.([]interface{})
	}
	if !ok {
		return fmt.Errorf("field %q: expected type %s, got %s", field, typ, strings.TrimPrefix(fmt.Sprintf("%T", v), "*"))
	}
	return nil
}
