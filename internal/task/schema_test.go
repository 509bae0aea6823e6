package task

import "testing"

func TestValidateSchemaMissingRequiredField(t *testing.T) {
	schema := `{"type":"object","required":["approved"]}`
	err := validateSchema(schema, map[string]interface{}{"other": true})
	if err == nil {
		t.Fatal("expected missing-field error")
	}
}

func TestValidateSchemaWrongType(t *testing.T) {
	schema := `{"type":"object","properties":{"approved":{"type":"boolean"}}}`
	err := validateSchema(schema, map[string]interface{}{"approved": "yes"})
	if err == nil {
		t.Fatal("expected type-mismatch error")
	}
}

func TestValidateSchemaPasses(t *testing.T) {
	schema := `{"type":"object","required":["approved"],"properties":{"approved":{"type":"boolean"}}}`
	err := validateSchema(schema, map[string]interface{}{"approved": true})
	if err != nil {
		t.Fatalf("expected valid object, got %v", err)
	}
}

func TestValidateSchemaUnparseableSchemaIsLenient(t *testing.T) {
	err := validateSchema("not json", map[string]interface{}{"x": 1})
	if err != nil {
		t.Fatalf("expected nil for unparseable schema, got %v", err)
	}
}
