package claude

import "testing"

func TestSanitizeSchemaEmptyProducesPlaceholder(t *testing.T) {
	result := SanitizeSchema(nil)
	props, ok := result["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected properties map, got %#v", result["properties"])
	}
	if _, ok := props["reason"]; !ok {
		t.Fatalf("expected placeholder 'reason' property, got %#v", props)
	}
}

func TestSanitizeSchemaDropsDisallowedFields(t *testing.T) {
	input := map[string]interface{}{
		"type":                 "object",
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string"},
		},
	}
	result := SanitizeSchema(input)
	if _, ok := result["$schema"]; ok {
		t.Fatalf("expected $schema to be dropped")
	}
	if _, ok := result["additionalProperties"]; ok {
		t.Fatalf("expected additionalProperties to be dropped")
	}
}

func TestSanitizeSchemaConstBecomesEnum(t *testing.T) {
	input := map[string]interface{}{"type": "string", "const": "fixed"}
	result := SanitizeSchema(input)
	enum, ok := result["enum"].([]interface{})
	if !ok || len(enum) != 1 || enum[0] != "fixed" {
		t.Fatalf("expected enum=[fixed], got %#v", result["enum"])
	}
}

func TestCleanSchemaUppercasesTypes(t *testing.T) {
	input := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"count": map[string]interface{}{"type": "integer"},
		},
		"required": []interface{}{"count"},
	}
	result := CleanSchema(input)
	if result["type"] != "OBJECT" {
		t.Fatalf("expected OBJECT, got %v", result["type"])
	}
	props := result["properties"].(map[string]interface{})
	count := props["count"].(map[string]interface{})
	if count["type"] != "INTEGER" {
		t.Fatalf("expected INTEGER, got %v", count["type"])
	}
}

func TestCleanSchemaFlattensAnyOfToBestOption(t *testing.T) {
	input := map[string]interface{}{
		"anyOf": []interface{}{
			map[string]interface{}{"type": "null"},
			map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"x": map[string]interface{}{"type": "string"}},
			},
		},
	}
	result := CleanSchema(input)
	if result["type"] != "OBJECT" {
		t.Fatalf("expected the object branch to win, got %v", result["type"])
	}
	if _, ok := result["anyOf"]; ok {
		t.Fatalf("expected anyOf to be removed")
	}
}

func TestCleanSchemaDropsUnrequiredNullableFromRequired(t *testing.T) {
	input := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"note": map[string]interface{}{"type": []interface{}{"string", "null"}},
		},
		"required": []interface{}{"note"},
	}
	result := CleanSchema(input)
	if _, ok := result["required"]; ok {
		t.Fatalf("expected nullable property to be dropped from required, got %#v", result["required"])
	}
}

func TestCleanToolNameStripsDisallowedCharsAndTruncates(t *testing.T) {
	name := CleanToolName("weather.lookup@v2!!!")
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-') {
			t.Fatalf("unexpected character %q in cleaned name %q", r, name)
		}
	}

	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	cleaned := CleanToolName(string(long))
	if len(cleaned) != 64 {
		t.Fatalf("expected truncation to 64 chars, got %d", len(cleaned))
	}
}

func TestToGoogleType(t *testing.T) {
	cases := map[string]string{
		"string": "STRING", "integer": "INTEGER", "boolean": "BOOLEAN",
		"array": "ARRAY", "object": "OBJECT", "null": "STRING",
	}
	for in, want := range cases {
		if got := toGoogleType(in); got != want {
			t.Errorf("toGoogleType(%q) = %q, want %q", in, got, want)
		}
	}
}
