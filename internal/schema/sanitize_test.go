package schema

import (
	"strings"
	"testing"
)

func TestSanitizeHoistsConstraintsIntoDescription(t *testing.T) {
	in := map[string]any{
		"type":      "string",
		"minLength": float64(3),
		"maxLength": float64(10),
		"pattern":   "^[a-z]+$",
	}
	out := Sanitize(in).(map[string]any)
	if _, ok := out["minLength"]; ok {
		t.Errorf("expected minLength stripped")
	}
	desc, _ := out["description"].(string)
	if !strings.Contains(desc, "minLength: 3") || !strings.Contains(desc, "pattern: ^[a-z]+$") {
		t.Errorf("expected hoisted constraints in description, got %q", desc)
	}
}

func TestSanitizeConstBecomesEnum(t *testing.T) {
	in := map[string]any{"const": "fixed-value"}
	out := Sanitize(in).(map[string]any)
	enum, ok := out["enum"].([]any)
	if !ok || len(enum) != 1 || enum[0] != "fixed-value" {
		t.Fatalf("expected enum: [fixed-value], got %v", out["enum"])
	}
	if _, ok := out["const"]; ok {
		t.Errorf("expected const removed")
	}
}

func TestSanitizeTypeArrayPicksFirstNonNull(t *testing.T) {
	in := map[string]any{"type": []any{"string", "null"}}
	out := Sanitize(in).(map[string]any)
	if out["type"] != "string" {
		t.Errorf("expected type=string, got %v", out["type"])
	}
	desc, _ := out["description"].(string)
	if !strings.Contains(desc, "nullable") {
		t.Errorf("expected nullable marker in description, got %q", desc)
	}
}

func TestSanitizeFlattensAllOf(t *testing.T) {
	in := map[string]any{
		"allOf": []any{
			map[string]any{"type": "object", "properties": map[string]any{"a": map[string]any{"type": "string"}}},
			map[string]any{"properties": map[string]any{"b": map[string]any{"type": "number"}}},
		},
	}
	out := Sanitize(in).(map[string]any)
	if out["allOf"] != nil {
		t.Errorf("expected allOf removed after flattening")
	}
	props, ok := out["properties"].(map[string]any)
	if !ok || props["a"] == nil || props["b"] == nil {
		t.Fatalf("expected merged properties a and b, got %v", out["properties"])
	}
	desc, _ := out["description"].(string)
	if !strings.Contains(desc, "allOf flattened") {
		t.Errorf("expected flatten note, got %q", desc)
	}
}

func TestSanitizeFlattensAnyOfByWidestBranch(t *testing.T) {
	in := map[string]any{
		"anyOf": []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "object", "properties": map[string]any{"x": map[string]any{"type": "string"}}, "description": "wide"},
		},
	}
	out := Sanitize(in).(map[string]any)
	if out["type"] != "object" {
		t.Errorf("expected widest (object) branch chosen, got %v", out["type"])
	}
}

func TestSanitizeStripsUnsupportedKeywords(t *testing.T) {
	in := map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"a": map[string]any{"type": "string"}},
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"additionalProperties": false,
		"title":                "Thing",
	}
	out := Sanitize(in).(map[string]any)
	for _, key := range []string{"$schema", "additionalProperties", "title"} {
		if _, ok := out[key]; ok {
			t.Errorf("expected %s stripped", key)
		}
	}
}

func TestSanitizeEmptyObjectGetsPlaceholder(t *testing.T) {
	in := map[string]any{"type": "object"}
	out := Sanitize(in).(map[string]any)
	props, ok := out["properties"].(map[string]any)
	if !ok {
		t.Fatalf("expected properties to be populated")
	}
	ph, ok := props["_placeholder"].(map[string]any)
	if !ok || ph["type"] != "boolean" {
		t.Errorf("expected _placeholder boolean property, got %v", props["_placeholder"])
	}
}

func TestSanitizeRecursesIntoNestedProperties(t *testing.T) {
	in := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"nested": map[string]any{
				"type":    "string",
				"pattern": "^x$",
			},
		},
	}
	out := Sanitize(in).(map[string]any)
	nested := out["properties"].(map[string]any)["nested"].(map[string]any)
	if _, ok := nested["pattern"]; ok {
		t.Errorf("expected nested pattern stripped")
	}
	if !strings.Contains(nested["description"].(string), "pattern: ^x$") {
		t.Errorf("expected nested hoisted description, got %v", nested["description"])
	}
}
