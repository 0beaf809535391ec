// Package schema sanitizes client-supplied JSON Schema tool declarations
// into the subset upstream validation accepts.
//
// It walks the schema recursively over properties/items, rewriting what it
// can and stripping what it can't, in four phases: normalize, flatten
// composition keywords, hoist unsupported constraints into the description
// as prose, then strip whatever remains unsupported.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// hoistedConstraints are scalar JSON Schema keywords phase 3 moves into the
// description as "<name>: <value>" text before deleting them.
var hoistedConstraints = []string{
	"minLength", "maxLength", "minimum", "maximum",
	"exclusiveMinimum", "exclusiveMaximum", "pattern",
	"minItems", "maxItems", "minProperties", "maxProperties",
	"format", "default", "examples",
}

// strippedKeywords are deleted outright in phase 4, after hoisting.
var strippedKeywords = map[string]struct{}{
	"$schema": {}, "$defs": {}, "definitions": {}, "$ref": {}, "$id": {},
	"$comment": {}, "title": {}, "propertyNames": {}, "additionalProperties": {},
	"if": {}, "then": {}, "else": {}, "not": {},
	"dependentSchemas": {}, "dependentRequired": {},
}

// Sanitize transforms a tool parameter schema, returning a new tree and
// leaving the input unchanged, so it satisfies upstream's restricted JSON
// Schema dialect.
func Sanitize(node any) any {
	cleaned := sanitizeValue(node)
	obj, ok := cleaned.(map[string]any)
	if !ok {
		return cleaned
	}
	ensurePlaceholderIfEmptyObject(obj)
	return obj
}

func sanitizeValue(node any) any {
	switch v := node.(type) {
	case map[string]any:
		return sanitizeObject(v)
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, sanitizeValue(item))
		}
		return out
	default:
		return node
	}
}

func sanitizeObject(schema map[string]any) map[string]any {
	work := make(map[string]any, len(schema))
	for k, v := range schema {
		work[k] = v
	}

	normalizeConstAndTypeArray(work)

	if flattened := flattenComposition(work); flattened != nil {
		work = flattened
	}

	descend(work)

	hoistConstraintsToDescription(work)

	for key := range strippedKeywords {
		delete(work, key)
	}

	return work
}

// normalizeConstAndTypeArray implements phase 1: const -> enum, and a type
// array collapses to its first non-null entry, with the original list and
// a nullable marker recorded in description.
func normalizeConstAndTypeArray(schema map[string]any) {
	if v, ok := schema["const"]; ok {
		schema["enum"] = []any{v}
		delete(schema, "const")
	}

	if arr, ok := schema["type"].([]any); ok {
		var nullable bool
		var first string
		rest := make([]string, 0, len(arr))
		for _, t := range arr {
			s, ok := t.(string)
			if !ok {
				continue
			}
			if s == "null" {
				nullable = true
				continue
			}
			if first == "" {
				first = s
			}
			rest = append(rest, s)
		}
		if first != "" {
			schema["type"] = first
		} else {
			delete(schema, "type")
		}
		note := fmt.Sprintf("original type list: [%s]", strings.Join(rest, ", "))
		if nullable {
			note += " (nullable)"
		}
		appendDescription(schema, note)
	}
}

// flattenComposition implements phase 2. allOf deep-merges every branch
// (properties merged, other keys first-wins); anyOf/oneOf picks the branch
// with the most keys. Either way a "<key> flattened" note is appended.
func flattenComposition(schema map[string]any) map[string]any {
	if allOf, ok := schema["allOf"].([]any); ok && len(allOf) > 0 {
		merged := mergeAllOf(allOf)
		for k, v := range schema {
			if k == "allOf" {
				continue
			}
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
		appendDescription(merged, "allOf flattened")
		return merged
	}

	for _, key := range []string{"anyOf", "oneOf"} {
		branches, ok := schema[key].([]any)
		if !ok || len(branches) == 0 {
			continue
		}
		best := pickWidestBranch(branches)
		if best == nil {
			continue
		}
		result := make(map[string]any, len(best)+len(schema))
		for k, v := range best {
			result[k] = v
		}
		for k, v := range schema {
			if k == key {
				continue
			}
			if _, exists := result[k]; !exists {
				result[k] = v
			}
		}
		appendDescription(result, key+" flattened")
		return result
	}

	return nil
}

func mergeAllOf(branches []any) map[string]any {
	merged := map[string]any{}
	mergedProps := map[string]any{}
	for _, b := range branches {
		obj, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if props, ok := obj["properties"].(map[string]any); ok {
			for pk, pv := range props {
				mergedProps[pk] = pv
			}
		}
		for k, v := range obj {
			if k == "properties" {
				continue
			}
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
	}
	if len(mergedProps) > 0 {
		merged["properties"] = mergedProps
	}
	return merged
}

func pickWidestBranch(branches []any) map[string]any {
	var best map[string]any
	bestKeys := -1
	for _, b := range branches {
		obj, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if len(obj) > bestKeys {
			bestKeys = len(obj)
			best = obj
		}
	}
	return best
}

// descend recurses into properties and items after composition has been
// flattened, so nested schemas go through the same four phases.
func descend(schema map[string]any) {
	if props, ok := schema["properties"].(map[string]any); ok {
		next := make(map[string]any, len(props))
		for k, v := range props {
			next[k] = sanitizeValue(v)
		}
		schema["properties"] = next
	}
	switch items := schema["items"].(type) {
	case map[string]any:
		schema["items"] = sanitizeValue(items)
	case []any:
		next := make([]any, 0, len(items))
		for _, v := range items {
			next = append(next, sanitizeValue(v))
		}
		schema["items"] = next
	}
}

// hoistConstraintsToDescription implements phase 3: each scalar constraint
// keyword becomes a "<name>: <value>" description clause, in a stable
// order, then is deleted.
func hoistConstraintsToDescription(schema map[string]any) {
	present := make([]string, 0, len(hoistedConstraints))
	for _, name := range hoistedConstraints {
		if v, ok := schema[name]; ok && isScalar(v) {
			present = append(present, name)
		}
	}
	sort.Strings(present)
	for _, name := range present {
		appendDescription(schema, fmt.Sprintf("%s: %v", name, schema[name]))
		delete(schema, name)
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any, nil:
		return false
	default:
		return true
	}
}

func appendDescription(schema map[string]any, note string) {
	existing, _ := schema["description"].(string)
	if existing == "" {
		schema["description"] = note
		return
	}
	schema["description"] = existing + "; " + note
}

// ensurePlaceholderIfEmptyObject gives an object schema with no properties
// a single placeholder property, since upstream rejects empty object
// schemas outright.
func ensurePlaceholderIfEmptyObject(schema map[string]any) {
	typ, _ := schema["type"].(string)
	if typ != "object" {
		return
	}
	props, _ := schema["properties"].(map[string]any)
	if len(props) > 0 {
		return
	}
	schema["properties"] = map[string]any{
		"_placeholder": map[string]any{
			"type":        "boolean",
			"description": "unused placeholder parameter; upstream rejects object schemas with no properties",
		},
	}
}
