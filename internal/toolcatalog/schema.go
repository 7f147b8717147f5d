package toolcatalog

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus/pkg/orchestration"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache compiles each descriptor's JSON schema once, keyed by the raw
// schema text, matching the caching idiom pluginsdk's manifest validator
// uses for plugin config schemas.
var schemaCache sync.Map

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// propertyTypes reads the top-level "properties": {"<name>": {"type": ...}}
// shape out of a descriptor's schema, used only to drive attribute
// coercion below; malformed schemas yield an empty map rather than an
// error, since coercion is best-effort and validation below is what
// actually enforces correctness.
func propertyTypes(schema json.RawMessage) map[string]string {
	if len(schema) == 0 {
		return nil
	}
	var shape struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schema, &shape); err != nil {
		return nil
	}
	types := make(map[string]string, len(shape.Properties))
	for name, prop := range shape.Properties {
		types[name] = prop.Type
	}
	return types
}

// parseStrictBool implements the wire format's boolean-attribute grammar:
// true/false/1/0/yes/no, case-insensitively; anything else doesn't parse.
func parseStrictBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	}
	return false, false
}

// coerceArgs converts XML-attribute string values to the JSON type their
// descriptor's schema declares for that property (integer/number/boolean).
// The wire format carries every attribute as a string; this is where
// "integer/boolean attributes are parsed with strict rules" actually
// happens, ahead of schema validation. A value that fails to parse under
// its declared type is passed through unchanged so validation reports a
// precise type-mismatch instead of silently letting it by.
func coerceArgs(schema json.RawMessage, args map[string]any) map[string]any {
	types := propertyTypes(schema)
	if len(types) == 0 {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		s, isString := v.(string)
		if !isString {
			out[k] = v
			continue
		}
		switch types[k] {
		case "integer", "number":
			if n, err := strconv.ParseFloat(s, 64); err == nil {
				out[k] = n
				continue
			}
		case "boolean":
			if b, ok := parseStrictBool(s); ok {
				out[k] = b
				continue
			}
		}
		out[k] = v
	}
	return out
}

// validateArgs coerces args per desc's schema, then validates the result
// against it. It returns the coerced args (the shape Execute should
// receive) and a non-nil error when a required key is missing or a
// present key doesn't match its declared type.
func validateArgs(desc orchestration.ToolDescriptor, args map[string]any) (map[string]any, error) {
	coerced := coerceArgs(desc.Schema, args)
	schema, err := compileSchema(desc.Name, desc.Schema)
	if err != nil {
		return coerced, fmt.Errorf("compile schema for %q: %w", desc.Name, err)
	}
	if schema == nil {
		return coerced, nil
	}

	raw, err := json.Marshal(coerced)
	if err != nil {
		return coerced, fmt.Errorf("encode args for %q: %w", desc.Name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return coerced, fmt.Errorf("decode args for %q: %w", desc.Name, err)
	}
	if err := schema.Validate(doc); err != nil {
		return coerced, fmt.Errorf("%s: invalid arguments: %w", desc.Name, err)
	}
	return coerced, nil
}
