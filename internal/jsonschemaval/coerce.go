// SPDX-License-Identifier: Apache-2.0

// Package jsonschemaval performs the property coercion and validation of
// §4.F.1 steps 2-3: boolean coercion from 0/1 or "true"/"false", integer and
// string preservation, and TypeMismatch rejection with the "wrap with
// lix_json(...)" hint for object/array properties handed a plain string.
// It wraps github.com/santhosh-tekuri/jsonschema/v6 the way the teacher's
// internal/jsonschema wraps the v5 predecessor for its own migration-schema
// validation, but compiles one small inline schema per property instead of
// a single static schema.json.
package jsonschemaval

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lixql/lixql/pkg/lixerr"
	"github.com/lixql/lixql/pkg/schema"
)

// CoerceProperty coerces a raw value (as produced by the SQL AST literal
// conversion) to the JSON representation required by prop's declared type,
// applying the boolean/integer coercions named in §4.F.1 step 3, and
// rejects plain strings handed to object/array properties with the
// lix_json(...) hint (§7 TypeMismatch).
func CoerceProperty(prop *schema.Property, raw any, wrappedAsJSON bool) (any, error) {
	switch prop.Type {
	case schema.TypeBoolean:
		return coerceBoolean(prop, raw)
	case schema.TypeInteger, schema.TypeNumber:
		return raw, nil
	case schema.TypeString:
		if wrappedAsJSON {
			return nil, lixerr.TypeMismatchError{Property: prop.Name, Want: string(prop.Type), Hint: "string properties must not be wrapped with lix_json(...)"}
		}
		return raw, nil
	case schema.TypeObject, schema.TypeArray:
		if !wrappedAsJSON {
			return nil, lixerr.TypeMismatchError{
				Property: prop.Name,
				Want:     string(prop.Type),
				Hint:     "wrap object/array input with lix_json(...)",
			}
		}
		return raw, nil
	default:
		return raw, nil
	}
}

func coerceBoolean(prop *schema.Property, raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case float64:
		if v == 0 {
			return false, nil
		}
		if v == 1 {
			return true, nil
		}
	case int64:
		if v == 0 {
			return false, nil
		}
		if v == 1 {
			return true, nil
		}
	case string:
		switch v {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return nil, lixerr.TypeMismatchError{Property: prop.Name, Want: string(schema.TypeBoolean)}
}

// ValidateAgainstDeclaredShape compiles an inline JSON Schema from prop's
// declared type and validates value against it, used as a final guard after
// coercion and default application, before the snapshot object is handed to
// the commit generator.
func ValidateAgainstDeclaredShape(prop *schema.Property, value any) error {
	schemaDoc := map[string]any{"type": jsonSchemaTypeName(prop.Type)}
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("building inline schema for %q: %w", prop.Name, err)
	}

	compiler := jsonschema.NewCompiler()
	unmarshalled, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("unmarshalling inline schema for %q: %w", prop.Name, err)
	}
	resourceURL := "mem://lix/" + prop.Name
	if err := compiler.AddResource(resourceURL, unmarshalled); err != nil {
		return fmt.Errorf("adding inline schema resource for %q: %w", prop.Name, err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("compiling inline schema for %q: %w", prop.Name, err)
	}

	if err := compiled.Validate(value); err != nil {
		return lixerr.TypeMismatchError{Property: prop.Name, Want: string(prop.Type)}
	}
	return nil
}

func jsonSchemaTypeName(t schema.PropertyType) string {
	switch t {
	case schema.TypeInteger:
		return "integer"
	case schema.TypeNumber:
		return "number"
	case schema.TypeBoolean:
		return "boolean"
	case schema.TypeObject:
		return "object"
	case schema.TypeArray:
		return "array"
	default:
		return "string"
	}
}
