package schema

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ErrMalformed is returned by Compile for schemas that cannot be used.
var ErrMalformed = errors.New("malformed schema")

// JSONSchema renders obj as a JSON Schema object suitable for LLM
// function-calling APIs.
func JSONSchema(obj *Object) map[string]interface{} {
	return objectSchema(obj)
}

func objectSchema(obj *Object) map[string]interface{} {
	props := make(map[string]interface{})
	if obj != nil {
		for _, p := range obj.Properties {
			s := fieldSchema(p.Field)
			if p.Description != "" {
				s["description"] = p.Description
			}
			if p.Default != nil {
				s["default"] = p.Default
			}
			props[p.Name] = s
		}
	}

	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"required":             obj.Required(),
		"additionalProperties": obj != nil && obj.AdditionalProperties,
	}
}

func fieldSchema(f Field) map[string]interface{} {
	if isNilField(f) {
		return map[string]interface{}{}
	}
	switch f := f.(type) {
	case String:
		return stringSchema(f)
	case *String:
		return stringSchema(*f)
	case Number:
		return numberSchema(f)
	case *Number:
		return numberSchema(*f)
	case Boolean, *Boolean:
		return map[string]interface{}{"type": "boolean"}
	case Enum:
		return enumSchema(f)
	case *Enum:
		return enumSchema(*f)
	case *Object:
		return objectSchema(f)
	case Array:
		return arraySchema(f)
	case *Array:
		return arraySchema(*f)
	}
	return map[string]interface{}{}
}

func stringSchema(f String) map[string]interface{} {
	s := map[string]interface{}{"type": "string"}
	if f.Format != "" {
		s["format"] = f.Format
	}
	if f.MinLength > 0 {
		s["minLength"] = f.MinLength
	}
	if f.MaxLength > 0 {
		s["maxLength"] = f.MaxLength
	}
	return s
}

func numberSchema(f Number) map[string]interface{} {
	s := map[string]interface{}{"type": "number"}
	if f.Integer {
		s["type"] = "integer"
	}
	if f.Min != nil {
		s["minimum"] = *f.Min
	}
	if f.Max != nil {
		s["maximum"] = *f.Max
	}
	return s
}

func enumSchema(f Enum) map[string]interface{} {
	values := make([]interface{}, len(f.Values))
	for i, v := range f.Values {
		values[i] = v
	}
	return map[string]interface{}{"type": "string", "enum": values}
}

func arraySchema(f Array) map[string]interface{} {
	s := map[string]interface{}{"type": "array"}
	if f.Items != nil {
		s["items"] = fieldSchema(f.Items)
	}
	if f.MinItems > 0 {
		s["minItems"] = f.MinItems
	}
	if f.MaxItems > 0 {
		s["maxItems"] = f.MaxItems
	}
	return s
}

// Compile checks that obj is well formed and returns the compiled JSON
// Schema. Structural problems gojsonschema cannot see (duplicate property
// names, empty enums, inverted bounds, defaults that fail their own field)
// are checked first.
func Compile(obj *Object) (*gojsonschema.Schema, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: nil object", ErrMalformed)
	}
	if err := check(obj, ""); err != nil {
		return nil, err
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(JSONSchema(obj)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return compiled, nil
}

func check(obj *Object, path string) error {
	seen := make(map[string]struct{}, len(obj.Properties))
	for _, p := range obj.Properties {
		field := join(path, p.Name)
		if p.Name == "" {
			return fmt.Errorf("%w: %s: empty property name", ErrMalformed, path)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: %s: duplicate property", ErrMalformed, field)
		}
		seen[p.Name] = struct{}{}

		if err := checkField(p.Field, field); err != nil {
			return err
		}
		if p.Default != nil {
			v := &validator{}
			if _, ok := v.value(p.Field, p.Default, field); !ok {
				return fmt.Errorf("%w: default: %v", ErrMalformed, v.errs)
			}
		}
	}
	return nil
}

func checkField(f Field, path string) error {
	if isNilField(f) {
		return fmt.Errorf("%w: %s: missing field type", ErrMalformed, path)
	}
	switch f := f.(type) {
	case String:
		return checkString(f, path)
	case *String:
		return checkString(*f, path)
	case Number:
		return checkNumber(f, path)
	case *Number:
		return checkNumber(*f, path)
	case Enum:
		return checkEnum(f, path)
	case *Enum:
		return checkEnum(*f, path)
	case *Object:
		return check(f, path)
	case Array:
		return checkArray(f, path)
	case *Array:
		return checkArray(*f, path)
	}
	return nil
}

func checkString(f String, path string) error {
	if f.MinLength < 0 || f.MaxLength < 0 || (f.MaxLength > 0 && f.MinLength > f.MaxLength) {
		return fmt.Errorf("%w: %s: invalid length bounds", ErrMalformed, path)
	}
	return nil
}

func checkNumber(f Number, path string) error {
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("%w: %s: minimum exceeds maximum", ErrMalformed, path)
	}
	return nil
}

func checkEnum(f Enum, path string) error {
	if len(f.Values) == 0 {
		return fmt.Errorf("%w: %s: enum has no values", ErrMalformed, path)
	}
	seen := make(map[string]struct{}, len(f.Values))
	for _, v := range f.Values {
		if _, dup := seen[v]; dup {
			return fmt.Errorf("%w: %s: duplicate enum value %q", ErrMalformed, path, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

func checkArray(f Array, path string) error {
	if f.MinItems < 0 || f.MaxItems < 0 || (f.MaxItems > 0 && f.MinItems > f.MaxItems) {
		return fmt.Errorf("%w: %s: invalid item bounds", ErrMalformed, path)
	}
	if f.Items == nil {
		return nil
	}
	return checkField(f.Items, path+"[]")
}
