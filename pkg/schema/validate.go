package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
)

// Integers are handed to handlers as int64; floats outside this range
// cannot be converted.
const (
	minInt64Float = -9223372036854775808.0
	maxInt64Float = 9223372036854775808.0
)

// FieldError is a single validation failure.
type FieldError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return e.Path + ": " + e.Reason
}

// Errors collects every failure found in one Validate call.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return strings.Join(parts, "; ")
}

// Validate checks params against obj and returns a coerced copy.
// The input map is never modified. On failure the returned map is nil.
func Validate(obj *Object, params map[string]interface{}) (map[string]interface{}, Errors) {
	v := &validator{}
	out := v.object(obj, params, "")
	if len(v.errs) > 0 {
		return nil, v.errs
	}
	return out, nil
}

type validator struct {
	errs Errors
}

func (v *validator) fail(path, format string, args ...interface{}) {
	v.errs = append(v.errs, FieldError{Path: path, Reason: fmt.Sprintf(format, args...)})
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func (v *validator) object(obj *Object, in map[string]interface{}, path string) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	if obj == nil {
		obj = &Object{}
	}

	known := make(map[string]struct{}, len(obj.Properties))
	for _, p := range obj.Properties {
		known[p.Name] = struct{}{}
		field := join(path, p.Name)

		raw, ok := in[p.Name]
		if !ok || raw == nil {
			switch {
			case p.Default != nil:
				out[p.Name] = p.Default
			case p.Required:
				v.fail(field, "is required")
			}
			continue
		}

		if value, ok := v.value(p.Field, raw, field); ok {
			out[p.Name] = value
		}
	}

	// Sorted so error output is stable across runs.
	var unknown []string
	for name, raw := range in {
		if _, ok := known[name]; ok {
			continue
		}
		if obj.AdditionalProperties {
			out[name] = raw
			continue
		}
		unknown = append(unknown, name)
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		v.fail(join(path, name), "unknown field")
	}

	return out
}

func (v *validator) value(f Field, raw interface{}, path string) (interface{}, bool) {
	if isNilField(f) {
		v.fail(path, "has no declared type")
		return nil, false
	}
	switch f := f.(type) {
	case String:
		return v.str(f, raw, path)
	case *String:
		return v.str(*f, raw, path)
	case Number:
		return v.number(f, raw, path)
	case *Number:
		return v.number(*f, raw, path)
	case Boolean, *Boolean:
		return v.boolean(raw, path)
	case Enum:
		return v.enum(f, raw, path)
	case *Enum:
		return v.enum(*f, raw, path)
	case *Object:
		m, ok := raw.(map[string]interface{})
		if !ok {
			v.fail(path, "must be an object, got %s", typeName(raw))
			return nil, false
		}
		before := len(v.errs)
		out := v.object(f, m, path)
		return out, len(v.errs) == before
	case Array:
		return v.array(f, raw, path)
	case *Array:
		return v.array(*f, raw, path)
	default:
		v.fail(path, "has no declared type")
		return nil, false
	}
}

func (v *validator) str(f String, raw interface{}, path string) (interface{}, bool) {
	s, ok := raw.(string)
	if !ok {
		v.fail(path, "must be a string, got %s", typeName(raw))
		return nil, false
	}

	n := utf8.RuneCountInString(s)
	if f.MinLength > 0 && n < f.MinLength {
		v.fail(path, "must be at least %d characters", f.MinLength)
		return nil, false
	}
	if f.MaxLength > 0 && n > f.MaxLength {
		v.fail(path, "must be at most %d characters", f.MaxLength)
		return nil, false
	}

	if reason := checkFormat(f.Format, s); reason != "" {
		v.fail(path, "%s", reason)
		return nil, false
	}
	return s, true
}

// checkFormat uses the same format checkers as the compiled JSON Schema,
// so a value the emitted schema accepts is never rejected here.
func checkFormat(format, s string) string {
	if format == "" || gojsonschema.FormatCheckers.IsFormat(format, s) {
		return ""
	}
	switch format {
	case FormatUUID:
		return "must be a UUID"
	case FormatEmail:
		return "must be an email address"
	case FormatDateTime:
		return "must be an RFC 3339 date-time"
	case FormatURI:
		return "must be an absolute URI"
	}
	return "must be a valid " + format
}

func (v *validator) number(f Number, raw interface{}, path string) (interface{}, bool) {
	n, ok := toFloat(raw)
	if !ok {
		v.fail(path, "must be a number, got %s", typeName(raw))
		return nil, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		v.fail(path, "must be a finite number")
		return nil, false
	}
	if f.Integer && n != math.Trunc(n) {
		v.fail(path, "must be an integer")
		return nil, false
	}
	if f.Min != nil && n < *f.Min {
		v.fail(path, "must be >= %v", *f.Min)
		return nil, false
	}
	if f.Max != nil && n > *f.Max {
		v.fail(path, "must be <= %v", *f.Max)
		return nil, false
	}

	if f.Integer {
		// Large integers survive exactly when they arrive as Go ints.
		if i, ok := toInt(raw); ok {
			return i, true
		}
		if n < minInt64Float || n >= maxInt64Float {
			v.fail(path, "must fit in a 64-bit integer")
			return nil, false
		}
		return int64(n), true
	}
	return n, true
}

func toFloat(raw interface{}) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toInt(raw interface{}) (int64, bool) {
	switch n := raw.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

func (v *validator) boolean(raw interface{}, path string) (interface{}, bool) {
	switch b := raw.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	v.fail(path, "must be a boolean, got %s", typeName(raw))
	return nil, false
}

func (v *validator) enum(f Enum, raw interface{}, path string) (interface{}, bool) {
	s, ok := raw.(string)
	if !ok {
		v.fail(path, "must be a string, got %s", typeName(raw))
		return nil, false
	}
	for _, allowed := range f.Values {
		if s == allowed {
			return s, true
		}
	}
	v.fail(path, "must be one of [%s]", strings.Join(f.Values, ", "))
	return nil, false
}

func (v *validator) array(f Array, raw interface{}, path string) (interface{}, bool) {
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		v.fail(path, "must be an array, got %s", typeName(raw))
		return nil, false
	}

	n := rv.Len()
	if f.MinItems > 0 && n < f.MinItems {
		v.fail(path, "must have at least %d items", f.MinItems)
		return nil, false
	}
	if f.MaxItems > 0 && n > f.MaxItems {
		v.fail(path, "must have at most %d items", f.MaxItems)
		return nil, false
	}

	out := make([]interface{}, 0, n)
	before := len(v.errs)
	for i := 0; i < n; i++ {
		item := rv.Index(i).Interface()
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		// Untyped arrays accept anything, null included.
		if f.Items == nil {
			out = append(out, item)
			continue
		}
		if item == nil {
			v.fail(itemPath, "must not be null")
			continue
		}
		if value, ok := v.value(f.Items, item, itemPath); ok {
			out = append(out, value)
		}
	}
	return out, len(v.errs) == before
}

// isNilField reports a missing field type, including typed nil pointers.
func isNilField(f Field) bool {
	switch f := f.(type) {
	case nil:
		return true
	case *String:
		return f == nil
	case *Number:
		return f == nil
	case *Boolean:
		return f == nil
	case *Enum:
		return f == nil
	case *Object:
		return f == nil
	case *Array:
		return f == nil
	}
	return false
}

func typeName(raw interface{}) string {
	switch raw.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	}
	if _, ok := toFloat(raw); ok {
		return "number"
	}
	return fmt.Sprintf("%T", raw)
}
