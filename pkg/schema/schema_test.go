package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"
)

func contactSchema() *Object {
	return NewObject(
		Property{Name: "id", Field: String{Format: FormatUUID}, Required: true},
		Property{Name: "email", Field: String{Format: FormatEmail}},
		Property{Name: "age", Field: Number{Integer: true, Min: Ptr(0.0), Max: Ptr(150.0)}},
		Property{Name: "score", Field: Number{}},
		Property{Name: "active", Field: Boolean{}, Default: true},
		Property{Name: "status", Field: Enum{Values: []string{"lead", "customer"}}},
		Property{Name: "items", Field: Array{
			Items: NewObject(Property{Name: "name", Field: String{MinLength: 1}, Required: true}),
		}},
	)
}

func TestValidate_ValidPayload(t *testing.T) {
	params := map[string]interface{}{
		"id":     "5b1f3c1e-8a43-4c1b-9b0a-2f6c1d7e9a10",
		"email":  "ada@example.com",
		"age":    float64(36),
		"score":  1.5,
		"status": "lead",
		"items":  []interface{}{map[string]interface{}{"name": "a"}},
	}

	out, errs := Validate(contactSchema(), params)
	require.Empty(t, errs)
	assert.Equal(t, int64(36), out["age"])
	assert.Equal(t, 1.5, out["score"])
	assert.Equal(t, true, out["active"], "default should be applied")
	assert.Equal(t, []interface{}{map[string]interface{}{"name": "a"}}, out["items"])
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	params := map[string]interface{}{
		"id":  "5b1f3c1e-8a43-4c1b-9b0a-2f6c1d7e9a10",
		"age": "42",
	}

	out, errs := Validate(contactSchema(), params)
	require.Empty(t, errs)
	assert.Equal(t, "42", params["age"])
	assert.Equal(t, int64(42), out["age"])
	_, hasActive := params["active"]
	assert.False(t, hasActive)
}

func TestValidate_Coercion(t *testing.T) {
	obj := NewObject(
		Property{Name: "n", Field: Number{}},
		Property{Name: "i", Field: Number{Integer: true}},
		Property{Name: "b", Field: Boolean{}},
	)

	tests := []struct {
		name   string
		params map[string]interface{}
		want   map[string]interface{}
	}{
		{
			name:   "numeric strings",
			params: map[string]interface{}{"n": "2.5", "i": "7"},
			want:   map[string]interface{}{"n": 2.5, "i": int64(7)},
		},
		{
			name:   "json numbers",
			params: map[string]interface{}{"n": json.Number("3"), "i": json.Number("9007199254740993")},
			want:   map[string]interface{}{"n": 3.0, "i": int64(9007199254740993)},
		},
		{
			name:   "go ints",
			params: map[string]interface{}{"n": 4, "i": int64(5)},
			want:   map[string]interface{}{"n": 4.0, "i": int64(5)},
		},
		{
			name:   "whole float as integer",
			params: map[string]interface{}{"i": 8.0},
			want:   map[string]interface{}{"i": int64(8)},
		},
		{
			name:   "boolean strings",
			params: map[string]interface{}{"b": "TRUE"},
			want:   map[string]interface{}{"b": true},
		},
		{
			name:   "null treated as absent",
			params: map[string]interface{}{"n": nil},
			want:   map[string]interface{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errs := Validate(obj, tt.params)
			require.Empty(t, errs)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]interface{}
		path   string
		reason string
	}{
		{
			name:   "missing required",
			params: map[string]interface{}{},
			path:   "id",
			reason: "is required",
		},
		{
			name:   "bad uuid",
			params: map[string]interface{}{"id": "not-a-uuid"},
			path:   "id",
			reason: "must be a UUID",
		},
		{
			name:   "unknown field",
			params: map[string]interface{}{"id": "5b1f3c1e-8a43-4c1b-9b0a-2f6c1d7e9a10", "nickname": "x"},
			path:   "nickname",
			reason: "unknown field",
		},
		{
			name:   "non integer",
			params: map[string]interface{}{"id": "5b1f3c1e-8a43-4c1b-9b0a-2f6c1d7e9a10", "age": 1.5},
			path:   "age",
			reason: "must be an integer",
		},
		{
			name:   "out of range",
			params: map[string]interface{}{"id": "5b1f3c1e-8a43-4c1b-9b0a-2f6c1d7e9a10", "age": 200},
			path:   "age",
			reason: "must be <= 150",
		},
		{
			name:   "enum membership",
			params: map[string]interface{}{"id": "5b1f3c1e-8a43-4c1b-9b0a-2f6c1d7e9a10", "status": "vip"},
			path:   "status",
			reason: "must be one of [lead, customer]",
		},
		{
			name:   "wrong type",
			params: map[string]interface{}{"id": "5b1f3c1e-8a43-4c1b-9b0a-2f6c1d7e9a10", "active": "yes"},
			path:   "active",
			reason: "must be a boolean, got string",
		},
		{
			name:   "bad email",
			params: map[string]interface{}{"id": "5b1f3c1e-8a43-4c1b-9b0a-2f6c1d7e9a10", "email": "ada"},
			path:   "email",
			reason: "must be an email address",
		},
		{
			name: "nested array path",
			params: map[string]interface{}{
				"id": "5b1f3c1e-8a43-4c1b-9b0a-2f6c1d7e9a10",
				"items": []interface{}{
					map[string]interface{}{"name": "a"},
					map[string]interface{}{"name": "b"},
					map[string]interface{}{"name": ""},
				},
			},
			path:   "items[2].name",
			reason: "must be at least 1 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errs := Validate(contactSchema(), tt.params)
			assert.Nil(t, out)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.path, errs[0].Path)
			assert.Equal(t, tt.reason, errs[0].Reason)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	_, errs := Validate(contactSchema(), map[string]interface{}{"age": "old", "zzz": 1, "aaa": 2})
	require.Len(t, errs, 4)
	assert.Equal(t, "id: is required; age: must be a number, got string; aaa: unknown field; zzz: unknown field", errs.Error())
}

func TestValidate_Formats(t *testing.T) {
	tests := []struct {
		format string
		good   string
		bad    string
	}{
		{FormatUUID, "5b1f3c1e-8a43-4c1b-9b0a-2f6c1d7e9a10", "5b1f3c1e"},
		{FormatEmail, "a@b.io", "ada"},
		{FormatDateTime, "2024-05-01T10:00:00Z", "yesterday"},
		{FormatURI, "https://example.com/x", "/relative"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			obj := NewObject(Property{Name: "v", Field: String{Format: tt.format}})

			_, errs := Validate(obj, map[string]interface{}{"v": tt.good})
			assert.Empty(t, errs)

			_, errs = Validate(obj, map[string]interface{}{"v": tt.bad})
			assert.Len(t, errs, 1)
		})
	}
}

func TestValidate_NilSchemaRejectsArguments(t *testing.T) {
	out, errs := Validate(nil, nil)
	assert.Empty(t, errs)
	assert.Empty(t, out)

	_, errs = Validate(nil, map[string]interface{}{"x": 1})
	require.Len(t, errs, 1)
	assert.Equal(t, "x", errs[0].Path)
}

func TestJSONSchema(t *testing.T) {
	s := JSONSchema(contactSchema())

	assert.Equal(t, "object", s["type"])
	assert.Equal(t, false, s["additionalProperties"])
	assert.Equal(t, []string{"id"}, s["required"])

	props := s["properties"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"type": "string", "format": "uuid"}, props["id"])
	assert.Equal(t, map[string]interface{}{"type": "integer", "minimum": 0.0, "maximum": 150.0}, props["age"])
	assert.Equal(t, map[string]interface{}{"type": "boolean", "default": true}, props["active"])
	assert.Equal(t, []interface{}{"lead", "customer"}, props["status"].(map[string]interface{})["enum"])

	items := props["items"].(map[string]interface{})
	assert.Equal(t, "array", items["type"])
	assert.Equal(t, []string{"name"}, items["items"].(map[string]interface{})["required"])
}

func TestCompile(t *testing.T) {
	_, err := Compile(contactSchema())
	require.NoError(t, err)

	_, err = Compile(NewObject())
	require.NoError(t, err, "empty object is a valid parameter schema")

	malformed := []struct {
		name string
		obj  *Object
	}{
		{"nil", nil},
		{"missing type", NewObject(Property{Name: "a"})},
		{"duplicate", NewObject(Property{Name: "a", Field: Boolean{}}, Property{Name: "a", Field: Boolean{}})},
		{"empty name", NewObject(Property{Field: Boolean{}})},
		{"empty enum", NewObject(Property{Name: "e", Field: Enum{}})},
		{"inverted range", NewObject(Property{Name: "n", Field: Number{Min: Ptr(5.0), Max: Ptr(1.0)}})},
		{"bad default", NewObject(Property{Name: "n", Field: Number{}, Default: "abc"})},
		{"bad nested", NewObject(Property{Name: "o", Field: NewObject(Property{Name: "x"})})},
		{"nil string", NewObject(Property{Name: "s", Field: (*String)(nil)})},
		{"nil number", NewObject(Property{Name: "n", Field: (*Number)(nil)})},
		{"nil enum", NewObject(Property{Name: "e", Field: (*Enum)(nil)})},
		{"nil array", NewObject(Property{Name: "a", Field: (*Array)(nil)})},
		{"nil object", NewObject(Property{Name: "o", Field: (*Object)(nil)})},
		{"nil items", NewObject(Property{Name: "a", Field: Array{Items: (*String)(nil)}})},
	}

	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, err = Compile(tt.obj) })
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestCompiledSchemaAcceptsValidatedOutput(t *testing.T) {
	compiled, err := Compile(contactSchema())
	require.NoError(t, err)

	out, errs := Validate(contactSchema(), map[string]interface{}{
		"id":  "5b1f3c1e-8a43-4c1b-9b0a-2f6c1d7e9a10",
		"age": "30",
	})
	require.Empty(t, errs)

	res, err := compiled.Validate(gojsonschema.NewGoLoader(out))
	require.NoError(t, err)
	assert.True(t, res.Valid(), "%v", res.Errors())
}

func TestValidate_AdditionalProperties(t *testing.T) {
	obj := &Object{
		Properties:           []Property{{Name: "name", Field: String{}, Required: true}},
		AdditionalProperties: true,
	}

	out, errs := Validate(obj, map[string]interface{}{"name": "x", "extra": []interface{}{1.0}})
	require.Empty(t, errs)
	assert.Equal(t, []interface{}{1.0}, out["extra"])
	assert.Equal(t, true, JSONSchema(obj)["additionalProperties"])

	_, err := Compile(obj)
	assert.NoError(t, err)
}

func TestValidate_IntegerRange(t *testing.T) {
	obj := NewObject(Property{Name: "n", Field: Number{Integer: true}})

	tests := []struct {
		name string
		raw  interface{}
		want int64
		ok   bool
	}{
		{name: "small float", raw: 42.0, want: 42, ok: true},
		{name: "max as json number", raw: json.Number("9223372036854775807"), want: 9223372036854775807, ok: true},
		{name: "min as float", raw: -9223372036854775808.0, want: -9223372036854775808, ok: true},
		{name: "too large", raw: 1e20},
		{name: "too small", raw: -1e19},
		{name: "too large as json number", raw: json.Number("1e20")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errs := Validate(obj, map[string]interface{}{"n": tt.raw})
			if !tt.ok {
				require.Len(t, errs, 1)
				assert.Equal(t, "must fit in a 64-bit integer", errs[0].Reason)
				return
			}
			require.Empty(t, errs)
			assert.Equal(t, tt.want, out["n"])
		})
	}
}

func TestValidate_ArrayNulls(t *testing.T) {
	obj := NewObject(
		Property{Name: "any", Field: Array{}},
		Property{Name: "names", Field: Array{Items: String{}}},
	)

	out, errs := Validate(obj, map[string]interface{}{"any": []interface{}{1.0, nil}})
	require.Empty(t, errs)
	assert.Equal(t, []interface{}{1.0, nil}, out["any"])

	_, errs = Validate(obj, map[string]interface{}{"names": []interface{}{"a", nil}})
	require.Len(t, errs, 1)
	assert.Equal(t, "names[1]", errs[0].Path)
}

func TestValidate_TypedNilField(t *testing.T) {
	obj := &Object{Properties: []Property{{Name: "s", Field: (*String)(nil)}}}

	var errs Errors
	require.NotPanics(t, func() {
		_, errs = Validate(obj, map[string]interface{}{"s": "x"})
	})
	require.Len(t, errs, 1)
	assert.Equal(t, "has no declared type", errs[0].Reason)
	assert.Equal(t, map[string]interface{}{}, JSONSchema(obj)["properties"].(map[string]interface{})["s"])
}

// Every payload the emitted JSON Schema accepts must pass Validate.
func TestValidate_AgreesWithEmittedSchema(t *testing.T) {
	obj := NewObject(
		Property{Name: "id", Field: String{Format: FormatUUID}, Required: true},
		Property{Name: "email", Field: String{Format: FormatEmail}},
		Property{Name: "when", Field: String{Format: FormatDateTime}},
		Property{Name: "link", Field: String{Format: FormatURI}},
		Property{Name: "name", Field: String{MinLength: 2, MaxLength: 5}},
		Property{Name: "age", Field: Number{Integer: true, Min: Ptr(0.0), Max: Ptr(150.0)}},
		Property{Name: "score", Field: Number{}},
		Property{Name: "active", Field: Boolean{}},
		Property{Name: "status", Field: Enum{Values: []string{"lead", "customer"}}},
		Property{Name: "tags", Field: Array{}},
		Property{Name: "items", Field: Array{
			Items:    NewObject(Property{Name: "name", Field: String{MinLength: 1}, Required: true}),
			MaxItems: 2,
		}},
	)
	compiled, err := Compile(obj)
	require.NoError(t, err)

	const id = `"id": "5b1f3c1e-8a43-4c1b-9b0a-2f6c1d7e9a10"`
	tests := []struct {
		name    string
		payload string
		valid   bool
	}{
		{name: "minimal", payload: `{` + id + `}`, valid: true},
		{name: "untyped array with null", payload: `{` + id + `, "tags": [1, null, "x", {"a": 1}]}`, valid: true},
		{name: "short email domain", payload: `{` + id + `, "email": "a@b"}`, valid: true},
		{name: "date only", payload: `{` + id + `, "when": "2024-05-01"}`, valid: true},
		{name: "full date-time", payload: `{` + id + `, "when": "2024-05-01T10:00:00.5+02:00"}`, valid: true},
		{name: "uri", payload: `{` + id + `, "link": "mailto:ada@example.com"}`, valid: true},
		{name: "unicode name", payload: `{` + id + `, "name": "日本語"}`, valid: true},
		{name: "integral float", payload: `{` + id + `, "age": 30.0, "score": -1.5}`, valid: true},
		{name: "bounds", payload: `{` + id + `, "age": 150, "name": "abcde"}`, valid: true},
		{name: "everything", payload: `{` + id + `, "active": false, "status": "lead", "items": [{"name": "a"}, {"name": "b"}]}`, valid: true},
		{name: "missing id", payload: `{"age": 3}`},
		{name: "unknown field", payload: `{` + id + `, "zzz": 1}`},
		{name: "too many items", payload: `{` + id + `, "items": [{"name": "a"}, {"name": "b"}, {"name": "c"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var params map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &params))

			res, err := compiled.Validate(gojsonschema.NewGoLoader(params))
			require.NoError(t, err)
			require.Equal(t, tt.valid, res.Valid(), "%v", res.Errors())

			_, errs := Validate(obj, params)
			if tt.valid {
				assert.Empty(t, errs)
			} else {
				assert.NotEmpty(t, errs)
			}
		})
	}
}
