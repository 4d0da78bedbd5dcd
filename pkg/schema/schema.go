// Package schema describes tool parameters as a closed set of field kinds,
// validates and coerces raw agent-supplied arguments against them, and emits
// JSON Schema for LLM function-calling APIs.
package schema

// Field is one of String, Number, Boolean, Enum, Object or Array.
// The set is closed: the unexported method keeps other packages from
// adding kinds the validator does not know about.
type Field interface {
	kind() string
}

// String format hints understood by the validator. Unknown formats are
// emitted to JSON Schema but not checked.
const (
	FormatUUID     = "uuid"
	FormatEmail    = "email"
	FormatDateTime = "date-time"
	FormatURI      = "uri"
)

// String accepts JSON strings. Zero bounds mean unbounded.
type String struct {
	Format    string
	MinLength int
	MaxLength int
}

// Number accepts JSON numbers and numeric strings. Integer fields are
// delivered to handlers as int64, others as float64.
type Number struct {
	Integer bool
	Min     *float64
	Max     *float64
}

// Boolean accepts JSON booleans and the strings "true" / "false".
type Boolean struct{}

// Enum accepts one of a fixed set of strings.
type Enum struct {
	Values []string
}

// Object is a nested parameter object. Unknown properties are rejected
// unless AdditionalProperties is set.
type Object struct {
	Properties []Property
	// AdditionalProperties passes undeclared keys through unvalidated
	// instead of rejecting them.
	AdditionalProperties bool
}

// Array is a homogeneous list. Zero bounds mean unbounded.
type Array struct {
	Items    Field
	MinItems int
	MaxItems int
}

// Property is a named member of an Object.
type Property struct {
	Name        string
	Description string
	Field       Field
	Required    bool
	Default     interface{}
}

func (String) kind() string  { return "string" }
func (Number) kind() string  { return "number" }
func (Boolean) kind() string { return "boolean" }
func (Enum) kind() string    { return "enum" }
func (*Object) kind() string { return "object" }
func (Array) kind() string   { return "array" }

// NewObject builds an Object from properties.
func NewObject(props ...Property) *Object {
	return &Object{Properties: props}
}

// Property returns the named property.
func (o *Object) Property(name string) (Property, bool) {
	if o == nil {
		return Property{}, false
	}
	for _, p := range o.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Required lists the names of required properties in declaration order.
func (o *Object) Required() []string {
	required := []string{}
	if o == nil {
		return required
	}
	for _, p := range o.Properties {
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return required
}

// Ptr returns a pointer to v. Handy for Number bounds.
func Ptr[T any](v T) *T {
	return &v
}
