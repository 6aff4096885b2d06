// Package contract declares the input/output shapes exchanged with the
// generative model and validates values against them.
package contract

// Type is the primitive type of a field.
type Type string

const (
	TypeString  Type = "string"
	TypeBoolean Type = "boolean"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
	TypeEnum    Type = "enum"
)

// Field describes one named member of a shape.
type Field struct {
	Name        string
	Type        Type
	Required    bool
	Description string
	// Enum lists the allowed values when Type is TypeEnum.
	Enum []string
	// Items describes array elements when Type is TypeArray.
	Items *Field
	// Fields describes members when Type is TypeObject. An object without
	// Fields accepts any members.
	Fields []Field
	// MinLength is the minimum rune count for strings.
	MinLength int
}

// Shape is an ordered set of fields describing a JSON object.
type Shape struct {
	Fields []Field
}

// Contract pairs the input and output shapes of one flow. Contracts are
// built at start-up and never modified afterwards.
type Contract struct {
	Name   string
	Input  Shape
	Output Shape
}

// Object builds a shape from fields.
func Object(fields ...Field) Shape {
	return Shape{Fields: fields}
}

// Lookup returns the field with the given name.
func (s Shape) Lookup(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Required returns the names of required fields in declaration order.
func (s Shape) Required() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	return names
}

// String declares a required string field.
func String(name, description string) Field {
	return Field{Name: name, Type: TypeString, Required: true, Description: description}
}

// Boolean declares a required boolean field.
func Boolean(name, description string) Field {
	return Field{Name: name, Type: TypeBoolean, Required: true, Description: description}
}

// Number declares a required number field.
func Number(name, description string) Field {
	return Field{Name: name, Type: TypeNumber, Required: true, Description: description}
}

// Integer declares a required integer field.
func Integer(name, description string) Field {
	return Field{Name: name, Type: TypeInteger, Required: true, Description: description}
}

// Enum declares a required field restricted to values.
func Enum(name, description string, values ...string) Field {
	return Field{Name: name, Type: TypeEnum, Required: true, Description: description, Enum: values}
}

// Array declares a required array whose elements match items.
func Array(name, description string, items Field) Field {
	return Field{Name: name, Type: TypeArray, Required: true, Description: description, Items: &items}
}

// Nested declares a required object field with its own members.
func Nested(name, description string, fields ...Field) Field {
	return Field{Name: name, Type: TypeObject, Required: true, Description: description, Fields: fields}
}

// Optional returns a copy of f that may be absent.
func (f Field) Optional() Field {
	f.Required = false
	return f
}

// NonEmpty returns a copy of f requiring at least n runes.
func (f Field) NonEmpty(n int) Field {
	f.MinLength = n
	return f
}
