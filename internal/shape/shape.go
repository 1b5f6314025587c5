// Package shape declares the structural types flows accept and return.
// A Shape is an ordered list of named fields; it is used both to validate
// values crossing the flow boundary and to describe the expected output to
// model providers as a JSON Schema.
package shape

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Kind names the structural type of a field.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
)

// elemName is the name given to array element fields. It only shows up in
// introspection output.
const elemName = "item"

// ErrInvalidShape indicates a shape declaration breaks a structural rule.
var ErrInvalidShape = errors.New("invalid shape")

// validate is the package-level validator used for field declarations.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Field declares one named member of a Shape or of an object field.
// Description is documentation only; it never affects validation.
type Field struct {
	Name        string  `json:"name" yaml:"name" validate:"required"`
	Kind        Kind    `json:"kind" yaml:"kind" validate:"required,oneof=string number boolean array object"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Elem        *Field  `json:"elem,omitempty" yaml:"elem,omitempty" validate:"-"`
	Fields      []Field `json:"fields,omitempty" yaml:"fields,omitempty" validate:"-"`
}

// Shape is a named, ordered field list. Validation walks fields in
// declaration order so failures are reproducible.
type Shape struct {
	Name   string  `json:"name" yaml:"name"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// New builds a Shape from the given fields.
func New(name string, fields ...Field) Shape {
	return Shape{Name: name, Fields: fields}
}

// String declares a string field.
func String(name, description string) Field {
	return Field{Name: name, Kind: KindString, Description: description}
}

// Number declares a numeric field.
func Number(name, description string) Field {
	return Field{Name: name, Kind: KindNumber, Description: description}
}

// Boolean declares a boolean field.
func Boolean(name, description string) Field {
	return Field{Name: name, Kind: KindBoolean, Description: description}
}

// StringArray declares an array-of-string field.
func StringArray(name, description string) Field {
	return ArrayOf(name, description, Field{Kind: KindString})
}

// ArrayOf declares an array field whose elements match elem. The element
// name is ignored.
func ArrayOf(name, description string, elem Field) Field {
	elem.Name = elemName
	return Field{Name: name, Kind: KindArray, Description: description, Elem: &elem}
}

// Object declares a nested object field.
func Object(name, description string, fields ...Field) Field {
	return Field{Name: name, Kind: KindObject, Description: description, Fields: fields}
}

// Check verifies the declaration: every field is named and has a known
// kind, names are unique within each field list, arrays declare an element
// and objects declare at least one field.
func (s Shape) Check() error {
	if err := checkFields(s.Name, s.Fields); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidShape, err)
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate a shared declaration.
func (s Shape) Clone() Shape {
	return Shape{Name: s.Name, Fields: cloneFields(s.Fields)}
}

// Field returns the top-level field with the given name.
func (s Shape) Field(name string) (Field, bool) {
	return findField(s.Fields, name)
}

// Lookup resolves a dotted path ("address.city") through nested objects.
func (s Shape) Lookup(path string) (Field, bool) {
	return LookupIn(s.Fields, path)
}

// Names returns the top-level field names in declaration order.
func (s Shape) Names() []string {
	res := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		res[i] = f.Name
	}
	return res
}

// IsScalar reports whether values of the field interpolate as plain text.
func (f Field) IsScalar() bool {
	return f.Kind == KindString || f.Kind == KindNumber || f.Kind == KindBoolean
}

// LookupIn resolves a dotted path against a field list.
func LookupIn(fields []Field, path string) (Field, bool) {
	parts := strings.Split(path, ".")
	var cur Field
	list := fields
	for i, p := range parts {
		f, ok := findField(list, p)
		if !ok {
			return Field{}, false
		}
		cur = f
		if i < len(parts)-1 {
			if f.Kind != KindObject {
				return Field{}, false
			}
			list = f.Fields
		}
	}
	return cur, true
}

func findField(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func checkFields(owner string, fields []Field) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if err := checkField(f); err != nil {
			return err
		}
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("duplicate field %q in %q", f.Name, owner)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

func checkField(f Field) error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("field %q: %w", f.Name, err)
	}
	switch f.Kind {
	case KindArray:
		if f.Elem == nil {
			return fmt.Errorf("array field %q has no element", f.Name)
		}
		return checkField(*f.Elem)
	case KindObject:
		if len(f.Fields) == 0 {
			return fmt.Errorf("object field %q has no fields", f.Name)
		}
		return checkFields(f.Name, f.Fields)
	default:
		return nil
	}
}

func cloneFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	res := make([]Field, len(fields))
	for i, f := range fields {
		res[i] = f.clone()
	}
	return res
}

func (f Field) clone() Field {
	res := f
	if f.Elem != nil {
		elem := f.Elem.clone()
		res.Elem = &elem
	}
	res.Fields = cloneFields(f.Fields)
	return res
}
