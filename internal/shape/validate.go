package shape

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON indicates a payload is not well-formed JSON.
var ErrInvalidJSON = errors.New("invalid JSON payload")

// ValidationError reports the first value that does not match its declared
// field. Field is the full path of the offending value ("items[2].name");
// an empty Field refers to the value as a whole. Actual is nil when the
// field is absent.
type ValidationError struct {
	Field    string `json:"field"`
	Expected Kind   `json:"expected"`
	Actual   any    `json:"actual"`
}

// Error describes the mismatch.
func (e *ValidationError) Error() string {
	name := e.Field
	if name == "" {
		name = "value"
	}
	if e.Actual == nil {
		return fmt.Sprintf("%s: required %s is missing", name, e.Expected)
	}
	return fmt.Sprintf("%s: expected %s, got %s", name, e.Expected, describe(e.Actual))
}

// Validate checks v against s. Every declared field must be present with
// the declared kind; undeclared fields are ignored. Values are never
// coerced. The first mismatch in declaration order is returned as a
// *ValidationError.
func Validate(s Shape, v any) error {
	m, ok := AsMap(v)
	if !ok {
		return &ValidationError{Expected: KindObject, Actual: v}
	}
	return validateFields("", s.Fields, m)
}

// ValidateJSON decodes raw as a JSON object and validates it against s.
func ValidateJSON(s Shape, raw []byte) (map[string]any, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidJSON
	}
	if res := gjson.ParseBytes(raw); !res.IsObject() {
		return nil, &ValidationError{Expected: KindObject, Actual: res.Value()}
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	if err := Validate(s, m); err != nil {
		return nil, err
	}
	return m, nil
}

func validateFields(prefix string, fields []Field, m map[string]any) error {
	for _, f := range fields {
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		if err := validateValue(path, f, m[f.Name]); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(path string, f Field, v any) error {
	if v == nil {
		return &ValidationError{Field: path, Expected: f.Kind}
	}
	mismatch := &ValidationError{Field: path, Expected: f.Kind, Actual: v}

	switch f.Kind {
	case KindString:
		if _, ok := v.(string); !ok {
			return mismatch
		}
	case KindNumber:
		if !IsNumber(v) {
			return mismatch
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return mismatch
		}
	case KindArray:
		if f.Elem == nil {
			return mismatch
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return mismatch
		}
		for i := 0; i < rv.Len(); i++ {
			item := rv.Index(i).Interface()
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), *f.Elem, item); err != nil {
				return err
			}
		}
	case KindObject:
		m, ok := AsMap(v)
		if !ok {
			return mismatch
		}
		return validateFields(path, f.Fields, m)
	default:
		return mismatch
	}
	return nil
}

// IsNumber reports whether v is a Go numeric value or a json.Number.
func IsNumber(v any) bool {
	if _, ok := v.(json.Number); ok {
		return true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// AsMap returns v as a map[string]any when it is an object value the
// validator accepts: map[string]any or map[string]string.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		res := make(map[string]any, len(m))
		for k, s := range m {
			res[k] = s
		}
		return res, true
	default:
		return nil, false
	}
}

func describe(v any) string {
	switch {
	case v == nil:
		return "null"
	case IsNumber(v):
		return fmt.Sprintf("number (%v)", v)
	}
	switch t := v.(type) {
	case string:
		return fmt.Sprintf("string (%q)", t)
	case bool:
		return fmt.Sprintf("boolean (%t)", t)
	}
	if _, ok := AsMap(v); ok {
		return "object"
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}
