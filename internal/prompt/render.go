package prompt

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/ahrav/go-promptflow/internal/shape"
)

// TemplateError reports a path the template cannot resolve, either against
// the bound shape or against the value being rendered.
type TemplateError struct {
	Path   string
	Reason string
}

// Error implements error.
func (e *TemplateError) Error() string {
	return fmt.Sprintf("template path %q: %s", e.Path, e.Reason)
}

type (
	// bindScope is one level of name resolution during Bind. The root
	// scope holds the input shape's fields; each iteration adds a scope for
	// its element.
	bindScope struct {
		fields []shape.Field
		elem   *shape.Field
	}

	// renderScope mirrors bindScope for values.
	renderScope struct {
		value any
		index int
		last  bool
		each  bool
	}
)

// Bind checks every path the template references against s. Iterated
// paths must be arrays and interpolated paths must be scalars. Inside an
// each block, names resolve against the element first (when it is an
// object) and then against enclosing scopes.
func (t *Template) Bind(s shape.Shape) error {
	return bindSegments(t.segments, []bindScope{{fields: s.Fields}})
}

func bindSegments(segs []Segment, scopes []bindScope) error {
	for _, seg := range segs {
		switch seg := seg.(type) {
		case Interpolate:
			f, err := resolveField(seg.Path, scopes)
			if err != nil {
				return err
			}
			if !f.IsScalar() {
				return &TemplateError{
					Path:   seg.Path,
					Reason: fmt.Sprintf("cannot interpolate %s value", f.Kind),
				}
			}
		case Iterate:
			f, err := resolveField(seg.Path, scopes)
			if err != nil {
				return err
			}
			if f.Kind != shape.KindArray || f.Elem == nil {
				return &TemplateError{
					Path:   seg.Path,
					Reason: fmt.Sprintf("cannot iterate %s value", f.Kind),
				}
			}
			inner := append(scopes[:len(scopes):len(scopes)], bindScope{elem: f.Elem})
			if err := bindSegments(seg.Body, inner); err != nil {
				return err
			}
		case Conditional:
			if err := bindSegments(seg.Body, scopes); err != nil {
				return err
			}
		}
	}
	return nil
}

func resolveField(path string, scopes []bindScope) (shape.Field, error) {
	if path == IndexPath {
		return shape.Number(IndexPath, ""), nil
	}
	head, rest, nested := strings.Cut(path, ".")
	if head == ThisPath {
		inner := scopes[len(scopes)-1]
		if inner.elem == nil {
			return shape.Field{}, &TemplateError{Path: path, Reason: "this used outside each"}
		}
		if !nested {
			return *inner.elem, nil
		}
		if inner.elem.Kind == shape.KindObject {
			if f, ok := shape.LookupIn(inner.elem.Fields, rest); ok {
				return f, nil
			}
		}
		return shape.Field{}, &TemplateError{Path: path, Reason: "not declared by the element"}
	}

	for i := len(scopes) - 1; i >= 0; i-- {
		sc := scopes[i]
		fields := sc.fields
		if sc.elem != nil {
			if sc.elem.Kind != shape.KindObject {
				continue
			}
			fields = sc.elem.Fields
		}
		if f, ok := shape.LookupIn(fields, path); ok {
			return f, nil
		}
	}
	return shape.Field{}, &TemplateError{Path: path, Reason: "not declared by the input shape"}
}

// Render expands the template against input. Given input that satisfies
// the bound shape, Render cannot fail; an unresolvable path returns a
// *TemplateError and no partial output.
func (t *Template) Render(input map[string]any) (string, error) {
	var b strings.Builder
	if err := renderSegments(&b, t.segments, []renderScope{{value: input}}); err != nil {
		return "", err
	}
	return b.String(), nil
}

func renderSegments(b *strings.Builder, segs []Segment, scopes []renderScope) error {
	for _, seg := range segs {
		switch seg := seg.(type) {
		case Text:
			b.WriteString(string(seg))

		case Interpolate:
			v, err := resolveValue(seg.Path, scopes)
			if err != nil {
				return err
			}
			s, ok := Stringify(v)
			if !ok {
				return &TemplateError{Path: seg.Path, Reason: fmt.Sprintf("cannot interpolate %T", v)}
			}
			b.WriteString(s)

		case Iterate:
			v, err := resolveValue(seg.Path, scopes)
			if err != nil {
				return err
			}
			rv := reflect.ValueOf(v)
			if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
				return &TemplateError{Path: seg.Path, Reason: fmt.Sprintf("cannot iterate %T", v)}
			}
			n := rv.Len()
			for i := 0; i < n; i++ {
				if i > 0 {
					b.WriteString(seg.Separator)
				}
				inner := append(scopes[:len(scopes):len(scopes)], renderScope{
					value: rv.Index(i).Interface(),
					index: i,
					last:  i == n-1,
					each:  true,
				})
				if err := renderSegments(b, seg.Body, inner); err != nil {
					return err
				}
			}

		case Conditional:
			if innermostLast(scopes) == seg.WhenLast {
				if err := renderSegments(b, seg.Body, scopes); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func innermostLast(scopes []renderScope) bool {
	for i := len(scopes) - 1; i >= 0; i-- {
		if scopes[i].each {
			return scopes[i].last
		}
	}
	return false
}

func resolveValue(path string, scopes []renderScope) (any, error) {
	inner := scopes[len(scopes)-1]
	if path == IndexPath {
		if !inner.each {
			return nil, &TemplateError{Path: path, Reason: "used outside each"}
		}
		return inner.index, nil
	}

	head, rest, nested := strings.Cut(path, ".")
	if head == ThisPath {
		if !inner.each {
			return nil, &TemplateError{Path: path, Reason: "this used outside each"}
		}
		if !nested {
			return inner.value, nil
		}
		if v, ok := lookupValue(inner.value, rest); ok {
			return v, nil
		}
		return nil, &TemplateError{Path: path, Reason: "missing from element"}
	}

	for i := len(scopes) - 1; i >= 0; i-- {
		if v, ok := lookupValue(scopes[i].value, path); ok {
			return v, nil
		}
	}
	return nil, &TemplateError{Path: path, Reason: "missing from input"}
}

func lookupValue(v any, path string) (any, bool) {
	cur := v
	for _, part := range strings.Split(path, ".") {
		m, ok := shape.AsMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders a scalar in canonical text form: strings verbatim,
// numbers in shortest decimal notation, booleans as true/false.
func Stringify(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true
	default:
		return "", false
	}
}
