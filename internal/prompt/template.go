// Package prompt parses and renders prompt templates.
//
// Templates use a small Handlebars subset: {{path}} and {{{path}}}
// interpolate a value, {{#each path}}...{{/each}} iterates an array, and
// {{#if @last}} / {{#unless @last}} test whether the innermost iteration is
// on its final element. Templates are parsed once into segments and bound to
// an input shape before use, so rendering a validated input cannot fail.
package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// Reserved path names.
const (
	ThisPath  = "this"
	IndexPath = "@index"
	LastPath  = "@last"
)

// ErrInvalidTemplate indicates a segment tree that can never render.
var ErrInvalidTemplate = errors.New("invalid template")

type (
	// Segment is one node of a parsed template.
	Segment interface {
		segment()
	}

	// Text is literal output.
	Text string

	// Interpolate substitutes the scalar value found at Path.
	Interpolate struct {
		Path string
	}

	// Iterate renders Body once per element of the array at Path, joining
	// the results with Separator.
	Iterate struct {
		Path      string
		Body      []Segment
		Separator string
	}

	// Conditional renders Body only when the innermost iteration's
	// last-element flag equals WhenLast.
	Conditional struct {
		WhenLast bool
		Body     []Segment
	}

	// Template is an immutable parsed prompt.
	Template struct {
		source   string
		segments []Segment
	}
)

func (Text) segment()        {}
func (Interpolate) segment() {}
func (Iterate) segment()     {}
func (Conditional) segment() {}

// New builds a template directly from segments. Conditionals must appear
// inside an Iterate.
func New(segments ...Segment) (*Template, error) {
	if err := checkSegments(segments, 0); err != nil {
		return nil, err
	}
	return &Template{segments: cloneSegments(segments)}, nil
}

// MustParse is like Parse but panics on error. Intended for package-level
// prompt constants.
func MustParse(src string) *Template {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

// Source returns the text the template was parsed from, or "" for
// templates built with New.
func (t *Template) Source() string {
	return t.source
}

// Segments returns a deep copy of the segment tree.
func (t *Template) Segments() []Segment {
	return cloneSegments(t.segments)
}

func cloneSegments(segs []Segment) []Segment {
	if segs == nil {
		return nil
	}
	res := make([]Segment, len(segs))
	for i, seg := range segs {
		switch s := seg.(type) {
		case Iterate:
			s.Body = cloneSegments(s.Body)
			res[i] = s
		case Conditional:
			s.Body = cloneSegments(s.Body)
			res[i] = s
		default:
			res[i] = seg
		}
	}
	return res
}

// Paths lists every value path the template references, in first-use
// order. Paths inside an iteration are reported as written.
func (t *Template) Paths() []string {
	var res []string
	seen := map[string]struct{}{}
	add := func(path string) {
		if _, ok := seen[path]; !ok {
			seen[path] = struct{}{}
			res = append(res, path)
		}
	}
	var walk func([]Segment)
	walk = func(segs []Segment) {
		for _, s := range segs {
			switch s := s.(type) {
			case Interpolate:
				add(s.Path)
			case Iterate:
				add(s.Path)
				walk(s.Body)
			case Conditional:
				walk(s.Body)
			}
		}
	}
	walk(t.segments)
	return res
}

func checkSegments(segs []Segment, depth int) error {
	for _, s := range segs {
		switch s := s.(type) {
		case Text:
		case Interpolate:
			if !validPath(s.Path) {
				return fmt.Errorf("%w: bad path %q", ErrInvalidTemplate, s.Path)
			}
			if s.Path == IndexPath && depth == 0 {
				return fmt.Errorf("%w: %s outside each", ErrInvalidTemplate, IndexPath)
			}
		case Iterate:
			if !validPath(s.Path) || s.Path == IndexPath {
				return fmt.Errorf("%w: bad each path %q", ErrInvalidTemplate, s.Path)
			}
			if err := checkSegments(s.Body, depth+1); err != nil {
				return err
			}
		case Conditional:
			if depth == 0 {
				return fmt.Errorf("%w: %s outside each", ErrInvalidTemplate, LastPath)
			}
			if err := checkSegments(s.Body, depth); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unknown segment %T", ErrInvalidTemplate, s)
		}
	}
	return nil
}

// validPath accepts "this", "@index", and dotted identifiers optionally
// rooted at "this".
func validPath(p string) bool {
	if p == IndexPath {
		return true
	}
	if p == "" {
		return false
	}
	for _, part := range strings.Split(p, ".") {
		if !isIdent(part) {
			return false
		}
	}
	return true
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}
