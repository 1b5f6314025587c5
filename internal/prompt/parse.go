package prompt

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports malformed template source. Offset is the byte offset
// of the offending tag.
type ParseError struct {
	Offset int
	Msg    string
}

// Error implements error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("template parse error at offset %d: %s", e.Offset, e.Msg)
}

type parser struct {
	src string
	pos int
}

// Parse converts template source into a Template.
func Parse(src string) (*Template, error) {
	p := &parser{src: src}
	segs, err := p.parseBody("", 0, 0)
	if err != nil {
		return nil, err
	}
	return &Template{source: src, segments: segs}, nil
}

// parseBody consumes segments until the closing tag named by closing (or
// end of input when closing is empty). depth counts enclosing each blocks.
func (p *parser) parseBody(closing string, openAt, depth int) ([]Segment, error) {
	var segs []Segment
	for {
		idx := strings.Index(p.src[p.pos:], "{{")
		if idx < 0 {
			if closing != "" {
				return nil, &ParseError{Offset: openAt, Msg: "unclosed {{#" + closing + "}}"}
			}
			segs = appendText(segs, p.src[p.pos:])
			p.pos = len(p.src)
			return segs, nil
		}

		segs = appendText(segs, p.src[p.pos:p.pos+idx])
		start := p.pos + idx
		tag, err := p.readTag(start)
		if err != nil {
			return nil, err
		}

		switch {
		case strings.HasPrefix(tag, "!"):
			// comment

		case strings.HasPrefix(tag, "/"):
			name := strings.TrimSpace(tag[1:])
			if name != closing {
				return nil, &ParseError{Offset: start, Msg: fmt.Sprintf("unexpected {{/%s}}", name)}
			}
			return segs, nil

		case strings.HasPrefix(tag, "#"):
			seg, err := p.parseBlock(tag[1:], start, depth)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)

		default:
			if !validPath(tag) {
				return nil, &ParseError{Offset: start, Msg: fmt.Sprintf("invalid expression %q", tag)}
			}
			if tag == IndexPath && depth == 0 {
				return nil, &ParseError{Offset: start, Msg: IndexPath + " outside {{#each}}"}
			}
			segs = append(segs, Interpolate{Path: tag})
		}
	}
}

func (p *parser) parseBlock(tag string, start, depth int) (Segment, error) {
	name, args, _ := strings.Cut(tag, " ")
	args = strings.TrimSpace(args)

	switch name {
	case "each":
		path, sep, err := parseEachArgs(args)
		if err != nil {
			return nil, &ParseError{Offset: start, Msg: err.Error()}
		}
		body, err := p.parseBody("each", start, depth+1)
		if err != nil {
			return nil, err
		}
		return Iterate{Path: path, Body: body, Separator: sep}, nil

	case "if", "unless":
		if args != LastPath {
			return nil, &ParseError{
				Offset: start,
				Msg:    fmt.Sprintf("unsupported condition %q, only %s is allowed", args, LastPath),
			}
		}
		if depth == 0 {
			return nil, &ParseError{Offset: start, Msg: LastPath + " outside {{#each}}"}
		}
		body, err := p.parseBody(name, start, depth)
		if err != nil {
			return nil, err
		}
		return Conditional{WhenLast: name == "if", Body: body}, nil

	default:
		return nil, &ParseError{Offset: start, Msg: fmt.Sprintf("unknown block helper %q", name)}
	}
}

// readTag reads the tag beginning at start and advances past it. Both
// double and triple mustaches are accepted.
func (p *parser) readTag(start int) (string, error) {
	open, closeTok := "{{", "}}"
	if strings.HasPrefix(p.src[start:], "{{{") {
		open, closeTok = "{{{", "}}}"
	}
	body := start + len(open)
	end := strings.Index(p.src[body:], closeTok)
	if end < 0 {
		return "", &ParseError{Offset: start, Msg: "unterminated tag"}
	}
	tag := strings.TrimSpace(p.src[body : body+end])
	if tag == "" {
		return "", &ParseError{Offset: start, Msg: "empty tag"}
	}
	p.pos = body + end + len(closeTok)
	return tag, nil
}

func parseEachArgs(args string) (string, string, error) {
	path, rest, _ := strings.Cut(args, " ")
	if !validPath(path) || path == IndexPath {
		return "", "", fmt.Errorf("invalid each path %q", path)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return path, "", nil
	}
	key, val, ok := strings.Cut(rest, "=")
	if !ok || strings.TrimSpace(key) != "separator" {
		return "", "", fmt.Errorf("unknown each argument %q", rest)
	}
	sep, err := strconv.Unquote(strings.TrimSpace(val))
	if err != nil {
		return "", "", fmt.Errorf("separator must be a quoted string: %w", err)
	}
	return path, sep, nil
}

func appendText(segs []Segment, s string) []Segment {
	if s == "" {
		return segs
	}
	return append(segs, Text(s))
}
