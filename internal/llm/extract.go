package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	llmerrors "github.com/ahrav/go-promptflow/internal/llm/errors"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// ExtractJSON returns the first JSON object in content. Models sometimes
// wrap output in Markdown fences or surround it with prose even when asked
// not to; both are tolerated. Content with no decodable object yields
// ErrMalformedOutput.
func ExtractJSON(content string) ([]byte, error) {
	s := strings.TrimSpace(content)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}

	if gjson.Valid(s) && gjson.Parse(s).IsObject() {
		return []byte(s), nil
	}

	for i := strings.IndexByte(s, '{'); i >= 0; {
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(s[i:])).Decode(&raw); err == nil && gjson.ParseBytes(raw).IsObject() {
			return raw, nil
		}
		next := strings.IndexByte(s[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}

	return nil, fmt.Errorf("%w: no JSON object in %d bytes of content", llmerrors.ErrMalformedOutput, len(content))
}

// decodeObject decodes raw into a map, keeping numbers as json.Number.
func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", llmerrors.ErrMalformedOutput, err)
	}
	return m, nil
}
