// Package mustache parses and renders the path-only `{{a.b.c}}` templates
// used in resolver request templates.
package mustache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PathResolver looks up a value by path during rendering.
type PathResolver interface {
	PathValue(path []string) (any, bool)
}

// Segment is either literal text or a placeholder path.
type Segment struct {
	Text string
	Path []string
}

func (s Segment) IsExpression() bool { return s.Path != nil }

// Template is a parsed template.
type Template struct {
	Segments []Segment
}

// Parse splits src into literal text and placeholder segments. A leading dot
// in a placeholder path is ignored, so `{{.value.id}}` and `{{value.id}}`
// are equivalent.
func Parse(src string) (Template, error) {
	var segs []Segment
	rest := src
	for len(rest) > 0 {
		open := strings.Index(rest, "{{")
		if open < 0 {
			segs = append(segs, Segment{Text: rest})
			break
		}
		if open > 0 {
			segs = append(segs, Segment{Text: rest[:open]})
		}
		closeIdx := strings.Index(rest[open+2:], "}}")
		if closeIdx < 0 {
			return Template{}, fmt.Errorf("unterminated placeholder in %q", src)
		}
		expr := strings.TrimSpace(rest[open+2 : open+2+closeIdx])
		expr = strings.TrimPrefix(expr, ".")
		if expr == "" {
			return Template{}, fmt.Errorf("empty placeholder in %q", src)
		}
		segs = append(segs, Segment{Path: strings.Split(expr, ".")})
		rest = rest[open+2+closeIdx+2:]
	}
	return Template{Segments: segs}, nil
}

// MustParse is Parse that panics; for tests and constants.
func MustParse(src string) Template {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

// IsConst reports whether the template has no placeholders.
func (t Template) IsConst() bool {
	for _, s := range t.Segments {
		if s.IsExpression() {
			return false
		}
	}
	return true
}

// Expressions returns every placeholder path in order.
func (t Template) Expressions() [][]string {
	var out [][]string
	for _, s := range t.Segments {
		if s.IsExpression() {
			out = append(out, s.Path)
		}
	}
	return out
}

// Render renders the template as a string. Missing paths render as empty.
func (t Template) Render(r PathResolver) string {
	var b strings.Builder
	for _, s := range t.Segments {
		if !s.IsExpression() {
			b.WriteString(s.Text)
			continue
		}
		if v, ok := r.PathValue(s.Path); ok {
			b.WriteString(Stringify(v))
		}
	}
	return b.String()
}

// RenderValue renders the template to a value. A template made of exactly one
// placeholder yields the referenced value unchanged; anything else renders
// to a string.
func (t Template) RenderValue(r PathResolver) any {
	if len(t.Segments) == 1 && t.Segments[0].IsExpression() {
		v, _ := r.PathValue(t.Segments[0].Path)
		return v
	}
	return t.Render(r)
}

func (t Template) String() string {
	var b strings.Builder
	for _, s := range t.Segments {
		if s.IsExpression() {
			b.WriteString("{{.")
			b.WriteString(strings.Join(s.Path, "."))
			b.WriteString("}}")
			continue
		}
		b.WriteString(s.Text)
	}
	return b.String()
}

// Stringify renders a scalar in its natural text form and anything else as
// JSON.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
