package ir

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/hanpama/gqlforge/internal/mustache"
)

// Encoding is the body encoding of an HTTP request.
type Encoding string

const (
	EncodingJSON Encoding = "application/json"
	EncodingForm Encoding = "application/x-www-form-urlencoded"
)

// HTTPTemplate renders an HTTPRequest from the evaluation context.
type HTTPTemplate struct {
	Method   string
	RootURL  mustache.Template
	Query    []QueryTemplate
	Headers  []HeaderTemplate
	Body     *mustache.Template
	Encoding Encoding
}

type QueryTemplate struct {
	Key       string
	Value     mustache.Template
	SkipEmpty bool
}

type HeaderTemplate struct {
	Name  string
	Value mustache.Template
}

// HTTPRequest is a rendered upstream HTTP call.
type HTTPRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Render builds the request. List-valued query placeholders expand to one
// pair per item.
func (t *HTTPTemplate) Render(r mustache.PathResolver) (*HTTPRequest, error) {
	u, err := url.Parse(t.RootURL.Render(r))
	if err != nil {
		return nil, errors.Wrap(err, "invalid url")
	}
	q := u.Query()
	for _, p := range t.Query {
		v := p.Value.RenderValue(r)
		if items, ok := v.([]any); ok {
			for _, item := range items {
				q.Add(p.Key, mustache.Stringify(item))
			}
			continue
		}
		s := mustache.Stringify(v)
		if s == "" && p.SkipEmpty {
			continue
		}
		q.Add(p.Key, s)
	}
	u.RawQuery = q.Encode()

	req := &HTTPRequest{Method: t.Method, URL: u.String(), Header: http.Header{}}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	for _, h := range t.Headers {
		req.Header.Set(h.Name, h.Value.Render(r))
	}
	if t.Body != nil {
		body, err := encodeBody(t.Body, t.Encoding, r)
		if err != nil {
			return nil, err
		}
		req.Body = body
		enc := t.Encoding
		if enc == "" {
			enc = EncodingJSON
		}
		req.Header.Set("Content-Type", string(enc))
	}
	return req, nil
}

func encodeBody(tmpl *mustache.Template, enc Encoding, r mustache.PathResolver) ([]byte, error) {
	v := tmpl.RenderValue(r)
	switch enc {
	case EncodingForm:
		if m, ok := v.(map[string]any); ok {
			form := url.Values{}
			for k, item := range m {
				form.Set(k, mustache.Stringify(item))
			}
			return []byte(form.Encode()), nil
		}
		return []byte(mustache.Stringify(v)), nil
	default:
		if s, ok := v.(string); ok && !isSinglePlaceholder(tmpl) {
			return []byte(s), nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, "encode body")
		}
		return b, nil
	}
}

func isSinglePlaceholder(t *mustache.Template) bool {
	return len(t.Segments) == 1 && t.Segments[0].IsExpression()
}

// Key identifies the request for dedupe and batching. Only the named
// headers take part.
func (r *HTTPRequest) Key(headers []string) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(r.URL)
	for _, h := range headers {
		if v := r.Header.Get(h); v != "" {
			b.WriteByte('\n')
			b.WriteString(http.CanonicalHeaderKey(h))
			b.WriteByte(':')
			b.WriteString(v)
		}
	}
	if len(r.Body) > 0 {
		b.WriteByte('\n')
		b.Write(r.Body)
	}
	return b.String()
}

// GRPCTemplate renders a GRPCRequest.
type GRPCTemplate struct {
	Target  mustache.Template
	Method  protoreflect.MethodDescriptor
	Body    *mustache.Template
	Headers []HeaderTemplate
}

// GRPCRequest is a rendered unary call. Body is the protojson form of the
// input message.
type GRPCRequest struct {
	Target string
	Method protoreflect.MethodDescriptor
	Header http.Header
	Body   []byte
}

func (t *GRPCTemplate) Render(r mustache.PathResolver) (*GRPCRequest, error) {
	req := &GRPCRequest{Target: t.Target.Render(r), Method: t.Method, Header: http.Header{}, Body: []byte("{}")}
	for _, h := range t.Headers {
		req.Header.Set(h.Name, h.Value.Render(r))
	}
	if t.Body != nil {
		body, err := encodeBody(t.Body, EncodingJSON, r)
		if err != nil {
			return nil, err
		}
		req.Body = body
	}
	return req, nil
}

func (r *GRPCRequest) Key() string {
	return r.Target + " " + string(r.Method.FullName()) + "\n" + string(r.Body)
}

// GraphQLTemplate renders a POST of a single-field operation.
type GraphQLTemplate struct {
	URL      mustache.Template
	Name     string
	Args     []ArgTemplate
	Headers  []HeaderTemplate
	Mutation bool
}

type ArgTemplate struct {
	Name  string
	Value mustache.Template
}

// Render builds the upstream operation. selection is the sub-selection of
// the field, without braces; empty for leaf fields.
func (t *GraphQLTemplate) Render(r mustache.PathResolver, selection string) (*HTTPRequest, error) {
	var q strings.Builder
	if t.Mutation {
		q.WriteString("mutation { ")
	} else {
		q.WriteString("query { ")
	}
	q.WriteString(t.Name)
	if len(t.Args) > 0 {
		q.WriteByte('(')
		for i, a := range t.Args {
			if i > 0 {
				q.WriteString(", ")
			}
			q.WriteString(a.Name)
			q.WriteString(": ")
			q.WriteString(GraphQLLiteral(a.Value.RenderValue(r)))
		}
		q.WriteByte(')')
	}
	if selection != "" {
		q.WriteString(" { ")
		q.WriteString(selection)
		q.WriteString(" }")
	}
	q.WriteString(" }")

	body, err := json.Marshal(map[string]any{"query": q.String()})
	if err != nil {
		return nil, errors.Wrap(err, "encode graphql body")
	}
	req := &HTTPRequest{Method: http.MethodPost, URL: t.URL.Render(r), Header: http.Header{}, Body: body}
	for _, h := range t.Headers {
		req.Header.Set(h.Name, h.Value.Render(r))
	}
	req.Header.Set("Content-Type", string(EncodingJSON))
	return req, nil
}

// GraphQLLiteral renders a JSON-like Go value as a GraphQL input literal.
// Object keys are sorted.
func GraphQLLiteral(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + GraphQLLiteral(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = GraphQLLiteral(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return mustache.Stringify(v)
}
