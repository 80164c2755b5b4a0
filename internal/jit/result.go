package jit

import (
	"fmt"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Object is a response object. Keys keep the order of the selection set.
type Object = orderedmap.OrderedMap[string, any]

func newObject() *Object { return orderedmap.New[string, any]() }

type Path []PathElement

// PathElement is a response key or a list index.
type PathElement any

func (p Path) String() string {
	var b strings.Builder
	for i, elem := range p {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		case int:
			fmt.Fprintf(&b, "[%d]", v)
		}
	}
	return b.String()
}

func appendPath(path Path, elem PathElement) Path {
	out := make(Path, len(path)+1)
	copy(out, path)
	out[len(path)] = elem
	return out
}

// GraphQLError represents an error that occurred during execution
type GraphQLError struct {
	Message    string         `json:"message"`
	Locations  []Location     `json:"locations,omitempty"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Location points into the query document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// ExecutionResult represents the result of executing a GraphQL query
type ExecutionResult struct {
	Data   *Object        `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
	// CacheTTL is the smallest max age of the cached resolvers that ran.
	// Zero when none did.
	CacheTTL time.Duration `json:"-"`
}

// Plain converts v, possibly holding Objects, into maps and slices.
func Plain(v any) any {
	switch x := v.(type) {
	case *Object:
		if x == nil {
			return nil
		}
		m := make(map[string]any, x.Len())
		for pair := x.Oldest(); pair != nil; pair = pair.Next() {
			m[pair.Key] = Plain(pair.Value)
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Plain(item)
		}
		return out
	}
	return v
}
