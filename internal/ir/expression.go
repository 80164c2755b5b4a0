// Package ir defines the resolver expression tree a compiled field evaluates
// to, and its evaluator.
//
// Expressions are built once by the blueprint compiler and shared read-only
// across requests. Every per-request resource (data-loader windows, dedupe
// tables, auth memoization, observed cache TTLs) lives in RequestContext.
package ir

import (
	"time"

	"github.com/itchyny/gojq"
)

// Expression is a node of the resolver tree.
type Expression interface {
	isExpression()
}

// IO is a leaf that calls an external capability.
type IO interface {
	Expression
	isIO()
	// Kind names the capability, e.g. "http".
	Kind() string
}

// Literal evaluates to a constant.
type Literal struct {
	Value any
}

// ContextPath reads from the evaluation context. The first element selects
// the root: value, args, headers, vars or env.
type ContextPath struct {
	Path []string
}

// Jq runs a compiled jq filter over the result of Input, or over the parent
// value when Input is nil. The filter sees $args and $value.
type Jq struct {
	Source string
	Code   *gojq.Code
	Input  Expression
}

// JqVariables are the variables every jq filter is compiled with.
var JqVariables = []string{"$args", "$value"}

// NewJq parses and compiles src.
func NewJq(src string, input Expression) (*Jq, error) {
	q, err := gojq.Parse(src)
	if err != nil {
		return nil, err
	}
	code, err := gojq.Compile(q, gojq.WithVariables(JqVariables))
	if err != nil {
		return nil, err
	}
	return &Jq{Source: src, Code: code, Input: input}, nil
}

// Cache memoizes IO for MaxAge.
type Cache struct {
	MaxAge time.Duration
	IO     IO
}

// Protected requires a successful auth check before Inner evaluates.
type Protected struct {
	Inner Expression
}

// HTTP calls an HTTP upstream.
type HTTP struct {
	Template *HTTPTemplate
	// GroupBy, when set, routes the call through the request's data loader
	// identified by DataLoaderID.
	GroupBy      *GroupBy
	DataLoaderID int
	// IsList selects list extraction of grouped responses.
	IsList bool
}

// GroupBy describes how a batched HTTP response is split between callers.
type GroupBy struct {
	Path []string
	Key  string
}

// GRPC calls a unary gRPC method.
type GRPC struct {
	Template *GRPCTemplate
}

// GraphQL calls an upstream GraphQL server and extracts one root field.
type GraphQL struct {
	Template *GraphQLTemplate
}

// JS calls a script function with the evaluation context as input.
type JS struct {
	Name string
}

func (*Literal) isExpression()     {}
func (*ContextPath) isExpression() {}
func (*Jq) isExpression()          {}
func (*Cache) isExpression()       {}
func (*Protected) isExpression()   {}
func (*HTTP) isExpression()        {}
func (*GRPC) isExpression()        {}
func (*GraphQL) isExpression()     {}
func (*JS) isExpression()          {}

func (*HTTP) isIO()    {}
func (*GRPC) isIO()    {}
func (*GraphQL) isIO() {}
func (*JS) isIO()      {}

func (*HTTP) Kind() string    { return "http" }
func (*GRPC) Kind() string    { return "grpc" }
func (*GraphQL) Kind() string { return "graphql" }
func (*JS) Kind() string      { return "js" }

// Modify rewrites expr depth first. f is called on every node before its
// children; when f returns a non-nil replacement the node is replaced and
// its children are not visited. The input tree is never mutated.
func Modify(expr Expression, f func(Expression) Expression) Expression {
	if expr == nil {
		return nil
	}
	if repl := f(expr); repl != nil {
		return repl
	}
	switch e := expr.(type) {
	case *Jq:
		cp := *e
		cp.Input = Modify(e.Input, f)
		return &cp
	case *Protected:
		return &Protected{Inner: Modify(e.Inner, f)}
	case *Cache:
		inner := Modify(e.IO, f)
		if io, ok := inner.(IO); ok {
			return &Cache{MaxAge: e.MaxAge, IO: io}
		}
		return inner
	}
	return expr
}

// WrapCache wraps every IO leaf of expr in a Cache node. IO leaves already
// cached keep their existing wrapper.
func WrapCache(expr Expression, maxAge time.Duration) Expression {
	return Modify(expr, func(e Expression) Expression {
		switch n := e.(type) {
		case *Cache:
			return n
		case IO:
			return &Cache{MaxAge: maxAge, IO: n}
		}
		return nil
	})
}

// Walk calls f for every node of expr, parents first.
func Walk(expr Expression, f func(Expression)) {
	if expr == nil {
		return
	}
	f(expr)
	switch e := expr.(type) {
	case *Jq:
		Walk(e.Input, f)
	case *Protected:
		Walk(e.Inner, f)
	case *Cache:
		Walk(e.IO, f)
	}
}

// HasIO reports whether expr contains an IO node.
func HasIO(expr Expression) bool {
	found := false
	Walk(expr, func(e Expression) {
		if _, ok := e.(IO); ok {
			found = true
		}
	})
	return found
}

// IsProtected reports whether expr contains a Protected node.
func IsProtected(expr Expression) bool {
	found := false
	Walk(expr, func(e Expression) {
		if _, ok := e.(*Protected); ok {
			found = true
		}
	})
	return found
}
