package ir

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hanpama/gqlforge/internal/auth"
	"github.com/hanpama/gqlforge/internal/cache"
	"github.com/hanpama/gqlforge/internal/dataloader"
)

// Response is a decoded upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   any
}

// HTTPClient executes rendered HTTP requests and decodes JSON bodies.
type HTTPClient interface {
	Do(ctx context.Context, req *HTTPRequest) (*Response, error)
}

// GRPCClient executes rendered unary gRPC calls. The response body is the
// JSON form of the output message.
type GRPCClient interface {
	Call(ctx context.Context, req *GRPCRequest) (*Response, error)
}

// ScriptRuntime evaluates a named script function.
type ScriptRuntime interface {
	Call(ctx context.Context, name string, input any) (any, error)
}

// BatchSettings configures the data loaders of grouped HTTP resolvers.
type BatchSettings struct {
	Delay   time.Duration
	MaxSize int
	// Headers take part in request identity when batching and deduping.
	Headers []string
}

// Runtime holds the capabilities expressions are evaluated with. It is
// shared by every request.
type Runtime struct {
	HTTP   HTTPClient
	GRPC   GRPCClient
	Script ScriptRuntime
	Cache  cache.Store
	Auth   auth.Verifier
	Env    map[string]string
	Batch  BatchSettings
	// AllowedHeaders are copied from the incoming request onto HTTP
	// upstream calls.
	AllowedHeaders []string
	// DedupeRequest coalesces identical IO within one request.
	DedupeRequest bool
	// InFlight, when set, coalesces identical in-flight IO across requests.
	InFlight *singleflight.Group
}

// RequestContext is the per-request evaluation state.
type RequestContext struct {
	runtime *Runtime
	Headers http.Header
	Vars    map[string]string

	mu      sync.Mutex
	loaders map[int]*httpBatcher
	ttl     time.Duration
	hasTTL  bool

	dedupe *dataloader.Dedupe[string, any]

	authOnce sync.Once
	authErr  error
}

func NewRequestContext(rt *Runtime, headers http.Header, vars map[string]string) *RequestContext {
	if headers == nil {
		headers = http.Header{}
	}
	return &RequestContext{
		runtime: rt,
		Headers: headers,
		Vars:    vars,
		loaders: make(map[int]*httpBatcher),
		dedupe:  dataloader.NewDedupe[string, any](true),
	}
}

func (rc *RequestContext) Runtime() *Runtime { return rc.runtime }

// VerifyAuth runs the auth capability once per request and replays its
// result afterwards.
func (rc *RequestContext) VerifyAuth(ctx context.Context) error {
	rc.authOnce.Do(func() {
		if rc.runtime.Auth == nil {
			return
		}
		rc.authErr = rc.runtime.Auth.Verify(ctx, rc.Headers)
	})
	return rc.authErr
}

// RecordTTL lowers the observed minimum cache TTL to d if smaller.
func (rc *RequestContext) RecordTTL(d time.Duration) {
	rc.mu.Lock()
	if !rc.hasTTL || d < rc.ttl {
		rc.ttl, rc.hasTTL = d, true
	}
	rc.mu.Unlock()
}

// MinTTL returns the smallest TTL recorded by cache nodes during the request.
func (rc *RequestContext) MinTTL() (time.Duration, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.ttl, rc.hasTTL
}

func (rc *RequestContext) batcher(n *HTTP) *httpBatcher {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if b, ok := rc.loaders[n.DataLoaderID]; ok {
		return b
	}
	b := newHTTPBatcher(rc.runtime.HTTP, n, rc.runtime.Batch)
	rc.loaders[n.DataLoaderID] = b
	return b
}

// EvalContext is the input of a single field evaluation.
type EvalContext struct {
	Request   *RequestContext
	Value     any
	Args      map[string]any
	TypeName  string
	FieldName string
	// Selection is the sub-selection forwarded to GraphQL upstreams.
	Selection string
}

// PathValue resolves a template or context path.
func (ec *EvalContext) PathValue(path []string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	rest := path[1:]
	switch path[0] {
	case "value":
		return lookupPath(ec.Value, rest)
	case "args":
		return lookupPath(ec.Args, rest)
	case "headers":
		if len(rest) != 1 || ec.Request == nil {
			return nil, false
		}
		vs := ec.Request.Headers.Values(rest[0])
		if len(vs) == 0 {
			return nil, false
		}
		return vs[0], true
	case "vars":
		if len(rest) != 1 || ec.Request == nil {
			return nil, false
		}
		v, ok := ec.Request.Vars[rest[0]]
		return v, ok
	case "env":
		if len(rest) != 1 || ec.Request == nil {
			return nil, false
		}
		v, ok := ec.Request.runtime.Env[rest[0]]
		return v, ok
	}
	return nil, false
}

// asInput exposes the context as a plain value for scripts.
func (ec *EvalContext) asInput() map[string]any {
	in := map[string]any{"value": ec.Value, "args": ec.Args}
	if ec.Request != nil {
		headers := make(map[string]any, len(ec.Request.Headers))
		for k := range ec.Request.Headers {
			headers[k] = ec.Request.Headers.Get(k)
		}
		in["headers"] = headers
	}
	return in
}

func lookupPath(v any, path []string) (any, bool) {
	cur := v
	for _, p := range path {
		switch x := cur.(type) {
		case map[string]any:
			next, ok := x[p]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(x) {
				return nil, false
			}
			cur = x[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// LookupPath resolves path inside a decoded JSON value.
func LookupPath(v any, path []string) (any, bool) { return lookupPath(v, path) }
