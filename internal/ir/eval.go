package ir

import (
	"context"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/hanpama/gqlforge/internal/cache"
)

// Eval evaluates expr. A nil expression evaluates to nil.
func Eval(ctx context.Context, expr Expression, ec *EvalContext) (any, error) {
	switch e := expr.(type) {
	case nil:
		return nil, nil
	case *Literal:
		return e.Value, nil
	case *ContextPath:
		// A missing path is null; non-null fields report it during completion.
		v, _ := ec.PathValue(e.Path)
		return v, nil
	case *Jq:
		input := ec.Value
		if e.Input != nil {
			v, err := Eval(ctx, e.Input, ec)
			if err != nil {
				return nil, err
			}
			input = v
		}
		return runJq(ctx, e, input, ec)
	case *Cache:
		return evalCache(ctx, e, ec)
	case *Protected:
		if err := ec.Request.VerifyAuth(ctx); err != nil {
			return nil, err
		}
		return Eval(ctx, e.Inner, ec)
	case IO:
		return evalIO(ctx, e, ec)
	}
	return nil, errors.Errorf("unsupported expression %T", expr)
}

func runJq(ctx context.Context, e *Jq, input any, ec *EvalContext) (any, error) {
	args := ec.Args
	if args == nil {
		args = map[string]any{}
	}
	iter := e.Code.RunWithContext(ctx, input, args, ec.Value)
	var out []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, errors.Wrapf(err, "jq %q", e.Source)
		}
		out = append(out, v)
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	}
	return out, nil
}

func evalCache(ctx context.Context, e *Cache, ec *EvalContext) (any, error) {
	rc := ec.Request
	store := rc.runtime.Cache
	if store == nil {
		return evalIO(ctx, e.IO, ec)
	}
	ident, err := ioIdentity(e.IO, ec)
	if err != nil {
		return nil, err
	}
	key := cache.Key(ec.TypeName, ec.FieldName, map[string]any{"args": ec.Args, "io": ident})

	v, ok, err := store.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "cache get")
	}
	if ok {
		rc.RecordTTL(e.MaxAge)
		return v, nil
	}
	v, err = evalIO(ctx, e.IO, ec)
	if err != nil {
		return nil, err
	}
	switch err := store.Set(ctx, key, v, e.MaxAge); {
	case errors.Is(err, cache.ErrNotStored):
		return v, nil
	case err != nil:
		return nil, errors.Wrap(err, "cache set")
	}
	rc.RecordTTL(e.MaxAge)
	return v, nil
}

// ioIdentity renders the part of an IO call that determines its result.
func ioIdentity(io IO, ec *EvalContext) (string, error) {
	switch n := io.(type) {
	case *HTTP:
		req, err := n.Template.Render(ec)
		if err != nil {
			return "", err
		}
		return "http:" + req.Key(ec.Request.runtime.Batch.Headers), nil
	case *GRPC:
		req, err := n.Template.Render(ec)
		if err != nil {
			return "", err
		}
		return "grpc:" + req.Key(), nil
	case *GraphQL:
		req, err := n.Template.Render(ec, ec.Selection)
		if err != nil {
			return "", err
		}
		return "graphql:" + req.Key(nil), nil
	case *JS:
		return "js:" + n.Name + ":" + strconv.FormatUint(cache.Hash(ec.Value), 16), nil
	}
	return "", errors.Errorf("unsupported io %T", io)
}

func evalIO(ctx context.Context, io IO, ec *EvalContext) (any, error) {
	rc := ec.Request
	rt := rc.runtime
	switch n := io.(type) {
	case *HTTP:
		if rt.HTTP == nil {
			return nil, errors.New("no http client configured")
		}
		req, err := n.Template.Render(ec)
		if err != nil {
			return nil, err
		}
		req = withForwardedHeaders(req, rc.Headers, rt.AllowedHeaders)
		if n.GroupBy != nil && req.Method == http.MethodGet {
			return rc.batcher(n).Load(ctx, req)
		}
		return rc.dedupeIO(ctx, "http:"+req.Key(rt.Batch.Headers), func(ctx context.Context) (any, error) {
			resp, err := rt.HTTP.Do(ctx, req)
			if err != nil {
				return nil, err
			}
			if err := checkStatus(resp); err != nil {
				return nil, err
			}
			return resp.Body, nil
		})
	case *GRPC:
		if rt.GRPC == nil {
			return nil, errors.New("no grpc client configured")
		}
		req, err := n.Template.Render(ec)
		if err != nil {
			return nil, err
		}
		if len(rt.AllowedHeaders) > 0 {
			req.Header = forwardHeaders(req.Header, rc.Headers, rt.AllowedHeaders)
		}
		return rc.dedupeIO(ctx, "grpc:"+req.Key(), func(ctx context.Context) (any, error) {
			resp, err := rt.GRPC.Call(ctx, req)
			if err != nil {
				return nil, err
			}
			return resp.Body, nil
		})
	case *GraphQL:
		if rt.HTTP == nil {
			return nil, errors.New("no http client configured")
		}
		req, err := n.Template.Render(ec, ec.Selection)
		if err != nil {
			return nil, err
		}
		return rc.dedupeIO(ctx, "graphql:"+req.Key(nil), func(ctx context.Context) (any, error) {
			resp, err := rt.HTTP.Do(ctx, withForwardedHeaders(req, rc.Headers, rt.AllowedHeaders))
			if err != nil {
				return nil, err
			}
			if err := checkStatus(resp); err != nil {
				return nil, err
			}
			return graphqlData(resp.Body, n.Template.Name)
		})
	case *JS:
		if rt.Script == nil {
			return nil, errors.New("no script runtime configured")
		}
		return rt.Script.Call(ctx, n.Name, ec.asInput())
	}
	return nil, errors.Errorf("unsupported io %T", io)
}

// dedupeIO coalesces identical calls within the request and, when enabled,
// across in-flight requests.
func (rc *RequestContext) dedupeIO(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	arrive(ctx)
	rt := rc.runtime
	call := fn
	if rt.InFlight != nil {
		call = func(ctx context.Context) (any, error) {
			v, err, _ := rt.InFlight.Do(key, func() (any, error) {
				return fn(context.WithoutCancel(ctx))
			})
			return v, err
		}
	}
	if rt.DedupeRequest {
		return rc.dedupe.Do(ctx, key, call)
	}
	return call(ctx)
}

// withForwardedHeaders adds the request's allowed headers to an upstream
// call without overriding template headers.
func withForwardedHeaders(req *HTTPRequest, headers http.Header, allowed []string) *HTTPRequest {
	if len(headers) == 0 || len(allowed) == 0 {
		return req
	}
	out := *req
	out.Header = forwardHeaders(req.Header, headers, allowed)
	return &out
}

func forwardHeaders(dst, src http.Header, allowed []string) http.Header {
	out := dst.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, name := range allowed {
		k := http.CanonicalHeaderKey(name)
		vs, ok := src[k]
		if !ok {
			continue
		}
		if _, ok := out[k]; ok {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func checkStatus(resp *Response) error {
	if resp.Status >= 400 {
		return errors.Errorf("upstream responded with HTTP %d", resp.Status)
	}
	return nil
}

func graphqlData(body any, field string) (any, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, errors.New("graphql: unexpected response")
	}
	if errs, ok := obj["errors"].([]any); ok && len(errs) > 0 {
		if first, ok := errs[0].(map[string]any); ok {
			if msg, ok := first["message"].(string); ok {
				return nil, errors.Errorf("graphql: %s", msg)
			}
		}
		return nil, errors.New("graphql: upstream returned errors")
	}
	data, _ := obj["data"].(map[string]any)
	return data[field], nil
}
