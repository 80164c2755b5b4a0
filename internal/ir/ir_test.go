package ir

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/gqlforge/internal/auth"
	"github.com/hanpama/gqlforge/internal/cache"
	"github.com/hanpama/gqlforge/internal/mustache"
)

type fakeHTTP struct {
	mu    sync.Mutex
	reqs  []*HTTPRequest
	reply func(*HTTPRequest) *Response
}

func (f *fakeHTTP) Do(_ context.Context, req *HTTPRequest) (*Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.reply(req), nil
}

func (f *fakeHTTP) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func compileJq(t *testing.T, src string) *Jq {
	t.Helper()
	jq, err := NewJq(src, nil)
	require.NoError(t, err)
	return jq
}

func httpGet(rawURL string) *HTTP {
	return &HTTP{Template: &HTTPTemplate{Method: http.MethodGet, RootURL: mustache.MustParse(rawURL)}}
}

func TestWrapCacheOnlyWrapsIO(t *testing.T) {
	io := httpGet("http://up/users")
	jq := &Jq{Source: ".", Input: io}
	expr := &Protected{Inner: jq}

	got := WrapCache(expr, time.Minute)

	p, ok := got.(*Protected)
	require.True(t, ok)
	j, ok := p.Inner.(*Jq)
	require.True(t, ok)
	c, ok := j.Input.(*Cache)
	require.True(t, ok)
	require.Same(t, io, c.IO)
	require.Equal(t, time.Minute, c.MaxAge)

	// input tree untouched
	require.Same(t, io, jq.Input)
}

func TestWrapCacheKeepsExistingCache(t *testing.T) {
	inner := &Cache{MaxAge: time.Second, IO: httpGet("http://up")}
	got := WrapCache(inner, time.Hour)
	require.Same(t, inner, got)
}

func TestWrapCacheWithoutIO(t *testing.T) {
	lit := &Literal{Value: 1}
	require.Same(t, lit, WrapCache(lit, time.Minute))
}

func TestHasIOAndIsProtected(t *testing.T) {
	require.False(t, HasIO(&Literal{}))
	require.True(t, HasIO(&Jq{Input: &JS{Name: "f"}}))
	require.False(t, IsProtected(&JS{Name: "f"}))
	require.True(t, IsProtected(&Jq{Input: &Protected{Inner: &Literal{}}}))
}

func TestEvalContextPath(t *testing.T) {
	rt := &Runtime{Env: map[string]string{"REGION": "eu"}}
	rc := NewRequestContext(rt, http.Header{"X-Token": {"abc"}}, map[string]string{"tier": "gold"})
	ec := &EvalContext{
		Request: rc,
		Value:   map[string]any{"user": map[string]any{"id": 7}, "tags": []any{"a", "b"}},
		Args:    map[string]any{"first": 3},
	}
	ctx := context.Background()

	cases := []struct {
		path []string
		want any
	}{
		{[]string{"value", "user", "id"}, 7},
		{[]string{"value", "tags", "1"}, "b"},
		{[]string{"args", "first"}, 3},
		{[]string{"headers", "x-token"}, "abc"},
		{[]string{"vars", "tier"}, "gold"},
		{[]string{"env", "REGION"}, "eu"},
	}
	for _, c := range cases {
		got, err := Eval(ctx, &ContextPath{Path: c.path}, ec)
		require.NoError(t, err, c.path)
		require.Equal(t, c.want, got, c.path)
	}

	got, err := Eval(ctx, &ContextPath{Path: []string{"value", "missing"}}, ec)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestEvalJq(t *testing.T) {
	rc := NewRequestContext(&Runtime{}, nil, nil)
	ec := &EvalContext{Request: rc, Value: map[string]any{"first": "Ada", "last": "Lovelace"}, Args: map[string]any{"sep": " "}}

	got, err := Eval(context.Background(), compileJq(t, `.first + $args.sep + .last`), ec)
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", got)

	jq := compileJq(t, `.[] | . * 2`)
	jq.Input = &Literal{Value: []any{1, 2}}
	got, err = Eval(context.Background(), jq, ec)
	require.NoError(t, err)
	require.Equal(t, []any{2, 4}, got)

	got, err = Eval(context.Background(), compileJq(t, `empty`), ec)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestEvalHTTPDedupesWithinRequest(t *testing.T) {
	client := &fakeHTTP{reply: func(*HTTPRequest) *Response {
		return &Response{Status: 200, Body: map[string]any{"ok": true}}
	}}
	rt := &Runtime{HTTP: client, DedupeRequest: true}
	rc := NewRequestContext(rt, nil, nil)
	node := httpGet("http://up/config")

	for i := 0; i < 3; i++ {
		got, err := Eval(context.Background(), node, &EvalContext{Request: rc})
		require.NoError(t, err)
		require.Equal(t, map[string]any{"ok": true}, got)
	}
	require.Equal(t, 1, client.calls())

	// a new request starts with an empty table
	_, err := Eval(context.Background(), node, &EvalContext{Request: NewRequestContext(rt, nil, nil)})
	require.NoError(t, err)
	require.Equal(t, 2, client.calls())
}

func TestEvalHTTPErrorStatus(t *testing.T) {
	client := &fakeHTTP{reply: func(*HTTPRequest) *Response { return &Response{Status: 502} }}
	rc := NewRequestContext(&Runtime{HTTP: client}, nil, nil)

	_, err := Eval(context.Background(), httpGet("http://up"), &EvalContext{Request: rc})
	require.EqualError(t, err, "upstream responded with HTTP 502")
}

func TestEvalHTTPForwardsAllowedHeaders(t *testing.T) {
	client := &fakeHTTP{reply: func(*HTTPRequest) *Response { return &Response{Status: 200} }}
	rt := &Runtime{HTTP: client, AllowedHeaders: []string{"x-tenant"}}
	headers := http.Header{"X-Tenant": {"acme"}, "Authorization": {"Bearer x"}}

	_, err := Eval(context.Background(), httpGet("http://up"), &EvalContext{Request: NewRequestContext(rt, headers, nil)})
	require.NoError(t, err)
	require.Equal(t, 1, client.calls())
	require.Equal(t, http.Header{"X-Tenant": {"acme"}}, client.reqs[0].Header)
}

func TestEvalCacheServesSecondRequest(t *testing.T) {
	store, err := cache.NewRistretto(cache.Options{MaxEntries: 128})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	client := &fakeHTTP{reply: func(*HTTPRequest) *Response {
		return &Response{Status: 200, Body: "fresh"}
	}}
	rt := &Runtime{HTTP: client, Cache: store}
	expr := WrapCache(httpGet("http://up/time"), 30*time.Second)

	for i := 0; i < 2; i++ {
		rc := NewRequestContext(rt, nil, nil)
		got, err := Eval(context.Background(), expr, &EvalContext{Request: rc, TypeName: "Query", FieldName: "now"})
		require.NoError(t, err)
		require.Equal(t, "fresh", got)
		ttl, ok := rc.MinTTL()
		require.True(t, ok)
		require.Equal(t, 30*time.Second, ttl)
	}
	require.Equal(t, 1, client.calls())

	// different args miss
	rc := NewRequestContext(rt, nil, nil)
	_, err = Eval(context.Background(), expr, &EvalContext{Request: rc, TypeName: "Query", FieldName: "now", Args: map[string]any{"tz": "UTC"}})
	require.NoError(t, err)
	require.Equal(t, 2, client.calls())
}

func TestEvalCacheToleratesDroppedWrite(t *testing.T) {
	store, err := cache.NewRistretto(cache.Options{MaxEntries: 128})
	require.NoError(t, err)
	store.Close()

	client := &fakeHTTP{reply: func(*HTTPRequest) *Response {
		return &Response{Status: 200, Body: "fresh"}
	}}
	rc := NewRequestContext(&Runtime{HTTP: client, Cache: store}, nil, nil)
	got, err := Eval(context.Background(), WrapCache(httpGet("http://up/time"), 30*time.Second),
		&EvalContext{Request: rc, TypeName: "Query", FieldName: "now"})
	require.NoError(t, err)
	require.Equal(t, "fresh", got)
	_, ok := rc.MinTTL()
	require.False(t, ok)
}

func TestRecordTTLKeepsMinimum(t *testing.T) {
	rc := NewRequestContext(&Runtime{}, nil, nil)
	_, ok := rc.MinTTL()
	require.False(t, ok)

	rc.RecordTTL(time.Minute)
	rc.RecordTTL(time.Second)
	rc.RecordTTL(time.Hour)
	ttl, ok := rc.MinTTL()
	require.True(t, ok)
	require.Equal(t, time.Second, ttl)
}

func TestProtectedVerifiesOncePerRequest(t *testing.T) {
	var calls atomic.Int32
	rt := &Runtime{Auth: auth.VerifierFunc(func(_ context.Context, h http.Header) error {
		calls.Add(1)
		if h.Get("Authorization") == "" {
			return auth.ErrMissing
		}
		return nil
	})}
	expr := &Protected{Inner: &Literal{Value: "secret"}}

	rc := NewRequestContext(rt, http.Header{"Authorization": {"Bearer x"}}, nil)
	for i := 0; i < 3; i++ {
		got, err := Eval(context.Background(), expr, &EvalContext{Request: rc})
		require.NoError(t, err)
		require.Equal(t, "secret", got)
	}
	require.EqualValues(t, 1, calls.Load())

	rc = NewRequestContext(rt, nil, nil)
	_, err := Eval(context.Background(), expr, &EvalContext{Request: rc})
	require.True(t, errors.Is(err, auth.ErrMissing))
}

func TestGroupByMergesConcurrentLoads(t *testing.T) {
	client := &fakeHTTP{reply: func(req *HTTPRequest) *Response {
		u, _ := url.Parse(req.URL)
		var posts []any
		for _, id := range u.Query()["userId"] {
			posts = append(posts,
				map[string]any{"userId": id, "title": "first by " + id},
				map[string]any{"userId": id, "title": "second by " + id},
			)
		}
		return &Response{Status: 200, Body: posts}
	}}
	rt := &Runtime{HTTP: client, Batch: BatchSettings{Delay: 50 * time.Millisecond}}
	rc := NewRequestContext(rt, nil, nil)
	node := &HTTP{
		Template: &HTTPTemplate{
			Method:  http.MethodGet,
			RootURL: mustache.MustParse("http://up/posts"),
			Query:   []QueryTemplate{{Key: "userId", Value: mustache.MustParse("{{.value.id}}")}},
		},
		GroupBy: &GroupBy{Path: []string{"userId"}, Key: "userId"},
		IsList:  true,
	}

	ids := []string{"1", "2"}
	results := make([]any, len(ids))
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = Eval(context.Background(), node, &EvalContext{Request: rc, Value: map[string]any{"id": id}})
		}()
	}
	wg.Wait()
	require.NoError(t, errors.Join(errs...))

	require.Equal(t, 1, client.calls())
	want := []any{
		[]any{
			map[string]any{"userId": "1", "title": "first by 1"},
			map[string]any{"userId": "1", "title": "second by 1"},
		},
		[]any{
			map[string]any{"userId": "2", "title": "first by 2"},
			map[string]any{"userId": "2", "title": "second by 2"},
		},
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Fatalf("grouped results mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupBySingleItemExtraction(t *testing.T) {
	client := &fakeHTTP{reply: func(*HTTPRequest) *Response {
		return &Response{Status: 200, Body: []any{map[string]any{"id": float64(3), "name": "c"}}}
	}}
	rc := NewRequestContext(&Runtime{HTTP: client, Batch: BatchSettings{Delay: time.Millisecond}}, nil, nil)
	node := &HTTP{
		Template: &HTTPTemplate{
			Method:  http.MethodGet,
			RootURL: mustache.MustParse("http://up/users"),
			Query:   []QueryTemplate{{Key: "id", Value: mustache.MustParse("{{.value.userId}}")}},
		},
		GroupBy: &GroupBy{Path: []string{"id"}, Key: "id"},
	}

	got, err := Eval(context.Background(), node, &EvalContext{Request: rc, Value: map[string]any{"userId": 3}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"id": float64(3), "name": "c"}, got)

	got, err = Eval(context.Background(), node, &EvalContext{Request: rc, Value: map[string]any{"userId": 4}})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGraphQLDataExtraction(t *testing.T) {
	client := &fakeHTTP{reply: func(*HTTPRequest) *Response {
		return &Response{Status: 200, Body: map[string]any{"data": map[string]any{"user": map[string]any{"name": "Ada"}}}}
	}}
	rc := NewRequestContext(&Runtime{HTTP: client}, nil, nil)
	node := &GraphQL{Template: &GraphQLTemplate{
		URL:  mustache.MustParse("http://up/graphql"),
		Name: "user",
		Args: []ArgTemplate{{Name: "id", Value: mustache.MustParse("{{.args.id}}")}},
	}}

	got, err := Eval(context.Background(), node, &EvalContext{Request: rc, Args: map[string]any{"id": "u1"}, Selection: "name"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "Ada"}, got)
	require.Equal(t, `{"query":"query { user(id: \"u1\") { name } }"}`, string(client.reqs[0].Body))
}

func TestGraphQLUpstreamErrors(t *testing.T) {
	client := &fakeHTTP{reply: func(*HTTPRequest) *Response {
		return &Response{Status: 200, Body: map[string]any{"errors": []any{map[string]any{"message": "boom"}}}}
	}}
	rc := NewRequestContext(&Runtime{HTTP: client}, nil, nil)
	node := &GraphQL{Template: &GraphQLTemplate{URL: mustache.MustParse("http://up/graphql"), Name: "user"}}

	_, err := Eval(context.Background(), node, &EvalContext{Request: rc})
	require.EqualError(t, err, "graphql: boom")
}

func TestHTTPTemplateRender(t *testing.T) {
	tmpl := &HTTPTemplate{
		Method:  http.MethodPost,
		RootURL: mustache.MustParse("http://up/users/{{.args.id}}"),
		Query: []QueryTemplate{
			{Key: "tag", Value: mustache.MustParse("{{.args.tags}}")},
			{Key: "q", Value: mustache.MustParse("{{.args.q}}"), SkipEmpty: true},
		},
		Headers: []HeaderTemplate{{Name: "X-Id", Value: mustache.MustParse("{{.args.id}}")}},
		Body:    ptr(mustache.MustParse("{{.args.input}}")),
	}
	ec := &EvalContext{
		Request: NewRequestContext(&Runtime{}, nil, nil),
		Args: map[string]any{
			"id":    5,
			"tags":  []any{"a", "b"},
			"input": map[string]any{"name": "x"},
		},
	}

	req, err := tmpl.Render(ec)
	require.NoError(t, err)
	require.Equal(t, "http://up/users/5?tag=a&tag=b", req.URL)
	require.Equal(t, "5", req.Header.Get("X-Id"))
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.JSONEq(t, `{"name":"x"}`, string(req.Body))
}

func ptr[T any](v T) *T { return &v }
