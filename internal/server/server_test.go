package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/gqlforge/internal/config"
	"github.com/hanpama/gqlforge/internal/gateway"
	"github.com/hanpama/gqlforge/internal/reqid"
)

const helloConfig = `
schema: {query: Query}
types:
  Query:
    fields:
      hello: {type: String, const: {data: world}}
      echo:
        type: String
        args: {msg: {type: String}}
        jq: {query: "$args.msg"}
`

func newTestHandler(t *testing.T, src string, opts ...Option) *Handler {
	t.Helper()
	cfg, err := config.Parse([]byte(src))
	require.NoError(t, err)
	gw, err := gateway.FromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	return New(gw, opts...)
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/graphql", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPostQuery(t *testing.T) {
	h := newTestHandler(t, helloConfig)
	w := post(h, `{"query":"{ hello }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	require.JSONEq(t, `{"data":{"hello":"world"}}`, w.Body.String())
	require.NotEmpty(t, w.Header().Get(reqid.Header))
}

func TestGetQueryWithVariables(t *testing.T) {
	h := newTestHandler(t, helloConfig)
	q := url.Values{}
	q.Set("query", `query ($m: String) { echo(msg: $m) }`)
	q.Set("variables", `{"m": "hi"}`)
	req := httptest.NewRequest("GET", "/graphql?"+q.Encode(), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"data":{"echo":"hi"}}`, w.Body.String())
}

func TestBatchRequest(t *testing.T) {
	h := newTestHandler(t, helloConfig)
	w := post(h, `[{"query":"{ hello }"},{"query":"{ echo(msg: \"x\") }"}]`)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[{"data":{"hello":"world"}},{"data":{"echo":"x"}}]`, w.Body.String())
}

func TestRequestErrors(t *testing.T) {
	h := newTestHandler(t, helloConfig)

	w := post(h, `{"query":""}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"data":null,"errors":[{"message":"missing 'query'"}]}`, w.Body.String())

	w = post(h, `[]`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest("PUT", "/graphql", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)

	// Validation errors are GraphQL errors, not HTTP errors.
	w = post(h, `{"query":"{ nope }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data   any `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Nil(t, body.Data)
	require.Len(t, body.Errors, 1)
}

func TestCORSAndPreflight(t *testing.T) {
	h := newTestHandler(t, helloConfig, WithCORS("*"))

	// simple request
	req := httptest.NewRequest("POST", "/graphql", bytes.NewBufferString(`{"query":"{ hello }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	// preflight
	pre := httptest.NewRequest("OPTIONS", "/graphql", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	require.Equal(t, http.StatusNoContent, pw.Code)
	require.Equal(t, "*", pw.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "X-Test", pw.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSSpecificOrigin(t *testing.T) {
	h := newTestHandler(t, helloConfig, WithCORS("http://a.example"))

	req := httptest.NewRequest("POST", "/graphql", bytes.NewBufferString(`{"query":"{ hello }"}`))
	req.Header.Set("Origin", "http://b.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("POST", "/graphql", bytes.NewBufferString(`{"query":"{ hello }"}`))
	req.Header.Set("Origin", "http://a.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, "http://a.example", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "Origin", w.Header().Get("Vary"))
}

func TestMaxBodyBytes(t *testing.T) {
	h := newTestHandler(t, helloConfig, WithMaxBodyBytes(10))
	w := post(h, `{"query":"1234567890"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRequestIDReachesUpstream(t *testing.T) {
	var upstreamID string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamID = r.Header.Get(reqid.Header)
		_, _ = io.WriteString(w, `"pong"`)
	}))
	defer up.Close()

	h := newTestHandler(t, `
schema: {query: Query}
upstream: {baseURL: "`+up.URL+`"}
types:
  Query:
    fields:
      ping: {type: String, http: {path: /ping}}
`)
	req := httptest.NewRequest("POST", "/graphql", bytes.NewBufferString(`{"query":"{ ping }"}`))
	req.Header.Set(reqid.Header, "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.JSONEq(t, `{"data":{"ping":"pong"}}`, w.Body.String())
	require.Equal(t, "abc-123", w.Header().Get(reqid.Header))
	require.Equal(t, "abc-123", upstreamID)
}

func TestCacheControl(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `"v"`)
	}))
	defer up.Close()

	src := `
schema: {query: Query}
server: {cacheControlHeader: true}
upstream: {baseURL: "` + up.URL + `"}
types:
  Query:
    fields:
      a: {type: String, http: {path: /a}, cache: {maxAge: 3000}}
      b: {type: String, http: {path: /b}, cache: {maxAge: 5000}}
      c: {type: String, http: {path: /c}}
`
	h := newTestHandler(t, src)
	require.Equal(t, "public, max-age=3", post(h, `{"query":"{ a b }"}`).Header().Get("Cache-Control"))
	require.Equal(t, "public, max-age=3", post(h, `{"query":"{ a c }"}`).Header().Get("Cache-Control"))
	require.Equal(t, "public, max-age=0", post(h, `{"query":"{ c }"}`).Header().Get("Cache-Control"))
	require.Equal(t, "public, max-age=0", post(h, `{"query":"{ nope }"}`).Header().Get("Cache-Control"))
	require.Equal(t, "public, max-age=5", post(h, `[{"query":"{ b }"}]`).Header().Get("Cache-Control"))

	off := newTestHandler(t, src, WithCacheControl(false))
	require.Empty(t, post(off, `{"query":"{ a }"}`).Header().Get("Cache-Control"))
}

func TestRoutes(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, helloConfig).Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/graphql", "application/json", strings.NewReader(`{"query":"{ hello }"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, "ok\n", string(b))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	b, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Contains(t, string(b), "gqlforge_graphql_operations_total")
}
