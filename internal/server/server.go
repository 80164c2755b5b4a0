// Package server exposes a Gateway over HTTP.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanpama/gqlforge/internal/eventbus"
	"github.com/hanpama/gqlforge/internal/events"
	"github.com/hanpama/gqlforge/internal/gateway"
	"github.com/hanpama/gqlforge/internal/jit"
	"github.com/hanpama/gqlforge/internal/metrics"
	"github.com/hanpama/gqlforge/internal/reqid"
)

// Handler is an http.Handler that serves a GraphQL endpoint.
// It parses requests, runs the gateway and writes GraphQL JSON responses.
type Handler struct {
	gw  *gateway.Gateway
	opt Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	// CacheControl emits Cache-Control from the minimum resolver TTL.
	// Defaults to the blueprint's server.cacheControlHeader.
	CacheControl bool

	Logger *zap.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithLogger(l *zap.Logger) Option    { return func(o *Options) { o.Logger = l } }
func WithCacheControl(on bool) Option    { return func(o *Options) { o.CacheControl = on } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a GraphQL HTTP handler serving gw.
func New(gw *gateway.Gateway, opts ...Option) *Handler {
	op := Options{
		Timeout:      10 * time.Second,
		CacheControl: gw.Blueprint().Server.CacheControlHeader,
		Logger:       zap.NewNop(),
	}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{gw: gw, opt: op}
}

// Routes mounts the handler on /graphql next to /metrics and /healthz.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/graphql", h)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	return mux
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.NewContext(ctx, r.Header.Get(reqid.Header))
	w.Header().Set(reqid.Header, rid)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		d := time.Since(start)
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: d})
		h.opt.Logger.Info("request",
			zap.String("request_id", rid),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", d),
		)
	}()

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse("method not allowed"), h.opt.Pretty)
		return
	}

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != "" {
		status = http.StatusBadRequest
		if berr == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(berr), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batch != nil {
		results := make([]*jit.ExecutionResult, len(batch))
		for i := range batch {
			results[i] = h.executeOne(ctx, r, batch[i])
		}
		h.setCacheControl(w, results...)
		writeJSON(w, status, results, h.opt.Pretty)
		return
	}

	res := h.executeOne(ctx, r, req)
	h.setCacheControl(w, res)
	writeJSON(w, status, res, h.opt.Pretty)
}

func (h *Handler) executeOne(ctx context.Context, r *http.Request, req GraphQLRequest) *jit.ExecutionResult {
	return h.gw.Execute(ctx, &gateway.Request{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
		Headers:       r.Header,
	})
}

// setCacheControl sets "public, max-age=N" with N the smallest TTL of the
// results. A result with errors or without cached resolvers yields 0.
func (h *Handler) setCacheControl(w http.ResponseWriter, results ...*jit.ExecutionResult) {
	if !h.opt.CacheControl {
		return
	}
	var ttl time.Duration
	for i, res := range results {
		if len(res.Errors) > 0 || res.CacheTTL <= 0 {
			ttl = 0
			break
		}
		if i == 0 || res.CacheTTL < ttl {
			ttl = res.CacheTTL
		}
	}
	w.Header().Set("Cache-Control", "public, max-age="+strconv.FormatInt(int64(ttl/time.Second), 10))
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// parseRequest reads a GET query string or a JSON POST body, single or
// batched. The returned message is empty on success.
func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, string) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, "missing 'query'"
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, "invalid 'variables' JSON"
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op}, nil, ""
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return GraphQLRequest{}, nil, "unsupported Content-Type"
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return GraphQLRequest{}, nil, "failed to read body"
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return GraphQLRequest{}, nil, errBodyTooLargeMessage
	}

	if len(body) > 0 && body[0] == '[' {
		var arr []GraphQLRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return GraphQLRequest{}, nil, "invalid JSON"
		}
		if len(arr) == 0 {
			return GraphQLRequest{}, nil, "empty batch"
		}
		return GraphQLRequest{}, arr, ""
	}
	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return GraphQLRequest{}, nil, "invalid JSON"
	}
	if req.Query == "" {
		return GraphQLRequest{}, nil, "missing 'query'"
	}
	return req, nil, ""
}

// ------------------ Response formatting ------------------

func errorResponse(msg string) *jit.ExecutionResult {
	return &jit.ExecutionResult{Errors: []jit.GraphQLError{{Message: msg}}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
