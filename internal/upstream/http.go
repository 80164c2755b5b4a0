package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hanpama/gqlforge/internal/eventbus"
	"github.com/hanpama/gqlforge/internal/events"
	"github.com/hanpama/gqlforge/internal/ir"
	"github.com/hanpama/gqlforge/internal/metrics"
	"github.com/hanpama/gqlforge/internal/reqid"
)

var callID atomic.Uint64

// HTTPOptions configures an HTTPClient.
//
// Defaults:
// - Timeout:     60s per attempt
// - RetryMax:    0
// - RetryWaitMin/Max: 50ms / 1s
type HTTPOptions struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// MaxBodyBytes bounds a decoded response body. 0 means unlimited.
	MaxBodyBytes int64
	Logger       *zap.Logger
}

type HTTPOption func(*HTTPOptions)

func WithTimeout(d time.Duration) HTTPOption  { return func(o *HTTPOptions) { o.Timeout = d } }
func WithRetryMax(n int) HTTPOption           { return func(o *HTTPOptions) { o.RetryMax = n } }
func WithMaxBodyBytes(n int64) HTTPOption     { return func(o *HTTPOptions) { o.MaxBodyBytes = n } }
func WithHTTPLogger(l *zap.Logger) HTTPOption { return func(o *HTTPOptions) { o.Logger = l } }
func WithRetryWait(min, max time.Duration) HTTPOption {
	return func(o *HTTPOptions) { o.RetryWaitMin, o.RetryWaitMax = min, max }
}

// HTTPClient executes rendered requests with a pooled transport. Idempotent
// methods are retried on connection errors and 5xx responses.
type HTTPClient struct {
	opts     HTTPOptions
	retrying *retryablehttp.Client
	once     *retryablehttp.Client
}

var _ ir.HTTPClient = (*HTTPClient)(nil)

func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	o := HTTPOptions{
		Timeout:      60 * time.Second,
		RetryWaitMin: 50 * time.Millisecond,
		RetryWaitMax: time.Second,
		Logger:       zap.NewNop(),
	}
	for _, f := range opts {
		f(&o)
	}
	pooled := cleanhttp.DefaultPooledClient()
	pooled.Timeout = o.Timeout

	newClient := func(retryMax int) *retryablehttp.Client {
		c := retryablehttp.NewClient()
		c.HTTPClient = pooled
		c.Logger = zapLogger{o.Logger}
		c.RetryMax = retryMax
		c.RetryWaitMin = o.RetryWaitMin
		c.RetryWaitMax = o.RetryWaitMax
		c.ErrorHandler = retryablehttp.PassthroughErrorHandler
		return c
	}
	return &HTTPClient{opts: o, retrying: newClient(o.RetryMax), once: newClient(0)}
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Do sends req and decodes a JSON body. Other bodies are returned as text.
func (c *HTTPClient) Do(ctx context.Context, req *ir.HTTPRequest) (resp *ir.Response, err error) {
	var body any
	if len(req.Body) > 0 {
		body = req.Body
	}
	r, err := retryablehttp.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, errors.Wrap(err, "build upstream request")
	}
	for k, vs := range req.Header {
		r.Header[k] = append([]string(nil), vs...)
	}
	if len(req.Body) > 0 && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/json")
	}
	if id, ok := reqid.FromContext(ctx); ok && r.Header.Get(reqid.Header) == "" {
		r.Header.Set(reqid.Header, id)
	}

	client := c.once
	if idempotent(req.Method) {
		client = c.retrying
	}

	id := callID.Add(1)
	target := hostOf(req.URL)
	start := time.Now()
	status := 0
	eventbus.Publish(ctx, events.UpstreamStart{ID: id, Kind: events.KindHTTP, Method: req.Method, Target: target})
	defer func() {
		metrics.UpstreamRequests.WithLabelValues(events.KindHTTP, metrics.Outcome(err)).Inc()
		eventbus.Publish(ctx, events.UpstreamFinish{
			ID:       id,
			Kind:     events.KindHTTP,
			Method:   req.Method,
			Target:   target,
			Status:   status,
			Err:      err,
			Duration: time.Since(start),
		})
	}()

	hr, err := client.Do(r)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL)
	}
	defer hr.Body.Close()
	status = hr.StatusCode

	reader := io.Reader(hr.Body)
	if c.opts.MaxBodyBytes > 0 {
		reader = io.LimitReader(hr.Body, c.opts.MaxBodyBytes+1)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "read upstream response")
	}
	if c.opts.MaxBodyBytes > 0 && int64(len(raw)) > c.opts.MaxBodyBytes {
		return nil, errors.Errorf("upstream response exceeds %d bytes", c.opts.MaxBodyBytes)
	}
	return &ir.Response{Status: hr.StatusCode, Header: hr.Header, Body: decodeBody(raw)}, nil
}

// decodeBody parses raw as JSON, falling back to the text itself.
func decodeBody(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(raw)
	}
	return v
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}

// zapLogger adapts zap to retryablehttp's leveled logger.
type zapLogger struct{ l *zap.Logger }

func (z zapLogger) Error(msg string, kv ...interface{}) { z.l.Sugar().Errorw(msg, kv...) }
func (z zapLogger) Info(msg string, kv ...interface{})  { z.l.Sugar().Infow(msg, kv...) }
func (z zapLogger) Debug(msg string, kv ...interface{}) { z.l.Sugar().Debugw(msg, kv...) }
func (z zapLogger) Warn(msg string, kv ...interface{})  { z.l.Sugar().Warnw(msg, kv...) }
