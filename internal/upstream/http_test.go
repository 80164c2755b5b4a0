package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/gqlforge/internal/eventbus"
	"github.com/hanpama/gqlforge/internal/events"
	"github.com/hanpama/gqlforge/internal/ir"
	"github.com/hanpama/gqlforge/internal/reqid"
)

func TestHTTPDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "acme", r.Header.Get("X-Tenant"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id": 1, "tags": ["a"]}`)
	}))
	defer srv.Close()

	c := NewHTTPClient()
	resp, err := c.Do(context.Background(), &ir.HTTPRequest{
		Method: http.MethodGet,
		URL:    srv.URL + "/users/1",
		Header: http.Header{"X-Tenant": {"acme"}},
	})
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.Equal(t, map[string]any{"id": float64(1), "tags": []any{"a"}}, resp.Body)
}

func TestHTTPFallsBackToText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello")
	}))
	defer srv.Close()

	resp, err := NewHTTPClient().Do(context.Background(), &ir.HTTPRequest{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Body)
}

func TestHTTPSendsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write(b)
	}))
	defer srv.Close()

	resp, err := NewHTTPClient().Do(context.Background(), &ir.HTTPRequest{
		Method: http.MethodPost,
		URL:    srv.URL,
		Body:   []byte(`{"name":"ann"}`),
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "ann"}, resp.Body)
}

func flaky(failures int32) (*httptest.Server, *atomic.Int32) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `true`)
	}))
	return srv, &calls
}

func TestHTTPRetriesIdempotentRequests(t *testing.T) {
	srv, calls := flaky(2)
	defer srv.Close()

	c := NewHTTPClient(WithRetryMax(2), WithRetryWait(time.Millisecond, 2*time.Millisecond))
	resp, err := c.Do(context.Background(), &ir.HTTPRequest{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.Equal(t, true, resp.Body)
	require.Equal(t, int32(3), calls.Load())
}

func TestHTTPDoesNotRetryPost(t *testing.T) {
	srv, calls := flaky(2)
	defer srv.Close()

	c := NewHTTPClient(WithRetryMax(2), WithRetryWait(time.Millisecond, 2*time.Millisecond))
	resp, err := c.Do(context.Background(), &ir.HTTPRequest{Method: http.MethodPost, URL: srv.URL, Body: []byte(`{}`)})
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.Status)
	require.Equal(t, int32(1), calls.Load())
}

func TestHTTPMaxBodyBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "0123456789")
	}))
	defer srv.Close()

	_, err := NewHTTPClient(WithMaxBodyBytes(4)).Do(context.Background(), &ir.HTTPRequest{Method: http.MethodGet, URL: srv.URL})
	require.ErrorContains(t, err, "exceeds 4 bytes")
}

func TestHTTPPublishesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	bus := eventbus.New()
	var finished []events.UpstreamFinish
	eventbus.On[events.UpstreamFinish](bus, func(ctx context.Context, ev events.UpstreamFinish) { finished = append(finished, ev) })
	eventbus.Use(bus)
	defer eventbus.Use(nil)

	_, err := NewHTTPClient().Do(context.Background(), &ir.HTTPRequest{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	require.Len(t, finished, 1)
	require.Equal(t, events.KindHTTP, finished[0].Kind)
	require.Equal(t, http.StatusTeapot, finished[0].Status)
}

func TestHTTPPropagatesRequestID(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(reqid.Header)
	}))
	defer srv.Close()

	ctx, id := reqid.NewContext(context.Background(), "")
	_, err := NewHTTPClient().Do(ctx, &ir.HTTPRequest{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, id, got)
}
