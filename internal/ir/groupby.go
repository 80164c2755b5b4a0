package ir

import (
	"context"
	"net/url"
	"sync"

	"github.com/pkg/errors"

	"github.com/hanpama/gqlforge/internal/dataloader"
	"github.com/hanpama/gqlforge/internal/metrics"
	"github.com/hanpama/gqlforge/internal/mustache"
)

// httpBatcher routes grouped HTTP calls of one resolver through a data
// loader keyed by request identity.
// Without a delay a window spans one executor pass.
type httpBatcher struct {
	loader  *groupByLoader
	dl      *dataloader.DataLoader[string, any]
	headers []string
	perPass bool
}

func newHTTPBatcher(client HTTPClient, n *HTTP, b BatchSettings) *httpBatcher {
	gl := &groupByLoader{client: client, node: n, reqs: make(map[string]*HTTPRequest)}
	return &httpBatcher{
		loader:  gl,
		headers: b.Headers,
		perPass: b.Delay <= 0,
		dl: dataloader.New[string, any](gl,
			dataloader.WithDelay[string, any](b.Delay),
			dataloader.WithMaxBatchSize[string, any](b.MaxSize),
			dataloader.WithExplicitFlush[string, any](),
		),
	}
}

func (b *httpBatcher) Load(ctx context.Context, req *HTTPRequest) (any, error) {
	key := req.Key(b.headers)
	b.loader.remember(key, req)
	thunk := b.dl.LoadThunk(ctx, key)
	if b.perPass {
		flushAtPassEnd(ctx, b.dl)
	} else {
		arrive(ctx)
	}
	return thunk()
}

// groupByLoader merges many GET requests into the first one by appending
// every other request's group key query pairs, then splits the response
// body back by the group path.
type groupByLoader struct {
	client HTTPClient
	node   *HTTP

	mu   sync.Mutex
	reqs map[string]*HTTPRequest
}

func (l *groupByLoader) remember(key string, req *HTTPRequest) {
	l.mu.Lock()
	if _, ok := l.reqs[key]; !ok {
		l.reqs[key] = req
	}
	l.mu.Unlock()
}

func (l *groupByLoader) requests(keys []string) ([]*HTTPRequest, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*HTTPRequest, len(keys))
	for i, k := range keys {
		r, ok := l.reqs[k]
		if !ok {
			return nil, errors.Errorf("groupBy: unknown request %q", k)
		}
		out[i] = r
	}
	return out, nil
}

func (l *groupByLoader) Load(ctx context.Context, keys []string) (map[string]any, error) {
	if len(keys) == 0 {
		return map[string]any{}, nil
	}
	reqs, err := l.requests(keys)
	if err != nil {
		return nil, err
	}
	groupKey := l.node.GroupBy.Key

	merged, err := mergeRequests(reqs, groupKey)
	if err != nil {
		return nil, err
	}
	metrics.BatchSize.Observe(float64(len(keys)))
	resp, err := l.client.Do(ctx, merged)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	items, ok := resp.Body.([]any)
	if !ok {
		return nil, errors.Errorf("groupBy: expected a list response from %s", merged.URL)
	}

	grouped := make(map[string][]any)
	for _, item := range items {
		v, ok := lookupPath(item, l.node.GroupBy.Path)
		if !ok {
			continue
		}
		id := mustache.Stringify(v)
		grouped[id] = append(grouped[id], item)
	}

	out := make(map[string]any, len(keys))
	for i, key := range keys {
		u, err := url.Parse(reqs[i].URL)
		if err != nil {
			return nil, errors.Wrap(err, "groupBy: parse url")
		}
		group := grouped[u.Query().Get(groupKey)]
		switch {
		case l.node.IsList:
			if group == nil {
				group = []any{}
			}
			out[key] = group
		case len(group) > 0:
			out[key] = group[0]
		default:
			out[key] = nil
		}
	}
	return out, nil
}

func mergeRequests(reqs []*HTTPRequest, groupKey string) (*HTTPRequest, error) {
	first := reqs[0]
	u, err := url.Parse(first.URL)
	if err != nil {
		return nil, errors.Wrap(err, "groupBy: parse url")
	}
	q := u.Query()
	for _, r := range reqs[1:] {
		ru, err := url.Parse(r.URL)
		if err != nil {
			return nil, errors.Wrap(err, "groupBy: parse url")
		}
		for _, v := range ru.Query()[groupKey] {
			q.Add(groupKey, v)
		}
	}
	u.RawQuery = q.Encode()
	return &HTTPRequest{Method: first.Method, URL: u.String(), Header: first.Header.Clone(), Body: first.Body}, nil
}
