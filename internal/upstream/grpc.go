package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/hanpama/gqlforge/internal/eventbus"
	"github.com/hanpama/gqlforge/internal/events"
	"github.com/hanpama/gqlforge/internal/ir"
	"github.com/hanpama/gqlforge/internal/metrics"
	"github.com/hanpama/gqlforge/internal/reqid"
)

// GRPCOptions configures the gRPC client behavior.
//
// Defaults:
// - MaxConnsPerEndpoint: 2
// - RPCTimeout:          3s (used only if incoming context has no deadline)
// - DialOptions:         insecure credentials
type GRPCOptions struct {
	MaxConnsPerEndpoint int
	RPCTimeout          time.Duration
	DialOptions         []grpc.DialOption
}

type GRPCOption func(*GRPCOptions)

func WithMaxConnsPerEndpoint(n int) GRPCOption  { return func(o *GRPCOptions) { o.MaxConnsPerEndpoint = n } }
func WithRPCTimeout(d time.Duration) GRPCOption { return func(o *GRPCOptions) { o.RPCTimeout = d } }
func WithDialOptions(opts ...grpc.DialOption) GRPCOption {
	return func(o *GRPCOptions) { o.DialOptions = opts }
}

// GRPCClient performs unary calls described by method descriptors, with
// messages built dynamically from their protojson form. Connections are
// pooled per endpoint.
type GRPCClient struct {
	opts GRPCOptions

	mu     sync.RWMutex
	pools  map[string]*connPool
	closed atomic.Bool
}

var _ ir.GRPCClient = (*GRPCClient)(nil)

func NewGRPCClient(opts ...GRPCOption) *GRPCClient {
	o := GRPCOptions{MaxConnsPerEndpoint: 2, RPCTimeout: 3 * time.Second}
	for _, f := range opts {
		f(&o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &GRPCClient{opts: o, pools: make(map[string]*connPool)}
}

var responseJSON = protojson.MarshalOptions{EmitUnpopulated: true}

// Call invokes req.Method on req.Target. The response body is the decoded
// JSON form of the output message.
func (c *GRPCClient) Call(ctx context.Context, req *ir.GRPCRequest) (resp *ir.Response, err error) {
	if c.closed.Load() {
		return nil, errors.New("grpc client closed")
	}
	md := req.Method
	in := dynamicpb.NewMessage(md.Input())
	if err := protojson.Unmarshal(req.Body, in); err != nil {
		return nil, errors.Wrapf(err, "encode %s request", md.Input().FullName())
	}

	if _, ok := ctx.Deadline(); !ok && c.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RPCTimeout)
		defer cancel()
	}
	pairs := make([]string, 0, 2*len(req.Header)+2)
	for k, vs := range req.Header {
		for _, v := range vs {
			pairs = append(pairs, strings.ToLower(k), v)
		}
	}
	if id, ok := reqid.FromContext(ctx); ok && req.Header.Get(reqid.Header) == "" {
		pairs = append(pairs, strings.ToLower(reqid.Header), id)
	}
	if len(pairs) > 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	}

	endpoint := endpointOf(req.Target)
	service := string(md.Parent().FullName())
	fullMethod := fmt.Sprintf("/%s/%s", service, md.Name())

	id := callID.Add(1)
	start := time.Now()
	eventbus.Publish(ctx, events.UpstreamStart{ID: id, Kind: events.KindGRPC, Method: fullMethod, Target: endpoint})
	defer func() {
		metrics.UpstreamRequests.WithLabelValues(events.KindGRPC, metrics.Outcome(err)).Inc()
		eventbus.Publish(ctx, events.UpstreamFinish{
			ID:       id,
			Kind:     events.KindGRPC,
			Method:   fullMethod,
			Target:   endpoint,
			Code:     status.Code(err),
			Err:      err,
			Duration: time.Since(start),
		})
	}()

	cc, err := c.getConn(endpoint)
	if err != nil {
		return nil, err
	}
	defer c.returnConn(endpoint, cc)

	out := dynamicpb.NewMessage(md.Output())
	if err = cc.Invoke(ctx, fullMethod, in, out); err != nil {
		return nil, errors.Wrapf(err, "grpc %s", fullMethod)
	}

	raw, err := responseJSON.Marshal(out)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s response", md.Output().FullName())
	}
	var body any
	if err = json.Unmarshal(raw, &body); err != nil {
		return nil, errors.Wrap(err, "decode grpc response")
	}
	return &ir.Response{Status: 200, Body: body}, nil
}

func (c *GRPCClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pools {
		p.close()
	}
	c.pools = map[string]*connPool{}
	return nil
}

// endpointOf strips the scheme of a base URL, leaving host:port.
func endpointOf(target string) string {
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		return u.Host
	}
	return target
}

type connPool struct {
	endpoint string
	opts     *GRPCOptions
	conns    chan *grpc.ClientConn
	closed   atomic.Bool
}

func newConnPool(endpoint string, opts *GRPCOptions) *connPool {
	n := opts.MaxConnsPerEndpoint
	if n <= 0 {
		n = 2
	}
	return &connPool{endpoint: endpoint, opts: opts, conns: make(chan *grpc.ClientConn, n)}
}

func (p *connPool) get() (*grpc.ClientConn, error) {
	if p.closed.Load() {
		return nil, errors.New("grpc pool closed")
	}
	select {
	case cc := <-p.conns:
		return cc, nil
	default:
		cc, err := grpc.NewClient(p.endpoint, p.opts.DialOptions...)
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s", p.endpoint)
		}
		return cc, nil
	}
}

func (p *connPool) put(cc *grpc.ClientConn) {
	if p.closed.Load() {
		_ = cc.Close()
		return
	}
	select {
	case p.conns <- cc:
	default:
		_ = cc.Close()
	}
}

func (p *connPool) close() {
	if p.closed.Swap(true) {
		return
	}
	for {
		select {
		case cc := <-p.conns:
			_ = cc.Close()
		default:
			return
		}
	}
}

func (c *GRPCClient) getConn(endpoint string) (*grpc.ClientConn, error) {
	c.mu.RLock()
	pool := c.pools[endpoint]
	c.mu.RUnlock()
	if pool == nil {
		c.mu.Lock()
		pool = c.pools[endpoint]
		if pool == nil {
			pool = newConnPool(endpoint, &c.opts)
			c.pools[endpoint] = pool
		}
		c.mu.Unlock()
	}
	return pool.get()
}

func (c *GRPCClient) returnConn(endpoint string, cc *grpc.ClientConn) {
	c.mu.RLock()
	pool := c.pools[endpoint]
	c.mu.RUnlock()
	if pool != nil {
		pool.put(cc)
		return
	}
	_ = cc.Close()
}
