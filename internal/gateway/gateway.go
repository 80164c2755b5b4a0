// Package gateway serves GraphQL operations against a compiled blueprint.
// It owns the runtime shared by every request: upstream clients, the
// resolver cache, auth, and the plan cache.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hanpama/gqlforge/internal/blueprint"
	"github.com/hanpama/gqlforge/internal/cache"
	"github.com/hanpama/gqlforge/internal/config"
	"github.com/hanpama/gqlforge/internal/dataloader"
	"github.com/hanpama/gqlforge/internal/eventbus"
	"github.com/hanpama/gqlforge/internal/events"
	"github.com/hanpama/gqlforge/internal/introspection"
	"github.com/hanpama/gqlforge/internal/ir"
	"github.com/hanpama/gqlforge/internal/jit"
	"github.com/hanpama/gqlforge/internal/language"
	"github.com/hanpama/gqlforge/internal/metrics"
	"github.com/hanpama/gqlforge/internal/upstream"
)

// Options configures a Gateway. Nil capabilities are built from the
// blueprint.
type Options struct {
	Logger *zap.Logger
	HTTP   ir.HTTPClient
	GRPC   ir.GRPCClient
	Script ir.ScriptRuntime
	Cache  cache.Store
	// Env is exposed to templates as {{.env.name}}.
	Env map[string]string
	// PlanCacheSize bounds the number of cached operation plans.
	PlanCacheSize int
}

type Option func(*Options)

func WithLogger(l *zap.Logger) Option       { return func(o *Options) { o.Logger = l } }
func WithHTTPClient(c ir.HTTPClient) Option { return func(o *Options) { o.HTTP = c } }
func WithGRPCClient(c ir.GRPCClient) Option { return func(o *Options) { o.GRPC = c } }
func WithScript(s ir.ScriptRuntime) Option  { return func(o *Options) { o.Script = s } }
func WithCache(s cache.Store) Option        { return func(o *Options) { o.Cache = s } }
func WithEnv(env map[string]string) Option  { return func(o *Options) { o.Env = env } }
func WithPlanCacheSize(n int) Option        { return func(o *Options) { o.PlanCacheSize = n } }

// Gateway executes operations. It is safe for concurrent use.
type Gateway struct {
	bp      *blueprint.Blueprint
	schema  *language.Schema
	runtime *ir.Runtime
	plans   *dataloader.LRUStorage[string, *jit.OperationPlan]
	logger  *zap.Logger
	closers []func()
}

// Request is one GraphQL operation.
type Request struct {
	Query         string
	OperationName string
	Variables     map[string]any
	// Headers of the incoming request. Auth reads all of them; only the
	// upstream's allowed headers are forwarded.
	Headers http.Header
}

// FromConfig compiles cfg and builds a Gateway for it.
func FromConfig(cfg *config.Config, opts ...Option) (*Gateway, error) {
	bp, err := blueprint.Compile(cfg)
	if err != nil {
		return nil, err
	}
	return New(bp, opts...)
}

// New builds a Gateway serving bp. The printed schema of bp is loaded to
// validate incoming queries.
func New(bp *blueprint.Blueprint, opts ...Option) (*Gateway, error) {
	o := Options{Logger: zap.NewNop(), PlanCacheSize: 512}
	for _, f := range opts {
		f(&o)
	}

	schema, err := language.LoadSchema("schema.graphql", blueprint.Print(bp))
	if err != nil {
		return nil, errors.Wrap(err, "gateway: load schema")
	}
	extended, err := introspection.Extend(bp)
	if err != nil {
		return nil, errors.Wrap(err, "gateway: introspection")
	}
	plans, err := dataloader.NewLRUStorage[string, *jit.OperationPlan](o.PlanCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "gateway: plan cache")
	}

	g := &Gateway{bp: extended, schema: schema, plans: plans, logger: o.Logger}
	rt, err := g.buildRuntime(bp, &o)
	if err != nil {
		g.Close()
		return nil, err
	}
	g.runtime = rt
	return g, nil
}

func (g *Gateway) buildRuntime(bp *blueprint.Blueprint, o *Options) (*ir.Runtime, error) {
	rt := &ir.Runtime{
		HTTP:           o.HTTP,
		GRPC:           o.GRPC,
		Script:         o.Script,
		Cache:          o.Cache,
		Auth:           bp.Server.Auth,
		Env:            o.Env,
		Batch:          bp.Upstream.Batch,
		AllowedHeaders: bp.Upstream.AllowedHeaders,
		DedupeRequest:  bp.Upstream.Dedupe,
	}
	if bp.Server.Dedupe {
		rt.InFlight = &singleflight.Group{}
	}
	if rt.HTTP == nil {
		httpOpts := []upstream.HTTPOption{
			upstream.WithRetryMax(bp.Upstream.RetryMax),
			upstream.WithHTTPLogger(o.Logger.Named("upstream")),
		}
		if bp.Upstream.Timeout > 0 {
			httpOpts = append(httpOpts, upstream.WithTimeout(bp.Upstream.Timeout))
		}
		rt.HTTP = upstream.NewHTTPClient(httpOpts...)
	}
	if rt.GRPC == nil {
		var grpcOpts []upstream.GRPCOption
		if bp.Upstream.Timeout > 0 {
			grpcOpts = append(grpcOpts, upstream.WithRPCTimeout(bp.Upstream.Timeout))
		}
		c := upstream.NewGRPCClient(grpcOpts...)
		g.closers = append(g.closers, func() { _ = c.Close() })
		rt.GRPC = c
	}
	if rt.Script == nil {
		s := upstream.NewScript(bp.Upstream.Scripts)
		if err := s.Validate(); err != nil {
			return nil, errors.Wrap(err, "gateway")
		}
		rt.Script = s
	}
	if rt.Cache == nil {
		store, err := cache.NewRistretto(cache.DefaultOptions())
		if err != nil {
			return nil, err
		}
		g.closers = append(g.closers, store.Close)
		rt.Cache = store
	}
	return rt, nil
}

// Blueprint returns the served blueprint, introspection fields included.
func (g *Gateway) Blueprint() *blueprint.Blueprint { return g.bp }

// Close releases pooled connections and the resolver cache.
func (g *Gateway) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		g.closers[i]()
	}
	g.closers = nil
}

// Execute validates, plans and runs req. Request errors, such as invalid
// queries or unknown operations, yield a result without data.
func (g *Gateway) Execute(ctx context.Context, req *Request) *jit.ExecutionResult {
	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName})

	plan, err := g.plan(req.Query, req.OperationName)
	var result *jit.ExecutionResult
	opType := ""
	if err != nil {
		result = &jit.ExecutionResult{Errors: requestErrors(err)}
	} else {
		opType = string(plan.Operation)
		rc := ir.NewRequestContext(g.runtime, req.Headers, g.bp.Server.Vars)
		result = jit.Execute(ctx, plan, &jit.Request{
			Variables: req.Variables,
			Context:   rc,
			Timeout:   g.bp.Server.GlobalResponseTimeout,
		})
	}

	errs := make([]error, len(result.Errors))
	for i := range result.Errors {
		errs[i] = result.Errors[i]
	}
	var outcome error
	if len(errs) > 0 {
		outcome = errs[0]
		g.logger.Debug("operation errors",
			zap.String("operation", req.OperationName),
			zap.Int("errors", len(errs)),
			zap.String("first", errs[0].Error()),
		)
	}
	metrics.Operations.WithLabelValues(metrics.Outcome(outcome)).Inc()
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        errs,
		CacheTTL:      result.CacheTTL,
		Duration:      time.Since(start),
	})
	return result
}

// plan returns the cached plan of an operation, validating and planning
// the query on a miss.
func (g *Gateway) plan(query, operationName string) (*jit.OperationPlan, error) {
	key := operationName + "\x00" + query
	if p, ok := g.plans.Get(key); ok {
		return p, nil
	}
	doc, err := language.LoadQuery(g.schema, query)
	if err != nil {
		return nil, err
	}
	p, err := jit.Plan(doc, operationName, g.bp)
	if err != nil {
		return nil, err
	}
	g.plans.Insert(key, p)
	return p, nil
}

// requestErrors converts parse and validation failures to response errors.
func requestErrors(err error) []jit.GraphQLError {
	var list gqlerror.List
	if errors.As(err, &list) {
		out := make([]jit.GraphQLError, len(list))
		for i, e := range list {
			out[i] = fromGQLError(e)
		}
		return out
	}
	var single *gqlerror.Error
	if errors.As(err, &single) {
		return []jit.GraphQLError{fromGQLError(single)}
	}
	return []jit.GraphQLError{{Message: err.Error()}}
}

func fromGQLError(e *gqlerror.Error) jit.GraphQLError {
	out := jit.GraphQLError{Message: e.Message, Extensions: e.Extensions}
	for _, l := range e.Locations {
		out.Locations = append(out.Locations, jit.Location{Line: l.Line, Column: l.Column})
	}
	return out
}
