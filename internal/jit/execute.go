package jit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hanpama/gqlforge/internal/blueprint"
	"github.com/hanpama/gqlforge/internal/ir"
)

// ErrGlobalTimeout is reported when an execution exceeds the global
// response timeout.
var ErrGlobalTimeout = errors.New("Global timeout")

// Request carries the per-request inputs of an execution.
type Request struct {
	Variables map[string]any
	// Context holds headers, data loaders and auth state of the request.
	Context *ir.RequestContext
	// Timeout bounds the whole execution. Zero means unbounded.
	Timeout time.Duration
	// RootValue is the parent value of root fields.
	RootValue any
}

// node is an object value awaiting its selected fields.
type node struct {
	id    int
	typ   *blueprint.Type
	value any
	path  Path
}

// failed marks a value whose error has already been reported.
type failed struct{}

type executor struct {
	plan     *OperationPlan
	bp       *blueprint.Blueprint
	req      *Request
	vars     map[string]any
	included []bool
	root     *node

	mu         sync.Mutex
	nextID     int
	results    map[FieldPlanID]map[int]any
	objects    map[FieldPlanID][]*node
	errors     []GraphQLError
	selections map[FieldPlanID]string
}

// Execute runs plan. Field errors null the failing field, or its nearest
// nullable ancestor when the field is non-null, and are reported in
// Errors. When the timeout expires the result holds only a "Global timeout"
// error.
func Execute(ctx context.Context, plan *OperationPlan, req *Request) *ExecutionResult {
	if req.Context == nil {
		req.Context = ir.NewRequestContext(&ir.Runtime{}, nil, nil)
	}
	vars, err := coerceVariableValues(plan.blueprint, plan.Variables, req.Variables)
	if err != nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: err.Error()}}}
	}

	e := &executor{
		plan:       plan,
		bp:         plan.blueprint,
		req:        req,
		vars:       vars,
		results:    make(map[FieldPlanID]map[int]any),
		objects:    make(map[FieldPlanID][]*node),
		selections: make(map[FieldPlanID]string),
	}
	e.root = e.newNode(plan.RootType, req.RootValue, Path{})
	e.included = make([]bool, len(plan.Fields))
	for i, f := range plan.Fields {
		e.included[i] = e.evalConditions(f.Conditions)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.run(ctx, plan.Steps)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		msg := ctx.Err().Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = ErrGlobalTimeout.Error()
		}
		return &ExecutionResult{Errors: []GraphQLError{{Message: msg}}}
	}

	data, _ := e.synthObject(e.root, plan.Tree)
	result := &ExecutionResult{Data: data, Errors: e.errors}
	if ttl, ok := req.Context.MinTTL(); ok {
		result.CacheTTL = ttl
	}
	return result
}

func (e *executor) run(ctx context.Context, step ExecutionStep) {
	switch s := step.(type) {
	case nil:
	case Resolve:
		e.resolve(ctx, e.plan.Fields[s.Field])
	case Sequential:
		for _, child := range s {
			if ctx.Err() != nil {
				return
			}
			e.run(ctx, child)
		}
	case Parallel:
		var g errgroup.Group
		for _, child := range s {
			child := child
			g.Go(func() error {
				e.run(ctx, child)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (e *executor) parents(f *FieldPlan) []*node {
	if f.Parent < 0 {
		return []*node{e.root}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.objects[f.Parent]
}

// resolve evaluates f on every object it applies to. Objects are resolved
// concurrently as one pass, so IO nodes of siblings in a list share data
// loader windows.
func (e *executor) resolve(ctx context.Context, f *FieldPlan) {
	if !e.included[f.ID] {
		return
	}
	var parents []*node
	for _, parent := range e.parents(f) {
		if parent.typ.Name == f.OnType {
			parents = append(parents, parent)
		}
	}
	pass := ir.NewPass(len(parents))
	var g errgroup.Group
	for _, parent := range parents {
		parent := parent
		g.Go(func() error {
			ctx, done := pass.Join(ctx)
			defer done()
			e.store(f.ID, parent.id, e.resolveOn(ctx, f, parent))
			return nil
		})
	}
	_ = g.Wait()
}

func (e *executor) resolveOn(ctx context.Context, f *FieldPlan, parent *node) any {
	path := appendPath(parent.path, f.OutputName)
	if f.IsTypename() {
		return parent.typ.Name
	}

	args, err := coerceArgumentValues(e.bp, f.Definition, f.Arguments, e.vars)
	if err != nil {
		e.addError(err.Error(), path)
		return failed{}
	}

	var value any
	if expr := f.Resolver(); expr != nil {
		ec := &ir.EvalContext{
			Request:   e.req.Context,
			Value:     parent.value,
			Args:      args,
			TypeName:  parent.typ.Name,
			FieldName: f.Name,
			Selection: e.selectionOf(f),
		}
		value, err = ir.Eval(ctx, expr, ec)
		if err != nil {
			e.addError(err.Error(), path)
			return failed{}
		}
	} else if obj, ok := parent.value.(map[string]any); ok {
		value = obj[f.Name]
	}
	return e.complete(f.ID, f.Type, value, path)
}

// complete checks value against t, serializes leaves and turns objects into
// nodes for the children of field id. Null checks happen during synthesis.
func (e *executor) complete(id FieldPlanID, t *blueprint.TypeRef, value any, path Path) any {
	if t.IsNonNull() {
		return e.complete(id, t.OfType, value, path)
	}
	if value == nil {
		return nil
	}
	if t.Kind == blueprint.TypeRefKindList {
		items, ok := value.([]any)
		if !ok {
			e.addError(fmt.Sprintf("Expected list value, got %T", value), path)
			return failed{}
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = e.complete(id, t.OfType, item, appendPath(path, i))
		}
		return out
	}

	typ := e.bp.Types[t.Named]
	if typ == nil {
		e.addError(fmt.Sprintf("Unknown type: %s", t.Named), path)
		return failed{}
	}
	switch {
	case typ.IsLeaf():
		v, err := serializeLeaf(typ, value)
		if err != nil {
			e.addError(err.Error(), path)
			return failed{}
		}
		return v
	case typ.IsAbstract():
		concrete, err := resolveType(e.bp, typ, value)
		if err != nil {
			e.addError(err.Error(), path)
			return failed{}
		}
		typ = concrete
	}
	n := e.newNode(typ, value, path)
	e.mu.Lock()
	e.objects[id] = append(e.objects[id], n)
	e.mu.Unlock()
	return n
}

// selectionOf prints the sub-selection of f once per request, with the
// request's variables applied.
func (e *executor) selectionOf(f *FieldPlan) string {
	if len(f.Selection) == 0 || !forwardsSelection(f.Resolver()) {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.selections[f.ID]; ok {
		return s
	}
	p := &selectionPrinter{
		bp:        e.bp,
		fragments: e.plan.Fragments,
		defs:      e.plan.Variables,
		vars:      e.vars,
	}
	s := p.print(f.Selection)
	e.selections[f.ID] = s
	return s
}

func (e *executor) newNode(typ *blueprint.Type, value any, path Path) *node {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	return &node{id: e.nextID, typ: typ, value: value, path: path}
}

func (e *executor) store(id FieldPlanID, parent int, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.results[id]
	if !ok {
		m = make(map[int]any)
		e.results[id] = m
	}
	m[parent] = value
}

func (e *executor) addError(msg string, path Path) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errors = append(e.errors, GraphQLError{Message: msg, Path: path})
}

func (e *executor) evalConditions(groups [][]Condition) bool {
	if len(groups) == 0 {
		return true
	}
	for _, conds := range groups {
		ok := true
		for _, c := range conds {
			v, _ := valueFromAST(c.If, e.vars).(bool)
			if v != c.Include {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// synthObject builds the response object of n. It returns nil when a
// non-null field of n is null, in which case the error has been reported.
func (e *executor) synthObject(n *node, trees []*FieldTree) (*Object, bool) {
	out := newObject()
	for _, t := range trees {
		f := e.plan.Fields[t.Field]
		if f.OnType != n.typ.Name || !e.included[f.ID] {
			continue
		}
		raw := e.results[f.ID][n.id]
		v, errored := e.synth(f.Type, raw, t.Children, appendPath(n.path, f.OutputName))
		if v == nil && f.Type.IsNonNull() {
			return nil, errored
		}
		out.Set(f.OutputName, v)
	}
	return out, false
}

// synth builds the output of a completed value. errored is set when the
// output is null because of an error that has already been reported.
func (e *executor) synth(t *blueprint.TypeRef, raw any, children []*FieldTree, path Path) (any, bool) {
	if t.IsNonNull() {
		v, errored := e.synth(t.OfType, raw, children, path)
		if v == nil && !errored {
			e.errors = append(e.errors, GraphQLError{
				Message: fmt.Sprintf("Cannot return null for non-nullable field %s", path),
				Path:    path,
			})
			errored = true
		}
		return v, errored
	}

	switch x := raw.(type) {
	case nil:
		return nil, false
	case failed:
		return nil, true
	case *node:
		obj, errored := e.synthObject(x, children)
		if obj == nil {
			return nil, errored
		}
		return obj, false
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			v, errored := e.synth(t.OfType, item, children, appendPath(path, i))
			if v == nil && t.OfType.IsNonNull() {
				return nil, errored
			}
			out[i] = v
		}
		return out, false
	}
	return raw, false
}
