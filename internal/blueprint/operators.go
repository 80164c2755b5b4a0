package blueprint

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/hanpama/gqlforge/internal/config"
	"github.com/hanpama/gqlforge/internal/ir"
	"github.com/hanpama/gqlforge/internal/mustache"
	"github.com/hanpama/gqlforge/internal/valid"
)

// fieldContext is what every operator may read about the field being
// compiled.
type fieldContext struct {
	typeName string
	typ      *config.Type
	name     string
	cfg      *config.Field
	ref      config.TypeRef
	omit     bool
}

type compiledField struct {
	field *Field
	omit  bool
}

// operator is one step of the field pipeline.
type operator struct {
	name  string
	apply func(c *compiler, fc *fieldContext, f *Field) valid.Valid[*Field]
}

// operators run in order; each sees the field built by the previous ones.
// cache runs before protected so an auth failure never reaches a cached
// upstream call.
var operators = []operator{
	{"args", (*compiler).args},
	{"const", (*compiler).constant},
	{"http", (*compiler).http},
	{"groupBy", (*compiler).groupBy},
	{"grpc", (*compiler).grpc},
	{"graphql", (*compiler).graphql},
	{"js", (*compiler).js},
	{"jq", (*compiler).jq},
	{"modify", (*compiler).modify},
	{"cache", (*compiler).cache},
	{"protected", (*compiler).protected},
}

func (c *compiler) compileField(typeName string, typ *config.Type, name string, cf *config.Field) valid.Valid[*compiledField] {
	fc := &fieldContext{typeName: typeName, typ: typ, name: name, cfg: cf, ref: cf.TypeRef()}

	check := c.checkDeclared(fc.ref.Name)
	if rs := cf.Resolvers(); len(rs) > 1 {
		multiple := valid.Fail[struct{}](fmt.Sprintf("Multiple resolvers detected [%s]", strings.Join(rs, ", ")))
		check = valid.Discard(valid.Zip(check, multiple))
	}

	v := valid.Map(check, func(struct{}) *Field {
		f := &Field{Name: name, Description: cf.Doc, Type: toTypeRef(fc.ref)}
		if cf.Deprecation != nil {
			f.IsDeprecated = true
			f.DeprecationReason = cf.Deprecation.Reason
		}
		return f
	})
	for _, op := range operators {
		v = valid.AndThen(v, func(f *Field) valid.Valid[*Field] {
			return op.apply(c, fc, f).Trace("@" + op.name)
		})
	}
	return valid.Map(v, func(f *Field) *compiledField {
		return &compiledField{field: f, omit: fc.omit}
	}).Trace(name)
}

func (c *compiler) args(fc *fieldContext, f *Field) valid.Valid[*Field] {
	args := valid.FromIter(fc.cfg.ArgNames(), func(name string) valid.Valid[*InputValue] {
		a := fc.cfg.Args[name]
		ref := config.ParseTypeRef(a.Type)
		check := c.checkDeclared(ref.Name)
		if a.Default != nil {
			check = valid.Discard(valid.Zip(check, c.checkValue(a.Default, ref)))
		}
		return valid.Map(check, func(struct{}) *InputValue {
			return &InputValue{Name: name, Description: a.Doc, Type: toTypeRef(ref), DefaultValue: a.Default}
		}).Trace(name)
	})
	return valid.Map(args, func(as []*InputValue) *Field {
		f.Arguments = as
		return f
	})
}

func (c *compiler) constant(fc *fieldContext, f *Field) valid.Valid[*Field] {
	k := fc.cfg.Const
	if k == nil {
		return valid.Succeed(f)
	}
	return valid.Map(c.checkValue(k.Data, fc.ref), func(struct{}) *Field {
		f.Resolver = &ir.Literal{Value: k.Data}
		return f
	})
}

func parseTemplate(src string) valid.Valid[mustache.Template] {
	t, err := mustache.Parse(src)
	if err != nil {
		return valid.Fail[mustache.Template](fmt.Sprintf("Invalid template %q: %s", src, err))
	}
	return valid.Succeed(t)
}

func parseOptionalTemplate(src string) valid.Valid[*mustache.Template] {
	if src == "" {
		return valid.Succeed[*mustache.Template](nil)
	}
	return valid.Map(parseTemplate(src), func(t mustache.Template) *mustache.Template { return &t })
}

func headerTemplates(kvs []config.KeyValue) valid.Valid[[]ir.HeaderTemplate] {
	return valid.FromIter(kvs, func(kv config.KeyValue) valid.Valid[ir.HeaderTemplate] {
		return valid.Map(parseTemplate(kv.Value), func(t mustache.Template) ir.HeaderTemplate {
			return ir.HeaderTemplate{Name: kv.Key, Value: t}
		})
	})
}

func (c *compiler) baseURL(own string) valid.Valid[string] {
	base := firstNonEmpty(own, c.cfg.Upstream.BaseURL)
	if base == "" {
		return valid.Fail[string]("No base URL defined")
	}
	return valid.Succeed(strings.TrimRight(base, "/"))
}

var httpMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true, http.MethodHead: true,
	http.MethodOptions: true,
}

func (c *compiler) http(fc *fieldContext, f *Field) valid.Valid[*Field] {
	h := fc.cfg.HTTP
	if h == nil {
		return valid.Succeed(f)
	}
	method := strings.ToUpper(h.Method)
	if method == "" {
		method = http.MethodGet
	}
	var enc ir.Encoding
	switch h.Encoding {
	case "", string(ir.EncodingJSON):
		enc = ir.EncodingJSON
	case string(ir.EncodingForm):
		enc = ir.EncodingForm
	}

	checks := valid.Zip(
		valid.When(!httpMethods[method], "Invalid method: "+h.Method),
		valid.When(enc == "", "Invalid encoding: "+h.Encoding),
	)
	url := valid.AndThen(c.baseURL(h.BaseURL), func(base string) valid.Valid[mustache.Template] {
		return parseTemplate(base + h.Path)
	})
	query := valid.FromIter(h.Query, func(kv config.KeyValue) valid.Valid[ir.QueryTemplate] {
		return valid.Map(parseTemplate(kv.Value), func(t mustache.Template) ir.QueryTemplate {
			return ir.QueryTemplate{Key: kv.Key, Value: t, SkipEmpty: kv.SkipEmpty}
		})
	}).Trace("query")
	headers := headerTemplates(h.Headers).Trace("headers")
	body := parseOptionalTemplate(h.Body).Trace("body")

	parts := valid.Zip(valid.Zip(checks, url), valid.Zip(valid.Zip(query, headers), body))
	return valid.Map(parts, func(p valid.Pair[valid.Pair[valid.Pair[struct{}, struct{}], mustache.Template], valid.Pair[valid.Pair[[]ir.QueryTemplate, []ir.HeaderTemplate], *mustache.Template]]) *Field {
		f.Resolver = &ir.HTTP{
			Template: &ir.HTTPTemplate{
				Method:   method,
				RootURL:  p.First.Second,
				Query:    p.Second.First.First,
				Headers:  p.Second.First.Second,
				Body:     p.Second.Second,
				Encoding: enc,
			},
			IsList: fc.ref.List,
		}
		return f
	})
}

func (c *compiler) groupBy(fc *fieldContext, f *Field) valid.Valid[*Field] {
	g := fc.cfg.GroupBy
	if g == nil {
		return valid.Succeed(f)
	}
	n, ok := f.Resolver.(*ir.HTTP)
	if !ok {
		return valid.Fail[*Field]("GroupBy requires an @http resolver")
	}
	path, key := g.Path, g.Key
	switch {
	case len(path) == 0 && key == "":
		return valid.Fail[*Field]("GroupBy requires a key or a path")
	case len(path) == 0:
		path = []string{key}
	case key == "":
		key = path[len(path)-1]
	}

	checks := valid.Zip(
		valid.When(n.Template.Method != http.MethodGet, "GroupBy is only supported for GET requests"),
		valid.When(!c.cfg.Upstream.Batch.Enabled(), "GroupBy can only be applied if batching is enabled"),
	)
	return valid.Map(checks, func(valid.Pair[struct{}, struct{}]) *Field {
		tmpl := *n.Template
		if !hasQueryKey(tmpl.Query, key) {
			tmpl.Query = append(append([]ir.QueryTemplate(nil), tmpl.Query...),
				ir.QueryTemplate{Key: key, Value: mustache.MustParse("{{.value.id}}")})
		}
		f.Resolver = &ir.HTTP{
			Template:     &tmpl,
			GroupBy:      &ir.GroupBy{Path: path, Key: key},
			DataLoaderID: c.loaders,
			IsList:       n.IsList,
		}
		c.loaders++
		return f
	})
}

func hasQueryKey(qs []ir.QueryTemplate, key string) bool {
	for _, q := range qs {
		if q.Key == key {
			return true
		}
	}
	return false
}

func (c *compiler) grpc(fc *fieldContext, f *Field) valid.Valid[*Field] {
	g := fc.cfg.GRPC
	if g == nil {
		return valid.Succeed(f)
	}
	target := valid.AndThen(c.baseURL(g.BaseURL), parseTemplate)
	md, ok := c.findMethod(g.Method)
	method := valid.Unit()
	switch {
	case !ok:
		method = valid.Fail[struct{}]("Method not found: " + g.Method)
	case md.IsStreamingClient() || md.IsStreamingServer():
		method = valid.Fail[struct{}]("Streaming method not supported: " + g.Method)
	}
	body := parseOptionalTemplate(g.Body).Trace("body")
	headers := headerTemplates(g.Headers).Trace("headers")

	parts := valid.Zip(valid.Zip(target, method), valid.Zip(body, headers))
	return valid.Map(parts, func(p valid.Pair[valid.Pair[mustache.Template, struct{}], valid.Pair[*mustache.Template, []ir.HeaderTemplate]]) *Field {
		f.Resolver = &ir.GRPC{Template: &ir.GRPCTemplate{
			Target:  p.First.First,
			Method:  md,
			Body:    p.Second.First,
			Headers: p.Second.Second,
		}}
		return f
	})
}

func (c *compiler) graphql(fc *fieldContext, f *Field) valid.Valid[*Field] {
	g := fc.cfg.GraphQL
	if g == nil {
		return valid.Succeed(f)
	}
	url := valid.AndThen(c.baseURL(g.BaseURL), parseTemplate)
	name := valid.When(g.Name == "", "GraphQL field name is required")
	args := valid.FromIter(g.Args, func(kv config.KeyValue) valid.Valid[ir.ArgTemplate] {
		return valid.Map(parseTemplate(kv.Value), func(t mustache.Template) ir.ArgTemplate {
			return ir.ArgTemplate{Name: kv.Key, Value: t}
		})
	}).Trace("args")
	headers := headerTemplates(g.Headers).Trace("headers")

	parts := valid.Zip(valid.Zip(url, name), valid.Zip(args, headers))
	return valid.Map(parts, func(p valid.Pair[valid.Pair[mustache.Template, struct{}], valid.Pair[[]ir.ArgTemplate, []ir.HeaderTemplate]]) *Field {
		f.Resolver = &ir.GraphQL{Template: &ir.GraphQLTemplate{
			URL:      p.First.First,
			Name:     g.Name,
			Args:     p.Second.First,
			Headers:  p.Second.Second,
			Mutation: g.Mutation,
		}}
		return f
	})
}

func (c *compiler) js(fc *fieldContext, f *Field) valid.Valid[*Field] {
	j := fc.cfg.JS
	if j == nil {
		return valid.Succeed(f)
	}
	if j.Name == "" {
		return valid.Fail[*Field]("Script function name is required")
	}
	f.Resolver = &ir.JS{Name: j.Name}
	return valid.Succeed(f)
}

func (c *compiler) jq(fc *fieldContext, f *Field) valid.Valid[*Field] {
	j := fc.cfg.Jq
	if j == nil {
		return valid.Succeed(f)
	}
	expr, err := ir.NewJq(j.Query, f.Resolver)
	if err != nil {
		return valid.Fail[*Field]("Invalid jq filter: " + err.Error())
	}
	f.Resolver = expr
	return valid.Succeed(f)
}

func (c *compiler) modify(fc *fieldContext, f *Field) valid.Valid[*Field] {
	m := fc.cfg.Modify
	if m == nil {
		return valid.Succeed(f)
	}
	fc.omit = m.Omit
	if m.Name == "" || m.Name == f.Name {
		return valid.Succeed(f)
	}
	// The new name must not shadow a field an interface already declares.
	for _, iface := range fc.typ.Implements {
		if it, ok := c.cfg.Types[iface]; ok && it.Fields[m.Name] != nil {
			return valid.Fail[*Field](fmt.Sprintf("Field '%s' is already implemented from interface", m.Name))
		}
	}
	if f.Resolver == nil {
		f.Resolver = &ir.ContextPath{Path: []string{"value", fc.name}}
	}
	f.Name = m.Name
	return valid.Succeed(f)
}

func (c *compiler) cache(fc *fieldContext, f *Field) valid.Valid[*Field] {
	cc := fc.cfg.Cache
	if cc == nil {
		cc = fc.typ.Cache
	}
	if cc == nil {
		return valid.Succeed(f)
	}
	if cc.MaxAge <= 0 {
		return valid.Fail[*Field]("Invalid max age")
	}
	if ir.HasIO(f.Resolver) {
		f.Resolver = ir.WrapCache(f.Resolver, millis(cc.MaxAge))
	}
	return valid.Succeed(f)
}

func (c *compiler) protected(fc *fieldContext, f *Field) valid.Valid[*Field] {
	if fc.cfg.Protected == nil && fc.typ.Protected == nil {
		return valid.Succeed(f)
	}
	if a := c.cfg.Server.Auth; a == nil || len(a.Providers) == 0 {
		return valid.Fail[*Field]("@protected used without @server auth")
	}
	inner := f.Resolver
	if inner == nil {
		inner = &ir.ContextPath{Path: []string{"value", fc.name}}
	}
	f.Resolver = &ir.Protected{Inner: inner}
	return valid.Succeed(f)
}
