package blueprint

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"google.golang.org/protobuf/reflect/protoregistry"

	"github.com/hanpama/gqlforge/internal/auth"
	"github.com/hanpama/gqlforge/internal/config"
	"github.com/hanpama/gqlforge/internal/ir"
	"github.com/hanpama/gqlforge/internal/scalar"
	"github.com/hanpama/gqlforge/internal/valid"
)

// Option configures the compiler.
type Option func(*compiler)

// WithScalars replaces the default scalar registry.
func WithScalars(r *scalar.Registry) Option {
	return func(c *compiler) { c.scalars = r }
}

// WithHTTPClient sets the client used by auth providers that fetch remote
// key sets.
func WithHTTPClient(client *http.Client) Option {
	return func(c *compiler) { c.client = client }
}

type compiler struct {
	cfg     *config.Config
	scalars *scalar.Registry
	client  *http.Client
	files   *protoregistry.Files
	loaders int
}

// Compile validates cfg and builds its Blueprint. The error is a
// *valid.Error listing every failure.
func Compile(cfg *config.Config, opts ...Option) (*Blueprint, error) {
	return CompileValid(cfg, opts...).Unwrap()
}

// CompileValid is Compile in its Valid form.
func CompileValid(cfg *config.Config, opts ...Option) valid.Valid[*Blueprint] {
	c := &compiler{cfg: cfg, scalars: scalar.Default(), files: new(protoregistry.Files)}
	for _, opt := range opts {
		opt(c)
	}

	links := c.compileLinks().Trace("links")
	settings := valid.Zip(c.compileServer().Trace("server"), c.compileUpstream().Trace("upstream"))
	schema := c.compileSchema().Trace("schema")

	return valid.ZipWith(valid.Zip(links, settings), schema,
		func(p valid.Pair[[]string, valid.Pair[Server, Upstream]], bp *Blueprint) *Blueprint {
			bp.Server = p.Second.First
			bp.Upstream = p.Second.Second
			bp.Upstream.Scripts = p.First
			return bp
		})
}

func millis(n int64) time.Duration { return time.Duration(n) * time.Millisecond }

func (c *compiler) compileServer() valid.Valid[Server] {
	s := c.cfg.Server
	out := Server{
		GlobalResponseTimeout: millis(s.GlobalResponseTimeout),
		Dedupe:                s.Dedupe,
		CacheControlHeader:    s.CacheControlHeader,
		Vars:                  s.Vars,
	}
	check := valid.When(s.GlobalResponseTimeout < 0, "Invalid global response timeout")
	if s.Auth == nil || len(s.Auth.Providers) == 0 {
		return valid.Map(check, func(struct{}) Server { return out })
	}
	providers := valid.FromIter(s.Auth.Providers, c.compileProvider).Trace("auth")
	return valid.ZipWith(check, providers, func(_ struct{}, vs []auth.Verifier) Server {
		if s.Auth.RequireAll {
			out.Auth = auth.All(vs...)
		} else {
			out.Auth = auth.Any(vs...)
		}
		return out
	})
}

func (c *compiler) compileUpstream() valid.Valid[Upstream] {
	u := c.cfg.Upstream
	out := Upstream{
		Timeout:        millis(u.Timeout),
		Dedupe:         u.Dedupe,
		AllowedHeaders: u.AllowedHeaders,
		RetryMax:       u.RetryMax,
	}
	checks := []valid.Valid[struct{}]{
		valid.When(u.Timeout < 0, "Invalid timeout"),
		valid.When(u.RetryMax < 0, "Invalid retry count"),
	}
	if u.Batch != nil {
		out.Batch = ir.BatchSettings{
			Delay:   millis(u.Batch.Delay),
			MaxSize: u.Batch.MaxSize,
			Headers: u.Batch.Headers,
		}
		checks = append(checks,
			valid.When(u.Batch.Delay < 0, "Invalid batch delay").Trace("batch"),
			valid.When(u.Batch.MaxSize < 0, "Invalid batch size").Trace("batch"),
		)
	}
	all := valid.FromIter(checks, func(v valid.Valid[struct{}]) valid.Valid[struct{}] { return v })
	return valid.Map(all, func([]struct{}) Upstream { return out })
}

func (c *compiler) compileSchema() valid.Valid[*Blueprint] {
	root := valid.Unit()
	if q := c.cfg.Schema.Query; q == "" || c.cfg.Types[q] == nil {
		root = valid.Fail[struct{}]("Query root is missing")
	}
	if m := c.cfg.Schema.Mutation; m != "" {
		root = valid.Discard(valid.Zip(root, c.checkDeclared(m).Trace("mutation")))
	}

	types := valid.FromIter(c.cfg.TypeNames(), func(name string) valid.Valid[*Type] {
		return c.compileType(name, c.cfg.Types[name]).Trace(name)
	})
	unions := valid.FromIter(sortedNames(c.cfg.Unions), func(name string) valid.Valid[*Type] {
		return c.compileUnion(name, c.cfg.Unions[name]).Trace(name)
	})
	enums := valid.FromIter(sortedNames(c.cfg.Enums), func(name string) valid.Valid[*Type] {
		return c.compileEnum(name, c.cfg.Enums[name]).Trace(name)
	})

	defs := valid.ZipWith(types, valid.Zip(unions, enums), func(ts []*Type, rest valid.Pair[[]*Type, []*Type]) []*Type {
		out := append(ts, rest.First...)
		return append(out, rest.Second...)
	})
	return valid.ZipWith(root, defs, func(_ struct{}, defs []*Type) *Blueprint {
		return c.assemble(defs)
	})
}

// assemble indexes compiled definitions and adds the scalars and possible
// types they imply.
func (c *compiler) assemble(defs []*Type) *Blueprint {
	bp := &Blueprint{
		QueryType:    c.cfg.Schema.Query,
		MutationType: c.cfg.Schema.Mutation,
		Types:        make(map[string]*Type, len(defs)+5),
		Directives:   []*Directive{includeDirective, skipDirective},
	}
	for name, desc := range builtinDescriptions {
		bp.Types[name] = &Type{Name: name, Kind: TypeKindScalar, Description: desc}
	}
	for _, t := range defs {
		bp.Types[t.Name] = t
	}

	addScalar := func(ref *TypeRef) {
		name := ref.NamedType()
		if _, ok := bp.Types[name]; ok {
			return
		}
		if s, ok := c.scalars.Lookup(name); ok {
			bp.Types[name] = &Type{Name: name, Kind: TypeKindScalar, Description: s.Description}
		}
	}
	for _, t := range defs {
		for _, f := range t.Fields {
			addScalar(f.Type)
			for _, a := range f.Arguments {
				addScalar(a.Type)
			}
		}
		for _, f := range t.InputFields {
			addScalar(f.Type)
		}
	}

	for _, t := range defs {
		if t.Kind != TypeKindObject {
			continue
		}
		for _, name := range t.Interfaces {
			if iface := bp.Types[name]; iface != nil {
				iface.PossibleTypes = append(iface.PossibleTypes, t.Name)
			}
		}
	}
	for _, t := range bp.Types {
		sort.Strings(t.PossibleTypes)
	}
	return bp
}

func (c *compiler) isDeclared(name string) bool {
	if scalar.IsBuiltin(name) {
		return true
	}
	if _, ok := c.cfg.Types[name]; ok {
		return true
	}
	if _, ok := c.cfg.Unions[name]; ok {
		return true
	}
	if _, ok := c.cfg.Enums[name]; ok {
		return true
	}
	_, ok := c.scalars.Lookup(name)
	return ok
}

func (c *compiler) checkDeclared(name string) valid.Valid[struct{}] {
	if c.isDeclared(name) {
		return valid.Unit()
	}
	return valid.Fail[struct{}](fmt.Sprintf("Undeclared type '%s' was found", name))
}

func (c *compiler) compileType(name string, t *config.Type) valid.Valid[*Type] {
	switch {
	case t.Scalar:
		return valid.Succeed(&Type{Name: name, Kind: TypeKindScalar, Description: t.Doc})
	case t.Input:
		fields := valid.FromIter(t.FieldNames(), func(fname string) valid.Valid[*InputValue] {
			f := t.Fields[fname]
			ref := f.TypeRef()
			return valid.Map(c.checkDeclared(ref.Name), func(struct{}) *InputValue {
				return &InputValue{Name: fname, Description: f.Doc, Type: toTypeRef(ref)}
			}).Trace(fname)
		})
		return valid.Map(fields, func(fs []*InputValue) *Type {
			return &Type{Name: name, Kind: TypeKindInputObject, Description: t.Doc, InputFields: fs}
		})
	}

	kind := TypeKindObject
	if t.Interface {
		kind = TypeKindInterface
	}
	implements := valid.FromIter(t.Implements, func(iface string) valid.Valid[string] {
		it, ok := c.cfg.Types[iface]
		if !ok {
			return valid.Fail[string](fmt.Sprintf("Undeclared type '%s' was found", iface))
		}
		if !it.Interface {
			return valid.Fail[string](fmt.Sprintf("Type '%s' is not an interface", iface))
		}
		return valid.Succeed(iface)
	}).Trace("implements")

	fields := valid.FromIter(t.FieldNames(), func(fname string) valid.Valid[*compiledField] {
		return c.compileField(name, t, fname, t.Fields[fname])
	})

	return valid.ZipWith(implements, fields, func(ifaces []string, fs []*compiledField) *Type {
		out := &Type{Name: name, Kind: kind, Description: t.Doc, Interfaces: ifaces}
		for _, f := range fs {
			if !f.omit {
				out.Fields = append(out.Fields, f.field)
			}
		}
		return out
	})
}

func (c *compiler) compileUnion(name string, u *config.Union) valid.Valid[*Type] {
	members := valid.FromIter(u.Types, func(member string) valid.Valid[string] {
		t, ok := c.cfg.Types[member]
		if !ok {
			return valid.Fail[string](fmt.Sprintf("Undeclared type '%s' was found", member))
		}
		if t.Interface || t.Input || t.Scalar {
			return valid.Fail[string](fmt.Sprintf("Union member '%s' is not an object type", member))
		}
		return valid.Succeed(member)
	})
	return valid.Map(members, func(ms []string) *Type {
		sorted := append([]string(nil), ms...)
		sort.Strings(sorted)
		return &Type{Name: name, Kind: TypeKindUnion, Description: u.Doc, PossibleTypes: sorted}
	})
}

func (c *compiler) compileEnum(name string, e *config.Enum) valid.Valid[*Type] {
	if len(e.Variants) == 0 {
		return valid.Fail[*Type]("Enum has no variants")
	}
	t := &Type{Name: name, Kind: TypeKindEnum, Description: e.Doc}
	for _, v := range e.Variants {
		t.EnumValues = append(t.EnumValues, &EnumValue{Name: v})
	}
	return valid.Succeed(t)
}

func toTypeRef(r config.TypeRef) *TypeRef {
	out := NamedType(r.Name)
	if r.List {
		if r.ItemRequired {
			out = NonNullType(out)
		}
		out = ListType(out)
	}
	if r.Required {
		out = NonNullType(out)
	}
	return out
}

// checkValue validates a literal against a declared type.
func (c *compiler) checkValue(v any, ref config.TypeRef) valid.Valid[struct{}] {
	mismatch := func() valid.Valid[struct{}] {
		return valid.Fail[struct{}](fmt.Sprintf("expected %s, got %s", ref, literal(v)))
	}
	if v == nil {
		if ref.Required {
			return mismatch()
		}
		return valid.Unit()
	}
	if ref.List {
		items, ok := v.([]any)
		if !ok {
			return mismatch()
		}
		item := config.TypeRef{Name: ref.Name, Required: ref.ItemRequired}
		return valid.Discard(valid.FromIter(items, func(x any) valid.Valid[struct{}] {
			return c.checkValue(x, item)
		}))
	}

	if s, ok := c.scalars.Lookup(ref.Name); ok {
		if !s.Validate(v) {
			return mismatch()
		}
		return valid.Unit()
	}
	if e, ok := c.cfg.Enums[ref.Name]; ok {
		str, _ := v.(string)
		for _, variant := range e.Variants {
			if variant == str {
				return valid.Unit()
			}
		}
		return mismatch()
	}
	if _, ok := c.cfg.Unions[ref.Name]; ok {
		if _, ok := v.(map[string]any); !ok {
			return mismatch()
		}
		return valid.Unit()
	}
	t, ok := c.cfg.Types[ref.Name]
	if !ok {
		return valid.Unit()
	}
	if t.Scalar {
		return valid.Unit()
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return mismatch()
	}
	return valid.Discard(valid.FromIter(t.FieldNames(), func(name string) valid.Valid[struct{}] {
		f := t.Fields[name]
		if f.Resolvers() != nil {
			return valid.Unit()
		}
		return c.checkValue(obj[name], f.TypeRef()).Trace(name)
	}))
}

func literal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func sortedNames[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
