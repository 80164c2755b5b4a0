// Package config defines the declarative gateway configuration consumed by
// the blueprint compiler.
package config

import (
	"sort"
	"strings"
)

// Config is the whole gateway configuration.
type Config struct {
	Server   Server            `yaml:"server" json:"server"`
	Upstream Upstream          `yaml:"upstream" json:"upstream"`
	Schema   RootSchema        `yaml:"schema" json:"schema"`
	Types    map[string]*Type  `yaml:"types" json:"types"`
	Unions   map[string]*Union `yaml:"unions,omitempty" json:"unions,omitempty"`
	Enums    map[string]*Enum  `yaml:"enums,omitempty" json:"enums,omitempty"`
	Links    []*Link           `yaml:"links,omitempty" json:"links,omitempty"`
}

// RootSchema names the operation root types.
type RootSchema struct {
	Query    string `yaml:"query" json:"query"`
	Mutation string `yaml:"mutation,omitempty" json:"mutation,omitempty"`
}

// Server holds request-level settings.
type Server struct {
	// GlobalResponseTimeout bounds a whole query execution, in milliseconds.
	GlobalResponseTimeout int64 `yaml:"globalResponseTimeout,omitempty" json:"globalResponseTimeout,omitempty"`
	// Dedupe coalesces identical in-flight upstream calls across requests.
	Dedupe bool `yaml:"dedupe,omitempty" json:"dedupe,omitempty"`
	// CacheControlHeader emits Cache-Control from the minimum resolver TTL.
	CacheControlHeader bool  `yaml:"cacheControlHeader,omitempty" json:"cacheControlHeader,omitempty"`
	Auth               *Auth `yaml:"auth,omitempty" json:"auth,omitempty"`
	// Vars are exposed to templates as {{.vars.name}}.
	Vars map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`
}

// Auth declares the authentication providers of the server. A request is
// authenticated when any provider accepts it, or every provider when
// RequireAll is set.
type Auth struct {
	Providers  []*AuthProvider `yaml:"providers" json:"providers"`
	RequireAll bool            `yaml:"requireAll,omitempty" json:"requireAll,omitempty"`
}

// AuthProvider refers to a Htpasswd or Jwks link by id.
type AuthProvider struct {
	Basic *BasicProvider `yaml:"basic,omitempty" json:"basic,omitempty"`
	JWT   *JWTProvider   `yaml:"jwt,omitempty" json:"jwt,omitempty"`
}

type BasicProvider struct {
	Link string `yaml:"link" json:"link"`
}

type JWTProvider struct {
	// Link names a Jwks link holding the key set.
	Link string `yaml:"link,omitempty" json:"link,omitempty"`
	// JWKSURL is used instead of Link for remote key sets.
	JWKSURL     string   `yaml:"jwksUrl,omitempty" json:"jwksUrl,omitempty"`
	Issuer      string   `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Audiences   []string `yaml:"audiences,omitempty" json:"audiences,omitempty"`
	OptionalKid bool     `yaml:"optionalKid,omitempty" json:"optionalKid,omitempty"`
	// MaxAge of a fetched remote key set, in seconds.
	MaxAge int64 `yaml:"maxAge,omitempty" json:"maxAge,omitempty"`
}

// Upstream holds defaults for every upstream call.
type Upstream struct {
	BaseURL string `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`
	// Timeout of a single upstream call, in milliseconds.
	Timeout int64  `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Batch   *Batch `yaml:"batch,omitempty" json:"batch,omitempty"`
	// Dedupe coalesces identical upstream calls within one request.
	Dedupe bool `yaml:"dedupe,omitempty" json:"dedupe,omitempty"`
	// AllowedHeaders are forwarded from the incoming request to templates.
	AllowedHeaders []string `yaml:"allowedHeaders,omitempty" json:"allowedHeaders,omitempty"`
	// RetryMax bounds retries of idempotent HTTP calls.
	RetryMax int `yaml:"retryMax,omitempty" json:"retryMax,omitempty"`
}

// Batch configures data-loader windows.
type Batch struct {
	// Delay is the window length in milliseconds.
	Delay   int64    `yaml:"delay,omitempty" json:"delay,omitempty"`
	MaxSize int      `yaml:"maxSize,omitempty" json:"maxSize,omitempty"`
	Headers []string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// Enabled reports whether batching can merge anything.
func (b *Batch) Enabled() bool { return b != nil && (b.Delay > 0 || b.MaxSize > 0) }

// LinkType is the kind of content a link provides.
type LinkType string

const (
	LinkProtobuf LinkType = "Protobuf"
	LinkScript   LinkType = "Script"
	LinkHtpasswd LinkType = "Htpasswd"
	LinkJwks     LinkType = "Jwks"
)

// Link is an external resource already loaded by the config loader.
type Link struct {
	ID   string   `yaml:"id,omitempty" json:"id,omitempty"`
	Type LinkType `yaml:"type" json:"type"`
	Src  string   `yaml:"src" json:"src"`
	// Content is the loaded resource: a serialized FileDescriptorSet for
	// Protobuf links, text otherwise.
	Content []byte `yaml:"-" json:"-"`
}

// Type is an object, interface or input type.
type Type struct {
	Doc        string            `yaml:"doc,omitempty" json:"doc,omitempty"`
	Interface  bool              `yaml:"interface,omitempty" json:"interface,omitempty"`
	Input      bool              `yaml:"input,omitempty" json:"input,omitempty"`
	Scalar     bool              `yaml:"scalar,omitempty" json:"scalar,omitempty"`
	Implements []string          `yaml:"implements,omitempty" json:"implements,omitempty"`
	Fields     map[string]*Field `yaml:"fields,omitempty" json:"fields,omitempty"`
	Cache      *Cache            `yaml:"cache,omitempty" json:"cache,omitempty"`
	Protected  *Protected        `yaml:"protected,omitempty" json:"protected,omitempty"`
}

// FieldNames returns the field names in sorted order.
func (t *Type) FieldNames() []string { return sortedKeys(t.Fields) }

type Union struct {
	Doc   string   `yaml:"doc,omitempty" json:"doc,omitempty"`
	Types []string `yaml:"types" json:"types"`
}

type Enum struct {
	Doc      string   `yaml:"doc,omitempty" json:"doc,omitempty"`
	Variants []string `yaml:"variants" json:"variants"`
}

// Field is a field of a type with at most one resolver directive.
type Field struct {
	Type        string          `yaml:"type" json:"type"`
	Args        map[string]*Arg `yaml:"args,omitempty" json:"args,omitempty"`
	Doc         string          `yaml:"doc,omitempty" json:"doc,omitempty"`
	Deprecation *Deprecation    `yaml:"deprecated,omitempty" json:"deprecated,omitempty"`

	Const   *Const   `yaml:"const,omitempty" json:"const,omitempty"`
	HTTP    *HTTP    `yaml:"http,omitempty" json:"http,omitempty"`
	GRPC    *GRPC    `yaml:"grpc,omitempty" json:"grpc,omitempty"`
	GraphQL *GraphQL `yaml:"graphql,omitempty" json:"graphql,omitempty"`
	JS      *JS      `yaml:"js,omitempty" json:"js,omitempty"`

	GroupBy   *GroupBy   `yaml:"groupBy,omitempty" json:"groupBy,omitempty"`
	Jq        *Jq        `yaml:"jq,omitempty" json:"jq,omitempty"`
	Modify    *Modify    `yaml:"modify,omitempty" json:"modify,omitempty"`
	Cache     *Cache     `yaml:"cache,omitempty" json:"cache,omitempty"`
	Protected *Protected `yaml:"protected,omitempty" json:"protected,omitempty"`
}

// Resolvers returns the names of the resolver directives set on the field.
func (f *Field) Resolvers() []string {
	var out []string
	if f.Const != nil {
		out = append(out, "@const")
	}
	if f.HTTP != nil {
		out = append(out, "@http")
	}
	if f.GRPC != nil {
		out = append(out, "@grpc")
	}
	if f.GraphQL != nil {
		out = append(out, "@graphql")
	}
	if f.JS != nil {
		out = append(out, "@js")
	}
	return out
}

// TypeRef parses the GraphQL type notation of the field, e.g. "[Post!]!".
func (f *Field) TypeRef() TypeRef { return ParseTypeRef(f.Type) }

// ArgNames returns the argument names in sorted order.
func (f *Field) ArgNames() []string { return sortedKeys(f.Args) }

type Arg struct {
	Type    string `yaml:"type" json:"type"`
	Doc     string `yaml:"doc,omitempty" json:"doc,omitempty"`
	Default any    `yaml:"default,omitempty" json:"default,omitempty"`
}

type Deprecation struct {
	Reason string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// KeyValue is a templated key/value pair.
type KeyValue struct {
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value" json:"value"`
	// SkipEmpty omits the pair when the rendered value is empty.
	SkipEmpty bool `yaml:"skipEmpty,omitempty" json:"skipEmpty,omitempty"`
}

type Const struct {
	Data any `yaml:"data" json:"data"`
}

// HTTP resolves a field with an HTTP call.
type HTTP struct {
	Path     string     `yaml:"path" json:"path"`
	Method   string     `yaml:"method,omitempty" json:"method,omitempty"`
	BaseURL  string     `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`
	Query    []KeyValue `yaml:"query,omitempty" json:"query,omitempty"`
	Headers  []KeyValue `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body     string     `yaml:"body,omitempty" json:"body,omitempty"`
	Encoding string     `yaml:"encoding,omitempty" json:"encoding,omitempty"`
}

// GroupBy marks an HTTP resolver as batchable by a join key.
type GroupBy struct {
	// Path locates the join value inside every item of the response body.
	Path []string `yaml:"path,omitempty" json:"path,omitempty"`
	// Key is the query parameter carrying each request's join value.
	// Defaults to the last element of Path.
	Key string `yaml:"key,omitempty" json:"key,omitempty"`
}

// GRPC resolves a field with a unary gRPC call.
type GRPC struct {
	// Method is "package.Service.Method".
	Method  string     `yaml:"method" json:"method"`
	BaseURL string     `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`
	Body    string     `yaml:"body,omitempty" json:"body,omitempty"`
	Headers []KeyValue `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// GraphQL resolves a field with a call to an upstream GraphQL server.
type GraphQL struct {
	// Name is the upstream root field.
	Name     string     `yaml:"name" json:"name"`
	BaseURL  string     `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`
	Args     []KeyValue `yaml:"args,omitempty" json:"args,omitempty"`
	Headers  []KeyValue `yaml:"headers,omitempty" json:"headers,omitempty"`
	Mutation bool       `yaml:"mutation,omitempty" json:"mutation,omitempty"`
}

// JS resolves a field by calling a named script function.
type JS struct {
	Name string `yaml:"name" json:"name"`
}

// Jq transforms the resolver payload, or the parent value when the field
// has no resolver.
type Jq struct {
	Query string `yaml:"query" json:"query"`
}

type Modify struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	Omit bool   `yaml:"omit,omitempty" json:"omit,omitempty"`
}

// Cache memoizes the IO calls of a field for MaxAge milliseconds.
type Cache struct {
	MaxAge int64 `yaml:"maxAge" json:"maxAge"`
}

type Protected struct{}

// TypeNames returns the type names in sorted order.
func (c *Config) TypeNames() []string { return sortedKeys(c.Types) }

// FindLink returns the link with id, if any.
func (c *Config) FindLink(id string) (*Link, bool) {
	for _, l := range c.Links {
		if l.ID == id {
			return l, true
		}
	}
	return nil, false
}

// TypeRef is a parsed field type.
type TypeRef struct {
	Name         string
	List         bool
	Required     bool
	ItemRequired bool
}

// ParseTypeRef parses "T", "T!", "[T]", "[T!]" and "[T!]!".
func ParseTypeRef(s string) TypeRef {
	s = strings.TrimSpace(s)
	var r TypeRef
	if strings.HasSuffix(s, "!") {
		r.Required = true
		s = strings.TrimSuffix(s, "!")
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		r.List = true
		s = strings.TrimSpace(s[1 : len(s)-1])
		if strings.HasSuffix(s, "!") {
			r.ItemRequired = true
			s = strings.TrimSuffix(s, "!")
		}
	}
	r.Name = strings.TrimSpace(s)
	return r
}

func (r TypeRef) String() string {
	s := r.Name
	if r.List {
		if r.ItemRequired {
			s += "!"
		}
		s = "[" + s + "]"
	}
	if r.Required {
		s += "!"
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
