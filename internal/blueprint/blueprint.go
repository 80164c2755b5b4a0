// Package blueprint compiles a gateway configuration into an executable
// schema: every object field carries the resolver expression it evaluates to.
//
// A Blueprint is built once and shared read-only by every request. Reloading
// the configuration builds a new Blueprint rather than mutating this one.
package blueprint

import (
	"time"

	"github.com/hanpama/gqlforge/internal/auth"
	"github.com/hanpama/gqlforge/internal/ir"
)

// Blueprint is a compiled, validated schema.
type Blueprint struct {
	QueryType    string
	MutationType string
	Types        map[string]*Type
	Directives   []*Directive
	Server       Server
	Upstream     Upstream
}

// Server holds the compiled request-level settings.
type Server struct {
	// GlobalResponseTimeout bounds an operation. Zero means unbounded.
	GlobalResponseTimeout time.Duration
	Dedupe                bool
	CacheControlHeader    bool
	Vars                  map[string]string
	// Auth is nil when no provider is configured.
	Auth auth.Verifier
}

// Upstream holds the compiled upstream defaults.
type Upstream struct {
	Timeout        time.Duration
	Batch          ir.BatchSettings
	Dedupe         bool
	AllowedHeaders []string
	RetryMax       int
	// Scripts are the contents of Script links, in declaration order.
	Scripts []string
}

func (b *Blueprint) Query() *Type { return b.Types[b.QueryType] }

// Mutation returns the mutation root, or nil.
func (b *Blueprint) Mutation() *Type {
	if b.MutationType == "" {
		return nil
	}
	return b.Types[b.MutationType]
}

// Type is a named type definition.
type Type struct {
	Name        string
	Kind        TypeKind
	Description string
	// Fields of OBJECT and INTERFACE types.
	Fields     []*Field
	Interfaces []string
	// PossibleTypes of INTERFACE and UNION types.
	PossibleTypes []string
	EnumValues    []*EnumValue
	InputFields   []*InputValue
}

// Field returns the field called name, or nil.
func (t *Type) Field(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// InputField returns the input field called name, or nil.
func (t *Type) InputField(name string) *InputValue {
	for _, f := range t.InputFields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// IsAbstract reports whether values of t need a concrete type at runtime.
func (t *Type) IsAbstract() bool {
	return t.Kind == TypeKindInterface || t.Kind == TypeKindUnion
}

// IsLeaf reports whether t is a scalar or an enum.
func (t *Type) IsLeaf() bool {
	return t.Kind == TypeKindScalar || t.Kind == TypeKindEnum
}

// Field is a field of an object or interface type.
type Field struct {
	Name        string
	Description string
	Type        *TypeRef
	Arguments   []*InputValue
	// Resolver is nil for fields that copy the parent value under their name.
	Resolver          ir.Expression
	IsDeprecated      bool
	DeprecationReason string
}

// Argument returns the argument called name, or nil.
func (f *Field) Argument(name string) *InputValue {
	for _, a := range f.Arguments {
		if a.Name == name {
			return a
		}
	}
	return nil
}

type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindInterface   TypeKind = "INTERFACE"
	TypeKindUnion       TypeKind = "UNION"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// TypeRef is a possibly wrapped reference to a named type.
type TypeRef struct {
	Kind   TypeRefKind
	OfType *TypeRef
	Named  string
}

type TypeRefKind string

const (
	TypeRefKindNamed   TypeRefKind = "NAMED"
	TypeRefKindList    TypeRefKind = "LIST"
	TypeRefKindNonNull TypeRefKind = "NON_NULL"
)

func (t *TypeRef) IsNonNull() bool { return t != nil && t.Kind == TypeRefKindNonNull }

// IsList reports whether t is a list, possibly wrapped in non-null.
func (t *TypeRef) IsList() bool {
	if t == nil {
		return false
	}
	if t.Kind == TypeRefKindList {
		return true
	}
	return t.Kind == TypeRefKindNonNull && t.OfType != nil && t.OfType.Kind == TypeRefKindList
}

// Nullable strips a non-null wrapper.
func (t *TypeRef) Nullable() *TypeRef {
	if t.IsNonNull() {
		return t.OfType
	}
	return t
}

// NamedType returns the innermost type name.
func (t *TypeRef) NamedType() string {
	for cur := t; cur != nil; cur = cur.OfType {
		if cur.Named != "" {
			return cur.Named
		}
	}
	return ""
}

func (t *TypeRef) String() string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case TypeRefKindList:
		return "[" + t.OfType.String() + "]"
	case TypeRefKindNonNull:
		return t.OfType.String() + "!"
	}
	return t.Named
}

func NonNullType(t *TypeRef) *TypeRef { return &TypeRef{Kind: TypeRefKindNonNull, OfType: t} }
func ListType(t *TypeRef) *TypeRef    { return &TypeRef{Kind: TypeRefKindList, OfType: t} }
func NamedType(name string) *TypeRef  { return &TypeRef{Kind: TypeRefKindNamed, Named: name} }

type EnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason string
}

type InputValue struct {
	Name         string
	Description  string
	Type         *TypeRef
	DefaultValue any
}

type Directive struct {
	Name        string
	Description string
	Locations   []string
	Arguments   []*InputValue
}
