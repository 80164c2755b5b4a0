// Package introspection extends a blueprint with the __schema and __type
// root fields. The whole introspection result is computed once per blueprint
// and served from literals: __schema is a constant value and __Type fields
// look their data up by name in a type table with jq.
package introspection

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	bp "github.com/hanpama/gqlforge/internal/blueprint"
	"github.com/hanpama/gqlforge/internal/ir"
)

// Extend returns a copy of b serving introspection queries. b is not
// modified.
func Extend(b *bp.Blueprint) (*bp.Blueprint, error) {
	query := b.Query()
	if query == nil {
		return nil, errors.Errorf("query type %q not found", b.QueryType)
	}

	ext := *b
	ext.Types = make(map[string]*bp.Type, len(b.Types)+8)
	for name, t := range b.Types {
		ext.Types[name] = t
	}

	table := &ir.Literal{}
	var lookupErr error
	lookup := func(field string, filterDeprecated bool) ir.Expression {
		src := `.[$value.name // ""].` + field
		if filterDeprecated {
			src += ` | if . == null or $args.includeDeprecated then . else map(select(.isDeprecated | not)) end`
		}
		expr, err := ir.NewJq(src, table)
		if err != nil && lookupErr == nil {
			lookupErr = err
		}
		return expr
	}
	for _, t := range introspectionTypes(lookup) {
		ext.Types[t.Name] = t
	}
	if lookupErr != nil {
		return nil, errors.Wrap(lookupErr, "introspection lookup")
	}

	enc := encoder{bp: &ext}
	table.Value = enc.typeTable()

	typeByName, err := ir.NewJq(`.[$args.name]`, table)
	if err != nil {
		return nil, errors.Wrap(err, "introspection __type")
	}

	q := *query
	q.Fields = append(append([]*bp.Field(nil), query.Fields...),
		&bp.Field{
			Name:        "__schema",
			Description: "Access the current type schema of this server.",
			Type:        nonNull("__Schema"),
			Resolver:    &ir.Literal{Value: enc.schema()},
		},
		&bp.Field{
			Name:        "__type",
			Description: "Request the type information of a single type.",
			Arguments: []*bp.InputValue{
				{Name: "name", Description: "The name of the type to look up.", Type: nonNull("String")},
			},
			Type:     bp.NamedType("__Type"),
			Resolver: typeByName,
		},
	)
	ext.Types[q.Name] = &q
	return &ext, nil
}

// encoder renders blueprint definitions as plain JSON-like values.
type encoder struct {
	bp *bp.Blueprint
}

func (e encoder) typeNames() []string {
	names := make([]string, 0, len(e.bp.Types))
	for name := range e.bp.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e encoder) schema() map[string]any {
	var mutation any
	if e.bp.MutationType != "" {
		mutation = e.named(e.bp.MutationType)
	}
	types := make([]any, 0, len(e.bp.Types))
	for _, name := range e.typeNames() {
		types = append(types, e.named(name))
	}
	directives := make([]any, 0, len(e.bp.Directives))
	for _, d := range e.bp.Directives {
		directives = append(directives, e.directive(d))
	}
	return map[string]any{
		"description":      nil,
		"queryType":        e.named(e.bp.QueryType),
		"mutationType":     mutation,
		"subscriptionType": nil,
		"types":            types,
		"directives":       directives,
	}
}

func (e encoder) typeTable() map[string]any {
	table := make(map[string]any, len(e.bp.Types))
	for name, t := range e.bp.Types {
		table[name] = e.typeEntry(t)
	}
	return table
}

func (e encoder) typeEntry(t *bp.Type) map[string]any {
	entry := map[string]any{
		"kind":           string(t.Kind),
		"name":           t.Name,
		"description":    optional(t.Description),
		"specifiedByURL": nil,
		"ofType":         nil,
		"fields":         nil,
		"interfaces":     nil,
		"possibleTypes":  nil,
		"enumValues":     nil,
		"inputFields":    nil,
		"isOneOf":        nil,
	}
	switch t.Kind {
	case bp.TypeKindObject, bp.TypeKindInterface:
		fields := make([]any, 0, len(t.Fields))
		for _, f := range t.Fields {
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			fields = append(fields, e.field(f))
		}
		interfaces := make([]any, 0, len(t.Interfaces))
		for _, name := range t.Interfaces {
			interfaces = append(interfaces, e.named(name))
		}
		entry["fields"] = fields
		entry["interfaces"] = interfaces
	case bp.TypeKindEnum:
		values := make([]any, 0, len(t.EnumValues))
		for _, v := range t.EnumValues {
			values = append(values, map[string]any{
				"name":              v.Name,
				"description":       optional(v.Description),
				"isDeprecated":      v.IsDeprecated,
				"deprecationReason": optional(v.DeprecationReason),
			})
		}
		entry["enumValues"] = values
	case bp.TypeKindInputObject:
		entry["inputFields"] = e.inputValues(t.InputFields)
		entry["isOneOf"] = false
	}
	if t.IsAbstract() {
		possible := make([]any, 0, len(t.PossibleTypes))
		for _, name := range t.PossibleTypes {
			possible = append(possible, e.named(name))
		}
		entry["possibleTypes"] = possible
	}
	return entry
}

func (e encoder) field(f *bp.Field) map[string]any {
	return map[string]any{
		"name":              f.Name,
		"description":       optional(f.Description),
		"args":              e.inputValues(f.Arguments),
		"type":              e.ref(f.Type),
		"isDeprecated":      f.IsDeprecated,
		"deprecationReason": optional(f.DeprecationReason),
	}
}

func (e encoder) inputValues(vs []*bp.InputValue) []any {
	out := make([]any, 0, len(vs))
	for _, v := range vs {
		var def any
		if v.DefaultValue != nil {
			def = bp.FormatValue(e.bp, v.DefaultValue, v.Type)
		}
		out = append(out, map[string]any{
			"name":              v.Name,
			"description":       optional(v.Description),
			"type":              e.ref(v.Type),
			"defaultValue":      def,
			"isDeprecated":      false,
			"deprecationReason": nil,
		})
	}
	return out
}

func (e encoder) directive(d *bp.Directive) map[string]any {
	locations := make([]any, len(d.Locations))
	for i, l := range d.Locations {
		locations[i] = l
	}
	return map[string]any{
		"name":         d.Name,
		"description":  optional(d.Description),
		"isRepeatable": false,
		"locations":    locations,
		"args":         e.inputValues(d.Arguments),
	}
}

// ref encodes a type reference. Named references carry only kind and name;
// the rest is looked up in the type table when selected.
func (e encoder) ref(t *bp.TypeRef) map[string]any {
	switch t.Kind {
	case bp.TypeRefKindList:
		return map[string]any{"kind": "LIST", "name": nil, "ofType": e.ref(t.OfType)}
	case bp.TypeRefKindNonNull:
		return map[string]any{"kind": "NON_NULL", "name": nil, "ofType": e.ref(t.OfType)}
	}
	return e.named(t.Named)
}

func (e encoder) named(name string) map[string]any {
	kind := string(bp.TypeKindScalar)
	if t, ok := e.bp.Types[name]; ok {
		kind = string(t.Kind)
	}
	return map[string]any{"kind": kind, "name": name, "ofType": nil}
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}
