package jit

import (
	"strings"

	"github.com/hanpama/gqlforge/internal/blueprint"
	"github.com/hanpama/gqlforge/internal/ir"
	language "github.com/hanpama/gqlforge/internal/language"
)

// forwardsSelection reports whether expr sends the field's sub-selection to
// a GraphQL upstream.
func forwardsSelection(expr ir.Expression) bool {
	found := false
	ir.Walk(expr, func(e ir.Expression) {
		if _, ok := e.(*ir.GraphQL); ok {
			found = true
		}
	})
	return found
}

// selectionPrinter renders a sub-selection as GraphQL source for an
// upstream query that declares no variables: variable references are
// replaced by their values, @skip and @include are applied, and fragment
// spreads are inlined.
type selectionPrinter struct {
	bp        *blueprint.Blueprint
	fragments language.FragmentDefinitionList
	defs      []*language.VariableDefinition
	vars      map[string]any
}

func (p *selectionPrinter) print(ss language.SelectionSet) string {
	var b strings.Builder
	p.selection(&b, ss)
	return b.String()
}

func (p *selectionPrinter) selection(b *strings.Builder, ss language.SelectionSet) {
	first := true
	sep := func() {
		if !first {
			b.WriteByte(' ')
		}
		first = false
	}
	for _, selection := range ss {
		switch sel := selection.(type) {
		case *language.Field:
			if !p.included(sel.Directives) {
				continue
			}
			sep()
			if sel.Alias != "" && sel.Alias != sel.Name {
				b.WriteString(sel.Alias)
				b.WriteString(": ")
			}
			b.WriteString(sel.Name)
			if len(sel.Arguments) > 0 {
				b.WriteByte('(')
				for j, arg := range sel.Arguments {
					if j > 0 {
						b.WriteString(", ")
					}
					b.WriteString(arg.Name)
					b.WriteString(": ")
					p.value(b, arg.Value)
				}
				b.WriteByte(')')
			}
			p.block(b, sel.SelectionSet)
		case *language.InlineFragment:
			if !p.included(sel.Directives) {
				continue
			}
			sep()
			b.WriteString("...")
			if sel.TypeCondition != "" {
				b.WriteString(" on ")
				b.WriteString(sel.TypeCondition)
			}
			p.block(b, sel.SelectionSet)
		case *language.FragmentSpread:
			def := p.fragments.ForName(sel.Name)
			if def == nil || !p.included(sel.Directives) {
				continue
			}
			sep()
			b.WriteString("... on ")
			b.WriteString(def.TypeCondition)
			p.block(b, def.SelectionSet)
		}
	}
}

func (p *selectionPrinter) block(b *strings.Builder, ss language.SelectionSet) {
	if len(ss) == 0 {
		return
	}
	b.WriteString(" { ")
	p.selection(b, ss)
	b.WriteString(" }")
}

func (p *selectionPrinter) included(directives language.DirectiveList) bool {
	for _, c := range withDirectives(nil, directives) {
		v, _ := valueFromAST(c.If, p.vars).(bool)
		if v != c.Include {
			return false
		}
	}
	return true
}

func (p *selectionPrinter) value(b *strings.Builder, v *language.Value) {
	switch v.Kind {
	case language.Variable:
		b.WriteString(p.variable(v.Raw))
	case language.ListValue:
		b.WriteByte('[')
		for i, c := range v.Children {
			if i > 0 {
				b.WriteString(", ")
			}
			p.value(b, c.Value)
		}
		b.WriteByte(']')
	case language.ObjectValue:
		b.WriteByte('{')
		for i, c := range v.Children {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(c.Name)
			b.WriteString(": ")
			p.value(b, c.Value)
		}
		b.WriteByte('}')
	default:
		b.WriteString(v.String())
	}
}

func (p *selectionPrinter) variable(name string) string {
	val, ok := p.vars[name]
	if !ok {
		return "null"
	}
	if p.isEnum(name) {
		return enumLiteral(val)
	}
	return ir.GraphQLLiteral(val)
}

func (p *selectionPrinter) isEnum(name string) bool {
	for _, def := range p.defs {
		if def.Variable != name {
			continue
		}
		t := p.bp.Types[typeRefFromAST(def.Type).NamedType()]
		return t != nil && t.Kind == blueprint.TypeKindEnum
	}
	return false
}

func enumLiteral(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = enumLiteral(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return ir.GraphQLLiteral(v)
}
