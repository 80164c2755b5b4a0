package jit

import (
	"fmt"

	"github.com/hanpama/gqlforge/internal/blueprint"
	"github.com/hanpama/gqlforge/internal/ir"
	language "github.com/hanpama/gqlforge/internal/language"
)

// FieldPlanID indexes OperationPlan.Fields.
type FieldPlanID int

// TreeKind tells how the value of a planned field is completed.
type TreeKind int

const (
	Leaf TreeKind = iota
	Compound
	CompoundList
)

func (k TreeKind) String() string {
	switch k {
	case Compound:
		return "Compound"
	case CompoundList:
		return "CompoundList"
	}
	return "Leaf"
}

// Condition is a @skip or @include directive guarding a selection.
type Condition struct {
	Include bool
	If      *language.Value
}

// FieldPlan is one selected field, resolved against the concrete type it is
// selected on.
type FieldPlan struct {
	ID FieldPlanID
	// Parent is the field whose objects this field is resolved on; -1 for
	// root fields.
	Parent     FieldPlanID
	Name       string
	OutputName string
	// OnType is the object type the field applies to. Selections on
	// abstract types are planned once per possible type.
	OnType     string
	Type       *blueprint.TypeRef
	Definition *blueprint.Field
	Arguments  language.ArgumentList
	// Conditions holds one conjunction per merged occurrence of the field.
	// The field is included when any of them holds, or when there are none.
	Conditions [][]Condition
	// Selection is the sub-selection of the field. It is printed per request
	// for resolvers that forward it to a GraphQL upstream.
	Selection language.SelectionSet
}

// IsTypename reports whether f is the __typename meta field.
func (f *FieldPlan) IsTypename() bool { return f.Definition == nil }

// Resolver returns the expression evaluated for f, or nil when the value is
// read from the parent under the field name.
func (f *FieldPlan) Resolver() ir.Expression {
	if f.Definition == nil {
		return nil
	}
	return f.Definition.Resolver
}

// FieldTree mirrors the selection set. Children are empty for leaves.
type FieldTree struct {
	Field    FieldPlanID
	Kind     TreeKind
	Children []*FieldTree
}

// OperationPlan is the execution plan of one operation. It does not depend
// on variable values and can be reused across requests.
type OperationPlan struct {
	Operation language.Operation
	RootType  *blueprint.Type
	Variables []*language.VariableDefinition
	Fragments language.FragmentDefinitionList
	Fields    []*FieldPlan
	Tree      []*FieldTree
	Steps     ExecutionStep

	blueprint *blueprint.Blueprint
}

// Plan builds the plan of the named operation of doc. An empty name selects
// the only operation of the document.
func Plan(doc *language.QueryDocument, operationName string, bp *blueprint.Blueprint) (*OperationPlan, error) {
	op, err := getOperation(doc, operationName)
	if err != nil {
		return nil, err
	}

	var root *blueprint.Type
	switch op.Operation {
	case language.Query, "":
		root = bp.Query()
	case language.Mutation:
		root = bp.Mutation()
		if root == nil {
			return nil, fmt.Errorf("schema does not support mutations")
		}
	default:
		return nil, fmt.Errorf("unsupported operation type: %s", op.Operation)
	}
	if root == nil {
		return nil, fmt.Errorf("root type not found for %s operation", op.Operation)
	}

	p := &planner{doc: doc, bp: bp}
	tree, err := p.selection(root, op.SelectionSet, -1)
	if err != nil {
		return nil, err
	}
	plan := &OperationPlan{
		Operation: op.Operation,
		Fragments: doc.Fragments,
		RootType:  root,
		Variables: op.VariableDefinitions,
		Fields:    p.fields,
		Tree:      tree,
		blueprint: bp,
	}
	plan.Steps = BuildSteps(plan)
	return plan, nil
}

func getOperation(doc *language.QueryDocument, name string) (*language.OperationDefinition, error) {
	if name == "" {
		if len(doc.Operations) == 1 {
			return doc.Operations[0], nil
		}
		return nil, fmt.Errorf("operation name is required when the document has %d operations", len(doc.Operations))
	}
	if op := doc.Operations.ForName(name); op != nil {
		return op, nil
	}
	return nil, fmt.Errorf("unknown operation named %q", name)
}

type planner struct {
	doc    *language.QueryDocument
	bp     *blueprint.Blueprint
	fields []*FieldPlan
}

// collectedField groups the occurrences of one response name.
type collectedField struct {
	responseName string
	fields       []*language.Field
	conditions   [][]Condition
}

func (p *planner) selection(parent *blueprint.Type, ss language.SelectionSet, parentID FieldPlanID) ([]*FieldTree, error) {
	if !parent.IsAbstract() {
		return p.collect(parent, ss, parentID)
	}
	var out []*FieldTree
	for _, name := range parent.PossibleTypes {
		obj := p.bp.Types[name]
		if obj == nil {
			continue
		}
		trees, err := p.collect(obj, ss, parentID)
		if err != nil {
			return nil, err
		}
		out = append(out, trees...)
	}
	return out, nil
}

func (p *planner) collect(obj *blueprint.Type, ss language.SelectionSet, parentID FieldPlanID) ([]*FieldTree, error) {
	var groups []*collectedField
	index := make(map[string]int)
	if err := p.collectFields(obj, ss, nil, &groups, index, make(map[string]bool)); err != nil {
		return nil, err
	}

	trees := make([]*FieldTree, 0, len(groups))
	for _, g := range groups {
		tree, err := p.planField(obj, g, parentID)
		if err != nil {
			return nil, err
		}
		trees = append(trees, tree)
	}
	return trees, nil
}

func (p *planner) collectFields(obj *blueprint.Type, ss language.SelectionSet, conds []Condition, groups *[]*collectedField, index map[string]int, visited map[string]bool) error {
	for _, selection := range ss {
		switch sel := selection.(type) {
		case *language.Field:
			responseName := sel.Alias
			if responseName == "" {
				responseName = sel.Name
			}
			i, ok := index[responseName]
			if !ok {
				i = len(*groups)
				index[responseName] = i
				*groups = append(*groups, &collectedField{responseName: responseName})
			}
			g := (*groups)[i]
			g.fields = append(g.fields, sel)
			g.conditions = append(g.conditions, withDirectives(conds, sel.Directives))

		case *language.InlineFragment:
			if sel.TypeCondition != "" && !p.applies(obj, sel.TypeCondition) {
				continue
			}
			if err := p.collectFields(obj, sel.SelectionSet, withDirectives(conds, sel.Directives), groups, index, visited); err != nil {
				return err
			}

		case *language.FragmentSpread:
			def := p.doc.Fragments.ForName(sel.Name)
			if def == nil {
				return fmt.Errorf("unknown fragment %q", sel.Name)
			}
			if visited[sel.Name] {
				continue
			}
			if def.TypeCondition != "" && !p.applies(obj, def.TypeCondition) {
				continue
			}
			visited[sel.Name] = true
			fragConds := withDirectives(withDirectives(conds, sel.Directives), def.Directives)
			err := p.collectFields(obj, def.SelectionSet, fragConds, groups, index, visited)
			delete(visited, sel.Name)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// applies reports whether a fragment with type condition cond applies to
// values of obj.
func (p *planner) applies(obj *blueprint.Type, cond string) bool {
	if cond == obj.Name {
		return true
	}
	t := p.bp.Types[cond]
	if t == nil {
		return false
	}
	for _, name := range t.PossibleTypes {
		if name == obj.Name {
			return true
		}
	}
	return false
}

func withDirectives(conds []Condition, directives language.DirectiveList) []Condition {
	out := append([]Condition(nil), conds...)
	for _, d := range directives {
		switch d.Name {
		case "skip", "include":
			if arg := d.Arguments.ForName("if"); arg != nil {
				out = append(out, Condition{Include: d.Name == "include", If: arg.Value})
			}
		}
	}
	return out
}

var typenameType = blueprint.NonNullType(blueprint.NamedType("String"))

func (p *planner) planField(obj *blueprint.Type, g *collectedField, parentID FieldPlanID) (*FieldTree, error) {
	first := g.fields[0]
	f := &FieldPlan{
		ID:         FieldPlanID(len(p.fields)),
		Parent:     parentID,
		Name:       first.Name,
		OutputName: g.responseName,
		OnType:     obj.Name,
		Arguments:  first.Arguments,
		Conditions: mergeConditions(g.conditions),
	}

	if first.Name == "__typename" {
		f.Type = typenameType
		p.fields = append(p.fields, f)
		return &FieldTree{Field: f.ID, Kind: Leaf}, nil
	}

	def := obj.Field(first.Name)
	if def == nil {
		return nil, fmt.Errorf("Cannot query field %q on type %q", first.Name, obj.Name)
	}
	f.Definition = def
	f.Type = def.Type
	p.fields = append(p.fields, f)

	named := p.bp.Types[def.Type.NamedType()]
	if named == nil {
		return nil, fmt.Errorf("unknown type %q", def.Type.NamedType())
	}
	tree := &FieldTree{Field: f.ID, Kind: Leaf}
	if named.IsLeaf() {
		return tree, nil
	}
	tree.Kind = Compound
	if def.Type.IsList() {
		tree.Kind = CompoundList
	}

	var sub language.SelectionSet
	for _, field := range g.fields {
		sub = append(sub, field.SelectionSet...)
	}
	f.Selection = sub

	children, err := p.selection(named, sub, f.ID)
	if err != nil {
		return nil, err
	}
	tree.Children = children
	return tree, nil
}

// mergeConditions drops every condition once any occurrence is
// unconditional.
func mergeConditions(conds [][]Condition) [][]Condition {
	for _, c := range conds {
		if len(c) == 0 {
			return nil
		}
	}
	return conds
}
