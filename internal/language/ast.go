package language

import "github.com/vektah/gqlparser/v2/ast"

// Aliases of the gqlparser AST used by the planner.
type (
	Schema                 = ast.Schema
	QueryDocument          = ast.QueryDocument
	OperationDefinition    = ast.OperationDefinition
	VariableDefinition     = ast.VariableDefinition
	SelectionSet           = ast.SelectionSet
	Field                  = ast.Field
	InlineFragment         = ast.InlineFragment
	FragmentSpread         = ast.FragmentSpread
	DirectiveList          = ast.DirectiveList
	FragmentDefinitionList = ast.FragmentDefinitionList
	ArgumentList           = ast.ArgumentList
	Value                  = ast.Value
	Type                   = ast.Type
)

type Operation = ast.Operation

type ValueKind = ast.ValueKind

const (
	Query        Operation = ast.Query
	Mutation     Operation = ast.Mutation
	Subscription Operation = ast.Subscription
)

const (
	Variable     ValueKind = ast.Variable
	IntValue     ValueKind = ast.IntValue
	FloatValue   ValueKind = ast.FloatValue
	StringValue  ValueKind = ast.StringValue
	BlockValue   ValueKind = ast.BlockValue
	BooleanValue ValueKind = ast.BooleanValue
	NullValue    ValueKind = ast.NullValue
	EnumValue    ValueKind = ast.EnumValue
	ListValue    ValueKind = ast.ListValue
	ObjectValue  ValueKind = ast.ObjectValue
)
