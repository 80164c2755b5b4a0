package introspection

import (
	bp "github.com/hanpama/gqlforge/internal/blueprint"
	"github.com/hanpama/gqlforge/internal/ir"
)

// lookupFunc returns the resolver reading field from the type table entry
// of the current __Type value.
type lookupFunc func(field string, filterDeprecated bool) ir.Expression

func includeDeprecatedArg() []*bp.InputValue {
	return []*bp.InputValue{{Name: "includeDeprecated", Type: bp.NamedType("Boolean"), DefaultValue: false}}
}

func listOf(name string) *bp.TypeRef {
	return bp.ListType(bp.NonNullType(bp.NamedType(name)))
}

func nonNull(name string) *bp.TypeRef { return bp.NonNullType(bp.NamedType(name)) }

func introspectionTypes(lookup lookupFunc) []*bp.Type {
	return []*bp.Type{
		schemaType(),
		typeType(lookup),
		fieldType(),
		inputValueType(),
		enumValueType(),
		directiveType(),
		typeKindEnum(),
		directiveLocationEnum(),
	}
}

// schemaType returns the __Schema introspection type definition
func schemaType() *bp.Type {
	return &bp.Type{
		Name:        "__Schema",
		Kind:        bp.TypeKindObject,
		Description: "A GraphQL Schema defines the capabilities of a GraphQL server.",
		Fields: []*bp.Field{
			{Name: "description", Description: "A description of the schema.", Type: bp.NamedType("String")},
			{Name: "types", Description: "A list of all types supported by this server.", Type: bp.NonNullType(listOf("__Type"))},
			{Name: "queryType", Description: "The type that query operations will be rooted at.", Type: nonNull("__Type")},
			{
				Name:        "mutationType",
				Description: "If this server supports mutation, the type that mutation operations will be rooted at.",
				Type:        bp.NamedType("__Type"),
			},
			{
				Name:        "subscriptionType",
				Description: "If this server support subscription, the type that subscription operations will be rooted at.",
				Type:        bp.NamedType("__Type"),
			},
			{Name: "directives", Description: "A list of all directives supported by this server.", Type: bp.NonNullType(listOf("__Directive"))},
		},
	}
}

// typeType returns __Type. Values of __Type are type references; every
// field but kind, name and ofType is read from the type table.
func typeType(lookup lookupFunc) *bp.Type {
	return &bp.Type{
		Name:        "__Type",
		Kind:        bp.TypeKindObject,
		Description: "The fundamental unit of any GraphQL Schema is the type.",
		Fields: []*bp.Field{
			{Name: "kind", Type: nonNull("__TypeKind")},
			{Name: "name", Type: bp.NamedType("String")},
			{Name: "description", Type: bp.NamedType("String"), Resolver: lookup("description", false)},
			{Name: "specifiedByURL", Type: bp.NamedType("String"), Resolver: lookup("specifiedByURL", false)},
			{Name: "fields", Arguments: includeDeprecatedArg(), Type: listOf("__Field"), Resolver: lookup("fields", true)},
			{Name: "interfaces", Type: listOf("__Type"), Resolver: lookup("interfaces", false)},
			{Name: "possibleTypes", Type: listOf("__Type"), Resolver: lookup("possibleTypes", false)},
			{Name: "enumValues", Arguments: includeDeprecatedArg(), Type: listOf("__EnumValue"), Resolver: lookup("enumValues", true)},
			{Name: "inputFields", Arguments: includeDeprecatedArg(), Type: listOf("__InputValue"), Resolver: lookup("inputFields", false)},
			{Name: "ofType", Type: bp.NamedType("__Type")},
			{Name: "isOneOf", Type: bp.NamedType("Boolean"), Resolver: lookup("isOneOf", false)},
		},
	}
}

func fieldType() *bp.Type {
	return &bp.Type{
		Name:        "__Field",
		Kind:        bp.TypeKindObject,
		Description: "Object and Interface types are described by a list of Fields, each of which has a name, potentially a list of arguments, and a return type.",
		Fields: []*bp.Field{
			{Name: "name", Type: nonNull("String")},
			{Name: "description", Type: bp.NamedType("String")},
			{Name: "args", Arguments: includeDeprecatedArg(), Type: bp.NonNullType(listOf("__InputValue"))},
			{Name: "type", Type: nonNull("__Type")},
			{Name: "isDeprecated", Type: nonNull("Boolean")},
			{Name: "deprecationReason", Type: bp.NamedType("String")},
		},
	}
}

func inputValueType() *bp.Type {
	return &bp.Type{
		Name: "__InputValue",
		Kind: bp.TypeKindObject,
		Fields: []*bp.Field{
			{Name: "name", Type: nonNull("String")},
			{Name: "description", Type: bp.NamedType("String")},
			{Name: "type", Type: nonNull("__Type")},
			{
				Name:        "defaultValue",
				Description: "A GraphQL-formatted string representing the default value for this input value.",
				Type:        bp.NamedType("String"),
			},
			{Name: "isDeprecated", Type: nonNull("Boolean")},
			{Name: "deprecationReason", Type: bp.NamedType("String")},
		},
	}
}

func enumValueType() *bp.Type {
	return &bp.Type{
		Name: "__EnumValue",
		Kind: bp.TypeKindObject,
		Fields: []*bp.Field{
			{Name: "name", Type: nonNull("String")},
			{Name: "description", Type: bp.NamedType("String")},
			{Name: "isDeprecated", Type: nonNull("Boolean")},
			{Name: "deprecationReason", Type: bp.NamedType("String")},
		},
	}
}

func directiveType() *bp.Type {
	return &bp.Type{
		Name: "__Directive",
		Kind: bp.TypeKindObject,
		Fields: []*bp.Field{
			{Name: "name", Type: nonNull("String")},
			{Name: "description", Type: bp.NamedType("String")},
			{Name: "isRepeatable", Type: nonNull("Boolean")},
			{Name: "locations", Type: bp.NonNullType(listOf("__DirectiveLocation"))},
			{Name: "args", Arguments: includeDeprecatedArg(), Type: bp.NonNullType(listOf("__InputValue"))},
		},
	}
}

func enumOf(name string, values ...string) *bp.Type {
	t := &bp.Type{Name: name, Kind: bp.TypeKindEnum}
	for _, v := range values {
		t.EnumValues = append(t.EnumValues, &bp.EnumValue{Name: v})
	}
	return t
}

func typeKindEnum() *bp.Type {
	return enumOf("__TypeKind",
		"SCALAR", "OBJECT", "INTERFACE", "UNION", "ENUM", "INPUT_OBJECT", "LIST", "NON_NULL")
}

func directiveLocationEnum() *bp.Type {
	return enumOf("__DirectiveLocation",
		"QUERY", "MUTATION", "SUBSCRIPTION", "FIELD", "FRAGMENT_DEFINITION",
		"FRAGMENT_SPREAD", "INLINE_FRAGMENT", "VARIABLE_DEFINITION", "SCHEMA",
		"SCALAR", "OBJECT", "FIELD_DEFINITION", "ARGUMENT_DEFINITION", "INTERFACE",
		"UNION", "ENUM", "ENUM_VALUE", "INPUT_OBJECT", "INPUT_FIELD_DEFINITION")
}
