package blueprint

var builtinDescriptions = map[string]string{
	"String":  "The `String` scalar type represents textual data, represented as UTF-8 character sequences.",
	"Int":     "The `Int` scalar type represents non-fractional signed whole numeric values.",
	"Float":   "The `Float` scalar type represents signed double-precision fractional values.",
	"Boolean": "The `Boolean` scalar type represents `true` or `false`.",
	"ID":      "The `ID` scalar type represents a unique identifier, often used to refetch an object or as a key for caching.",
}

var includeDirective = &Directive{
	Name:        "include",
	Description: "Directs the executor to include this field or fragment only when the `if` argument is true.",
	Arguments: []*InputValue{
		{Name: "if", Description: "Included when true.", Type: NonNullType(NamedType("Boolean"))},
	},
	Locations: []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
}

var skipDirective = &Directive{
	Name:        "skip",
	Description: "Directs the executor to skip this field or fragment when the `if` argument is true.",
	Arguments: []*InputValue{
		{Name: "if", Description: "Skipped when true.", Type: NonNullType(NamedType("Boolean"))},
	},
	Locations: []string{"FIELD", "FRAGMENT_SPREAD", "INLINE_FRAGMENT"},
}

// isBuiltinDirective reports whether d is declared by every GraphQL server.
func isBuiltinDirective(d *Directive) bool {
	return d == includeDirective || d == skipDirective
}
