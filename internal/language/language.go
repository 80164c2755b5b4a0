package language

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// ParseQuery parses source without validating it.
func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadSchema parses SDL together with the built-in prelude and validates it.
func LoadSchema(name, sdl string) (*Schema, error) {
	return gqlparser.LoadSchema(&ast.Source{Name: name, Input: sdl})
}

// LoadQuery parses source and validates it against schema. The error lists
// every validation failure.
func LoadQuery(schema *Schema, source string) (*QueryDocument, error) {
	doc, errs := gqlparser.LoadQuery(schema, source)
	if len(errs) > 0 {
		return nil, errs
	}
	return doc, nil
}
