package jit

import (
	"fmt"

	"github.com/hanpama/gqlforge/internal/blueprint"
)

// resolveType picks the concrete object type of a value of an interface or
// union type. An explicit __typename wins; otherwise the first possible type
// whose fields account for every key of the value and whose required
// projected fields are all present is chosen.
func resolveType(bp *blueprint.Blueprint, abstract *blueprint.Type, value any) (*blueprint.Type, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("abstract type %s must resolve from an object value, got %T", abstract.Name, value)
	}
	if name, ok := obj["__typename"].(string); ok {
		if !isPossibleType(abstract, name) {
			return nil, fmt.Errorf("type %s is not a possible type of %s", name, abstract.Name)
		}
		return bp.Types[name], nil
	}
	if len(abstract.PossibleTypes) == 1 {
		return bp.Types[abstract.PossibleTypes[0]], nil
	}
	for _, name := range abstract.PossibleTypes {
		t := bp.Types[name]
		if t != nil && matches(t, obj) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("cannot discriminate the value of abstract type %s", abstract.Name)
}

func isPossibleType(abstract *blueprint.Type, name string) bool {
	for _, n := range abstract.PossibleTypes {
		if n == name {
			return true
		}
	}
	return false
}

func matches(t *blueprint.Type, obj map[string]any) bool {
	for key := range obj {
		if t.Field(key) == nil {
			return false
		}
	}
	for _, f := range t.Fields {
		if f.Resolver != nil || !f.Type.IsNonNull() {
			continue
		}
		if _, ok := obj[f.Name]; !ok {
			return false
		}
	}
	return true
}
