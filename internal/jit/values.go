package jit

import (
	"fmt"
	"math"
	"strconv"

	"github.com/hanpama/gqlforge/internal/blueprint"
	language "github.com/hanpama/gqlforge/internal/language"
)

// coerceVariableValues coerces request variables against the operation's
// variable definitions.
func coerceVariableValues(bp *blueprint.Blueprint, defs []*language.VariableDefinition, input map[string]any) (map[string]any, error) {
	coerced := make(map[string]any, len(defs))
	for _, def := range defs {
		name := def.Variable
		t := typeRefFromAST(def.Type)
		val, ok := input[name]
		if !ok {
			switch {
			case def.DefaultValue != nil:
				val = valueFromAST(def.DefaultValue, nil)
			case t.IsNonNull():
				return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, t)
			default:
				continue
			}
		}
		cv, err := coerceValue(bp, val, t)
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s cannot be coerced: %v", name, t, err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

// coerceArgumentValues coerces the arguments of a field, applying defaults.
func coerceArgumentValues(bp *blueprint.Blueprint, def *blueprint.Field, args language.ArgumentList, vars map[string]any) (map[string]any, error) {
	coerced := make(map[string]any, len(def.Arguments))
	for _, argDef := range def.Arguments {
		arg := args.ForName(argDef.Name)
		if arg == nil || (arg.Value.Kind == language.Variable && !hasVariable(vars, arg.Value.Raw)) {
			switch {
			case argDef.DefaultValue != nil:
				coerced[argDef.Name] = argDef.DefaultValue
			case argDef.Type.IsNonNull():
				return nil, fmt.Errorf("argument '%s' of required type %s was not provided", argDef.Name, argDef.Type)
			}
			continue
		}
		cv, err := coerceValue(bp, valueFromAST(arg.Value, vars), argDef.Type)
		if err != nil {
			return nil, fmt.Errorf("argument '%s' cannot be coerced: %v", argDef.Name, err)
		}
		coerced[argDef.Name] = cv
	}
	return coerced, nil
}

func hasVariable(vars map[string]any, name string) bool {
	_, ok := vars[name]
	return ok
}

// valueFromAST converts an AST value to a Go value, substituting variables.
func valueFromAST(value *language.Value, vars map[string]any) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.Variable:
		return vars[value.Raw]
	case language.IntValue:
		if iv, err := strconv.ParseInt(value.Raw, 10, 64); err == nil {
			return int(iv)
		}
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue, language.EnumValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = valueFromAST(c.Value, vars)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any, len(value.Children))
		for _, c := range value.Children {
			m[c.Name] = valueFromAST(c.Value, vars)
		}
		return m
	}
	return nil
}

// coerceValue coerces an input value to t.
func coerceValue(bp *blueprint.Blueprint, value any, t *blueprint.TypeRef) (any, error) {
	if t.IsNonNull() {
		if value == nil {
			return nil, fmt.Errorf("cannot provide null for non-null type %s", t)
		}
		return coerceValue(bp, value, t.OfType)
	}
	if value == nil {
		return nil, nil
	}
	if t.Kind == blueprint.TypeRefKindList {
		items, ok := value.([]any)
		if !ok {
			// A single value becomes a list of one.
			item, err := coerceValue(bp, value, t.OfType)
			if err != nil {
				return nil, err
			}
			return []any{item}, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			cv, err := coerceValue(bp, item, t.OfType)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	}

	switch t.Named {
	case "Int":
		return coerceToInt(value)
	case "Float":
		return coerceToFloat(value)
	case "String":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("cannot coerce %v (%T) to String", value, value)
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot coerce %v (%T) to Boolean", value, value)
	case "ID":
		return coerceToID(value)
	}

	typ := bp.Types[t.Named]
	if typ == nil {
		return value, nil
	}
	switch typ.Kind {
	case blueprint.TypeKindEnum:
		s, ok := value.(string)
		if !ok || !hasEnumValue(typ, s) {
			return nil, fmt.Errorf("value %v is not a member of enum %s", value, typ.Name)
		}
		return s, nil
	case blueprint.TypeKindInputObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected an object for %s, got %T", typ.Name, value)
		}
		out := make(map[string]any, len(typ.InputFields))
		for name := range obj {
			if typ.InputField(name) == nil {
				return nil, fmt.Errorf("field '%s' is not defined by type %s", name, typ.Name)
			}
		}
		for _, f := range typ.InputFields {
			v, ok := obj[f.Name]
			if !ok {
				switch {
				case f.DefaultValue != nil:
					out[f.Name] = f.DefaultValue
				case f.Type.IsNonNull():
					return nil, fmt.Errorf("field '%s' of required type %s was not provided", f.Name, f.Type)
				}
				continue
			}
			cv, err := coerceValue(bp, v, f.Type)
			if err != nil {
				return nil, fmt.Errorf("field '%s': %v", f.Name, err)
			}
			out[f.Name] = cv
		}
		return out, nil
	}
	// Custom scalars are passed through.
	return value, nil
}

func hasEnumValue(t *blueprint.Type, name string) bool {
	for _, v := range t.EnumValues {
		if v.Name == name {
			return true
		}
	}
	return false
}

func coerceToInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) && v >= math.MinInt32 && v <= math.MaxInt32 {
			return int(v), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to Int", value, value)
}

func coerceToFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to Float", value, value)
}

func coerceToID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatFloat(v, 'f', 0, 64), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to ID", value, value)
}

// serializeLeaf converts a resolved scalar or enum value to its output form.
func serializeLeaf(t *blueprint.Type, value any) (any, error) {
	switch t.Name {
	case "Int":
		v, err := coerceToInt(value)
		if err != nil {
			return nil, fmt.Errorf("Int cannot represent value: %v", value)
		}
		return v, nil
	case "Float":
		v, err := coerceToFloat(value)
		if err != nil {
			return nil, fmt.Errorf("Float cannot represent value: %v", value)
		}
		return v, nil
	case "String":
		switch v := value.(type) {
		case string:
			return v, nil
		case bool, int, int64, float64:
			return fmt.Sprint(v), nil
		}
		return nil, fmt.Errorf("String cannot represent value: %v", value)
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("Boolean cannot represent value: %v", value)
	case "ID":
		v, err := coerceToID(value)
		if err != nil {
			return nil, fmt.Errorf("ID cannot represent value: %v", value)
		}
		return v, nil
	}
	if t.Kind == blueprint.TypeKindEnum {
		s, ok := value.(string)
		if !ok || !hasEnumValue(t, s) {
			return nil, fmt.Errorf("Enum %q cannot represent value: %v", t.Name, value)
		}
		return s, nil
	}
	return value, nil
}

func typeRefFromAST(t *language.Type) *blueprint.TypeRef {
	if t == nil {
		return nil
	}
	var out *blueprint.TypeRef
	if t.Elem != nil {
		out = blueprint.ListType(typeRefFromAST(t.Elem))
	} else {
		out = blueprint.NamedType(t.NamedType)
	}
	if t.NonNull {
		out = blueprint.NonNullType(out)
	}
	return out
}
