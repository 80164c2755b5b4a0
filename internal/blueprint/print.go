package blueprint

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hanpama/gqlforge/internal/scalar"
)

// Print renders the blueprint as SDL. Types are sorted by name; built-in
// scalars and introspection types are omitted.
func Print(bp *Blueprint) string {
	if bp == nil {
		return ""
	}
	var b strings.Builder

	b.WriteString("schema {\n  query: ")
	b.WriteString(bp.QueryType)
	b.WriteString("\n")
	if bp.MutationType != "" {
		b.WriteString("  mutation: ")
		b.WriteString(bp.MutationType)
		b.WriteString("\n")
	}
	b.WriteString("}\n\n")

	names := make([]string, 0, len(bp.Types))
	for name := range bp.Types {
		if scalar.IsBuiltin(name) || strings.HasPrefix(name, "__") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		typ := bp.Types[name]
		switch typ.Kind {
		case TypeKindScalar:
			printScalar(&b, typ)
		case TypeKindEnum:
			printEnum(&b, typ)
		case TypeKindInputObject:
			printInputObject(&b, bp, typ)
		case TypeKindObject:
			printFields(&b, bp, "type", typ)
		case TypeKindInterface:
			printFields(&b, bp, "interface", typ)
		case TypeKindUnion:
			printUnion(&b, typ)
		}
	}

	for _, d := range bp.Directives {
		if isBuiltinDirective(d) {
			continue
		}
		printDirective(&b, bp, d)
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func printDescription(b *strings.Builder, desc, indent string) {
	if desc == "" {
		return
	}
	b.WriteString(indent)
	b.WriteString("\"\"\"\n")
	for _, line := range strings.Split(strings.ReplaceAll(desc, `"""`, `\"""`), "\n") {
		b.WriteString(indent)
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(indent)
	b.WriteString("\"\"\"\n")
}

func printDeprecated(b *strings.Builder, deprecated bool, reason string) {
	if !deprecated {
		return
	}
	b.WriteString(" @deprecated")
	if reason != "" {
		b.WriteString("(reason: ")
		b.WriteString(strconv.Quote(reason))
		b.WriteString(")")
	}
}

func printScalar(b *strings.Builder, typ *Type) {
	printDescription(b, typ.Description, "")
	b.WriteString("scalar ")
	b.WriteString(typ.Name)
	b.WriteString("\n\n")
}

func printEnum(b *strings.Builder, typ *Type) {
	printDescription(b, typ.Description, "")
	b.WriteString("enum ")
	b.WriteString(typ.Name)
	b.WriteString(" {\n")
	for _, v := range typ.EnumValues {
		printDescription(b, v.Description, "  ")
		b.WriteString("  ")
		b.WriteString(v.Name)
		printDeprecated(b, v.IsDeprecated, v.DeprecationReason)
		b.WriteString("\n")
	}
	b.WriteString("}\n\n")
}

func printInputObject(b *strings.Builder, bp *Blueprint, typ *Type) {
	printDescription(b, typ.Description, "")
	b.WriteString("input ")
	b.WriteString(typ.Name)
	b.WriteString(" {\n")
	for _, f := range typ.InputFields {
		printDescription(b, f.Description, "  ")
		b.WriteString("  ")
		printInputValue(b, bp, f)
		b.WriteString("\n")
	}
	b.WriteString("}\n\n")
}

func printFields(b *strings.Builder, bp *Blueprint, keyword string, typ *Type) {
	printDescription(b, typ.Description, "")
	b.WriteString(keyword)
	b.WriteString(" ")
	b.WriteString(typ.Name)
	if len(typ.Interfaces) > 0 {
		b.WriteString(" implements ")
		b.WriteString(strings.Join(typ.Interfaces, " & "))
	}
	b.WriteString(" {\n")
	for _, f := range typ.Fields {
		if strings.HasPrefix(f.Name, "__") {
			continue
		}
		printField(b, bp, f)
	}
	b.WriteString("}\n\n")
}

func printUnion(b *strings.Builder, typ *Type) {
	printDescription(b, typ.Description, "")
	b.WriteString("union ")
	b.WriteString(typ.Name)
	b.WriteString(" = ")
	b.WriteString(strings.Join(typ.PossibleTypes, " | "))
	b.WriteString("\n\n")
}

func printField(b *strings.Builder, bp *Blueprint, f *Field) {
	printDescription(b, f.Description, "  ")
	b.WriteString("  ")
	b.WriteString(f.Name)
	printArguments(b, bp, f.Arguments)
	b.WriteString(": ")
	b.WriteString(f.Type.String())
	printDeprecated(b, f.IsDeprecated, f.DeprecationReason)
	b.WriteString("\n")
}

func printArguments(b *strings.Builder, bp *Blueprint, args []*InputValue) {
	if len(args) == 0 {
		return
	}
	b.WriteString("(")
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		printInputValue(b, bp, a)
	}
	b.WriteString(")")
}

func printInputValue(b *strings.Builder, bp *Blueprint, v *InputValue) {
	b.WriteString(v.Name)
	b.WriteString(": ")
	b.WriteString(v.Type.String())
	if v.DefaultValue != nil {
		b.WriteString(" = ")
		b.WriteString(FormatValue(bp, v.DefaultValue, v.Type))
	}
}

// FormatValue renders v as a GraphQL literal of type t.
func FormatValue(bp *Blueprint, v any, t *TypeRef) string {
	enum := false
	if typ, ok := bp.Types[t.NamedType()]; ok {
		enum = typ.Kind == TypeKindEnum
	}
	return printValue(v, enum)
}

func printDirective(b *strings.Builder, bp *Blueprint, d *Directive) {
	printDescription(b, d.Description, "")
	b.WriteString("directive @")
	b.WriteString(d.Name)
	printArguments(b, bp, d.Arguments)
	b.WriteString(" on ")
	b.WriteString(strings.Join(d.Locations, " | "))
	b.WriteString("\n\n")
}

// printValue renders a GraphQL literal. Enum values are printed bare.
func printValue(value any, enum bool) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		if enum {
			return v
		}
		return strconv.Quote(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = printValue(item, enum)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + printValue(v[k], false)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprint(value)
}
