package cache

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"

	farm "github.com/dgryski/go-farm"
)

// Key hashes the owning type, the field name and the field input into a
// 64-bit cache key. Object keys are visited in sorted order, so two inputs
// that differ only in key order hash the same.
func Key(typeName, fieldName string, input any) uint64 {
	var b bytes.Buffer
	b.WriteString(typeName)
	b.WriteByte('.')
	b.WriteString(fieldName)
	b.WriteByte(0)
	writeCanonical(&b, input)
	return farm.Fingerprint64(b.Bytes())
}

// Hash hashes a single value canonically.
func Hash(v any) uint64 {
	var b bytes.Buffer
	writeCanonical(&b, v)
	return farm.Fingerprint64(b.Bytes())
}

func writeCanonical(b *bytes.Buffer, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("n")
	case bool:
		if x {
			b.WriteString("t")
		} else {
			b.WriteString("f")
		}
	case string:
		b.WriteString("s")
		b.WriteString(strconv.Quote(x))
	case int:
		writeNumber(b, float64(x))
	case int32:
		writeNumber(b, float64(x))
	case int64:
		writeNumber(b, float64(x))
	case float32:
		writeNumber(b, float64(x))
	case float64:
		writeNumber(b, x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			writeNumber(b, f)
		} else {
			b.WriteString("s")
			b.WriteString(strconv.Quote(x.String()))
		}
	case []any:
		b.WriteString("[")
		for _, item := range x {
			writeCanonical(b, item)
			b.WriteByte(',')
		}
		b.WriteString("]")
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for _, k := range keys {
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeCanonical(b, x[k])
			b.WriteByte(',')
		}
		b.WriteString("}")
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			b.WriteString("?")
			return
		}
		var generic any
		if json.Unmarshal(raw, &generic) == nil {
			writeCanonical(b, generic)
			return
		}
		b.Write(raw)
	}
}

// Integers and floats with the same numeric value hash the same, matching
// the JSON data model where 1 and 1.0 are one number.
func writeNumber(b *bytes.Buffer, f float64) {
	b.WriteString("d")
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		b.WriteString(strconv.FormatInt(int64(f), 10))
		return
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}
