// Package scalar holds the registry of scalar types known to the compiler.
package scalar

import (
	"encoding/json"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"time"
)

// Scalar validates runtime values of a scalar type.
type Scalar struct {
	Name        string
	Description string
	Validate    func(v any) bool
}

// Registry is an explicitly constructed set of scalars.
type Registry struct {
	scalars map[string]*Scalar
}

// NewRegistry returns a registry holding the given scalars.
func NewRegistry(scalars ...*Scalar) *Registry {
	r := &Registry{scalars: make(map[string]*Scalar, len(scalars))}
	for _, s := range scalars {
		r.Register(s)
	}
	return r
}

// Default returns a registry with the built-in and extended scalars.
func Default() *Registry {
	return NewRegistry(
		&Scalar{Name: "Int", Validate: isInt32},
		&Scalar{Name: "Float", Validate: isNumber},
		&Scalar{Name: "String", Validate: isString},
		&Scalar{Name: "Boolean", Validate: isBool},
		&Scalar{Name: "ID", Validate: func(v any) bool { return isString(v) || isInteger(v) }},
		&Scalar{Name: "JSON", Description: "Arbitrary JSON value.", Validate: func(any) bool { return true }},
		&Scalar{Name: "Int64", Description: "64-bit signed integer.", Validate: isInteger},
		&Scalar{Name: "Email", Description: "RFC 5322 e-mail address.", Validate: isEmail},
		&Scalar{Name: "Url", Description: "Absolute URL.", Validate: isURL},
		&Scalar{Name: "Date", Description: "Calendar date as YYYY-MM-DD.", Validate: isDate},
		&Scalar{Name: "DateTime", Description: "RFC 3339 timestamp.", Validate: isDateTime},
		&Scalar{Name: "PhoneNumber", Description: "E.164 phone number.", Validate: isPhone},
		&Scalar{Name: "Empty", Description: "Always null.", Validate: func(v any) bool { return v == nil }},
	)
}

func (r *Registry) Register(s *Scalar) { r.scalars[s.Name] = s }

func (r *Registry) Lookup(name string) (*Scalar, bool) {
	s, ok := r.scalars[name]
	return s, ok
}

// IsBuiltin reports whether name is one of the five GraphQL scalars.
func IsBuiltin(name string) bool {
	switch name {
	case "Int", "Float", "String", "Boolean", "ID":
		return true
	}
	return false
}

// Names returns the registered scalar names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.scalars))
	for n := range r.scalars {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

var phoneRe = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

func isString(v any) bool { _, ok := v.(string); return ok }
func isBool(v any) bool   { _, ok := v.(bool); return ok }

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func isNumber(v any) bool { _, ok := toFloat(v); return ok }

func isInteger(v any) bool {
	f, ok := toFloat(v)
	return ok && f == math.Trunc(f)
}

func isInt32(v any) bool {
	f, ok := toFloat(v)
	return ok && f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32
}

func isEmail(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func isURL(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func isDate(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

func isDateTime(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

func isPhone(v any) bool {
	s, ok := v.(string)
	return ok && phoneRe.MatchString(s)
}
