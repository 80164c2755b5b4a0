package upstream

import (
	"context"
	"strings"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/pkg/errors"

	"github.com/hanpama/gqlforge/internal/ir"
)

// ScriptFunc is a script function implemented in Go.
type ScriptFunc func(ctx context.Context, input any) (any, error)

// Script runs the functions of script links. A link holds jq definitions;
// the function named by a resolver is called with {value, args, headers} as
// its input. Functions registered with WithFunc take precedence.
type Script struct {
	defs  string
	funcs map[string]ScriptFunc

	mu   sync.Mutex
	code map[string]*gojq.Code
}

var _ ir.ScriptRuntime = (*Script)(nil)

type ScriptOption func(*Script)

func WithFunc(name string, fn ScriptFunc) ScriptOption {
	return func(s *Script) { s.funcs[name] = fn }
}

// NewScript concatenates the definitions of every source. Sources are
// parsed on first call; Validate reports syntax errors eagerly.
func NewScript(sources []string, opts ...ScriptOption) *Script {
	s := &Script{
		defs:  strings.Join(sources, "\n"),
		funcs: make(map[string]ScriptFunc),
		code:  make(map[string]*gojq.Code),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validate parses the definitions.
func (s *Script) Validate() error {
	if strings.TrimSpace(s.defs) == "" {
		return nil
	}
	if _, err := gojq.Parse(s.defs + "\n."); err != nil {
		return errors.Wrap(err, "parse script")
	}
	return nil
}

func (s *Script) Call(ctx context.Context, name string, input any) (any, error) {
	if fn, ok := s.funcs[name]; ok {
		return fn(ctx, input)
	}
	code, err := s.compile(name)
	if err != nil {
		return nil, err
	}
	iter := code.RunWithContext(ctx, input)
	var out []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, errors.Wrapf(err, "script %s", name)
		}
		out = append(out, v)
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	}
	return out, nil
}

func (s *Script) compile(name string) (*gojq.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.code[name]; ok {
		return code, nil
	}
	q, err := gojq.Parse(s.defs + "\n" + name)
	if err != nil {
		return nil, errors.Wrapf(err, "script %s", name)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return nil, errors.Wrapf(err, "script %s", name)
	}
	s.code[name] = code
	return code, nil
}
