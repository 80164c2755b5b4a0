// Package valid implements an error-accumulating result type used by the
// blueprint compiler. A Valid value either holds a result or a non-empty list
// of causes, each carrying a trace of the context frames it bubbled through.
//
// Sequencing with AndThen stops at the first failure, while Zip and FromIter
// keep going and concatenate every failure so a single compile pass reports
// all broken fields.
package valid

// Cause is a single validation failure.
type Cause struct {
	Message string
	// Trace lists context frames from the outermost to the innermost.
	Trace []string
}

// Valid is either a success holding a value or a failure holding causes.
type Valid[A any] struct {
	value  A
	causes []Cause
}

// Pair holds the two values combined by Zip.
type Pair[A, B any] struct {
	First  A
	Second B
}

func Succeed[A any](a A) Valid[A] { return Valid[A]{value: a} }

// Fail returns a failure with a single cause and an empty trace.
func Fail[A any](message string) Valid[A] {
	return Valid[A]{causes: []Cause{{Message: message}}}
}

// FailWith returns a failure holding the given causes. Calling it with no
// causes yields a failure with an empty message.
func FailWith[A any](causes ...Cause) Valid[A] {
	if len(causes) == 0 {
		causes = []Cause{{}}
	}
	cp := make([]Cause, len(causes))
	for i, c := range causes {
		cp[i] = Cause{Message: c.Message, Trace: append([]string(nil), c.Trace...)}
	}
	return Valid[A]{causes: cp}
}

// FromError converts a Go error into a Valid. A *Error keeps its causes.
func FromError[A any](a A, err error) Valid[A] {
	if err == nil {
		return Succeed(a)
	}
	if verr, ok := err.(*Error); ok {
		return FailWith[A](verr.Causes...)
	}
	return Fail[A](err.Error())
}

// Unit is a success carrying no value.
func Unit() Valid[struct{}] { return Succeed(struct{}{}) }

// When fails with message when cond is true.
func When(cond bool, message string) Valid[struct{}] {
	if cond {
		return Fail[struct{}](message)
	}
	return Unit()
}

func (v Valid[A]) IsSucceed() bool { return len(v.causes) == 0 }

// Causes returns a copy of the failure causes; nil on success.
func (v Valid[A]) Causes() []Cause {
	if v.IsSucceed() {
		return nil
	}
	out := make([]Cause, len(v.causes))
	copy(out, v.causes)
	return out
}

// Trace prepends frame to every cause of a failure.
func (v Valid[A]) Trace(frame string) Valid[A] {
	if v.IsSucceed() {
		return v
	}
	causes := make([]Cause, len(v.causes))
	for i, c := range v.causes {
		trace := make([]string, 0, len(c.Trace)+1)
		trace = append(trace, frame)
		trace = append(trace, c.Trace...)
		causes[i] = Cause{Message: c.Message, Trace: trace}
	}
	return Valid[A]{causes: causes}
}

// Unwrap returns the value or a *Error describing every cause.
func (v Valid[A]) Unwrap() (A, error) {
	if v.IsSucceed() {
		return v.value, nil
	}
	var zero A
	return zero, &Error{Causes: v.Causes()}
}

// AndThen applies f to the value of a success; failures pass through.
func AndThen[A, B any](v Valid[A], f func(A) Valid[B]) Valid[B] {
	if !v.IsSucceed() {
		return Valid[B]{causes: v.causes}
	}
	return f(v.value)
}

func Map[A, B any](v Valid[A], f func(A) B) Valid[B] {
	if !v.IsSucceed() {
		return Valid[B]{causes: v.causes}
	}
	return Succeed(f(v.value))
}

// Zip pairs two successes. When either fails, all causes of both are kept,
// those of a first.
func Zip[A, B any](a Valid[A], b Valid[B]) Valid[Pair[A, B]] {
	return ZipWith(a, b, func(x A, y B) Pair[A, B] { return Pair[A, B]{First: x, Second: y} })
}

func ZipWith[A, B, C any](a Valid[A], b Valid[B], f func(A, B) C) Valid[C] {
	if a.IsSucceed() && b.IsSucceed() {
		return Succeed(f(a.value, b.value))
	}
	causes := make([]Cause, 0, len(a.causes)+len(b.causes))
	causes = append(causes, a.causes...)
	causes = append(causes, b.causes...)
	return Valid[C]{causes: causes}
}

// FromIter maps f over items. It succeeds with the collected values only if
// every item succeeds, otherwise it accumulates every failure.
func FromIter[T, B any](items []T, f func(T) Valid[B]) Valid[[]B] {
	out := make([]B, 0, len(items))
	var causes []Cause
	for _, item := range items {
		r := f(item)
		if r.IsSucceed() {
			out = append(out, r.value)
			continue
		}
		causes = append(causes, r.causes...)
	}
	if len(causes) > 0 {
		return Valid[[]B]{causes: causes}
	}
	return Succeed(out)
}

// Discard keeps only the success/failure state of v.
func Discard[A any](v Valid[A]) Valid[struct{}] {
	return Map(v, func(A) struct{} { return struct{}{} })
}
