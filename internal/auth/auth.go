// Package auth verifies request credentials for protected fields.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// Error is an authentication failure. Kinds are ordered from the least to
// the most specific.
type Error int

const (
	// ErrMissing means no credentials were presented.
	ErrMissing Error = iota + 1
	// ErrValidationCheckFailed means credentials were decoded but a claim
	// check (issuer, audience, expiry) did not pass.
	ErrValidationCheckFailed
	// ErrInvalid means credentials were presented but are wrong or malformed.
	ErrInvalid
)

func (e Error) Error() string {
	switch e {
	case ErrMissing:
		return "Authentication Failure: Missing Authorization Header."
	case ErrValidationCheckFailed:
		return "Authentication Failure: Validation Check Failed."
	case ErrInvalid:
		return "Authentication Failure: Invalid Authorization Header."
	}
	return "Authentication Failure"
}

// MoreSpecific returns whichever of a and b carries more information about
// the failure. Non-auth errors win over auth errors.
func MoreSpecific(a, b error) error {
	var ea, eb Error
	okA, okB := errors.As(a, &ea), errors.As(b, &eb)
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case !okA:
		return a
	case !okB:
		return b
	case eb > ea:
		return b
	}
	return a
}

// Verifier checks the credentials carried by request headers.
type Verifier interface {
	Verify(ctx context.Context, headers http.Header) error
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, headers http.Header) error

func (f VerifierFunc) Verify(ctx context.Context, headers http.Header) error {
	return f(ctx, headers)
}

type and struct{ left, right Verifier }

// And succeeds only when both verifiers succeed. Both run, and the more
// specific failure is reported.
func And(left, right Verifier) Verifier { return and{left, right} }

func (v and) Verify(ctx context.Context, headers http.Header) error {
	errc := make(chan error, 1)
	go func() { errc <- v.right.Verify(ctx, headers) }()
	l := v.left.Verify(ctx, headers)
	r := <-errc
	if l == nil {
		return r
	}
	if r == nil {
		return l
	}
	return MoreSpecific(l, r)
}

type or struct{ left, right Verifier }

// Or succeeds when either verifier succeeds.
func Or(left, right Verifier) Verifier { return or{left, right} }

func (v or) Verify(ctx context.Context, headers http.Header) error {
	l := v.left.Verify(ctx, headers)
	if l == nil {
		return nil
	}
	r := v.right.Verify(ctx, headers)
	if r == nil {
		return nil
	}
	return MoreSpecific(l, r)
}

// Any folds verifiers with Or. It returns nil for an empty list.
func Any(vs ...Verifier) Verifier {
	return fold(vs, Or)
}

// All folds verifiers with And. It returns nil for an empty list.
func All(vs ...Verifier) Verifier {
	return fold(vs, And)
}

func fold(vs []Verifier, op func(Verifier, Verifier) Verifier) Verifier {
	if len(vs) == 0 {
		return nil
	}
	out := vs[0]
	for _, v := range vs[1:] {
		out = op(out, v)
	}
	return out
}
