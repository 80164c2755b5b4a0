// Package reqid carries the request id through contexts.
package reqid

import (
	"context"

	"github.com/google/uuid"
)

// Header is the HTTP header a request id is read from and echoed in.
const Header = "X-Request-Id"

type key struct{}

// NewContext returns a copy of parent carrying id. An empty id is replaced
// by a new random UUID. It also returns the stored id.
func NewContext(parent context.Context, id string) (context.Context, string) {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(parent, key{}, id), id
}

// FromContext extracts the request ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}
