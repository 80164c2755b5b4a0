package reqid

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx, id := NewContext(context.Background(), "")
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, id, got)

	_, ok = FromContext(context.Background())
	require.False(t, ok)
}

func TestIncomingIDIsKept(t *testing.T) {
	ctx, id := NewContext(context.Background(), "abc-123")
	require.Equal(t, "abc-123", id)
	got, _ := FromContext(ctx)
	require.Equal(t, "abc-123", got)
}
