package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Ristretto {
	t.Helper()
	s, err := NewRistretto(Options{MaxEntries: 1024})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSetThenGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, 1, map[string]any{"id": 1}, time.Minute))
	v, ok, err := s.Get(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, map[string]any{"id": 1}, v)

	_, ok, err = s.Get(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExpiredEntryReadsAbsent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, 7, "v", 50*time.Millisecond))
	_, ok, _ := s.Get(ctx, 7)
	require.True(t, ok)

	now = now.Add(51 * time.Millisecond)
	_, ok, _ = s.Get(ctx, 7)
	require.False(t, ok)
}

func TestSetReportsDroppedWrite(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	s.Close()

	require.ErrorIs(t, s.Set(ctx, 3, "v", time.Minute), ErrNotStored)
	_, ok, err := s.Get(ctx, 3)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetRejectsNonPositiveTTL(t *testing.T) {
	s := newStore(t)
	require.ErrorIs(t, s.Set(context.Background(), 1, "v", 0), ErrInvalidTTL)
	require.ErrorIs(t, s.Set(context.Background(), 1, "v", -time.Second), ErrInvalidTTL)
}

func TestKeyIgnoresObjectKeyOrder(t *testing.T) {
	a := map[string]any{"id": 1, "filter": map[string]any{"x": "1", "y": []any{1, 2}}}
	b := map[string]any{"filter": map[string]any{"y": []any{1.0, 2.0}, "x": "1"}, "id": 1.0}
	require.Equal(t, Key("Query", "user", a), Key("Query", "user", b))
}

func TestKeyMixesTypeAndField(t *testing.T) {
	args := map[string]any{"id": 1}
	require.NotEqual(t, Key("Query", "user", args), Key("Mutation", "user", args))
	require.NotEqual(t, Key("Query", "user", args), Key("Query", "users", args))
	require.NotEqual(t, Key("Query", "user", args), Key("Query", "user", map[string]any{"id": 2}))
	require.NotEqual(t, Key("Query", "user", "1"), Key("Query", "user", 1))
}
