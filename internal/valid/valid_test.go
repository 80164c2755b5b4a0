package valid

import (
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestZipAccumulatesBothFailures(t *testing.T) {
	a := Fail[int]("first").Trace("a")
	b := Fail[string]("second").Trace("b")

	got := Zip(a, b).Causes()
	want := []Cause{
		{Message: "first", Trace: []string{"a"}},
		{Message: "second", Trace: []string{"b"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("causes mismatch (-want +got):\n%s", diff)
	}
}

func TestZipSucceeds(t *testing.T) {
	v, err := Zip(Succeed(1), Succeed("x")).Unwrap()
	require.NoError(t, err)
	require.Equal(t, Pair[int, string]{First: 1, Second: "x"}, v)
}

func TestAndThenShortCircuits(t *testing.T) {
	called := false
	got := AndThen(Fail[int]("boom"), func(int) Valid[int] {
		called = true
		return Succeed(2)
	})
	require.False(t, called)
	require.False(t, got.IsSucceed())

	got = AndThen(Succeed(1), func(i int) Valid[int] { return Succeed(i + 1) })
	v, err := got.Unwrap()
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestFromIterCollectsEveryFailure(t *testing.T) {
	items := []string{"1", "x", "3", "y"}
	got := FromIter(items, func(s string) Valid[int] {
		n, err := strconv.Atoi(s)
		if err != nil {
			return Fail[int]("not a number").Trace(s)
		}
		return Succeed(n)
	})
	require.Len(t, got.Causes(), 2)
	require.Equal(t, []string{"x"}, got.Causes()[0].Trace)
	require.Equal(t, []string{"y"}, got.Causes()[1].Trace)

	ok := FromIter([]string{"1", "2"}, func(s string) Valid[int] {
		n, _ := strconv.Atoi(s)
		return Succeed(n)
	})
	v, err := ok.Unwrap()
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, v)
}

func TestTracePrependsFrames(t *testing.T) {
	v := Fail[int]("No base URL defined").Trace("@http").Trace("user").Trace("Query")
	_, err := v.Unwrap()
	require.EqualError(t, err, "Validation Error\n• No base URL defined [Query, user, @http]")

	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Causes, 1)
}

func TestFromErrorKeepsCauses(t *testing.T) {
	_, err := FailWith[int](Cause{Message: "a"}, Cause{Message: "b", Trace: []string{"t"}}).Unwrap()
	v := FromError(0, err)
	require.Len(t, v.Causes(), 2)

	v = FromError(0, errors.New("plain"))
	require.Equal(t, []Cause{{Message: "plain"}}, v.Causes())

	require.True(t, FromError(3, nil).IsSucceed())
}

func TestWhen(t *testing.T) {
	require.True(t, When(false, "nope").IsSucceed())
	require.Equal(t, "nope", When(true, "nope").Causes()[0].Message)
}
