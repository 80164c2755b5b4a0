package mustache

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type mapResolver map[string]any

func (m mapResolver) PathValue(path []string) (any, bool) {
	var cur any = map[string]any(m)
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func TestParseSegments(t *testing.T) {
	got := MustParse("/users/{{.args.id}}/posts?x={{ value.name }}")
	want := Template{Segments: []Segment{
		{Text: "/users/"},
		{Path: []string{"args", "id"}},
		{Text: "/posts?x="},
		{Path: []string{"value", "name"}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("template mismatch (-want +got):\n%s", diff)
	}
	require.False(t, got.IsConst())
	require.Equal(t, [][]string{{"args", "id"}, {"value", "name"}}, got.Expressions())
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("/users/{{args.id")
	require.Error(t, err)
	_, err = Parse("{{ }}")
	require.Error(t, err)
}

func TestRender(t *testing.T) {
	r := mapResolver{
		"args":  map[string]any{"id": 7},
		"value": map[string]any{"tags": []any{"a", "b"}},
	}
	require.Equal(t, "/users/7", MustParse("/users/{{args.id}}").Render(r))
	require.Equal(t, "/users/", MustParse("/users/{{args.missing}}").Render(r))
	require.Equal(t, `["a","b"]`, MustParse("{{value.tags}}!").Render(r)[:9])
}

func TestRenderValueKeepsSinglePlaceholderType(t *testing.T) {
	r := mapResolver{"args": map[string]any{"input": map[string]any{"a": 1}}}
	require.Equal(t, map[string]any{"a": 1}, MustParse("{{.args.input}}").RenderValue(r))
	require.Equal(t, "id-", MustParse("id-{{.args.nope}}").RenderValue(r))
	require.True(t, MustParse("plain").IsConst())
}
