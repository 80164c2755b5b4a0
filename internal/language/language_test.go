package language

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

const sdl = `
schema { query: Query }
type Query {
  user(id: ID!): User
}
type User {
  id: ID!
  name: String
}
`

func TestLoadQuery(t *testing.T) {
	schema, err := LoadSchema("schema.graphql", sdl)
	require.NoError(t, err)

	doc, err := LoadQuery(schema, `query Q($id: ID!) { user(id: $id) { id name } }`)
	require.NoError(t, err)
	require.Len(t, doc.Operations, 1)
	require.Equal(t, "Q", doc.Operations[0].Name)
}

func TestLoadQueryReportsEveryError(t *testing.T) {
	schema, err := LoadSchema("schema.graphql", sdl)
	require.NoError(t, err)

	_, err = LoadQuery(schema, `{ user(id: 1) { age } posts }`)
	require.Error(t, err)
	var list gqlerror.List
	require.ErrorAs(t, err, &list)
	require.GreaterOrEqual(t, len(list), 2)
}

func TestLoadSchemaRejectsInvalidSDL(t *testing.T) {
	_, err := LoadSchema("schema.graphql", `type Query { user: Missing }`)
	require.Error(t, err)
}

func TestParseQuery(t *testing.T) {
	doc, err := ParseQuery(`{ a b { c } }`)
	require.NoError(t, err)
	require.Len(t, doc.Operations[0].SelectionSet, 2)

	_, err = ParseQuery(`{ a `)
	require.Error(t, err)
}
