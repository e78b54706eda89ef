package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMatchQuery(t *testing.T) {
	t.Run("passes valid queries through", func(t *testing.T) {
		for _, q := range []string{
			"player",
			"player damage",
			`"player died"`,
			"error OR warning",
			"player NOT respawn",
			"play*",
			`"weapon fired" OR damage*`,
		} {
			got, err := normalizeMatchQuery(q)
			require.NoError(t, err, q)
			assert.Equal(t, q, got)
		}
	})

	t.Run("uppercases operators", func(t *testing.T) {
		got, err := normalizeMatchQuery("error or warning not noise")
		require.NoError(t, err)
		assert.Equal(t, "error OR warning NOT noise", got)
	})

	t.Run("quoted operators stay terms", func(t *testing.T) {
		got, err := normalizeMatchQuery(`"or"`)
		require.NoError(t, err)
		assert.Equal(t, `"or"`, got)
	})

	t.Run("collapses whitespace", func(t *testing.T) {
		got, err := normalizeMatchQuery("  player \t damage ")
		require.NoError(t, err)
		assert.Equal(t, "player damage", got)
	})

	t.Run("rejects invalid queries", func(t *testing.T) {
		for _, q := range []string{"", "  ", `"unterminated`, "OR x", "x AND", "not y"} {
			_, err := normalizeMatchQuery(q)
			var inputErr *InputError
			require.ErrorAs(t, err, &inputErr, q)
		}
	})
}
