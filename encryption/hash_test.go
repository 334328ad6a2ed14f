package encryption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	a, err := CanonicalJSON([]byte(`{"b": 1, "a": {"y": [2, 1], "x": "<&>"}}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"x":"<&>","y":[2,1]},"b":1}`, string(a))
}

func TestContentHashStableUnderKeyOrder(t *testing.T) {
	h1, err := ContentHash([]byte(`{"contest1":"CandX","contest2":["A","B"],"n":12345678901234567890}`))
	require.NoError(t, err)
	h2, err := ContentHash([]byte("{\n  \"n\": 12345678901234567890,\n  \"contest2\": [\"A\", \"B\"],\n  \"contest1\": \"CandX\"\n}"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestContentHashDiffersOnContent(t *testing.T) {
	h1, err := ContentHash([]byte(`{"contest1":"CandX"}`))
	require.NoError(t, err)
	h2, err := ContentHash([]byte(`{"contest1":"CandY"}`))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestCanonicalJSONRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "{", `{"a":1}}`, `{"a":1} {"b":2}`} {
		_, err := CanonicalJSON([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestDeriveKeyIndependent(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	a, err := DeriveKey(secret, "session", 32)
	require.NoError(t, err)
	b, err := DeriveKey(secret, "other", 32)
	require.NoError(t, err)
	again, err := DeriveKey(secret, "session", 32)
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)
}
