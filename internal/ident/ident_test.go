package ident

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeObjectID(t *testing.T) {
	scheme := ObjectIDScheme{}

	id, err := Normalize("  65f0c0ffee0123456789abcd \n", scheme)
	require.NoError(t, err)
	assert.Equal(t, "65f0c0ffee0123456789abcd", id)

	id, err = Normalize("65F0C0FFEE0123456789ABCD", scheme)
	require.NoError(t, err)
	assert.Equal(t, "65f0c0ffee0123456789abcd", id)

	for _, raw := range []string{"", "   ", "not-an-id", "65f0c0ffee0123456789abc", "65f0c0ffee0123456789abcz"} {
		_, err := Normalize(raw, scheme)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, "raw=%q", raw)
	}
}

func TestNormalizeSnowflake(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	scheme := NewSnowflakeScheme(node)

	generated := scheme.New()
	id, err := Normalize(" "+generated+" ", scheme)
	require.NoError(t, err)
	assert.Equal(t, generated, id)

	for _, raw := range []string{"0", "-4", "abc", "65f0c0ffee0123456789abcd"} {
		_, err := Normalize(raw, scheme)
		assert.ErrorIs(t, err, ErrInvalidIdentifier, "raw=%q", raw)
	}
}

func TestNormalizeWithoutScheme(t *testing.T) {
	_, err := Normalize("123", nil)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}
