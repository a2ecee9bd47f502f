package docstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPage(t *testing.T) {
	assert.Equal(t, Page{Offset: 0, Limit: 10}, NewPage(0, 0))
	assert.Equal(t, Page{Offset: 0, Limit: 10}, NewPage(-3, -1))
	assert.Equal(t, Page{Offset: 20, Limit: 5}, NewPage(5, 20))
	assert.Equal(t, Page{Offset: 0, Limit: MaxLimit}, NewPage(10_000, 0))
}

func TestWrapKeepsSentinels(t *testing.T) {
	assert.Nil(t, Wrap("find", "users", nil))
	assert.Equal(t, ErrNotFound, Wrap("find", "users", ErrNotFound))

	conflict := fmt.Errorf("users: %w", ErrConflict)
	assert.Equal(t, conflict, Wrap("update", "users", conflict))

	cause := errors.New("connection reset")
	err := Wrap("insert", "organizations", cause)
	assert.True(t, IsStoreError(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "docstore insert organizations: connection reset", err.Error())
	assert.False(t, IsStoreError(cause))
}

func TestFilterIsZero(t *testing.T) {
	assert.True(t, Filter{}.IsZero())
	assert.False(t, Filter{Field: "name", Value: ""}.IsZero())
}
