package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithEmptyURLIsDisabledAndNeverErrors(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.False(t, c.Enabled())
}

func TestDisabledCacheGetIsAlwaysAMiss(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	var target map[string]string
	hit, err := c.Get(context.Background(), FunctionsListKey, &target)
	assert.NoError(t, err)
	assert.False(t, hit)
}

func TestDisabledCacheSetAndInvalidateAreNoOps(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	assert.NoError(t, c.Set(context.Background(), StatusKey, map[string]int{"packageCount": 1}, time.Second))
	assert.NoError(t, c.Invalidate(context.Background(), StatusKey))
}

func TestDisabledCacheCloseIsANoOp(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestNewRejectsAnUnparseableRedisURL(t *testing.T) {
	_, err := New("not-a-valid-redis-url")
	assert.Error(t, err)
}
