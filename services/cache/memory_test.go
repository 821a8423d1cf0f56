package cachesvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/elimu/core"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	_, err := cache.Get(ctx, "nav")
	assert.Equal(t, core.ErrCacheMiss, err)

	val := []byte("tree")
	require.NoError(t, cache.Set(ctx, "nav", val, 0))
	val[0] = 'f'

	got, err := cache.Get(ctx, "nav")
	require.NoError(t, err)
	assert.Equal(t, []byte("tree"), got, "values are copied")

	got[0] = 'f'
	got, err = cache.Get(ctx, "nav")
	require.NoError(t, err)
	assert.Equal(t, []byte("tree"), got)

	require.NoError(t, cache.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, cache.Delete(ctx, "nav", "a", "missing"))
	for _, key := range []string{"nav", "a"} {
		_, err := cache.Get(ctx, key)
		assert.Equal(t, core.ErrCacheMiss, err, key)
	}
}

func TestMemoryCache_expiry(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	require.NoError(t, cache.Set(ctx, "short", []byte("x"), time.Millisecond))
	require.NoError(t, cache.Set(ctx, "long", []byte("y"), time.Hour))
	time.Sleep(5 * time.Millisecond)

	_, err := cache.Get(ctx, "short")
	assert.Equal(t, core.ErrCacheMiss, err)
	_, err = cache.Get(ctx, "long")
	assert.NoError(t, err)
}
