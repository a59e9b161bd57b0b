package branchstock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheFetchJSON(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, keyAvailability(7, 1))
	require.NoError(t, err)

	loads := 0
	loader := func(context.Context) (interface{}, error) {
		loads++
		return []Availability{{BatchID: 11, BatchNumber: "B-2026-01", Quantity: 30}}, nil
	}

	var first []Availability
	require.NoError(t, cache.FetchJSON(ctx, key, &first, loader))
	require.Len(t, first, 1)
	require.Equal(t, 1, loads)

	// Second fetch is served from Redis without touching the loader.
	var second []Availability
	require.NoError(t, cache.FetchJSON(ctx, key, &second, loader))
	require.Equal(t, first, second)
	require.Equal(t, 1, loads)
}

func TestCacheBumpChangesKeys(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	before, err := cache.BuildKey(ctx, keyAvailability(7, 1))
	require.NoError(t, err)

	require.NoError(t, cache.Bump(ctx))

	after, err := cache.BuildKey(ctx, keyAvailability(7, 1))
	require.NoError(t, err)
	require.NotEqual(t, before, after)
}

func TestCacheLoaderErrorNotStored(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "branchstock:availability:7:1")
	require.NoError(t, err)

	boom := errors.New("query timeout")
	var dest []Availability
	err = cache.FetchJSON(ctx, key, &dest, func(context.Context) (interface{}, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	loads := 0
	require.NoError(t, cache.FetchJSON(ctx, key, &dest, func(context.Context) (interface{}, error) {
		loads++
		return []Availability{}, nil
	}))
	require.Equal(t, 1, loads)
}

func TestCacheNilClientFallsThrough(t *testing.T) {
	cache := NewCache(nil, time.Minute)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "branchstock:availability:7:1")
	require.NoError(t, err)

	loads := 0
	var dest []Availability
	for i := 0; i < 2; i++ {
		require.NoError(t, cache.FetchJSON(ctx, key, &dest, func(context.Context) (interface{}, error) {
			loads++
			return []Availability{{BatchID: 11, Quantity: 5}}, nil
		}))
	}
	require.Equal(t, 2, loads)
	require.Equal(t, 5.0, dest[0].Quantity)
}
