package factors_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/meridian/internal/modules/factors"
	testhelper "github.com/aristath/meridian/internal/testing"
)

func newCache(t *testing.T) *factors.Cache {
	t.Helper()
	db, cleanup := testhelper.NewTestDB(t, "derived")
	t.Cleanup(cleanup)
	return factors.NewCache(testhelper.GetRawConnection(db), zerolog.Nop())
}

func TestCacheRoundTrip(t *testing.T) {
	cache := newCache(t)

	momentum := 0.42
	in := &factors.Vector{SecurityID: "AAPL", AsOfDate: 1700000000, Momentum90: &momentum}
	require.NoError(t, cache.Set("factors:AAPL:pk-1", in, time.Hour))

	var out factors.Vector
	hit, err := cache.Get("factors:AAPL:pk-1", &out)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "AAPL", out.SecurityID)
	require.NotNil(t, out.Momentum90)
	assert.Equal(t, 0.42, *out.Momentum90)
	assert.Nil(t, out.RSI14)
}

func TestCacheMissAndExpiry(t *testing.T) {
	cache := newCache(t)

	var out factors.Vector
	hit, err := cache.Get("factors:GHOST:pk-1", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set("factors:OLD:pk-1", &factors.Vector{SecurityID: "OLD"}, -time.Second))
	hit, err = cache.Get("factors:OLD:pk-1", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheOverwriteAndPurge(t *testing.T) {
	cache := newCache(t)

	require.NoError(t, cache.Set("k", &factors.Vector{SecurityID: "v1"}, time.Hour))
	require.NoError(t, cache.Set("k", &factors.Vector{SecurityID: "v2"}, time.Hour))

	var out factors.Vector
	hit, err := cache.Get("k", &out)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "v2", out.SecurityID)

	require.NoError(t, cache.Set("stale", &factors.Vector{}, -time.Minute))
	purged, err := cache.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	hit, err = cache.Get("k", &out)
	require.NoError(t, err)
	assert.True(t, hit)
}
