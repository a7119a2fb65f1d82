package pyth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

type stubOracle struct {
	reading domain.PriceReading
	err     error
	calls   int
}

func (o *stubOracle) Latest(context.Context, string) (domain.PriceReading, error) {
	o.calls++
	if o.err != nil {
		return domain.PriceReading{}, o.err
	}
	return o.reading, nil
}

type memReadingCache struct {
	readings map[string]domain.PriceReading
	getErr   error
	setErr   error
}

func newMemReadingCache() *memReadingCache {
	return &memReadingCache{readings: make(map[string]domain.PriceReading)}
}

func (c *memReadingCache) SetReading(_ context.Context, feedID string, r domain.PriceReading) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.readings[feedID] = r
	return nil
}

func (c *memReadingCache) GetReading(_ context.Context, feedID string) (domain.PriceReading, error) {
	if c.getErr != nil {
		return domain.PriceReading{}, c.getErr
	}
	r, ok := c.readings[feedID]
	if !ok {
		return domain.PriceReading{}, domain.ErrNotFound
	}
	return r, nil
}

func newCachedFixture(maxAge time.Duration) (*CachedOracle, *stubOracle, *memReadingCache, time.Time) {
	inner := &stubOracle{}
	cache := newMemReadingCache()
	now := time.Unix(1_700_000_000, 0).UTC()
	o := NewCachedOracle(inner, cache, maxAge, slog.New(slog.NewTextHandler(io.Discard, nil)))
	o.now = func() time.Time { return now }
	return o, inner, cache, now
}

func TestCachedOracle_ServesFreshCachedReading(t *testing.T) {
	o, inner, cache, now := newCachedFixture(time.Minute)
	cache.readings["sol-usd"] = domain.PriceReading{Price: 42_000, Expo: -2, PublishTime: now.Add(-30 * time.Second)}

	got, err := o.Latest(context.Background(), "sol-usd")
	require.NoError(t, err)
	assert.Equal(t, int64(42_000), got.Price)
	assert.Zero(t, inner.calls)
}

func TestCachedOracle_RefreshesStaleReading(t *testing.T) {
	o, inner, cache, now := newCachedFixture(time.Minute)
	cache.readings["sol-usd"] = domain.PriceReading{Price: 41_000, Expo: -2, PublishTime: now.Add(-2 * time.Minute)}
	inner.reading = domain.PriceReading{Price: 43_000, Expo: -2, PublishTime: now}

	got, err := o.Latest(context.Background(), "sol-usd")
	require.NoError(t, err)
	assert.Equal(t, int64(43_000), got.Price)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, int64(43_000), cache.readings["sol-usd"].Price)
}

func TestCachedOracle_MissFetchesAndStores(t *testing.T) {
	o, inner, cache, now := newCachedFixture(time.Minute)
	inner.reading = domain.PriceReading{Price: 43_000, Expo: -2, PublishTime: now}

	got, err := o.Latest(context.Background(), "sol-usd")
	require.NoError(t, err)
	assert.Equal(t, int64(43_000), got.Price)
	assert.Contains(t, cache.readings, "sol-usd")
}

func TestCachedOracle_CacheFailureDegradesToFetch(t *testing.T) {
	o, inner, cache, now := newCachedFixture(time.Minute)
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")
	inner.reading = domain.PriceReading{Price: 43_000, Expo: -2, PublishTime: now}

	got, err := o.Latest(context.Background(), "sol-usd")
	require.NoError(t, err)
	assert.Equal(t, int64(43_000), got.Price)
}

func TestCachedOracle_UpstreamErrorPropagates(t *testing.T) {
	o, inner, _, _ := newCachedFixture(time.Minute)
	inner.err = errors.New("upstream 503")

	_, err := o.Latest(context.Background(), "sol-usd")
	assert.Error(t, err)
}
