package pyth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// CachedOracle wraps a PriceOracle with a reading cache so the keeper's
// polling loop does not hit the upstream service for every pending market
// on the same feed within one refresh window.
type CachedOracle struct {
	inner  domain.PriceOracle
	cache  domain.ReadingCache
	maxAge time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewCachedOracle creates a CachedOracle that serves cached readings
// younger than maxAge and refreshes from the inner oracle otherwise.
func NewCachedOracle(inner domain.PriceOracle, cache domain.ReadingCache, maxAge time.Duration, logger *slog.Logger) *CachedOracle {
	return &CachedOracle{
		inner:  inner,
		cache:  cache,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "oracle_cache")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Latest returns the cached reading when fresh enough, otherwise fetches
// from the upstream oracle and refreshes the cache. Cache failures are
// logged and degrade to a direct fetch; they never fail the read.
func (o *CachedOracle) Latest(ctx context.Context, feedID string) (domain.PriceReading, error) {
	cached, err := o.cache.GetReading(ctx, feedID)
	if err == nil && o.now().Sub(cached.PublishTime) <= o.maxAge {
		return cached, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		o.logger.WarnContext(ctx, "reading cache lookup failed",
			slog.String("feed", feedID),
			slog.String("error", err.Error()),
		)
	}

	fresh, err := o.inner.Latest(ctx, feedID)
	if err != nil {
		return domain.PriceReading{}, err
	}

	if err := o.cache.SetReading(ctx, feedID, fresh); err != nil {
		o.logger.WarnContext(ctx, "reading cache store failed",
			slog.String("feed", feedID),
			slog.String("error", err.Error()),
		)
	}
	return fresh, nil
}

// Compile-time interface check.
var _ domain.PriceOracle = (*CachedOracle)(nil)
