package domain

import (
	"context"
	"time"
)

// PriceReading is one published oracle price sample. The real price is
// Price * 10^Expo; Conf is the confidence interval at the same exponent.
type PriceReading struct {
	Price       int64
	Expo        int32
	Conf        uint64
	PublishTime time.Time
}

// PriceOracle exposes the latest published reading of an external price
// feed. Implementations must return a synchronous snapshot; the engine
// reads at most once per operation.
type PriceOracle interface {
	Latest(ctx context.Context, feedID string) (PriceReading, error)
}

// ReadingCache caches the latest oracle reading per feed so that the
// keeper does not hammer the upstream oracle on every tick.
type ReadingCache interface {
	SetReading(ctx context.Context, feedID string, r PriceReading) error
	GetReading(ctx context.Context, feedID string) (PriceReading, error)
}
