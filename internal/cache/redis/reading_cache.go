package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// ReadingCache implements domain.ReadingCache using Redis hashes. Each
// feed's latest reading is stored at key "reading:{feedID}" with fields
// "price", "expo", "conf", and "pub" (unix nanosecond publish time). An
// optional TTL bounds how long a reading can be served after its feed
// stops updating.
type ReadingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewReadingCache creates a ReadingCache backed by the given Client. A ttl
// of zero keeps readings until overwritten.
func NewReadingCache(c *Client, ttl time.Duration) *ReadingCache {
	return &ReadingCache{rdb: c.Underlying(), ttl: ttl}
}

func readingKey(feedID string) string {
	return "reading:" + feedID
}

// SetReading stores the latest reading for a feed.
func (rc *ReadingCache) SetReading(ctx context.Context, feedID string, r domain.PriceReading) error {
	key := readingKey(feedID)
	fields := map[string]interface{}{
		"price": strconv.FormatInt(r.Price, 10),
		"expo":  strconv.FormatInt(int64(r.Expo), 10),
		"conf":  strconv.FormatUint(r.Conf, 10),
		"pub":   strconv.FormatInt(r.PublishTime.UnixNano(), 10),
	}
	pipe := rc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if rc.ttl > 0 {
		pipe.Expire(ctx, key, rc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set reading %s: %w", feedID, err)
	}
	return nil
}

// GetReading retrieves the latest reading for a feed. It returns
// domain.ErrNotFound when no reading is cached.
func (rc *ReadingCache) GetReading(ctx context.Context, feedID string) (domain.PriceReading, error) {
	vals, err := rc.rdb.HGetAll(ctx, readingKey(feedID)).Result()
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("redis: get reading %s: %w", feedID, err)
	}
	if len(vals) == 0 {
		return domain.PriceReading{}, domain.ErrNotFound
	}

	price, err := strconv.ParseInt(vals["price"], 10, 64)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("redis: parse reading price %s: %w", feedID, err)
	}
	expo, err := strconv.ParseInt(vals["expo"], 10, 32)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("redis: parse reading expo %s: %w", feedID, err)
	}
	conf, err := strconv.ParseUint(vals["conf"], 10, 64)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("redis: parse reading conf %s: %w", feedID, err)
	}
	pubNano, err := strconv.ParseInt(vals["pub"], 10, 64)
	if err != nil {
		return domain.PriceReading{}, fmt.Errorf("redis: parse reading pub %s: %w", feedID, err)
	}

	return domain.PriceReading{
		Price:       price,
		Expo:        int32(expo),
		Conf:        conf,
		PublishTime: time.Unix(0, pubNano),
	}, nil
}

// Compile-time interface check.
var _ domain.ReadingCache = (*ReadingCache)(nil)
