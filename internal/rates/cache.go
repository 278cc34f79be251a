package rates

import (
	"context"
	"errors"
	"strings"
	"time"

	"telegram_ledger/internal/logger"
	"telegram_ledger/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// CachedProvider keeps rates in redis for ttl. Cache errors fall through to
// the wrapped provider.
type CachedProvider struct {
	next Provider
	rdb  *redis.Client
	ttl  time.Duration
}

// NewCachedProvider wraps next with a redis cache
func NewCachedProvider(next Provider, rdb *redis.Client, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, rdb: rdb, ttl: ttl}
}

func cacheKey(base, target string) string {
	return "rates:" + strings.ToUpper(base) + ":" + strings.ToUpper(target)
}

// Rate returns the cached rate or fetches and stores it
func (p *CachedProvider) Rate(ctx context.Context, base, target string) (decimal.Decimal, error) {
	key := cacheKey(base, target)

	val, err := p.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if rate, perr := decimal.NewFromString(val); perr == nil {
			metrics.RateLookups.WithLabelValues("hit").Inc()
			return rate, nil
		}
	case !errors.Is(err, redis.Nil):
		logger.Warn("rate cache read failed", "key", key, "error", err)
	}

	rate, err := p.next.Rate(ctx, base, target)
	if err != nil {
		return decimal.Zero, err
	}
	metrics.RateLookups.WithLabelValues("fetched").Inc()

	if err := p.rdb.Set(ctx, key, rate.String(), p.ttl).Err(); err != nil {
		logger.Warn("rate cache write failed", "key", key, "error", err)
	}
	return rate, nil
}
