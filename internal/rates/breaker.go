package rates

import (
	"context"
	"time"

	"telegram_ledger/internal/logger"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// BreakerConfig holds circuit breaker settings for the rate provider
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig trips after a handful of consecutive failures, suited
// to a single external HTTP API
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            2 * time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerProvider stops calling a failing provider for a while so the
// transfer flow falls back to manual entry without waiting on timeouts.
type BreakerProvider struct {
	next    Provider
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerProvider wraps next with a circuit breaker
func NewBreakerProvider(name string, next Provider, cfg BreakerConfig) *BreakerProvider {
	log := logger.With("component", "rates_breaker")

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("rate provider circuit changed state", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &BreakerProvider{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Rate calls the wrapped provider unless the circuit is open
func (p *BreakerProvider) Rate(ctx context.Context, base, target string) (decimal.Decimal, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.next.Rate(ctx, base, target)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return result.(decimal.Decimal), nil
}

// State reports the breaker state
func (p *BreakerProvider) State() gobreaker.State {
	return p.breaker.State()
}
