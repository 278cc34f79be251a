package rates

import (
	"context"
	"math"
	"strings"

	"telegram_ledger/internal/logger"
	"telegram_ledger/internal/metrics"

	"github.com/shopspring/decimal"
)

// Quote is the outcome of a conversion. When Available is false the caller
// should ask for the converted amount manually.
type Quote struct {
	Amount    int64
	Rate      decimal.Decimal
	Available bool
}

var maxQuotable = decimal.NewFromInt(math.MaxInt64)

// Converter turns an amount in one currency into another
type Converter struct {
	provider Provider
}

// NewConverter creates a converter over the provider
func NewConverter(provider Provider) *Converter {
	return &Converter{provider: provider}
}

// Convert converts a minor-unit amount. Same-currency pairs return rate 1
// without touching the provider. Provider failures never surface as errors;
// they produce an unavailable quote.
func (c *Converter) Convert(ctx context.Context, minor int64, from, to string) Quote {
	if strings.EqualFold(from, to) {
		metrics.RateLookups.WithLabelValues("same_currency").Inc()
		return Quote{Amount: minor, Rate: decimal.NewFromInt(1), Available: true}
	}
	if c.provider == nil {
		metrics.RateLookups.WithLabelValues("unavailable").Inc()
		return Quote{}
	}

	rate, err := c.provider.Rate(ctx, from, to)
	if err != nil {
		logger.WithContext(ctx).Warn("rate unavailable", "from", from, "to", to, "error", err)
		metrics.RateLookups.WithLabelValues("unavailable").Inc()
		return Quote{}
	}

	converted := decimal.NewFromInt(minor).Mul(rate).Round(0)
	if converted.Abs().GreaterThan(maxQuotable) {
		logger.WithContext(ctx).Warn("converted amount out of range", "from", from, "to", to, "amount", minor, "rate", rate.String())
		metrics.RateLookups.WithLabelValues("unavailable").Inc()
		return Quote{}
	}
	return Quote{Amount: converted.IntPart(), Rate: rate, Available: true}
}

// ImpliedRate is the rate a manually typed received amount corresponds to
func ImpliedRate(sent, received int64) decimal.Decimal {
	if sent == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(received).DivRound(decimal.NewFromInt(sent), 6)
}
