package rates

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (p *stubProvider) Rate(ctx context.Context, base, target string) (decimal.Decimal, error) {
	p.calls++
	return p.rate, p.err
}

func TestClient_Rate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v6/latest/EUR", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"success","base_code":"EUR","rates":{"EUR":1,"USD":1.1}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v6/", time.Second)

	rate, err := c.Rate(context.Background(), "eur", "usd")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("1.1")))

	_, err = c.Rate(context.Background(), "EUR", "XYZ")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestClient_ErrorResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/latest/BAD" {
			_, _ = w.Write([]byte(`{"result":"error","error-type":"unsupported-code"}`))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)

	_, err := c.Rate(context.Background(), "BAD", "USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported-code")

	_, err = c.Rate(context.Background(), "EUR", "USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestCachedProvider(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	stub := &stubProvider{rate: decimal.RequireFromString("0.9")}
	p := NewCachedProvider(stub, rdb, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rate, err := p.Rate(ctx, "usd", "eur")
		require.NoError(t, err)
		assert.True(t, rate.Equal(decimal.RequireFromString("0.9")))
	}
	assert.Equal(t, 1, stub.calls)

	stored, err := mr.Get("rates:USD:EUR")
	require.NoError(t, err)
	assert.Equal(t, "0.9", stored)

	mr.FastForward(2 * time.Hour)
	_, err = p.Rate(ctx, "USD", "EUR")
	require.NoError(t, err)
	assert.Equal(t, 2, stub.calls)
}

func TestCachedProvider_ErrorsAreNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	stub := &stubProvider{err: errors.New("down")}
	p := NewCachedProvider(stub, rdb, time.Hour)

	_, err := p.Rate(context.Background(), "USD", "EUR")
	require.Error(t, err)
	assert.False(t, mr.Exists("rates:USD:EUR"))
}

func TestBreakerProvider_OpensAfterFailures(t *testing.T) {
	stub := &stubProvider{err: errors.New("timeout")}
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 2
	p := NewBreakerProvider("test-rates", stub, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.Rate(ctx, "USD", "EUR")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, p.State())

	_, err := p.Rate(ctx, "USD", "EUR")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, stub.calls)
}

func TestConverter_SameCurrencyShortCircuits(t *testing.T) {
	stub := &stubProvider{err: errors.New("must not be called")}
	c := NewConverter(stub)

	q := c.Convert(context.Background(), 5000, "EUR", "eur")
	assert.True(t, q.Available)
	assert.Equal(t, int64(5000), q.Amount)
	assert.True(t, q.Rate.Equal(decimal.NewFromInt(1)))
	assert.Zero(t, stub.calls)
}

func TestConverter_Converts(t *testing.T) {
	c := NewConverter(&stubProvider{rate: decimal.RequireFromString("1.1")})

	q := c.Convert(context.Background(), 5000, "EUR", "USD")
	assert.True(t, q.Available)
	assert.Equal(t, int64(5500), q.Amount)

	// rounds to whole minor units
	q = c.Convert(context.Background(), 1005, "EUR", "USD")
	assert.Equal(t, int64(1106), q.Amount)
}

func TestConverter_UnavailableIsNotAnError(t *testing.T) {
	c := NewConverter(&stubProvider{err: errors.New("down")})

	q := c.Convert(context.Background(), 5000, "EUR", "USD")
	assert.False(t, q.Available)
	assert.Zero(t, q.Amount)

	q = NewConverter(nil).Convert(context.Background(), 5000, "EUR", "USD")
	assert.False(t, q.Available)
}

func TestImpliedRate(t *testing.T) {
	assert.True(t, ImpliedRate(5000, 5500).Equal(decimal.RequireFromString("1.1")))
	assert.True(t, ImpliedRate(0, 5500).IsZero())
}

func TestConverter_OutOfRangeIsUnavailable(t *testing.T) {
	c := NewConverter(&stubProvider{rate: decimal.NewFromInt(1_000_000)})

	q := c.Convert(context.Background(), math.MaxInt64/10, "IDR", "USD")
	assert.False(t, q.Available)
	assert.Zero(t, q.Amount)

	q = c.Convert(context.Background(), 100, "IDR", "USD")
	assert.True(t, q.Available)
	assert.Equal(t, int64(100_000_000), q.Amount)
}
