package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownCurrency is returned when the provider has no rate for a pair
var ErrUnknownCurrency = errors.New("currency not quoted")

// Provider returns how many units of target one unit of base buys
type Provider interface {
	Rate(ctx context.Context, base, target string) (decimal.Decimal, error)
}

// Client is an exchange-rate API client for open.er-api.com style endpoints:
// GET {baseURL}/latest/{BASE}
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new rate API client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type latestResponse struct {
	Result    string                     `json:"result"`
	ErrorType string                     `json:"error-type"`
	BaseCode  string                     `json:"base_code"`
	Rates     map[string]decimal.Decimal `json:"rates"`
}

// Rate fetches the latest base -> target rate
func (c *Client) Rate(ctx context.Context, base, target string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/latest/%s", c.baseURL, strings.ToUpper(base))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	var result latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, err
	}
	if result.Result != "success" {
		return decimal.Zero, fmt.Errorf("API error: %s", result.ErrorType)
	}

	rate, ok := result.Rates[strings.ToUpper(target)]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrUnknownCurrency, base, target)
	}
	return rate, nil
}
