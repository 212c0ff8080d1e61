package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// RESTClient fetches a spot price over HTTP when the cache has nothing for a
// symbol at settlement time. Its timeout and retry budget are deliberately
// separate from the websocket reconnect policy.
type RESTClient struct {
	baseURL string
	retries int
	client  *http.Client
}

// NewRESTClient creates a fallback price fetcher. timeout bounds each
// request; retries bounds the number of attempts (minimum 1).
func NewRESTClient(baseURL string, timeout time.Duration, retries int) *RESTClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if retries <= 0 {
		retries = 3
	}
	return &RESTClient{
		baseURL: baseURL,
		retries: retries,
		client:  &http.Client{Timeout: timeout},
	}
}

type priceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// FetchPrice returns the current price for ticker, retrying transient
// failures up to the configured budget.
func (c *RESTClient) FetchPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		price, err := c.fetchOnce(ctx, ticker)
		if err == nil {
			return price, nil
		}
		lastErr = err
	}
	return decimal.Zero, fmt.Errorf("fetch price for %s after %d attempts: %w", ticker, c.retries, lastErr)
}

func (c *RESTClient) fetchOnce(ctx context.Context, ticker string) (decimal.Decimal, error) {
	u := c.baseURL + "?symbol=" + url.QueryEscape(ticker)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	var pr priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return decimal.Zero, fmt.Errorf("decode price response: %w", err)
	}

	price, err := decimal.NewFromString(pr.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", pr.Price, err)
	}
	return price, nil
}
