package gecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/potwatch/potwatch/internal/enrich"
	"github.com/potwatch/potwatch/internal/token"
)

// ---------------------------------------------------------------------------
// GeckoTerminal API client — second market data fallback
// https://www.geckoterminal.com/dex-api
// ---------------------------------------------------------------------------

const (
	maxRetries   = 1
	retryBackoff = 600 * time.Millisecond

	// Free tier: 30 calls/min.
	requestsPerMinute = 30
)

// Client fetches token data from GeckoTerminal's Solana network endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// New creates a GeckoTerminal client.
func New(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerMinute)/60, 2),
	}
}

func (c *Client) Name() string { return "geckoterminal" }

type tokenResponse struct {
	Data struct {
		Attributes struct {
			PriceUSD      string `json:"price_usd"`
			FDVUSD        string `json:"fdv_usd"`
			MarketCapUSD  string `json:"market_cap_usd"`
			TotalReserve  string `json:"total_reserve_in_usd"`
			VolumeUSD     struct {
				H24 string `json:"h24"`
			} `json:"volume_usd"`
		} `json:"attributes"`
	} `json:"data"`
}

// FetchMarket returns GeckoTerminal token attributes mapped to market data.
// GeckoTerminal carries no 24h price change on this endpoint; the field
// stays zero and earlier providers in the chain are preferred for it.
func (c *Client) FetchMarket(ctx context.Context, mint token.Mint) (*token.MarketData, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/networks/solana/tokens/%s", c.baseURL, mint)

	var parsed tokenResponse
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("gecko: create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("gecko: HTTP error: %w", err)
			c.errorCount.Add(1)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("gecko: read response: %w", err)
			c.errorCount.Add(1)
			continue
		}

		if resp.StatusCode == 404 {
			return nil, enrich.ErrNoData
		}
		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("gecko: HTTP %d (mint=%s)", resp.StatusCode, mint)
			c.errorCount.Add(1)
			continue
		}

		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("gecko: parse response: %w", err)
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("gecko: fetch failed after %d attempts: %w", maxRetries+1, lastErr)
	}

	c.requestCount.Add(1)

	attrs := parsed.Data.Attributes
	price := parseDecimal(attrs.PriceUSD)
	liquidity := parseDecimal(attrs.TotalReserve)
	if price.IsZero() && liquidity.IsZero() {
		return nil, enrich.ErrNoData
	}

	mcap := parseDecimal(attrs.MarketCapUSD)
	if mcap.IsZero() {
		mcap = parseDecimal(attrs.FDVUSD)
	}
	return &token.MarketData{
		PriceUSD:     price,
		LiquidityUSD: liquidity,
		MarketCapUSD: mcap,
		Volume24hUSD: parseDecimal(attrs.VolumeUSD.H24),
	}, nil
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return decimal.NewFromFloat(f)
	}
	return decimal.Zero
}

// Stats returns client counters.
type Stats struct {
	RequestCount int64 `json:"request_count"`
	ErrorCount   int64 `json:"error_count"`
}

func (c *Client) Stats() Stats {
	return Stats{
		RequestCount: c.requestCount.Load(),
		ErrorCount:   c.errorCount.Load(),
	}
}
