package birdeye

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/potwatch/potwatch/internal/enrich"
	"github.com/potwatch/potwatch/internal/token"
)

// ---------------------------------------------------------------------------
// Birdeye API client — market data fallback
// https://docs.birdeye.so/reference/get_defi-token-overview
// ---------------------------------------------------------------------------

const (
	maxRetries   = 2
	retryBackoff = 400 * time.Millisecond

	// Standard plan: 1 rps sustained.
	requestsPerSecond = 1
	burst             = 2
)

// Client fetches token overviews from Birdeye. Requires an API key.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// New creates a Birdeye client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (c *Client) Name() string { return "birdeye" }

type overviewResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Price           float64 `json:"price"`
		Liquidity       float64 `json:"liquidity"`
		MarketCap       float64 `json:"mc"`
		RealMarketCap   float64 `json:"realMc"`
		V24hUSD         float64 `json:"v24hUSD"`
		PriceChange24h  float64 `json:"priceChange24hPercent"`
		Holder          int     `json:"holder"`
	} `json:"data"`
}

// fetchOverview performs one token_overview request with bounded retries.
// Both the market and holders categories map from the same response.
func (c *Client) fetchOverview(ctx context.Context, mint token.Mint) (*overviewResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	queryURL, err := url.Parse(c.baseURL + "/defi/token_overview")
	if err != nil {
		return nil, fmt.Errorf("birdeye: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("address", string(mint))
	queryURL.RawQuery = q.Encode()

	var parsed overviewResponse
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", queryURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("birdeye: create request: %w", err)
		}
		req.Header.Set("X-API-KEY", c.apiKey)
		req.Header.Set("x-chain", "solana")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("birdeye: HTTP error: %w", err)
			c.errorCount.Add(1)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("birdeye: read response: %w", err)
			c.errorCount.Add(1)
			continue
		}

		if resp.StatusCode == 404 {
			return nil, enrich.ErrNoData
		}
		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("birdeye: HTTP %d (mint=%s)", resp.StatusCode, mint)
			c.errorCount.Add(1)
			continue
		}

		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("birdeye: parse response: %w", err)
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("birdeye: fetch failed after %d attempts: %w", maxRetries+1, lastErr)
	}

	c.requestCount.Add(1)

	if !parsed.Success || (parsed.Data.Price == 0 && parsed.Data.Liquidity == 0) {
		return nil, enrich.ErrNoData
	}
	return &parsed, nil
}

// FetchMarket returns the Birdeye token overview mapped to market data.
func (c *Client) FetchMarket(ctx context.Context, mint token.Mint) (*token.MarketData, error) {
	parsed, err := c.fetchOverview(ctx, mint)
	if err != nil {
		return nil, err
	}

	mcap := parsed.Data.RealMarketCap
	if mcap == 0 {
		mcap = parsed.Data.MarketCap
	}
	return &token.MarketData{
		PriceUSD:          decimal.NewFromFloat(parsed.Data.Price),
		LiquidityUSD:      decimal.NewFromFloat(parsed.Data.Liquidity),
		MarketCapUSD:      decimal.NewFromFloat(mcap),
		Volume24hUSD:      decimal.NewFromFloat(parsed.Data.V24hUSD),
		PriceChange24hPct: parsed.Data.PriceChange24h,
	}, nil
}

// FetchHolders maps the overview's holder count. No authority or creator
// fields here, so this rides behind the RPC provider in the chain.
func (c *Client) FetchHolders(ctx context.Context, mint token.Mint) (*token.HolderData, error) {
	parsed, err := c.fetchOverview(ctx, mint)
	if err != nil {
		return nil, err
	}
	if parsed.Data.Holder == 0 {
		return nil, enrich.ErrNoData
	}
	return &token.HolderData{HolderCount: parsed.Data.Holder}, nil
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
