package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/potwatch/potwatch/internal/enrich"
	"github.com/potwatch/potwatch/internal/token"
)

// ---------------------------------------------------------------------------
// DexScreener API client — primary market data source
// https://docs.dexscreener.com/api/reference
// ---------------------------------------------------------------------------

const (
	maxRetries   = 2
	retryBackoff = 400 * time.Millisecond

	// Public API allows 300 req/min on the token endpoints.
	requestsPerSecond = 5
	burst             = 10
)

// Client fetches market data from DexScreener.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter

	requestCount atomic.Int64
	errorCount   atomic.Int64
	lastLatency  atomic.Int64
}

// New creates a DexScreener client.
func New(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (c *Client) Name() string { return "dexscreener" }

type pairResponse struct {
	Pairs []struct {
		ChainID   string `json:"chainId"`
		DexID     string `json:"dexId"`
		PriceUSD  string `json:"priceUsd"`
		Liquidity struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
		FDV       float64 `json:"fdv"`
		MarketCap float64 `json:"marketCap"`
		Volume    struct {
			H24 float64 `json:"h24"`
		} `json:"volume"`
		PriceChange struct {
			H24 float64 `json:"h24"`
		} `json:"priceChange"`
		PairCreatedAt int64 `json:"pairCreatedAt"` // unix millis
	} `json:"pairs"`
}

// FetchMarket returns market data for the deepest Solana pair of the mint.
func (c *Client) FetchMarket(ctx context.Context, mint token.Mint) (*token.MarketData, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()

	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, mint)

	var parsed pairResponse
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("dexscreener: create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("dexscreener: HTTP error: %w", err)
			c.errorCount.Add(1)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("dexscreener: read response: %w", err)
			c.errorCount.Add(1)
			continue
		}

		if resp.StatusCode == 429 {
			lastErr = fmt.Errorf("dexscreener: rate limited (429)")
			c.errorCount.Add(1)
			continue
		}
		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("dexscreener: HTTP %d (mint=%s)", resp.StatusCode, mint)
			c.errorCount.Add(1)
			continue
		}

		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("dexscreener: parse response: %w", err)
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("dexscreener: fetch failed after %d attempts: %w", maxRetries+1, lastErr)
	}

	c.requestCount.Add(1)
	c.lastLatency.Store(time.Since(start).Milliseconds())

	best := -1
	for i, p := range parsed.Pairs {
		if p.ChainID != "solana" {
			continue
		}
		if best < 0 || p.Liquidity.USD > parsed.Pairs[best].Liquidity.USD {
			best = i
		}
	}
	if best < 0 {
		return nil, enrich.ErrNoData
	}

	p := parsed.Pairs[best]
	price, err := decimal.NewFromString(p.PriceUSD)
	if err != nil {
		price = decimal.Zero
	}
	mcap := p.MarketCap
	if mcap == 0 {
		mcap = p.FDV
	}

	data := &token.MarketData{
		PriceUSD:          price,
		LiquidityUSD:      decimal.NewFromFloat(p.Liquidity.USD),
		MarketCapUSD:      decimal.NewFromFloat(mcap),
		Volume24hUSD:      decimal.NewFromFloat(p.Volume.H24),
		PriceChange24hPct: p.PriceChange.H24,
	}
	if p.PairCreatedAt > 0 {
		data.PoolCreatedAt = time.UnixMilli(p.PairCreatedAt).UTC()
	}
	return data, nil
}

// Stats returns client counters.
type Stats struct {
	RequestCount  int64 `json:"request_count"`
	ErrorCount    int64 `json:"error_count"`
	LastLatencyMs int64 `json:"last_latency_ms"`
}

func (c *Client) Stats() Stats {
	return Stats{
		RequestCount:  c.requestCount.Load(),
		ErrorCount:    c.errorCount.Load(),
		LastLatencyMs: c.lastLatency.Load(),
	}
}
