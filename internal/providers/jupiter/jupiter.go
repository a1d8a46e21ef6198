package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/potwatch/potwatch/internal/token"
)

// ---------------------------------------------------------------------------
// Jupiter V6 quote client — route sanity checks
// https://station.jup.ag/docs/apis/swap-api
// ---------------------------------------------------------------------------
//
// A token with real liquidity is routable from SOL through Jupiter. One
// failing quote for a small probe amount is the cheapest honeypot signal
// available off-chain.

const (
	wsolMint = "So11111111111111111111111111111111111111112"

	// 0.05 SOL probe, in lamports.
	probeAmountLamports = 50_000_000

	maxRetries   = 1
	retryBackoff = 500 * time.Millisecond

	requestsPerSecond = 5
	burst             = 10
)

// Client probes swap routes via the Jupiter quote endpoint.
type Client struct {
	httpClient *http.Client
	quoteURL   string
	limiter    *rate.Limiter

	requestCount atomic.Int64
	errorCount   atomic.Int64
	noRouteCount atomic.Int64
}

// New creates a Jupiter quote client.
func New(quoteURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		quoteURL:   quoteURL,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (c *Client) Name() string { return "jupiter" }

type quoteResponse struct {
	OutAmount string `json:"outAmount"`
	RoutePlan []struct {
		Percent int `json:"percent"`
	} `json:"routePlan"`
}

type quoteError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// FetchRoute reports whether a SOL -> mint route exists. "No route" is a
// definitive negative answer, not a provider failure.
func (c *Client) FetchRoute(ctx context.Context, mint token.Mint) (*token.RouteData, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	queryURL, err := url.Parse(c.quoteURL)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", wsolMint)
	q.Set("outputMint", string(mint))
	q.Set("amount", fmt.Sprintf("%d", probeAmountLamports))
	q.Set("slippageBps", "500")
	queryURL.RawQuery = q.Encode()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", queryURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("jupiter: create quote request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("jupiter: quote HTTP error: %w", err)
			c.errorCount.Add(1)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("jupiter: read quote response: %w", err)
			c.errorCount.Add(1)
			continue
		}

		switch {
		case resp.StatusCode == 200:
			var quote quoteResponse
			if err := json.Unmarshal(body, &quote); err != nil {
				return nil, fmt.Errorf("jupiter: parse quote: %w", err)
			}
			c.requestCount.Add(1)
			tradeable := quote.OutAmount != "" && quote.OutAmount != "0" && len(quote.RoutePlan) > 0
			if !tradeable {
				c.noRouteCount.Add(1)
			}
			return &token.RouteData{Tradeable: tradeable, CheckedAt: time.Now().UTC()}, nil

		case resp.StatusCode == 400:
			var qerr quoteError
			_ = json.Unmarshal(body, &qerr)
			if strings.Contains(qerr.ErrorCode, "COULD_NOT_FIND_ANY_ROUTE") ||
				strings.Contains(strings.ToLower(qerr.Error), "route") {
				c.requestCount.Add(1)
				c.noRouteCount.Add(1)
				return &token.RouteData{Tradeable: false, CheckedAt: time.Now().UTC()}, nil
			}
			lastErr = fmt.Errorf("jupiter: quote HTTP 400: %s (mint=%s)", string(body), mint)
			c.errorCount.Add(1)

		case resp.StatusCode == 429:
			lastErr = fmt.Errorf("jupiter: rate limited (429)")
			c.errorCount.Add(1)

		default:
			lastErr = fmt.Errorf("jupiter: quote HTTP %d (mint=%s)", resp.StatusCode, mint)
			c.errorCount.Add(1)
		}
	}
	return nil, fmt.Errorf("jupiter: route check failed after %d attempts: %w", maxRetries+1, lastErr)
}

// Stats returns client counters.
type Stats struct {
	RequestCount int64 `json:"request_count"`
	ErrorCount   int64 `json:"error_count"`
	NoRouteCount int64 `json:"no_route_count"`
}

func (c *Client) Stats() Stats {
	return Stats{
		RequestCount: c.requestCount.Load(),
		ErrorCount:   c.errorCount.Load(),
		NoRouteCount: c.noRouteCount.Load(),
	}
}
