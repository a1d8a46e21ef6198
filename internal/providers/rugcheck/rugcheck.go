package rugcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/potwatch/potwatch/internal/enrich"
	"github.com/potwatch/potwatch/internal/token"
)

// ---------------------------------------------------------------------------
// RugCheck API client — risk labels
// https://api.rugcheck.xyz/swagger/index.html
// ---------------------------------------------------------------------------

const (
	maxRetries   = 1
	retryBackoff = 500 * time.Millisecond

	requestsPerSecond = 2
	burst             = 4
)

// Client fetches risk report summaries from RugCheck.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// New creates a RugCheck client.
func New(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (c *Client) Name() string { return "rugcheck" }

type reportSummary struct {
	Score int `json:"score"`
	Risks []struct {
		Name  string `json:"name"`
		Level string `json:"level"`
	} `json:"risks"`
}

// Risk scores above this are treated as high risk even without a danger
// level risk entry.
const highRiskScore = 5000

// FetchRisk returns risk labels for a mint. A mint RugCheck has never
// indexed is normal absence, not a failure.
func (c *Client) FetchRisk(ctx context.Context, mint token.Mint) (*token.RiskData, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/tokens/%s/report/summary", c.baseURL, mint)

	var summary reportSummary
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
			return nil, fmt.Errorf("rugcheck: create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("rugcheck: HTTP error: %w", err)
			c.errorCount.Add(1)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("rugcheck: read response: %w", err)
			c.errorCount.Add(1)
			continue
		}

		if resp.StatusCode == 404 {
			return nil, enrich.ErrNoData
		}
		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("rugcheck: HTTP %d (mint=%s)", resp.StatusCode, mint)
			c.errorCount.Add(1)
			continue
		}

		if err := json.Unmarshal(body, &summary); err != nil {
			return nil, fmt.Errorf("rugcheck: parse response: %w", err)
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("rugcheck: fetch failed after %d attempts: %w", maxRetries+1, lastErr)
	}

	c.requestCount.Add(1)

	data := &token.RiskData{}
	for _, risk := range summary.Risks {
		data.Labels = append(data.Labels, risk.Name)
		if strings.EqualFold(risk.Level, "danger") {
			data.HighRisk = true
		}
	}
	if summary.Score >= highRiskScore {
		data.HighRisk = true
	}
	return data, nil
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
