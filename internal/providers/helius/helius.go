package helius

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/potwatch/potwatch/internal/enrich"
	"github.com/potwatch/potwatch/internal/token"
)

// ---------------------------------------------------------------------------
// Helius RPC client — holder/creator metadata + mint resolution
// https://docs.helius.dev/compression-and-das-api/digital-asset-standard-das-api
// ---------------------------------------------------------------------------

const (
	maxRetries   = 2
	retryBackoff = 300 * time.Millisecond

	requestsPerSecond = 10
	burst             = 20
)

// Quote mints that never count as discovered tokens.
var quoteMints = map[string]bool{
	"So11111111111111111111111111111111111111112":  true, // wSOL
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": true, // USDC
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": true, // USDT
}

// Client talks JSON-RPC to a Helius (or any Solana) RPC endpoint.
type Client struct {
	httpClient *http.Client
	rpcURL     string
	limiter    *rate.Limiter

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// New creates a Helius RPC client. The API key rides in the URL.
func New(rpcURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		rpcURL:     rpcURL,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (c *Client) Name() string { return "helius" }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs one JSON-RPC request with bounded retries.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("helius: marshal %s request: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("helius: create %s request: %w", method, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("helius: %s HTTP error: %w", method, err)
			c.errorCount.Add(1)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("helius: read %s response: %w", method, err)
			c.errorCount.Add(1)
			continue
		}
		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("helius: %s HTTP %d", method, resp.StatusCode)
			c.errorCount.Add(1)
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(body, &rpcResp); err != nil {
			return fmt.Errorf("helius: parse %s response: %w", method, err)
		}
		if rpcResp.Error != nil {
			lastErr = fmt.Errorf("helius: %s RPC error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
			c.errorCount.Add(1)
			continue
		}

		c.requestCount.Add(1)
		if out != nil {
			if err := json.Unmarshal(rpcResp.Result, out); err != nil {
				return fmt.Errorf("helius: parse %s result: %w", method, err)
			}
		}
		return nil
	}
	return fmt.Errorf("helius: %s failed after %d attempts: %w", method, maxRetries+1, lastErr)
}

type assetResult struct {
	Interface string `json:"interface"`
	// Unix seconds; 0 when the indexer has no creation slot for the mint.
	CreatedAt int64 `json:"created_at"`
	Content   struct {
		Metadata struct {
			Name   string `json:"name"`
			Symbol string `json:"symbol"`
		} `json:"metadata"`
		Links map[string]string `json:"links"`
	} `json:"content"`
	Authorities []struct {
		Address string   `json:"address"`
		Scopes  []string `json:"scopes"`
	} `json:"authorities"`
	TokenInfo struct {
		Supply          float64 `json:"supply"`
		Decimals        int     `json:"decimals"`
		MintAuthority   string  `json:"mint_authority"`
		FreezeAuthority string  `json:"freeze_authority"`
		Holders         []struct {
			Amount string `json:"amount"`
		} `json:"holders"`
	} `json:"token_info"`
}

type largestAccountsResult struct {
	Value []struct {
		UIAmount float64 `json:"uiAmount"`
	} `json:"value"`
}

type supplyResult struct {
	Value struct {
		UIAmount float64 `json:"uiAmount"`
	} `json:"value"`
}

// FetchHolders returns mint account state plus holder concentration for one
// mint. Two RPC calls: getAsset for metadata and authority flags,
// getTokenLargestAccounts vs getTokenSupply for top-10 concentration.
func (c *Client) FetchHolders(ctx context.Context, mint token.Mint) (*token.HolderData, error) {
	var asset assetResult
	if err := c.call(ctx, "getAsset", map[string]any{"id": string(mint)}, &asset); err != nil {
		return nil, err
	}
	if asset.Interface == "" {
		return nil, enrich.ErrNoData
	}

	data := &token.HolderData{
		Name:              asset.Content.Metadata.Name,
		Symbol:            asset.Content.Metadata.Symbol,
		HolderCount:       len(asset.TokenInfo.Holders),
		MintAuthorityOn:   asset.TokenInfo.MintAuthority != "",
		FreezeAuthorityOn: asset.TokenInfo.FreezeAuthority != "",
	}
	// Mint account creation time anchors token age; downstream falls back to
	// pool creation when this is absent.
	if asset.CreatedAt > 0 {
		data.CreatedAt = time.Unix(asset.CreatedAt, 0).UTC()
	}
	if len(asset.Authorities) > 0 {
		data.CreatorAddress = asset.Authorities[0].Address
	}
	if len(asset.Content.Links) > 0 {
		data.Socials = make(map[string]string, len(asset.Content.Links))
		for k, v := range asset.Content.Links {
			if v != "" {
				data.Socials[k] = v
			}
		}
	}

	// Concentration is best-effort: its absence must not take the whole
	// holders category down.
	var largest largestAccountsResult
	var supply supplyResult
	if err := c.call(ctx, "getTokenLargestAccounts", []any{string(mint)}, &largest); err == nil {
		if err := c.call(ctx, "getTokenSupply", []any{string(mint)}, &supply); err == nil && supply.Value.UIAmount > 0 {
			sum := 0.0
			for i, acct := range largest.Value {
				if i >= 10 {
					break
				}
				sum += acct.UIAmount
			}
			data.Top10Pct = sum / supply.Value.UIAmount * 100
		}
	}

	return data, nil
}

type transactionResult struct {
	Meta struct {
		Err               any `json:"err"`
		PostTokenBalances []struct {
			Mint string `json:"mint"`
		} `json:"postTokenBalances"`
	} `json:"meta"`
}

// ResolveMints extracts the non-quote token mints touched by a transaction.
// Used by the logs firehose, which only sees signatures.
func (c *Client) ResolveMints(ctx context.Context, signature string) ([]token.Mint, error) {
	params := []any{
		signature,
		map[string]any{"encoding": "jsonParsed", "maxSupportedTransactionVersion": 0},
	}
	var tx transactionResult
	if err := c.call(ctx, "getTransaction", params, &tx); err != nil {
		return nil, err
	}
	if tx.Meta.Err != nil {
		return nil, nil
	}

	seen := make(map[string]bool)
	var mints []token.Mint
	for _, bal := range tx.Meta.PostTokenBalances {
		if bal.Mint == "" || quoteMints[bal.Mint] || seen[bal.Mint] {
			continue
		}
		seen[bal.Mint] = true
		mints = append(mints, token.Mint(bal.Mint))
	}
	return mints, nil
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
