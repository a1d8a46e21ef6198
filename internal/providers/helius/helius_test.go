package helius

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potwatch/potwatch/internal/token"
)

func rpcServer(t *testing.T, results map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, ok := results[req.Method]
		if !ok {
			w.Write([]byte(`{"error": {"code": -32601, "message": "method not found"}}`))
			return
		}
		w.Write([]byte(`{"result": ` + result + `}`))
	}))
}

func TestFetchHolders(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"getAsset": `{
			"interface": "FungibleToken",
			"created_at": 1735689600,
			"content": {
				"metadata": {"name": "Moon Cat", "symbol": "MCAT"},
				"links": {"twitter": "https://x.com/mooncat", "website": ""}
			},
			"authorities": [{"address": "CreatorPubkey111", "scopes": ["full"]}],
			"token_info": {
				"supply": 1000000, "decimals": 6, "mint_authority": "Auth111", "freeze_authority": "",
				"holders": [{"amount": "300000"}, {"amount": "200000"}, {"amount": "100"}]
			}
		}`,
		"getTokenLargestAccounts": `{"value": [{"uiAmount": 300000}, {"uiAmount": 200000}]}`,
		"getTokenSupply":          `{"value": {"uiAmount": 1000000}}`,
	})
	defer srv.Close()

	c := New(srv.URL)
	data, err := c.FetchHolders(context.Background(), "mintA")
	require.NoError(t, err)

	assert.Equal(t, "Moon Cat", data.Name)
	assert.Equal(t, "MCAT", data.Symbol)
	assert.True(t, data.MintAuthorityOn)
	assert.False(t, data.FreezeAuthorityOn)
	assert.Equal(t, "CreatorPubkey111", data.CreatorAddress)
	assert.Equal(t, map[string]string{"twitter": "https://x.com/mooncat"}, data.Socials)
	assert.Equal(t, 3, data.HolderCount)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), data.CreatedAt)
	assert.InDelta(t, 50.0, data.Top10Pct, 0.001)
}

func TestFetchHoldersWithoutCreationTime(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"getAsset": `{"interface": "FungibleToken", "content": {"metadata": {"symbol": "X"}}, "token_info": {}}`,
	})
	defer srv.Close()

	c := New(srv.URL)
	data, err := c.FetchHolders(context.Background(), "mintA")
	require.NoError(t, err)
	assert.True(t, data.CreatedAt.IsZero())
	assert.Equal(t, 0, data.HolderCount)
}

func TestFetchHoldersConcentrationBestEffort(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"getAsset": `{"interface": "FungibleToken", "content": {"metadata": {"symbol": "X"}}, "token_info": {}}`,
	})
	defer srv.Close()

	c := New(srv.URL)
	data, err := c.FetchHolders(context.Background(), "mintA")
	require.NoError(t, err)
	assert.Equal(t, 0.0, data.Top10Pct)
}

func TestResolveMintsFiltersQuoteMints(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"getTransaction": `{
			"meta": {
				"err": null,
				"postTokenBalances": [
					{"mint": "So11111111111111111111111111111111111111112"},
					{"mint": "NewTokenMint11111111111111111111111111111111"},
					{"mint": "NewTokenMint11111111111111111111111111111111"}
				]
			}
		}`,
	})
	defer srv.Close()

	c := New(srv.URL)
	mints, err := c.ResolveMints(context.Background(), "sig123")
	require.NoError(t, err)
	assert.Equal(t, []token.Mint{"NewTokenMint11111111111111111111111111111111"}, mints)
}

func TestResolveMintsFailedTransaction(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"getTransaction": `{"meta": {"err": {"InstructionError": [0, "Custom"]}, "postTokenBalances": [{"mint": "SomeMint"}]}}`,
	})
	defer srv.Close()

	c := New(srv.URL)
	mints, err := c.ResolveMints(context.Background(), "sig123")
	require.NoError(t, err)
	assert.Empty(t, mints)
}
