package birdeye

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potwatch/potwatch/internal/enrich"
)

func overviewServer(t *testing.T, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/defi/token_overview", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		w.Write([]byte(body))
	}))
}

func TestFetchMarket(t *testing.T) {
	srv := overviewServer(t, `{
		"success": true,
		"data": {"price": 0.0042, "liquidity": 18000, "mc": 95000, "realMc": 90000, "v24hUSD": 250000, "priceChange24hPercent": 12.5, "holder": 812}
	}`)
	defer srv.Close()

	c := New(srv.URL, "test-key")
	data, err := c.FetchMarket(context.Background(), "mintA")
	require.NoError(t, err)

	assert.Equal(t, "0.0042", data.PriceUSD.String())
	assert.Equal(t, "18000", data.LiquidityUSD.String())
	assert.Equal(t, "90000", data.MarketCapUSD.String())
	assert.Equal(t, "250000", data.Volume24hUSD.String())
	assert.InDelta(t, 12.5, data.PriceChange24hPct, 0.001)
}

func TestFetchHoldersMapsCount(t *testing.T) {
	srv := overviewServer(t, `{
		"success": true,
		"data": {"price": 0.0042, "liquidity": 18000, "holder": 812}
	}`)
	defer srv.Close()

	c := New(srv.URL, "test-key")
	data, err := c.FetchHolders(context.Background(), "mintA")
	require.NoError(t, err)
	assert.Equal(t, 812, data.HolderCount)
}

func TestFetchHoldersNoCountIsNoData(t *testing.T) {
	srv := overviewServer(t, `{
		"success": true,
		"data": {"price": 0.0042, "liquidity": 18000, "holder": 0}
	}`)
	defer srv.Close()

	c := New(srv.URL, "test-key")
	_, err := c.FetchHolders(context.Background(), "mintA")
	assert.ErrorIs(t, err, enrich.ErrNoData)
}
