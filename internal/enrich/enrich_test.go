package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potwatch/potwatch/internal/token"
)

type fakeMarket struct {
	name string
	data *token.MarketData
	err  error
}

func (f *fakeMarket) Name() string { return f.name }
func (f *fakeMarket) FetchMarket(ctx context.Context, mint token.Mint) (*token.MarketData, error) {
	return f.data, f.err
}

type fakeHolders struct {
	name string
	data *token.HolderData
	err  error
}

func (f *fakeHolders) Name() string { return f.name }
func (f *fakeHolders) FetchHolders(ctx context.Context, mint token.Mint) (*token.HolderData, error) {
	return f.data, f.err
}

type fakeRisk struct {
	name string
	data *token.RiskData
	err  error
}

func (f *fakeRisk) Name() string { return f.name }
func (f *fakeRisk) FetchRisk(ctx context.Context, mint token.Mint) (*token.RiskData, error) {
	return f.data, f.err
}

type fakeRoute struct {
	name string
	data *token.RouteData
	err  error
}

func (f *fakeRoute) Name() string { return f.name }
func (f *fakeRoute) FetchRoute(ctx context.Context, mint token.Mint) (*token.RouteData, error) {
	return f.data, f.err
}

type slowMarket struct{ name string }

func (s *slowMarket) Name() string { return s.name }
func (s *slowMarket) FetchMarket(ctx context.Context, mint token.Mint) (*token.MarketData, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return &token.MarketData{}, nil
	}
}

func testConfig() Config {
	return Config{
		ProviderTimeout:  500 * time.Millisecond,
		RouteClampMinAge: 3 * time.Hour,
	}
}

func TestEnrichFallbackWithinCategory(t *testing.T) {
	want := &token.MarketData{LiquidityUSD: decimal.NewFromInt(4200)}
	agg := New(testConfig(),
		[]MarketProvider{
			&fakeMarket{name: "primary", err: errors.New("rate limited")},
			&fakeMarket{name: "secondary", data: want},
		},
		nil, nil, nil)

	snap, err := agg.Enrich(context.Background(), "mintA")
	require.NoError(t, err)
	require.NotNil(t, snap.Market)
	assert.True(t, snap.Market.LiquidityUSD.Equal(want.LiquidityUSD))
	assert.Equal(t, "secondary", snap.Provenance[token.CategoryMarket])
}

func TestEnrichNoDataFallsThrough(t *testing.T) {
	agg := New(testConfig(),
		[]MarketProvider{
			&fakeMarket{name: "primary", err: ErrNoData},
			&fakeMarket{name: "secondary", data: &token.MarketData{}},
		},
		nil, nil, nil)

	snap, err := agg.Enrich(context.Background(), "mintA")
	require.NoError(t, err)
	assert.Equal(t, "secondary", snap.Provenance[token.CategoryMarket])
}

func TestEnrichAllProvidersFailCategoryAbsent(t *testing.T) {
	agg := New(testConfig(),
		[]MarketProvider{
			&fakeMarket{name: "a", err: errors.New("down")},
			&fakeMarket{name: "b", err: ErrNoData},
		},
		[]HolderProvider{&fakeHolders{name: "h", data: &token.HolderData{Symbol: "TST"}}},
		nil, nil)

	snap, err := agg.Enrich(context.Background(), "mintA")
	require.NoError(t, err)
	assert.Nil(t, snap.Market)
	require.NotNil(t, snap.Holders)
	assert.Equal(t, "TST", snap.Holders.Symbol)
	assert.NotContains(t, snap.Provenance, token.CategoryMarket)
	assert.Equal(t, 1, snap.PresentCategories())
}

func TestEnrichTimeoutTreatedAsFailure(t *testing.T) {
	agg := New(testConfig(),
		[]MarketProvider{
			&slowMarket{name: "slow"},
			&fakeMarket{name: "fast", data: &token.MarketData{}},
		},
		nil, nil, nil)

	start := time.Now()
	snap, err := agg.Enrich(context.Background(), "mintA")
	require.NoError(t, err)
	assert.Equal(t, "fast", snap.Provenance[token.CategoryMarket])
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestEnrichRouteClampZeroesGhostLiquidity(t *testing.T) {
	old := time.Now().Add(-6 * time.Hour)
	agg := New(testConfig(),
		[]MarketProvider{&fakeMarket{name: "m", data: &token.MarketData{
			LiquidityUSD:  decimal.NewFromInt(50000),
			Volume24hUSD:  decimal.NewFromInt(9000),
			PoolCreatedAt: old,
		}}},
		nil, nil,
		[]RouteProvider{&fakeRoute{name: "r", data: &token.RouteData{Tradeable: false, CheckedAt: time.Now()}}})

	snap, err := agg.Enrich(context.Background(), "mintA")
	require.NoError(t, err)
	assert.True(t, snap.Market.LiquidityUSD.IsZero())
	assert.True(t, snap.Market.Volume24hUSD.IsZero())
}

func TestEnrichRouteClampSparesNewborns(t *testing.T) {
	young := time.Now().Add(-30 * time.Minute)
	agg := New(testConfig(),
		[]MarketProvider{&fakeMarket{name: "m", data: &token.MarketData{
			LiquidityUSD:  decimal.NewFromInt(800),
			PoolCreatedAt: young,
		}}},
		nil, nil,
		[]RouteProvider{&fakeRoute{name: "r", data: &token.RouteData{Tradeable: false, CheckedAt: time.Now()}}})

	snap, err := agg.Enrich(context.Background(), "mintA")
	require.NoError(t, err)
	assert.True(t, snap.Market.LiquidityUSD.Equal(decimal.NewFromInt(800)))
}

func TestEnrichEmptyChainsProduceAbsentSnapshot(t *testing.T) {
	agg := New(testConfig(), nil, nil, nil, nil)

	snap, err := agg.Enrich(context.Background(), "mintA")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.PresentCategories())
	assert.Empty(t, snap.Provenance)
	assert.False(t, snap.CapturedAt.IsZero())
}

func TestEnrichCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agg := New(testConfig(),
		[]MarketProvider{&fakeMarket{name: "m", data: &token.MarketData{}}},
		nil, nil, nil)

	_, err := agg.Enrich(ctx, "mintA")
	assert.Error(t, err)
}
