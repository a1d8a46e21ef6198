package stub

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/potwatch/potwatch/internal/token"
)

// Provider serves deterministic synthetic data for every category, keyed by
// a hash of the mint. Used for offline runs and wiring tests; no network.
type Provider struct {
	clock func() time.Time
}

// New creates a stub provider.
func New() *Provider {
	return &Provider{clock: time.Now}
}

func (p *Provider) Name() string { return "stub" }

func seed(mint token.Mint) uint64 {
	h := fnv.New64a()
	h.Write([]byte(mint))
	return h.Sum64()
}

func (p *Provider) FetchMarket(ctx context.Context, mint token.Mint) (*token.MarketData, error) {
	s := seed(mint)
	liq := int64(500 + s%50_000)
	vol := int64(s % 120_000)
	return &token.MarketData{
		PriceUSD:          decimal.NewFromFloat(float64(s%10_000) / 1e6),
		LiquidityUSD:      decimal.NewFromInt(liq),
		MarketCapUSD:      decimal.NewFromInt(liq * 4),
		Volume24hUSD:      decimal.NewFromInt(vol),
		PriceChange24hPct: float64(int64(s%400) - 200),
		PoolCreatedAt:     p.clock().Add(-time.Duration(s%72) * time.Hour).UTC(),
	}, nil
}

func (p *Provider) FetchHolders(ctx context.Context, mint token.Mint) (*token.HolderData, error) {
	s := seed(mint)
	return &token.HolderData{
		Name:              "Stub " + string(mint[:min(6, len(mint))]),
		Symbol:            "STUB",
		HolderCount:       int(50 + s%5000),
		Top10Pct:          float64(s % 95),
		MintAuthorityOn:   s%7 == 0,
		FreezeAuthorityOn: s%11 == 0,
	}, nil
}

func (p *Provider) FetchRisk(ctx context.Context, mint token.Mint) (*token.RiskData, error) {
	s := seed(mint)
	data := &token.RiskData{}
	if s%13 == 0 {
		data.HighRisk = true
		data.Labels = []string{"synthetic danger"}
	}
	return data, nil
}

func (p *Provider) FetchRoute(ctx context.Context, mint token.Mint) (*token.RouteData, error) {
	s := seed(mint)
	return &token.RouteData{
		Tradeable: s%17 != 0,
		CheckedAt: p.clock().UTC(),
	}, nil
}
