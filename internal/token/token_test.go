package token

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGradeFor(t *testing.T) {
	assert.Equal(t, GradeMoonshot, GradeFor(85))
	assert.Equal(t, GradeMoonshot, GradeFor(100))
	assert.Equal(t, GradePromising, GradeFor(65))
	assert.Equal(t, GradePromising, GradeFor(84.9))
	assert.Equal(t, GradeRisky, GradeFor(40))
	assert.Equal(t, GradeDanger, GradeFor(39.9))
	assert.Equal(t, GradeDanger, GradeFor(0))
}

func TestSnapshot_Staleness(t *testing.T) {
	now := time.Now()
	s := &Snapshot{Mint: "mint-1", CapturedAt: now.Add(-10 * time.Minute)}

	assert.False(t, s.Stale(now, 20*time.Minute))
	assert.True(t, s.Stale(now, 5*time.Minute))
	assert.Equal(t, 10*time.Minute, s.Staleness(now))
}

func TestSnapshot_CreatedAtPrefersMintAccount(t *testing.T) {
	mintCreated := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	poolCreated := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	s := &Snapshot{
		Holders: &HolderData{CreatedAt: mintCreated},
		Market:  &MarketData{PoolCreatedAt: poolCreated},
	}
	assert.Equal(t, mintCreated, s.CreatedAt())

	s.Holders = nil
	assert.Equal(t, poolCreated, s.CreatedAt())

	s.Market = nil
	assert.True(t, s.CreatedAt().IsZero())
}

func TestToken_AgeUnknownWithoutOnChainEvidence(t *testing.T) {
	now := time.Now()
	tok := &Token{Mint: "m", DiscoveredAt: now.Add(-time.Hour)}

	age, known := tok.Age(now)
	assert.False(t, known, "discovery time alone is a lower bound, not a known age")
	assert.Equal(t, time.Hour, age)

	tok.Snapshot = &Snapshot{Market: &MarketData{PoolCreatedAt: now.Add(-3 * time.Hour)}}
	age, known = tok.Age(now)
	assert.True(t, known)
	assert.Equal(t, 3*time.Hour, age)
}

// A snapshot written and re-read through JSON must preserve provenance and
// field values exactly — this is the serialization contract the store tiers
// rely on.
func TestSnapshot_JSONRoundTrip(t *testing.T) {
	captured := time.Date(2025, 7, 4, 12, 30, 0, 0, time.UTC)
	orig := Snapshot{
		Mint: "FakeMint1111111111111111111111111111111111",
		Market: &MarketData{
			PriceUSD:          decimal.NewFromFloat(0.00042),
			LiquidityUSD:      decimal.NewFromInt(12500),
			MarketCapUSD:      decimal.NewFromInt(88000),
			Volume24hUSD:      decimal.NewFromInt(31000),
			PriceChange24hPct: 14.2,
			PoolCreatedAt:     captured.Add(-2 * time.Hour),
		},
		Holders: &HolderData{
			Name:              "Fake Token",
			Symbol:            "FAKE",
			HolderCount:       312,
			Top10Pct:          34.5,
			MintAuthorityOn:   false,
			FreezeAuthorityOn: false,
			CreatorAddress:    "Creator111",
			Socials:           map[string]string{"Twitter": "https://twitter.com/fake"},
		},
		Risk:  &RiskData{Labels: []string{"low liquidity"}, HighRisk: false},
		Route: &RouteData{Tradeable: true, CheckedAt: captured},
		Provenance: Provenance{
			CategoryMarket:  "dexscreener",
			CategoryHolders: "helius",
			CategoryRisk:    "rugcheck",
			CategoryRoute:   "jupiter",
		},
		CapturedAt: captured,
	}

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var back Snapshot
	require.NoError(t, json.Unmarshal(data, &back))

	assert.Equal(t, orig.Provenance, back.Provenance)
	assert.Equal(t, orig.Mint, back.Mint)
	assert.True(t, orig.Market.LiquidityUSD.Equal(back.Market.LiquidityUSD))
	assert.True(t, orig.Market.PriceUSD.Equal(back.Market.PriceUSD))
	assert.Equal(t, orig.Holders, back.Holders)
	assert.Equal(t, orig.Risk, back.Risk)
	assert.Equal(t, orig.Route.Tradeable, back.Route.Tradeable)
	assert.True(t, orig.CapturedAt.Equal(back.CapturedAt))
	assert.Equal(t, 4, back.PresentCategories())
}
