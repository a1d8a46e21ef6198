package enrich

// -----------------------------------------------------------------------------
// Enrichment Aggregator
// -----------------------------------------------------------------------------
//
// One Enrich call fans out to the four data categories concurrently, walks
// each category's provider chain sequentially until one answers, and merges
// the results into a single provenance-tagged snapshot. A category where
// every provider fails is recorded as absent, never filled with defaults.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/potwatch/potwatch/internal/token"
)

// ErrNoData marks expected absence: the provider answered but has never seen
// the mint. It falls through to the next provider in the chain without
// counting as a provider failure.
var ErrNoData = errors.New("enrich: no data for mint")

// Capability interfaces. A concrete provider implements whichever categories
// it can serve.
type MarketProvider interface {
	Name() string
	FetchMarket(ctx context.Context, mint token.Mint) (*token.MarketData, error)
}

type HolderProvider interface {
	Name() string
	FetchHolders(ctx context.Context, mint token.Mint) (*token.HolderData, error)
}

type RiskProvider interface {
	Name() string
	FetchRisk(ctx context.Context, mint token.Mint) (*token.RiskData, error)
}

type RouteProvider interface {
	Name() string
	FetchRoute(ctx context.Context, mint token.Mint) (*token.RouteData, error)
}

// Config holds the aggregator knobs.
type Config struct {
	ProviderTimeout  time.Duration // per provider call, not per category
	RouteClampMinAge time.Duration // no-route clamp only past this age
}

// Aggregator merges provider responses into snapshots. Provider chains are
// ordered: earlier entries are preferred, later ones are fallbacks.
type Aggregator struct {
	cfg     Config
	market  []MarketProvider
	holders []HolderProvider
	risk    []RiskProvider
	route   []RouteProvider

	enrichments    atomic.Int64
	categoryMisses atomic.Int64
	routeClamps    atomic.Int64
}

// New creates an aggregator over the given provider chains. Empty chains are
// legal; their category is always absent.
func New(cfg Config, market []MarketProvider, holders []HolderProvider, risk []RiskProvider, route []RouteProvider) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		market:  market,
		holders: holders,
		risk:    risk,
		route:   route,
	}
}

// Enrich produces one snapshot for the mint. It never fails on provider
// errors; the only error path is context cancellation. Absent categories
// stay nil and drag the score's confidence instead.
func (a *Aggregator) Enrich(ctx context.Context, mint token.Mint) (*token.Snapshot, error) {
	snap := &token.Snapshot{
		Mint:       mint,
		Provenance: token.Provenance{},
		CapturedAt: time.Now().UTC(),
	}

	var (
		market  *token.MarketData
		holders *token.HolderData
		risk    *token.RiskData
		route   *token.RouteData

		marketProv, holdersProv, riskProv, routeProv string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		market, marketProv = fetchChain(gctx, a.cfg.ProviderTimeout, mint, token.CategoryMarket, a.market,
			MarketProvider.FetchMarket)
		return nil
	})
	g.Go(func() error {
		holders, holdersProv = fetchChain(gctx, a.cfg.ProviderTimeout, mint, token.CategoryHolders, a.holders,
			HolderProvider.FetchHolders)
		return nil
	})
	g.Go(func() error {
		risk, riskProv = fetchChain(gctx, a.cfg.ProviderTimeout, mint, token.CategoryRisk, a.risk,
			RiskProvider.FetchRisk)
		return nil
	})
	g.Go(func() error {
		route, routeProv = fetchChain(gctx, a.cfg.ProviderTimeout, mint, token.CategoryRoute, a.route,
			RouteProvider.FetchRoute)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap.Market, snap.Holders, snap.Risk, snap.Route = market, holders, risk, route
	recordProvenance(snap, token.CategoryMarket, marketProv)
	recordProvenance(snap, token.CategoryHolders, holdersProv)
	recordProvenance(snap, token.CategoryRisk, riskProv)
	recordProvenance(snap, token.CategoryRoute, routeProv)

	a.enrichments.Add(1)
	a.categoryMisses.Add(int64(len(token.Categories()) - snap.PresentCategories()))
	a.applyRouteClamp(snap)

	return snap, nil
}

// fetchChain walks one category's provider chain in order and returns the
// first well-formed result with the provider's name. ErrNoData and failures
// both fall through; only failures get logged.
func fetchChain[T any, P interface{ Name() string }](
	ctx context.Context,
	timeout time.Duration,
	mint token.Mint,
	category token.Category,
	chain []P,
	fetch func(P, context.Context, token.Mint) (*T, error),
) (*T, string) {
	for _, provider := range chain {
		if ctx.Err() != nil {
			return nil, ""
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		data, err := fetch(provider, callCtx, mint)
		cancel()

		switch {
		case err == nil && data != nil:
			return data, provider.Name()
		case errors.Is(err, ErrNoData):
			continue
		case err != nil:
			log.Debug().
				Err(err).
				Str("provider", provider.Name()).
				Str("category", string(category)).
				Str("mint", string(mint)).
				Msg("enrich: provider failed, falling through")
		}
	}
	return nil, ""
}

func recordProvenance(snap *token.Snapshot, category token.Category, provider string) {
	if provider != "" {
		snap.Provenance[category] = provider
	}
}

// applyRouteClamp zeroes liquidity and volume for a token old enough that it
// should be routable but is not. Ghost liquidity on unroutable pools would
// otherwise inflate momentum.
func (a *Aggregator) applyRouteClamp(snap *token.Snapshot) {
	if snap.Market == nil || snap.Route == nil || snap.Route.Tradeable {
		return
	}
	created := snap.CreatedAt()
	if created.IsZero() || snap.CapturedAt.Sub(created) < a.cfg.RouteClampMinAge {
		return
	}

	snap.Market.LiquidityUSD = decimal.Zero
	snap.Market.Volume24hUSD = decimal.Zero
	a.routeClamps.Add(1)
	log.Debug().Str("mint", string(snap.Mint)).Msg("enrich: no route past clamp age, liquidity zeroed")
}

// Stats is a point-in-time snapshot of aggregator counters.
type Stats struct {
	Enrichments    int64 `json:"enrichments"`
	CategoryMisses int64 `json:"category_misses"`
	RouteClamps    int64 `json:"route_clamps"`
}

func (a *Aggregator) Stats() Stats {
	return Stats{
		Enrichments:    a.enrichments.Load(),
		CategoryMisses: a.categoryMisses.Load(),
		RouteClamps:    a.routeClamps.Load(),
	}
}
