package buckets

// -----------------------------------------------------------------------------
// Bucket Classifier
// -----------------------------------------------------------------------------
//
// State machine over bucket labels, evaluated after every scoring pass. The
// transition table is ordered: kill conditions (rug label, dead liquidity,
// unroutable) pre-empt everything, then per-bucket promotion and decay rules.
// A transition touches only the bucket label; the snapshot and score that
// justify it are written in the same pot update by the caller.

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/potwatch/potwatch/internal/token"
)

// Config holds the classifier thresholds.
type Config struct {
	HatchingMaxAge      time.Duration   // ceiling before Hatching must graduate
	GraceWindow         time.Duration   // zero-liquidity newborns survive this long
	LiquidityFloorUSD   decimal.Decimal // below this a token is invisible
	VolumeSpikeMultiple float64         // Fresh -> Cooking trigger vs previous snapshot
	VisibilityFloor     float64         // FinalScore floor for Fresh/Cooking
	TopFinalThreshold   float64         // Cooking -> Top requires both sustained
	TopMomentumFloor    float64
}

// DefaultConfig mirrors the engine's standard thresholds.
func DefaultConfig() Config {
	return Config{
		HatchingMaxAge:      180 * time.Minute,
		GraceWindow:         15 * time.Minute,
		LiquidityFloorUSD:   decimal.NewFromInt(300),
		VolumeSpikeMultiple: 4,
		VisibilityFloor:     25,
		TopFinalThreshold:   75,
		TopMomentumFloor:    55,
	}
}

// Decision is one classification outcome.
type Decision struct {
	Bucket token.Bucket
	Reason string
}

// Classifier assigns bucket labels from token state.
type Classifier struct {
	cfg   Config
	rules []transition
}

const anyBucket = token.Bucket("*")

type transition struct {
	from   token.Bucket
	when   func(*evalCtx) bool
	to     token.Bucket
	reason string
}

type evalCtx struct {
	cfg  Config
	tok  *token.Token
	prev *token.Snapshot // snapshot from the previous pass, nil on first
	now  time.Time
}

// New creates a classifier with the given thresholds.
func New(cfg Config) *Classifier {
	c := &Classifier{cfg: cfg}
	c.rules = []transition{
		// Kill conditions come first and fire from any bucket.
		{anyBucket, highRisk, token.BucketScrapHeap, "rug_label"},
		{anyBucket, unroutable, token.BucketScrapHeap, "no_route"},
		{anyBucket, deadPastGrace, token.BucketScrapHeap, "floor_failed_past_grace"},
		{token.BucketFresh, belowVisibility, token.BucketScrapHeap, "below_visibility_floor"},
		{token.BucketCooking, belowVisibility, token.BucketScrapHeap, "below_visibility_floor"},

		// Promotions and decay.
		{token.BucketHatching, pastHatchingCeiling, token.BucketFresh, "hatching_ceiling"},
		{token.BucketFresh, volumeSpike, token.BucketCooking, "volume_spike"},
		{token.BucketCooking, sustainedTop, token.BucketTop, "sustained_top"},
		{token.BucketCooking, momentumFaded, token.BucketFresh, "momentum_faded"},
		{token.BucketTop, topDecayed, token.BucketCooking, "top_decay"},

		// ScrapHeap members that come back to life re-enter the rotation.
		{token.BucketScrapHeap, revived, token.BucketFresh, "revived"},
	}
	return c
}

// Classify evaluates the transition table for one token and returns the
// resulting bucket (possibly unchanged) with the transition reason.
func (c *Classifier) Classify(tok *token.Token, prev *token.Snapshot, now time.Time) Decision {
	ctx := &evalCtx{cfg: c.cfg, tok: tok, prev: prev, now: now}
	for _, rule := range c.rules {
		if rule.from != anyBucket && rule.from != tok.Bucket {
			continue
		}
		if rule.to == tok.Bucket {
			continue
		}
		if rule.when(ctx) {
			return Decision{Bucket: rule.to, Reason: rule.reason}
		}
	}
	return Decision{Bucket: tok.Bucket, Reason: "hold"}
}

func highRisk(e *evalCtx) bool {
	s := e.tok.Snapshot
	return s != nil && s.Risk != nil && s.Risk.HighRisk
}

// unroutable fires only past the grace window: a newborn without an indexed
// route yet is normal, an established token without one is walled off.
func unroutable(e *evalCtx) bool {
	s := e.tok.Snapshot
	if s == nil || s.Route == nil || s.Route.Tradeable {
		return false
	}
	return e.tok.SinceDiscovery(e.now) > e.cfg.GraceWindow
}

func liquidity(e *evalCtx) decimal.Decimal {
	s := e.tok.Snapshot
	if s != nil && s.Market != nil {
		return s.Market.LiquidityUSD
	}
	return e.tok.LiquidityAtAdmission
}

func deadPastGrace(e *evalCtx) bool {
	if e.tok.SinceDiscovery(e.now) <= e.cfg.GraceWindow {
		return false
	}
	return liquidity(e).LessThan(e.cfg.LiquidityFloorUSD)
}

func belowVisibility(e *evalCtx) bool {
	if liquidity(e).LessThan(e.cfg.LiquidityFloorUSD) {
		return true
	}
	return e.tok.Score.Final < e.cfg.VisibilityFloor
}

// pastHatchingCeiling graduates by on-chain age when known, discovery age
// otherwise. The dead-past-grace rule runs first, so anything reaching this
// point still meets the floor.
func pastHatchingCeiling(e *evalCtx) bool {
	age, known := e.tok.Age(e.now)
	if !known {
		age = e.tok.SinceDiscovery(e.now)
	}
	return age > e.cfg.HatchingMaxAge
}

func volumeSpike(e *evalCtx) bool {
	s := e.tok.Snapshot
	if s == nil || s.Market == nil || e.prev == nil || e.prev.Market == nil {
		return false
	}
	baseline := e.prev.Market.Volume24hUSD
	if !baseline.IsPositive() {
		return false
	}
	multiple := decimal.NewFromFloat(e.cfg.VolumeSpikeMultiple)
	return s.Market.Volume24hUSD.GreaterThanOrEqual(baseline.Mul(multiple))
}

func sustainedTop(e *evalCtx) bool {
	return e.tok.Score.Final >= e.cfg.TopFinalThreshold &&
		e.tok.Score.Momentum >= e.cfg.TopMomentumFloor
}

func momentumFaded(e *evalCtx) bool {
	return e.tok.Score.Momentum < e.cfg.TopMomentumFloor &&
		e.tok.Score.Final >= e.cfg.VisibilityFloor
}

func topDecayed(e *evalCtx) bool {
	return e.tok.Score.Final < e.cfg.TopFinalThreshold ||
		e.tok.Score.Momentum < e.cfg.TopMomentumFloor
}

func revived(e *evalCtx) bool {
	if highRisk(e) || unroutable(e) {
		return false
	}
	return liquidity(e).GreaterThanOrEqual(e.cfg.LiquidityFloorUSD) &&
		e.tok.Score.Final >= e.cfg.VisibilityFloor
}
