package scoring

// -----------------------------------------------------------------------------
// Scoring Engine
// -----------------------------------------------------------------------------
//
// Pure, deterministic mapping from (snapshot, age) to a score. Scoring never
// fails: absent categories drag Confidence instead of aborting the pass, so
// a token with thin data can never outscore a well-evidenced one at the same
// raw blend.

import (
	"math"
	"time"

	"github.com/potwatch/potwatch/internal/token"
)

const (
	safetyBase           = 80.0
	authorityPenalty     = 60.0
	rugHighRiskPenalty   = 30.0
	creatorPenaltyStart  = 5
	creatorPenaltyPer    = 3.0
	creatorPenaltyCap    = 25.0
	socialPresenceBonus  = 5.0
	ageUnknownConfidence = 0.6
)

// Concentration penalties, highest threshold checked first.
var concentrationTiers = []struct {
	thresholdPct float64
	penalty      float64
}{
	{80, 40},
	{60, 25},
	{40, 10},
}

// Momentum expectations scale with age: a day-old token is held to higher
// liquidity and volume norms than one minted an hour ago.
type ageBracket struct {
	maxAgeMinutes float64 // 0 = no upper bound
	liqNorm       float64
	volNorm       float64
	mcapNorm      float64
	cap           float64
}

var ageBrackets = []ageBracket{
	{maxAgeMinutes: 60, liqNorm: 5_000, volNorm: 10_000, mcapNorm: 25_000, cap: 90},
	{maxAgeMinutes: 1440, liqNorm: 5_000, volNorm: 25_000, mcapNorm: 50_000, cap: 90},
	{maxAgeMinutes: 0, liqNorm: 25_000, volNorm: 50_000, mcapNorm: 250_000, cap: 100},
}

const (
	liqWeight  = 0.35
	volWeight  = 0.35
	mcapWeight = 0.20
)

// Desperation clamps for stale markets: old tokens with no volume cannot
// ride their liquidity norm to a respectable momentum score. First match
// wins.
var volumeClamps = []struct {
	minAgeMinutes float64
	maxVolume     float64
	cap           float64
}{
	{1440, 1_000, 20},
	{360, 500, 25},
	{0, 100, 15},
}

// Compute scores one snapshot. age is only honored when ageKnown; unknown
// age selects the youngest bracket and caps Confidence.
func Compute(snap *token.Snapshot, age time.Duration, ageKnown bool) token.Score {
	safety := safetyScore(snap)
	momentum := momentumScore(snap, age, ageKnown)
	confidence := Confidence(snap, ageKnown)

	return token.Score{
		Safety:     safety,
		Momentum:   momentum,
		Final:      clamp(Blend(safety, momentum, age)*confidence, 0, 100),
		Confidence: confidence,
	}
}

// Blend combines safety and momentum with age-dependent weights. Young
// tokens are judged evenly; for mature ones momentum dominates because
// on-chain authority risks have already had time to fire.
func Blend(safety, momentum float64, age time.Duration) float64 {
	ageDays := age.Hours() / 24
	switch {
	case ageDays < 7:
		return safety*0.5 + momentum*0.5
	case ageDays <= 30:
		return safety*0.35 + momentum*0.65
	default:
		return safety*0.25 + momentum*0.75
	}
}

// Confidence is the fraction of enrichment categories that carry data,
// capped when age is unknown. All-absent snapshots score zero confidence.
func Confidence(snap *token.Snapshot, ageKnown bool) float64 {
	if snap == nil {
		return 0
	}
	c := float64(snap.PresentCategories()) / float64(len(token.Categories()))
	if !ageKnown {
		c = math.Min(c, ageUnknownConfidence)
	}
	return c
}

// safetyScore rates immediate on-chain rug risk. Starts from a neutral base
// and applies penalties for what the data actually shows; missing holder or
// risk data leaves the base untouched and is paid for via Confidence.
func safetyScore(snap *token.Snapshot) float64 {
	score := safetyBase

	if h := holders(snap); h != nil {
		if h.MintAuthorityOn || h.FreezeAuthorityOn {
			score -= authorityPenalty
		}
		for _, tier := range concentrationTiers {
			if h.Top10Pct >= tier.thresholdPct {
				score -= tier.penalty
				break
			}
		}
		if h.CreatorTokenCount > creatorPenaltyStart {
			over := float64(h.CreatorTokenCount - creatorPenaltyStart)
			score -= math.Min(over*creatorPenaltyPer, creatorPenaltyCap)
		}
	}
	if snap != nil && snap.Risk != nil && snap.Risk.HighRisk {
		score -= rugHighRiskPenalty
	}

	return clamp(score, 0, 100)
}

// momentumScore rates market health with age-aware expectations using
// saturation curves x/(x+k): linear near zero, diminishing toward 1.
func momentumScore(snap *token.Snapshot, age time.Duration, ageKnown bool) float64 {
	m := market(snap)
	if m == nil {
		return 0
	}

	ageMinutes := 0.0
	if ageKnown {
		ageMinutes = age.Minutes()
	}
	bracket := bracketFor(ageMinutes)

	liq := m.LiquidityUSD.InexactFloat64()
	vol := m.Volume24hUSD.InexactFloat64()
	mcap := m.MarketCapUSD.InexactFloat64()

	score := liqWeight*100*saturate(liq, bracket.liqNorm) +
		volWeight*100*saturate(vol, bracket.volNorm) +
		mcapWeight*100*saturate(mcap, bracket.mcapNorm)

	if h := holders(snap); h != nil && len(h.Socials) > 0 {
		score += socialPresenceBonus
	}

	for _, c := range volumeClamps {
		if ageMinutes >= c.minAgeMinutes && vol < c.maxVolume {
			score = math.Min(score, c.cap)
			break
		}
	}
	// Flatline clamp: no volume and no price movement is a dead market
	// regardless of what the pool still holds.
	if vol < 100 && math.Abs(m.PriceChange24hPct) < 0.1 {
		score = math.Min(score, 10)
	}
	// Deep liquidity with no volume is parked capital, not momentum.
	if liq > 100_000 && vol < 1_000 {
		score = math.Min(score, 20)
	}

	return clamp(score, 0, bracket.cap)
}

func bracketFor(ageMinutes float64) ageBracket {
	for _, b := range ageBrackets {
		if b.maxAgeMinutes == 0 || ageMinutes < b.maxAgeMinutes {
			return b
		}
	}
	return ageBrackets[len(ageBrackets)-1]
}

func saturate(x, k float64) float64 {
	if x <= 0 {
		return 0
	}
	return x / (x + k)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func market(snap *token.Snapshot) *token.MarketData {
	if snap == nil {
		return nil
	}
	return snap.Market
}

func holders(snap *token.Snapshot) *token.HolderData {
	if snap == nil {
		return nil
	}
	return snap.Holders
}
