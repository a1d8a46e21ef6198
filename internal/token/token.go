package token

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Core domain types — tokens, snapshots, scores, buckets
// ---------------------------------------------------------------------------

// Mint is the on-chain identifier of a token (base58 Solana address).
type Mint string

// Bucket is a lifecycle classification label. Membership is derived from
// token attributes on each classification pass, never maintained as a
// separately-mutated list.
type Bucket string

const (
	BucketHatching  Bucket = "hatching"
	BucketFresh     Bucket = "fresh"
	BucketCooking   Bucket = "cooking"
	BucketTop       Bucket = "top"
	BucketScrapHeap Bucket = "scrapheap"
)

// Buckets lists all buckets in lifecycle order.
func Buckets() []Bucket {
	return []Bucket{BucketHatching, BucketFresh, BucketCooking, BucketTop, BucketScrapHeap}
}

// Valid reports whether b is a known bucket label.
func (b Bucket) Valid() bool {
	switch b {
	case BucketHatching, BucketFresh, BucketCooking, BucketTop, BucketScrapHeap:
		return true
	}
	return false
}

// Grade is the human-facing quality tier derived from FinalScore.
type Grade string

const (
	GradeMoonshot  Grade = "MOONSHOT"  // final >= 85
	GradePromising Grade = "PROMISING" // final >= 65
	GradeRisky     Grade = "RISKY"     // final >= 40
	GradeDanger    Grade = "DANGER"    // everything else
)

// GradeFor maps a FinalScore to its grade. The thresholds are design
// constants, not configuration.
func GradeFor(final float64) Grade {
	switch {
	case final >= 85:
		return GradeMoonshot
	case final >= 65:
		return GradePromising
	case final >= 40:
		return GradeRisky
	default:
		return GradeDanger
	}
}

// Score is the derived score triple plus data-quality confidence.
// It is recomputed on every snapshot refresh and never mutated elsewhere.
type Score struct {
	Safety     float64 `json:"safety"`     // 0-100
	Momentum   float64 `json:"momentum"`   // 0-100
	Final      float64 `json:"final"`      // 0-100, age-blended and confidence-dragged
	Confidence float64 `json:"confidence"` // 0-1, fraction of evidenced categories
}

// Grade returns the grade for the final score.
func (s Score) Grade() Grade { return GradeFor(s.Final) }

// Category identifies an enrichment data category. Each category has its own
// provider fallback chain and fails independently of the others.
type Category string

const (
	CategoryMarket  Category = "market"
	CategoryHolders Category = "holders"
	CategoryRisk    Category = "risk"
	CategoryRoute   Category = "route"
)

// Categories lists all enrichment categories.
func Categories() []Category {
	return []Category{CategoryMarket, CategoryHolders, CategoryRisk, CategoryRoute}
}

// Provenance records which provider supplied each snapshot category.
// Absent categories have no entry.
type Provenance map[Category]string

// MarketData is the market-facing slice of a snapshot.
type MarketData struct {
	PriceUSD          decimal.Decimal `json:"price_usd"`
	LiquidityUSD      decimal.Decimal `json:"liquidity_usd"`
	MarketCapUSD      decimal.Decimal `json:"market_cap_usd"`
	Volume24hUSD      decimal.Decimal `json:"volume_24h_usd"`
	PriceChange24hPct float64         `json:"price_change_24h_pct"`
	PoolCreatedAt     time.Time       `json:"pool_created_at,omitempty"`
}

// HolderData is creator/holder metadata plus mint account state.
type HolderData struct {
	Name              string            `json:"name,omitempty"`
	Symbol            string            `json:"symbol,omitempty"`
	HolderCount       int               `json:"holder_count,omitempty"`
	Top10Pct          float64           `json:"top10_pct,omitempty"`
	MintAuthorityOn   bool              `json:"mint_authority_on"`
	FreezeAuthorityOn bool              `json:"freeze_authority_on"`
	CreatorAddress    string            `json:"creator_address,omitempty"`
	CreatorTokenCount int               `json:"creator_token_count,omitempty"`
	CreatedAt         time.Time         `json:"created_at,omitempty"`
	Socials           map[string]string `json:"socials,omitempty"`
}

// RiskData holds third-party risk labels for a token.
type RiskData struct {
	Labels   []string `json:"labels,omitempty"`
	HighRisk bool     `json:"high_risk"`
}

// RouteData is the result of a route-sanity check: can this token actually
// be traded through a swap route, or is it walled off.
type RouteData struct {
	Tradeable bool      `json:"tradeable"`
	CheckedAt time.Time `json:"checked_at"`
}

// Snapshot is an immutable, provenance-tagged enrichment result for one
// token at one point in time. Nil category pointers mean the category was
// absent from every provider — absence is recorded, never fabricated.
type Snapshot struct {
	Mint       Mint        `json:"mint"`
	Market     *MarketData `json:"market,omitempty"`
	Holders    *HolderData `json:"holders,omitempty"`
	Risk       *RiskData   `json:"risk,omitempty"`
	Route      *RouteData  `json:"route,omitempty"`
	Provenance Provenance  `json:"provenance,omitempty"`
	CapturedAt time.Time   `json:"captured_at"`
}

// Staleness returns how old the snapshot is.
func (s *Snapshot) Staleness(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}

// Stale reports whether the snapshot is older than the freshness threshold.
func (s *Snapshot) Stale(now time.Time, threshold time.Duration) bool {
	return s.Staleness(now) > threshold
}

// PresentCategories counts how many enrichment categories carry data.
func (s *Snapshot) PresentCategories() int {
	n := 0
	if s.Market != nil {
		n++
	}
	if s.Holders != nil {
		n++
	}
	if s.Risk != nil {
		n++
	}
	if s.Route != nil {
		n++
	}
	return n
}

// CreatedAt returns the best-known creation time of the token: mint account
// creation if the holders category saw one, otherwise pool creation time.
// The zero time means age is unknown.
func (s *Snapshot) CreatedAt() time.Time {
	if s.Holders != nil && !s.Holders.CreatedAt.IsZero() {
		return s.Holders.CreatedAt
	}
	if s.Market != nil && !s.Market.PoolCreatedAt.IsZero() {
		return s.Market.PoolCreatedAt
	}
	return time.Time{}
}

// Token is one tracked entry in the pot. The snapshot pointer is owned and
// replaced wholesale on each successful analysis pass, together with the
// bucket label and score, by exactly one pass per token at a time.
type Token struct {
	Mint                 Mint            `json:"mint"`
	DiscoveredAt         time.Time       `json:"discovered_at"`
	Bucket               Bucket          `json:"bucket"`
	BucketSince          time.Time       `json:"bucket_since,omitempty"`
	LastAnalyzedAt       time.Time       `json:"last_analyzed_at,omitempty"`
	Snapshot             *Snapshot       `json:"snapshot,omitempty"`
	Score                Score           `json:"score"`
	LiquidityAtAdmission decimal.Decimal `json:"liquidity_at_admission"`
	RouteTradeable       bool            `json:"route_tradeable"`
	Source               string          `json:"source,omitempty"`
}

// Age returns the token's age and whether it is actually known. On-chain
// creation time wins when a snapshot saw one; discovery time is only a
// lower bound, so age from discovery alone is reported as unknown — an old
// token first observed late must not pass for a newborn.
func (t *Token) Age(now time.Time) (time.Duration, bool) {
	if t.Snapshot != nil {
		if created := t.Snapshot.CreatedAt(); !created.IsZero() {
			return now.Sub(created), true
		}
	}
	return now.Sub(t.DiscoveredAt), false
}

// SinceDiscovery returns time elapsed since the token was first observed.
func (t *Token) SinceDiscovery(now time.Time) time.Duration {
	return now.Sub(t.DiscoveredAt)
}

// Candidate is the event shape a discovery ingestor emits: a mint observed
// on a streaming source. Duplicate delivery is expected; the pot deduplicates.
type Candidate struct {
	Mint                Mint
	ObservedAt          time.Time
	InitialLiquidityUSD *decimal.Decimal // nil when the source carries no liquidity hint
	Source              string
}
