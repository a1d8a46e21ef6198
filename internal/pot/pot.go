package pot

// -----------------------------------------------------------------------------
// Pot - bounded working set of tracked tokens
// -----------------------------------------------------------------------------
//
// The pot owns admission, eviction and bucket membership. It is the only
// shared mutable structure in the engine: the map lock covers membership
// changes, a per-entry lock covers everything inside one token, and
// cross-mint reads (ListFor, eviction scan) copy entries out instead of
// holding the map lock through analysis.

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/potwatch/potwatch/internal/token"
)

// ErrNotFound is returned when a mint is not tracked.
var ErrNotFound = errors.New("pot: mint not tracked")

// RejectReason explains why a candidate was not admitted.
type RejectReason string

const (
	RejectNone       RejectReason = ""
	RejectDuplicate  RejectReason = "duplicate"
	RejectBelowFloor RejectReason = "below_floor"
	RejectPotFull    RejectReason = "pot_full_no_evictable"
)

// ReleaseReason explains a logical eviction from the working set.
type ReleaseReason string

const (
	ReleaseCapacity  ReleaseReason = "capacity_pressure"
	ReleaseRetention ReleaseReason = "retention_expiry"
	ReleaseManual    ReleaseReason = "manual_purge"
)

// AdmitResult reports the outcome of one admission attempt.
type AdmitResult struct {
	Admitted bool
	Reason   RejectReason
	Evicted  token.Mint // non-empty when admission displaced a member
}

// Config holds the pot's admission knobs.
type Config struct {
	Capacity          int
	LiquidityFloorUSD decimal.Decimal
	GraceWindow       time.Duration // zero-liquidity newborns survive this long
}

type tracked struct {
	mu        sync.Mutex
	tok       token.Token
	analyzing bool
}

// Pot is the bounded set of currently tracked tokens.
type Pot struct {
	cfg Config

	mu     sync.RWMutex
	tokens map[token.Mint]*tracked

	admitted      atomic.Int64
	rejectedDup   atomic.Int64
	rejectedFloor atomic.Int64
	rejectedFull  atomic.Int64
	evictions     atomic.Int64
	releases      atomic.Int64
}

// New creates an empty pot with the given admission config.
func New(cfg Config) *Pot {
	return &Pot{
		cfg:    cfg,
		tokens: make(map[token.Mint]*tracked, cfg.Capacity),
	}
}

// Admit attempts to add a candidate to the working set. Idempotent: a mint
// already tracked is a duplicate no-op. A candidate carrying a known
// sub-floor liquidity hint is rejected before any eviction runs; eviction
// never fires on behalf of a candidate that would itself be rejected.
func (p *Pot) Admit(cand token.Candidate, now time.Time) AdmitResult {
	if cand.InitialLiquidityUSD != nil &&
		cand.InitialLiquidityUSD.IsPositive() &&
		cand.InitialLiquidityUSD.LessThan(p.cfg.LiquidityFloorUSD) {
		p.rejectedFloor.Add(1)
		return AdmitResult{Reason: RejectBelowFloor}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.tokens[cand.Mint]; ok {
		p.rejectedDup.Add(1)
		return AdmitResult{Reason: RejectDuplicate}
	}

	var evicted token.Mint
	if len(p.tokens) >= p.cfg.Capacity {
		victim := p.victimLocked(now)
		if victim == "" {
			p.rejectedFull.Add(1)
			log.Warn().Str("mint", string(cand.Mint)).Msg("pot: at capacity with no evictable member, candidate dropped")
			return AdmitResult{Reason: RejectPotFull}
		}
		delete(p.tokens, victim)
		p.evictions.Add(1)
		evicted = victim
		log.Debug().
			Str("evicted", string(victim)).
			Str("for", string(cand.Mint)).
			Msg("pot: capacity eviction")
	}

	liq := decimal.Zero
	if cand.InitialLiquidityUSD != nil {
		liq = *cand.InitialLiquidityUSD
	}
	p.tokens[cand.Mint] = &tracked{tok: token.Token{
		Mint:                 cand.Mint,
		DiscoveredAt:         cand.ObservedAt,
		Bucket:               token.BucketHatching,
		BucketSince:          now,
		LiquidityAtAdmission: liq,
		Source:               cand.Source,
	}}
	p.admitted.Add(1)
	return AdmitResult{Admitted: true, Evicted: evicted}
}

// victimLocked picks the lowest-priority member for capacity eviction:
// any ScrapHeap entry first, then the oldest Hatching entry still below the
// liquidity floor past its grace window, then the lowest FinalScore overall.
// Members mid-analysis and Top members are never displaced. Caller holds mu.
func (p *Pot) victimLocked(now time.Time) token.Mint {
	var (
		scrap        token.Mint
		subFloor     token.Mint
		subFloorAge  time.Duration
		lowest       token.Mint
		lowestScore  = 101.0
	)

	for mint, tr := range p.tokens {
		tr.mu.Lock()
		tok := tr.tok
		busy := tr.analyzing
		tr.mu.Unlock()

		if busy || tok.Bucket == token.BucketTop {
			continue
		}
		if tok.Bucket == token.BucketScrapHeap {
			scrap = mint
			break
		}
		if tok.Bucket == token.BucketHatching &&
			tok.SinceDiscovery(now) > p.cfg.GraceWindow &&
			belowFloor(&tok, p.cfg.LiquidityFloorUSD) {
			if age := tok.SinceDiscovery(now); subFloor == "" || age > subFloorAge {
				subFloor, subFloorAge = mint, age
			}
		}
		if tok.Score.Final < lowestScore {
			lowest, lowestScore = mint, tok.Score.Final
		}
	}

	switch {
	case scrap != "":
		return scrap
	case subFloor != "":
		return subFloor
	default:
		return lowest
	}
}

func belowFloor(tok *token.Token, floor decimal.Decimal) bool {
	if tok.Snapshot != nil && tok.Snapshot.Market != nil {
		return tok.Snapshot.Market.LiquidityUSD.LessThan(floor)
	}
	return tok.LiquidityAtAdmission.LessThan(floor)
}

// Release logically evicts a mint from the working set. Idempotent.
func (p *Pot) Release(mint token.Mint, reason ReleaseReason) {
	p.mu.Lock()
	_, ok := p.tokens[mint]
	if ok {
		delete(p.tokens, mint)
	}
	p.mu.Unlock()

	if ok {
		p.releases.Add(1)
		log.Debug().Str("mint", string(mint)).Str("reason", string(reason)).Msg("pot: released")
	}
}

// Get returns a copy of the tracked token.
func (p *Pot) Get(mint token.Mint) (token.Token, bool) {
	p.mu.RLock()
	tr, ok := p.tokens[mint]
	p.mu.RUnlock()
	if !ok {
		return token.Token{}, false
	}

	tr.mu.Lock()
	tok := tr.tok
	tr.mu.Unlock()
	return tok, true
}

// Update applies fn to the tracked token under its entry lock. The snapshot,
// bucket and score are replaced together inside one critical section, so no
// reader ever sees a bucket label without the snapshot that justifies it.
func (p *Pot) Update(mint token.Mint, fn func(*token.Token)) error {
	p.mu.RLock()
	tr, ok := p.tokens[mint]
	p.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	tr.mu.Lock()
	fn(&tr.tok)
	tr.mu.Unlock()
	return nil
}

// TryBeginAnalysis marks a mint as having an analysis pass in flight.
// Returns false if one is already running or the mint is gone; the caller
// drops the pass rather than queueing a second one.
func (p *Pot) TryBeginAnalysis(mint token.Mint) bool {
	p.mu.RLock()
	tr, ok := p.tokens[mint]
	p.mu.RUnlock()
	if !ok {
		return false
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.analyzing {
		return false
	}
	tr.analyzing = true
	return true
}

// EndAnalysis clears the in-flight mark. Safe to call after a Release.
func (p *Pot) EndAnalysis(mint token.Mint) {
	p.mu.RLock()
	tr, ok := p.tokens[mint]
	p.mu.RUnlock()
	if !ok {
		return
	}

	tr.mu.Lock()
	tr.analyzing = false
	tr.mu.Unlock()
}

// ListFor returns point-in-time copies of the members of one bucket.
func (p *Pot) ListFor(bucket token.Bucket) []token.Token {
	return p.collect(func(t *token.Token) bool { return t.Bucket == bucket })
}

// All returns point-in-time copies of every tracked token.
func (p *Pot) All() []token.Token {
	return p.collect(func(*token.Token) bool { return true })
}

func (p *Pot) collect(keep func(*token.Token) bool) []token.Token {
	p.mu.RLock()
	entries := make([]*tracked, 0, len(p.tokens))
	for _, tr := range p.tokens {
		entries = append(entries, tr)
	}
	p.mu.RUnlock()

	out := make([]token.Token, 0, len(entries))
	for _, tr := range entries {
		tr.mu.Lock()
		tok := tr.tok
		tr.mu.Unlock()
		if keep(&tok) {
			out = append(out, tok)
		}
	}
	return out
}

// Len returns the current number of tracked tokens.
func (p *Pot) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tokens)
}

// Stats is a point-in-time snapshot of pot counters.
type Stats struct {
	Size              int   `json:"size"`
	Admitted          int64 `json:"admitted"`
	RejectedDuplicate int64 `json:"rejected_duplicate"`
	RejectedFloor     int64 `json:"rejected_floor"`
	RejectedFull      int64 `json:"rejected_full"`
	Evictions         int64 `json:"evictions"`
	Releases          int64 `json:"releases"`
}

// Stats returns current counters.
func (p *Pot) Stats() Stats {
	return Stats{
		Size:              p.Len(),
		Admitted:          p.admitted.Load(),
		RejectedDuplicate: p.rejectedDup.Load(),
		RejectedFloor:     p.rejectedFloor.Load(),
		RejectedFull:      p.rejectedFull.Load(),
		Evictions:         p.evictions.Load(),
		Releases:          p.releases.Load(),
	}
}
