package analyze

// -----------------------------------------------------------------------------
// Analysis pass — enrich, score, classify, persist
// -----------------------------------------------------------------------------
//
// One pass per token per cycle, single-flight. Ordering matters: the store
// write happens before the pot update, so a store outage leaves the token in
// its last known-good state and the pass is simply retried on the next tick.

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/potwatch/potwatch/internal/buckets"
	"github.com/potwatch/potwatch/internal/pot"
	"github.com/potwatch/potwatch/internal/scoring"
	"github.com/potwatch/potwatch/internal/store"
	"github.com/potwatch/potwatch/internal/token"
)

var (
	// ErrInFlight means another pass already owns this mint right now.
	ErrInFlight = errors.New("analyze: pass already in flight")
	// ErrNotTracked means the mint left the pot before the pass started.
	ErrNotTracked = errors.New("analyze: mint not tracked")
)

// Enricher produces snapshots. Implemented by the enrichment aggregator.
type Enricher interface {
	Enrich(ctx context.Context, mint token.Mint) (*token.Snapshot, error)
}

// Runner executes analysis passes against the pot.
type Runner struct {
	pot        *pot.Pot
	enricher   Enricher
	classifier *buckets.Classifier
	store      store.Store

	passes      atomic.Int64
	skipped     atomic.Int64
	failures    atomic.Int64
	transitions atomic.Int64
}

// NewRunner wires a pass runner.
func NewRunner(p *pot.Pot, enricher Enricher, classifier *buckets.Classifier, st store.Store) *Runner {
	return &Runner{pot: p, enricher: enricher, classifier: classifier, store: st}
}

// Analyze runs one full pass for a mint. Returns ErrInFlight when dropped
// due to single-flight, ErrNotTracked when the token is gone.
func (r *Runner) Analyze(ctx context.Context, mint token.Mint) error {
	if !r.pot.TryBeginAnalysis(mint) {
		if _, ok := r.pot.Get(mint); !ok {
			return ErrNotTracked
		}
		r.skipped.Add(1)
		return ErrInFlight
	}
	defer r.pot.EndAnalysis(mint)

	tok, ok := r.pot.Get(mint)
	if !ok {
		return ErrNotTracked
	}

	snap, err := r.enricher.Enrich(ctx, mint)
	if err != nil {
		r.failures.Add(1)
		return fmt.Errorf("analyze: enrich %s: %w", mint, err)
	}

	now := time.Now().UTC()
	prev := tok.Snapshot

	next := tok
	next.Snapshot = snap
	age, ageKnown := next.Age(now)
	next.Score = scoring.Compute(snap, age, ageKnown)
	if snap.Route != nil {
		next.RouteTradeable = snap.Route.Tradeable
	}

	decision := r.classifier.Classify(&next, prev, now)
	if decision.Bucket != next.Bucket {
		next.BucketSince = now
	}
	next.Bucket = decision.Bucket
	next.LastAnalyzedAt = now

	rec := store.Record{
		Mint:      mint,
		Bucket:    next.Bucket,
		Score:     next.Score,
		Snapshot:  snap,
		UpdatedAt: now,
	}
	if err := r.store.Put(ctx, rec); err != nil {
		r.failures.Add(1)
		return fmt.Errorf("analyze: persist %s: %w", mint, err)
	}

	if err := r.pot.Update(mint, func(t *token.Token) {
		t.Snapshot = next.Snapshot
		t.Score = next.Score
		t.Bucket = next.Bucket
		t.BucketSince = next.BucketSince
		t.LastAnalyzedAt = next.LastAnalyzedAt
		t.RouteTradeable = next.RouteTradeable
	}); err != nil {
		// Released mid-pass; the durable record stays for history.
		return nil
	}

	r.passes.Add(1)
	if decision.Bucket != tok.Bucket {
		r.transitions.Add(1)
		log.Info().
			Str("mint", string(mint)).
			Str("from", string(tok.Bucket)).
			Str("to", string(decision.Bucket)).
			Str("reason", decision.Reason).
			Float64("final", next.Score.Final).
			Msg("analyze: bucket transition")
	}
	return nil
}

// Stats is a point-in-time snapshot of runner counters.
type Stats struct {
	Passes      int64 `json:"passes"`
	Skipped     int64 `json:"skipped"`
	Failures    int64 `json:"failures"`
	Transitions int64 `json:"transitions"`
}

func (r *Runner) Stats() Stats {
	return Stats{
		Passes:      r.passes.Load(),
		Skipped:     r.skipped.Load(),
		Failures:    r.failures.Load(),
		Transitions: r.transitions.Load(),
	}
}
