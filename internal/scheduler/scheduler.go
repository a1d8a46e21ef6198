package scheduler

// -----------------------------------------------------------------------------
// Scheduler - cadence loops, admission path, maintenance
// -----------------------------------------------------------------------------
//
// One goroutine per bucket cadence, one admission pump draining the discovery
// channel, one maintenance loop. All analysis work funnels through a single
// bounded worker group so provider pressure stays flat no matter how many
// cadences fire at once. The batch sizer watches wall-clock cost per token
// and keeps each cycle near its time budget.

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/potwatch/potwatch/internal/analyze"
	"github.com/potwatch/potwatch/internal/pot"
	"github.com/potwatch/potwatch/internal/store"
	"github.com/potwatch/potwatch/internal/token"
)

// Analyzer runs one analysis pass for a mint.
type Analyzer interface {
	Analyze(ctx context.Context, mint token.Mint) error
}

// Config holds the scheduler's cadences and concurrency knobs.
type Config struct {
	Cadences map[token.Bucket]time.Duration

	WorkerConcurrency    int
	AdmissionConcurrency int

	MaintenanceInterval time.Duration
	SnapshotRetention   time.Duration
	ScrapRetention      time.Duration
	RejectedRetention   time.Duration

	Sizer BatchSizerConfig
}

// DefaultConfig returns the standard cadence table and concurrency limits.
func DefaultConfig() Config {
	return Config{
		Cadences: map[token.Bucket]time.Duration{
			token.BucketHatching:  2 * time.Minute,
			token.BucketFresh:     12 * time.Minute,
			token.BucketCooking:   5 * time.Minute,
			token.BucketTop:       45 * time.Minute,
			token.BucketScrapHeap: 45 * time.Minute,
		},
		WorkerConcurrency:    6,
		AdmissionConcurrency: 10,
		MaintenanceInterval:  24 * time.Hour,
		SnapshotRetention:    14 * 24 * time.Hour,
		ScrapRetention:       6 * time.Hour,
		RejectedRetention:    7 * 24 * time.Hour,
		Sizer:                DefaultBatchSizerConfig(),
	}
}

// Scheduler drives re-analysis cadences and the admission pipeline.
type Scheduler struct {
	cfg      Config
	pot      *pot.Pot
	analyzer Analyzer
	store    store.Store
	sizer    *BatchSizer

	candidates <-chan token.Candidate

	cycles    atomic.Int64
	analyzed  atomic.Int64
	admitted  atomic.Int64
	rejected  atomic.Int64
	swept     atomic.Int64
	retention atomic.Int64
}

// New wires a scheduler. The candidates channel is the discovery feed; the
// scheduler owns draining it once Run starts.
func New(cfg Config, p *pot.Pot, analyzer Analyzer, st store.Store, candidates <-chan token.Candidate) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		pot:        p,
		analyzer:   analyzer,
		store:      st,
		sizer:      NewBatchSizer(cfg.Sizer),
		candidates: candidates,
	}
}

// Run blocks until ctx is cancelled, driving all loops.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for bucket, cadence := range s.cfg.Cadences {
		bucket, cadence := bucket, cadence
		g.Go(func() error {
			return s.cadenceLoop(ctx, bucket, cadence)
		})
	}
	g.Go(func() error {
		return s.admissionLoop(ctx)
	})
	g.Go(func() error {
		return s.maintenanceLoop(ctx)
	})

	log.Info().
		Int("cadences", len(s.cfg.Cadences)).
		Int("workers", s.cfg.WorkerConcurrency).
		Msg("scheduler: started")

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// cadenceLoop re-analyzes one bucket's members on its cadence.
func (s *Scheduler) cadenceLoop(ctx context.Context, bucket token.Bucket, cadence time.Duration) error {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx, bucket, cadence)
		}
	}
}

// runCycle analyzes one batch of due tokens from a bucket.
func (s *Scheduler) runCycle(ctx context.Context, bucket token.Bucket, cadence time.Duration) {
	now := time.Now().UTC()
	due := s.dueTokens(bucket, cadence, now)
	if len(due) == 0 {
		return
	}

	batch := s.sizer.Next()
	if len(due) > batch {
		due = due[:batch]
	}

	// The batch gets twice its time budget before the cycle is cut off.
	budget := time.Duration(s.cfg.Sizer.TargetSeconds * 2 * float64(time.Second))
	cycleCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(cycleCtx)
	g.SetLimit(s.cfg.WorkerConcurrency)
	for _, mint := range due {
		mint := mint
		g.Go(func() error {
			s.runPass(gctx, mint)
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	s.cycles.Add(1)
	s.sizer.Observe(len(due), elapsed)
	log.Debug().
		Str("bucket", string(bucket)).
		Int("batch", len(due)).
		Dur("elapsed", elapsed).
		Msg("scheduler: cycle complete")
}

// dueTokens lists bucket members whose last pass is older than the cadence,
// stalest first. Never-analyzed members sort ahead of everything.
func (s *Scheduler) dueTokens(bucket token.Bucket, cadence time.Duration, now time.Time) []token.Mint {
	members := s.pot.ListFor(bucket)
	due := make([]token.Token, 0, len(members))
	for _, tok := range members {
		if tok.LastAnalyzedAt.IsZero() || now.Sub(tok.LastAnalyzedAt) >= cadence {
			due = append(due, tok)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].LastAnalyzedAt.Before(due[j].LastAnalyzedAt)
	})

	mints := make([]token.Mint, len(due))
	for i, tok := range due {
		mints[i] = tok.Mint
	}
	return mints
}

func (s *Scheduler) runPass(ctx context.Context, mint token.Mint) {
	err := s.analyzer.Analyze(ctx, mint)
	switch {
	case err == nil:
		s.analyzed.Add(1)
	case errors.Is(err, analyze.ErrInFlight), errors.Is(err, analyze.ErrNotTracked):
		// Dropped passes are expected under overlap; nothing to do.
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		log.Warn().Err(err).Str("mint", string(mint)).Msg("scheduler: analysis pass failed")
	}
}

// admissionLoop drains the discovery channel: admit, then run the first
// analysis pass immediately so new tokens get scored within seconds of
// discovery instead of waiting out a cadence tick.
func (s *Scheduler) admissionLoop(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.AdmissionConcurrency)

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case cand, ok := <-s.candidates:
			if !ok {
				_ = g.Wait()
				return nil
			}
			res := s.pot.Admit(cand, time.Now().UTC())
			if !res.Admitted {
				s.rejected.Add(1)
				// Duplicates are routine stream overlap, not worth a row.
				if res.Reason != pot.RejectDuplicate {
					if err := s.store.PutRejection(ctx, store.Rejection{
						Mint:       cand.Mint,
						Reason:     string(res.Reason),
						ObservedAt: cand.ObservedAt,
					}); err != nil {
						log.Debug().Err(err).Str("mint", string(cand.Mint)).Msg("scheduler: rejection log failed")
					}
				}
				continue
			}
			s.admitted.Add(1)
			g.Go(func() error {
				s.runPass(gctx, cand.Mint)
				return nil
			})
		}
	}
}

// maintenanceLoop sweeps the durable store and prunes stale ScrapHeap
// residents from the pot.
func (s *Scheduler) maintenanceLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runMaintenance(ctx, time.Now().UTC())
		}
	}
}

func (s *Scheduler) runMaintenance(ctx context.Context, now time.Time) {
	res, err := s.store.Sweep(ctx, store.SweepPolicy{
		MaxAge:         s.cfg.SnapshotRetention,
		ScrapMaxAge:    s.cfg.ScrapRetention,
		RejectedMaxAge: s.cfg.RejectedRetention,
		Now:            now,
	})
	if err != nil {
		log.Error().Err(err).Msg("scheduler: store sweep failed")
	} else {
		s.swept.Add(res.Removed)
	}

	pruned := 0
	for _, tok := range s.pot.ListFor(token.BucketScrapHeap) {
		since := tok.BucketSince
		if since.IsZero() {
			since = tok.DiscoveredAt
		}
		if now.Sub(since) > s.cfg.ScrapRetention {
			s.pot.Release(tok.Mint, pot.ReleaseRetention)
			pruned++
		}
	}
	s.retention.Add(int64(pruned))

	log.Info().
		Int64("store_removed", res.Removed).
		Int("pot_pruned", pruned).
		Msg("scheduler: maintenance sweep complete")
}

// Stats is a point-in-time snapshot of scheduler counters.
type Stats struct {
	Cycles         int64           `json:"cycles"`
	Analyzed       int64           `json:"analyzed"`
	Admitted       int64           `json:"admitted"`
	Rejected       int64           `json:"rejected"`
	StoreSwept     int64           `json:"store_swept"`
	RetentionPrune int64           `json:"retention_pruned"`
	Sizer          BatchSizerStats `json:"sizer"`
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Cycles:         s.cycles.Load(),
		Analyzed:       s.analyzed.Load(),
		Admitted:       s.admitted.Load(),
		Rejected:       s.rejected.Load(),
		StoreSwept:     s.swept.Load(),
		RetentionPrune: s.retention.Load(),
		Sizer:          s.sizer.Stats(),
	}
}
