package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potwatch/potwatch/internal/pot"
	"github.com/potwatch/potwatch/internal/store"
	"github.com/potwatch/potwatch/internal/store/memory"
	"github.com/potwatch/potwatch/internal/token"
)

type recordingAnalyzer struct {
	mu    sync.Mutex
	mints []token.Mint
}

func (r *recordingAnalyzer) Analyze(ctx context.Context, mint token.Mint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mints = append(r.mints, mint)
	return nil
}

func (r *recordingAnalyzer) seen() []token.Mint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]token.Mint(nil), r.mints...)
}

func newTestPot() *pot.Pot {
	return pot.New(pot.Config{
		Capacity:          64,
		LiquidityFloorUSD: decimal.NewFromInt(300),
		GraceWindow:       15 * time.Minute,
	})
}

func TestBatchSizerGrowsTowardBudget(t *testing.T) {
	sizer := NewBatchSizer(BatchSizerConfig{
		MinSize:       5,
		MaxSize:       16,
		TargetSeconds: 25,
		Smoothing:     0.3,
	})
	require.Equal(t, 5, sizer.Next())

	// Fast passes: 3s per token against a 25s budget leaves headroom.
	prev := sizer.Next()
	for i := 0; i < 6; i++ {
		size := sizer.Next()
		sizer.Observe(size, time.Duration(size)*3*time.Second)
	}
	assert.Greater(t, sizer.Next(), prev, "cheap items should grow the batch")
	assert.LessOrEqual(t, sizer.Next(), 16)
}

func TestBatchSizerShrinksUnderLoad(t *testing.T) {
	sizer := NewBatchSizer(DefaultBatchSizerConfig())
	for i := 0; i < 4; i++ {
		sizer.Observe(sizer.Next(), time.Duration(sizer.Next())*3*time.Second)
	}
	grown := sizer.Next()
	require.Greater(t, grown, 5)

	// Providers slow down to 10s per token.
	for i := 0; i < 6; i++ {
		sizer.Observe(sizer.Next(), time.Duration(sizer.Next())*10*time.Second)
	}
	assert.Less(t, sizer.Next(), grown, "expensive items should shrink the batch")
	assert.GreaterOrEqual(t, sizer.Next(), 5)
}

func TestBatchSizerIgnoresEmptyBatches(t *testing.T) {
	sizer := NewBatchSizer(DefaultBatchSizerConfig())
	sizer.Observe(0, time.Second)
	sizer.Observe(5, 0)
	assert.Equal(t, int64(0), sizer.Stats().Samples)
	assert.Equal(t, 5, sizer.Next())
}

func TestDueTokensStalestFirst(t *testing.T) {
	p := newTestPot()
	now := time.Now().UTC()
	for _, m := range []token.Mint{"aaa", "bbb", "ccc"} {
		res := p.Admit(token.Candidate{Mint: m, ObservedAt: now}, now)
		require.True(t, res.Admitted)
	}
	// bbb was analyzed recently, ccc long ago, aaa never.
	require.NoError(t, p.Update("bbb", func(tok *token.Token) {
		tok.LastAnalyzedAt = now.Add(-30 * time.Second)
	}))
	require.NoError(t, p.Update("ccc", func(tok *token.Token) {
		tok.LastAnalyzedAt = now.Add(-10 * time.Minute)
	}))

	s := New(DefaultConfig(), p, &recordingAnalyzer{}, memory.New(), nil)
	due := s.dueTokens(token.BucketHatching, 2*time.Minute, now)

	require.Len(t, due, 2, "recently analyzed member is not due")
	assert.Equal(t, token.Mint("aaa"), due[0], "never-analyzed sorts first")
	assert.Equal(t, token.Mint("ccc"), due[1])
}

func TestAdmissionLoopAdmitsAndAnalyzes(t *testing.T) {
	p := newTestPot()
	analyzer := &recordingAnalyzer{}
	candidates := make(chan token.Candidate, 4)

	cfg := DefaultConfig()
	// Cadences far in the future so only the admission path runs.
	for b := range cfg.Cadences {
		cfg.Cadences[b] = time.Hour
	}
	cfg.MaintenanceInterval = time.Hour

	s := New(cfg, p, analyzer, memory.New(), candidates)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	candidates <- token.Candidate{Mint: "fresh-mint", ObservedAt: time.Now().UTC(), Source: "test"}
	candidates <- token.Candidate{Mint: "fresh-mint", ObservedAt: time.Now().UTC(), Source: "test"} // duplicate

	require.Eventually(t, func() bool {
		return len(analyzer.seen()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, token.Mint("fresh-mint"), analyzer.seen()[0])
	require.Eventually(t, func() bool {
		return s.Stats().Rejected == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), s.Stats().Admitted)

	cancel()
	require.NoError(t, <-done)
}

func TestMaintenancePrunesStaleScrap(t *testing.T) {
	p := newTestPot()
	now := time.Now().UTC()

	res := p.Admit(token.Candidate{Mint: "old-scrap", ObservedAt: now.Add(-8 * time.Hour)}, now)
	require.True(t, res.Admitted)
	require.NoError(t, p.Update("old-scrap", func(tok *token.Token) {
		tok.Bucket = token.BucketScrapHeap
		tok.BucketSince = now.Add(-7 * time.Hour)
	}))

	res = p.Admit(token.Candidate{Mint: "young-scrap", ObservedAt: now}, now)
	require.True(t, res.Admitted)
	require.NoError(t, p.Update("young-scrap", func(tok *token.Token) {
		tok.Bucket = token.BucketScrapHeap
		tok.BucketSince = now.Add(-1 * time.Hour)
	}))

	st := memory.New()
	require.NoError(t, st.Put(context.Background(), store.Record{
		Mint:      "ancient",
		Bucket:    token.BucketFresh,
		UpdatedAt: now.Add(-30 * 24 * time.Hour),
	}))

	s := New(DefaultConfig(), p, &recordingAnalyzer{}, st, nil)
	s.runMaintenance(context.Background(), now)

	_, ok := p.Get("old-scrap")
	assert.False(t, ok, "scrap past retention is released")
	_, ok = p.Get("young-scrap")
	assert.True(t, ok, "scrap within retention stays")

	_, err := st.Get(context.Background(), "ancient")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, int64(1), s.Stats().RetentionPrune)
}
