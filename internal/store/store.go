package store

import (
	"context"
	"errors"
	"time"

	"github.com/potwatch/potwatch/internal/token"
)

// ErrNotFound is returned when no record exists for a mint.
var ErrNotFound = errors.New("store: record not found")

// Record is the durable view of one tracked token: its latest snapshot,
// score and bucket label, written together after each analysis pass.
type Record struct {
	Mint      token.Mint      `json:"mint"`
	Bucket    token.Bucket    `json:"bucket"`
	Score     token.Score     `json:"score"`
	Snapshot  *token.Snapshot `json:"snapshot,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Rejection is one logged admission refusal, kept for a short horizon so
// repeat offenders show up in diagnostics without re-deriving the reason.
type Rejection struct {
	Mint       token.Mint `json:"mint"`
	Reason     string     `json:"reason"`
	ObservedAt time.Time  `json:"observed_at"`
}

// SweepPolicy bounds the retention sweep: anything stale beyond MaxAge goes,
// scrapheap rows go sooner, rejection rows sooner still.
type SweepPolicy struct {
	MaxAge         time.Duration
	ScrapMaxAge    time.Duration
	RejectedMaxAge time.Duration
	Now            time.Time
}

// SweepResult reports what a retention sweep removed.
type SweepResult struct {
	Removed          int64 `json:"removed"`
	RejectionsPruned int64 `json:"rejections_pruned"`
}

// Store is the durable snapshot store consumed by the engine. Implementations
// must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, mint token.Mint) (*Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, mint token.Mint) error
	ListByBucket(ctx context.Context, bucket token.Bucket) ([]token.Mint, error)
	PutRejection(ctx context.Context, rej Rejection) error
	Sweep(ctx context.Context, policy SweepPolicy) (SweepResult, error)
	Close()
}
