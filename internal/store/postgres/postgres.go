package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/potwatch/potwatch/internal/store"
	"github.com/potwatch/potwatch/internal/token"
)

// Store persists token records in PostgreSQL. Snapshots ride as jsonb so the
// provenance map survives round-trips byte for byte.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS tracked_tokens (
	mint        TEXT PRIMARY KEY,
	bucket      TEXT NOT NULL,
	score       JSONB NOT NULL,
	snapshot    JSONB,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tracked_tokens_bucket ON tracked_tokens (bucket);
CREATE INDEX IF NOT EXISTS idx_tracked_tokens_updated ON tracked_tokens (updated_at);
CREATE TABLE IF NOT EXISTS rejected_candidates (
	id          BIGSERIAL PRIMARY KEY,
	mint        TEXT NOT NULL,
	reason      TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rejected_candidates_observed ON rejected_candidates (observed_at);
`

// New connects a pool and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ensure schema: %w", err)
	}

	log.Info().Msg("postgres: snapshot store ready")
	return &Store{pool: pool}, nil
}

func (s *Store) Get(ctx context.Context, mint token.Mint) (*store.Record, error) {
	query := `
		SELECT mint, bucket, score, snapshot, updated_at
		FROM tracked_tokens
		WHERE mint = $1
	`

	var (
		rec          store.Record
		scoreJSON    []byte
		snapshotJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, string(mint)).
		Scan(&rec.Mint, &rec.Bucket, &scoreJSON, &snapshotJSON, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get record: %w", err)
	}

	if err := json.Unmarshal(scoreJSON, &rec.Score); err != nil {
		return nil, fmt.Errorf("postgres: decode score: %w", err)
	}
	if len(snapshotJSON) > 0 {
		rec.Snapshot = &token.Snapshot{}
		if err := json.Unmarshal(snapshotJSON, rec.Snapshot); err != nil {
			return nil, fmt.Errorf("postgres: decode snapshot: %w", err)
		}
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec store.Record) error {
	scoreJSON, err := json.Marshal(rec.Score)
	if err != nil {
		return fmt.Errorf("postgres: encode score: %w", err)
	}
	var snapshotJSON []byte
	if rec.Snapshot != nil {
		snapshotJSON, err = json.Marshal(rec.Snapshot)
		if err != nil {
			return fmt.Errorf("postgres: encode snapshot: %w", err)
		}
	}

	query := `
		INSERT INTO tracked_tokens (mint, bucket, score, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (mint) DO UPDATE SET
			bucket = EXCLUDED.bucket,
			score = EXCLUDED.score,
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.pool.Exec(ctx, query,
		string(rec.Mint), string(rec.Bucket), scoreJSON, snapshotJSON, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: put record: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, mint token.Mint) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tracked_tokens WHERE mint = $1`, string(mint))
	if err != nil {
		return fmt.Errorf("postgres: delete record: %w", err)
	}
	return nil
}

func (s *Store) ListByBucket(ctx context.Context, bucket token.Bucket) ([]token.Mint, error) {
	query := `
		SELECT mint FROM tracked_tokens
		WHERE bucket = $1
		ORDER BY updated_at DESC
	`
	rows, err := s.pool.Query(ctx, query, string(bucket))
	if err != nil {
		return nil, fmt.Errorf("postgres: list by bucket: %w", err)
	}
	defer rows.Close()

	var mints []token.Mint
	for rows.Next() {
		var mint string
		if err := rows.Scan(&mint); err != nil {
			return nil, fmt.Errorf("postgres: scan mint: %w", err)
		}
		mints = append(mints, token.Mint(mint))
	}
	return mints, rows.Err()
}

func (s *Store) PutRejection(ctx context.Context, rej store.Rejection) error {
	query := `
		INSERT INTO rejected_candidates (mint, reason, observed_at)
		VALUES ($1, $2, $3)
	`
	_, err := s.pool.Exec(ctx, query, string(rej.Mint), rej.Reason, rej.ObservedAt)
	if err != nil {
		return fmt.Errorf("postgres: put rejection: %w", err)
	}
	return nil
}

func (s *Store) Sweep(ctx context.Context, policy store.SweepPolicy) (store.SweepResult, error) {
	now := policy.Now
	if now.IsZero() {
		now = time.Now()
	}
	query := `
		DELETE FROM tracked_tokens
		WHERE updated_at < $1
		   OR (bucket = $2 AND updated_at < $3)
	`
	tag, err := s.pool.Exec(ctx, query,
		now.Add(-policy.MaxAge), string(token.BucketScrapHeap), now.Add(-policy.ScrapMaxAge))
	if err != nil {
		return store.SweepResult{}, fmt.Errorf("postgres: retention sweep: %w", err)
	}

	rejTag, err := s.pool.Exec(ctx,
		`DELETE FROM rejected_candidates WHERE observed_at < $1`,
		now.Add(-policy.RejectedMaxAge))
	if err != nil {
		return store.SweepResult{}, fmt.Errorf("postgres: rejection sweep: %w", err)
	}

	return store.SweepResult{
		Removed:          tag.RowsAffected(),
		RejectionsPruned: rejTag.RowsAffected(),
	}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}
