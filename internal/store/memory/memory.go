package memory

import (
	"context"
	"sync"

	"github.com/potwatch/potwatch/internal/store"
	"github.com/potwatch/potwatch/internal/token"
)

// Store is an in-memory snapshot store. Used for offline runs and tests;
// nothing survives a restart.
type Store struct {
	mu         sync.RWMutex
	records    map[token.Mint]store.Record
	rejections []store.Rejection
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{records: make(map[token.Mint]store.Record)}
}

func (s *Store) Get(ctx context.Context, mint token.Mint) (*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[mint]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) Put(ctx context.Context, rec store.Record) error {
	s.mu.Lock()
	s.records[rec.Mint] = rec
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(ctx context.Context, mint token.Mint) error {
	s.mu.Lock()
	delete(s.records, mint)
	s.mu.Unlock()
	return nil
}

func (s *Store) ListByBucket(ctx context.Context, bucket token.Bucket) ([]token.Mint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mints []token.Mint
	for mint, rec := range s.records {
		if rec.Bucket == bucket {
			mints = append(mints, mint)
		}
	}
	return mints, nil
}

func (s *Store) PutRejection(ctx context.Context, rej store.Rejection) error {
	s.mu.Lock()
	s.rejections = append(s.rejections, rej)
	s.mu.Unlock()
	return nil
}

func (s *Store) Sweep(ctx context.Context, policy store.SweepPolicy) (store.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for mint, rec := range s.records {
		age := policy.Now.Sub(rec.UpdatedAt)
		if age > policy.MaxAge || (rec.Bucket == token.BucketScrapHeap && age > policy.ScrapMaxAge) {
			delete(s.records, mint)
			removed++
		}
	}

	var pruned int64
	kept := s.rejections[:0]
	for _, rej := range s.rejections {
		if policy.Now.Sub(rej.ObservedAt) > policy.RejectedMaxAge {
			pruned++
			continue
		}
		kept = append(kept, rej)
	}
	s.rejections = kept

	return store.SweepResult{Removed: removed, RejectionsPruned: pruned}, nil
}

func (s *Store) Close() {}
