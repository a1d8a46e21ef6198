package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/potwatch/potwatch/internal/store"
	"github.com/potwatch/potwatch/internal/token"
)

// Store is a read-through/write-through cache tier over a durable store.
// Hot records served from Redis with a TTL; misses and writes go to the
// backing store. A Redis outage degrades to pass-through, never to failure.
type Store struct {
	backing store.Store
	client  *redis.Client
	ttl     time.Duration
}

var _ store.Store = (*Store)(nil)

const keyPrefix = "potwatch:token:"

// New wraps a durable store with a Redis cache tier.
func New(ctx context.Context, backing store.Store, addr string, db int, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}

	log.Info().Str("addr", addr).Dur("ttl", ttl).Msg("rediscache: cache tier ready")
	return &Store{backing: backing, client: client, ttl: ttl}, nil
}

func key(mint token.Mint) string {
	return keyPrefix + string(mint)
}

func (s *Store) Get(ctx context.Context, mint token.Mint) (*store.Record, error) {
	raw, err := s.client.Get(ctx, key(mint)).Bytes()
	if err == nil {
		var rec store.Record
		if err := json.Unmarshal(raw, &rec); err == nil {
			return &rec, nil
		}
		// Corrupt cache entry: drop it and fall through.
		s.client.Del(ctx, key(mint))
	} else if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Msg("rediscache: read failed, falling through to backing store")
	}

	rec, err := s.backing.Get(ctx, mint)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, rec)
	return rec, nil
}

func (s *Store) Put(ctx context.Context, rec store.Record) error {
	if err := s.backing.Put(ctx, rec); err != nil {
		return err
	}
	s.fill(ctx, &rec)
	return nil
}

func (s *Store) Delete(ctx context.Context, mint token.Mint) error {
	if err := s.backing.Delete(ctx, mint); err != nil {
		return err
	}
	if err := s.client.Del(ctx, key(mint)).Err(); err != nil {
		log.Warn().Err(err).Str("mint", string(mint)).Msg("rediscache: invalidate failed")
	}
	return nil
}

// ListByBucket always hits the backing store: bucket membership churns too
// fast for a cache to answer it correctly.
func (s *Store) ListByBucket(ctx context.Context, bucket token.Bucket) ([]token.Mint, error) {
	return s.backing.ListByBucket(ctx, bucket)
}

// PutRejection is pass-through: rejection rows are never read on the hot path.
func (s *Store) PutRejection(ctx context.Context, rej store.Rejection) error {
	return s.backing.PutRejection(ctx, rej)
}

// Sweep runs on the backing store; swept cache entries age out via TTL.
func (s *Store) Sweep(ctx context.Context, policy store.SweepPolicy) (store.SweepResult, error) {
	return s.backing.Sweep(ctx, policy)
}

func (s *Store) fill(ctx context.Context, rec *store.Record) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key(rec.Mint), raw, s.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("mint", string(rec.Mint)).Msg("rediscache: fill failed")
	}
}

func (s *Store) Close() {
	if err := s.client.Close(); err != nil {
		log.Warn().Err(err).Msg("rediscache: close failed")
	}
	s.backing.Close()
}
