package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/edu-progress/internal/domain/quota"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// DefaultGuestTTL bounds how long an anonymous quota record survives.
const DefaultGuestTTL = 7 * 24 * time.Hour

// QuotaStore implements quota.Store for anonymous identities.
// Every Save refreshes the TTL.
type QuotaStore struct {
	cache *Cache
	ttl   time.Duration
}

// NewQuotaStore creates a QuotaStore. A non-positive ttl uses DefaultGuestTTL.
func NewQuotaStore(cache *Cache, ttl time.Duration) *QuotaStore {
	if ttl <= 0 {
		ttl = DefaultGuestTTL
	}
	return &QuotaStore{cache: cache, ttl: ttl}
}

// Load implements quota.Store. A missing or undecodable record is treated
// as absent.
func (s *QuotaStore) Load(ctx context.Context, identityID string) (quota.Record, error) {
	var rec quota.Record
	err := s.cache.Get(ctx, QuotaKey(identityID), &rec)
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, ErrCacheMiss), errors.Is(err, ErrCacheSerialization):
		return quota.Record{}, shared.ErrRecordNotFound
	default:
		return quota.Record{}, fmt.Errorf("failed to load anonymous quota: %w", err)
	}
}

// Save implements quota.Store.
func (s *QuotaStore) Save(ctx context.Context, identityID string, rec quota.Record) error {
	rec.Tier = ""
	if err := s.cache.Set(ctx, QuotaKey(identityID), rec, s.ttl); err != nil {
		return fmt.Errorf("failed to save anonymous quota: %w", err)
	}
	return nil
}

// Forget drops an anonymous record, e.g. after the visitor signs up.
func (s *QuotaStore) Forget(ctx context.Context, identityID string) error {
	return s.cache.Delete(ctx, QuotaKey(identityID))
}
