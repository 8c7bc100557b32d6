// Package memory provides in-process stores: an expiring LRU for anonymous
// quotas when Redis is disabled, and map-backed durable stores for local
// development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/alem-hub/edu-progress/internal/domain/entitlement"
	"github.com/alem-hub/edu-progress/internal/domain/quota"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// DefaultLRUSize bounds the number of anonymous records kept in process.
const DefaultLRUSize = 100_000

// EphemeralQuotaStore implements quota.Store with a size- and TTL-bounded
// LRU. Eviction is a soft quota reset, same as a Redis TTL expiry.
type EphemeralQuotaStore struct {
	cache *expirable.LRU[string, quota.Record]
}

// NewEphemeralQuotaStore creates the store. Non-positive values use defaults.
func NewEphemeralQuotaStore(size int, ttl time.Duration) *EphemeralQuotaStore {
	if size <= 0 {
		size = DefaultLRUSize
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &EphemeralQuotaStore{cache: expirable.NewLRU[string, quota.Record](size, nil, ttl)}
}

// Load implements quota.Store.
func (s *EphemeralQuotaStore) Load(_ context.Context, identityID string) (quota.Record, error) {
	rec, ok := s.cache.Get(identityID)
	if !ok {
		return quota.Record{}, shared.ErrRecordNotFound
	}
	return rec, nil
}

// Save implements quota.Store.
func (s *EphemeralQuotaStore) Save(_ context.Context, identityID string, rec quota.Record) error {
	rec.Tier = ""
	s.cache.Add(identityID, rec)
	return nil
}

// Len returns the number of live records.
func (s *EphemeralQuotaStore) Len() int {
	return s.cache.Len()
}

// DurableQuotaStore is a map-backed stand-in for the PostgreSQL quota
// repository. It implements quota.Store, quota.DayResetter and
// entitlement.TierSource with the same semantics.
type DurableQuotaStore struct {
	mu      sync.RWMutex
	records map[string]quota.Record
}

// NewDurableQuotaStore creates an empty store.
func NewDurableQuotaStore() *DurableQuotaStore {
	return &DurableQuotaStore{records: make(map[string]quota.Record)}
}

// Load implements quota.Store.
func (s *DurableQuotaStore) Load(_ context.Context, identityID string) (quota.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[identityID]
	if !ok {
		return quota.Record{}, shared.ErrRecordNotFound
	}
	return rec, nil
}

// Save implements quota.Store. The tier is kept from the existing record.
func (s *DurableQuotaStore) Save(_ context.Context, identityID string, rec quota.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.records[identityID]; ok {
		rec.Tier = prev.Tier
	} else if rec.Tier != entitlement.TierPro {
		rec.Tier = entitlement.TierFree
	}
	s.records[identityID] = rec
	return nil
}

// ResetDay implements quota.DayResetter.
func (s *DurableQuotaStore) ResetDay(_ context.Context, identityID, today string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identityID]
	if !ok || rec.LastResetDate >= today {
		return nil
	}
	rec.DailyTokensUsed = 0
	rec.LastResetDate = today
	rec.UpdatedAt = time.Now().UTC()
	s.records[identityID] = rec
	return nil
}

// TierOf implements entitlement.TierSource.
func (s *DurableQuotaStore) TierOf(_ context.Context, identityID string) (entitlement.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[identityID]
	if !ok {
		return "", shared.ErrRecordNotFound
	}
	return rec.Tier, nil
}

// SetTier assigns a subscription tier, creating the record if needed.
func (s *DurableQuotaStore) SetTier(_ context.Context, identityID string, tier entitlement.Tier) error {
	if tier != entitlement.TierFree && tier != entitlement.TierPro {
		return shared.ErrUnknownTier
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[identityID]
	rec.Tier = tier
	s.records[identityID] = rec
	return nil
}
