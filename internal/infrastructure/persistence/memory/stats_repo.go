package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/edu-progress/internal/domain/progress"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// StatsRepository is a map-backed progress.StatsRepository.
// Like the PostgreSQL version it never drops an unlocked badge and never
// lowers totals or the best streak.
type StatsRepository struct {
	mu    sync.RWMutex
	stats map[string]progress.Stats
}

// NewStatsRepository creates an empty repository.
func NewStatsRepository() *StatsRepository {
	return &StatsRepository{stats: make(map[string]progress.Stats)}
}

// Load implements progress.StatsRepository.
func (r *StatsRepository) Load(_ context.Context, identityID string) (progress.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.stats[identityID]
	if !ok {
		return progress.Stats{}, shared.ErrStatsNotFound
	}
	return s.Clone(), nil
}

// Save implements progress.StatsRepository.
func (r *StatsRepository) Save(_ context.Context, identityID string, stats progress.Stats) error {
	next := stats.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.stats[identityID]; ok {
		next = next.Unlock(prev.UnlockedBadges, 0)
		next.TotalXP = max(next.TotalXP, prev.TotalXP)
		next.TotalGamesPlayed = max(next.TotalGamesPlayed, prev.TotalGamesPlayed)
		next.BestStreak = max(next.BestStreak, prev.BestStreak)
	}
	r.stats[identityID] = next
	return nil
}
