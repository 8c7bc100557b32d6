package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/edu-progress/internal/domain/entitlement"
	"github.com/alem-hub/edu-progress/internal/domain/progress"
	"github.com/alem-hub/edu-progress/internal/domain/quota"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

var (
	_ quota.Store              = (*EphemeralQuotaStore)(nil)
	_ quota.Store              = (*DurableQuotaStore)(nil)
	_ quota.DayResetter        = (*DurableQuotaStore)(nil)
	_ entitlement.TierSource   = (*DurableQuotaStore)(nil)
	_ progress.StatsRepository = (*StatsRepository)(nil)
)

func TestEphemeralQuotaStore_ExpiresAndEvicts(t *testing.T) {
	ctx := context.Background()
	s := NewEphemeralQuotaStore(2, 50*time.Millisecond)

	require.NoError(t, s.Save(ctx, "a", quota.Record{DailyTokensUsed: 1, Tier: entitlement.TierPro}))
	rec, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.DailyTokensUsed)
	assert.Empty(t, rec.Tier)

	require.NoError(t, s.Save(ctx, "b", quota.Record{}))
	require.NoError(t, s.Save(ctx, "c", quota.Record{}))
	_, err = s.Load(ctx, "a")
	assert.ErrorIs(t, err, shared.ErrRecordNotFound, "oldest entry evicted at capacity")

	assert.Eventually(t, func() bool {
		_, err := s.Load(ctx, "c")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestDurableQuotaStore(t *testing.T) {
	ctx := context.Background()
	s := NewDurableQuotaStore()

	_, err := s.TierOf(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrRecordNotFound)

	require.NoError(t, s.Save(ctx, "u1", quota.Record{DailyTokensUsed: 40, LastResetDate: "2024-05-19"}))
	tier, err := s.TierOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierFree, tier)

	require.NoError(t, s.SetTier(ctx, "u1", entitlement.TierPro))
	require.NoError(t, s.Save(ctx, "u1", quota.Record{DailyTokensUsed: 41, LastResetDate: "2024-05-19"}))
	tier, _ = s.TierOf(ctx, "u1")
	assert.Equal(t, entitlement.TierPro, tier, "usage writes keep the assigned tier")

	assert.ErrorIs(t, s.SetTier(ctx, "u1", entitlement.TierGuest), shared.ErrUnknownTier)

	require.NoError(t, s.ResetDay(ctx, "u1", "2024-05-20"))
	rec, _ := s.Load(ctx, "u1")
	assert.Equal(t, 0, rec.DailyTokensUsed)
	assert.Equal(t, "2024-05-20", rec.LastResetDate)

	// A late reset for an older day is a no-op.
	require.NoError(t, s.Save(ctx, "u1", quota.Record{DailyTokensUsed: 5, LastResetDate: "2024-05-20"}))
	require.NoError(t, s.ResetDay(ctx, "u1", "2024-05-20"))
	rec, _ = s.Load(ctx, "u1")
	assert.Equal(t, 5, rec.DailyTokensUsed)
}

func TestStatsRepository_Monotonic(t *testing.T) {
	ctx := context.Background()
	r := NewStatsRepository()

	_, err := r.Load(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrStatsNotFound)

	s := progress.NewStats()
	s.TotalXP = 500
	s.TotalGamesPlayed = 10
	s.BestStreak = 4
	s.UnlockedBadges = []string{"first-steps"}
	require.NoError(t, r.Save(ctx, "u1", s))

	stale := progress.NewStats()
	stale.TotalXP = 100
	require.NoError(t, r.Save(ctx, "u1", stale))

	got, err := r.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 500, got.TotalXP)
	assert.Equal(t, 10, got.TotalGamesPlayed)
	assert.Equal(t, 4, got.BestStreak)
	assert.Equal(t, []string{"first-steps"}, got.UnlockedBadges)

	got.UnlockedBadges[0] = "mutated"
	again, _ := r.Load(ctx, "u1")
	assert.Equal(t, "first-steps", again.UnlockedBadges[0])
}
