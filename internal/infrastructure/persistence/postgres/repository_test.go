package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/edu-progress/internal/domain/entitlement"
	"github.com/alem-hub/edu-progress/internal/domain/progress"
	"github.com/alem-hub/edu-progress/internal/domain/quota"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// testConnection connects to TEST_DATABASE_URL, applies migrations and
// empties the tables. Tests that need it are skipped when it is unset.
func testConnection(t *testing.T) *Connection {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.MaxConns = 4
	cfg.MinConns = 0

	conn, err := NewConnection(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	_, err = NewMigrator(conn).Migrate(ctx)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, `TRUNCATE usage_quotas, unlocked_badges, progress_stats`)
	require.NoError(t, err)
	return conn
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConnection_HealthWhenClosed(t *testing.T) {
	h := (&Connection{closed: true}).Health(context.Background())
	assert.False(t, h.Healthy)
	assert.Equal(t, ErrConnectionClosed.Error(), h.Error)
}

func TestQuotaRepository_ResetDayOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	repo := NewQuotaRepository(testConnection(t), discardLogger())

	require.NoError(t, repo.Save(ctx, "u1", quota.Record{
		DailyTokensUsed:   7,
		LastResetDate:     "2024-05-19",
		TotalMessagesUsed: 3,
	}))

	require.NoError(t, repo.ResetDay(ctx, "u1", "2024-05-20"))
	rec, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.DailyTokensUsed)
	assert.Equal(t, "2024-05-20", rec.LastResetDate)
	assert.Equal(t, 3, rec.TotalMessagesUsed, "lifetime count survives the reset")

	rec.DailyTokensUsed = 5
	require.NoError(t, repo.Save(ctx, "u1", rec))

	require.NoError(t, repo.ResetDay(ctx, "u1", "2024-05-20"))
	require.NoError(t, repo.ResetDay(ctx, "u1", "2024-05-19"))
	rec, err = repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.DailyTokensUsed, "repeated and late resets are no-ops")
	assert.Equal(t, "2024-05-20", rec.LastResetDate)

	assert.NoError(t, repo.ResetDay(ctx, "missing", "2024-05-20"))
}

func TestQuotaRepository_SaveKeepsAssignedTier(t *testing.T) {
	ctx := context.Background()
	repo := NewQuotaRepository(testConnection(t), discardLogger())

	_, err := repo.TierOf(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrRecordNotFound)
	_, err = repo.Load(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrRecordNotFound)

	require.NoError(t, repo.SetTier(ctx, "u1", entitlement.TierPro))
	require.NoError(t, repo.Save(ctx, "u1", quota.Record{
		Tier:            entitlement.TierFree,
		DailyTokensUsed: 4,
		LastResetDate:   "2024-05-20",
		UpdatedAt:       time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC),
	}))

	tier, err := repo.TierOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierPro, tier, "usage writes never overwrite the tier")

	rec, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierPro, rec.Tier)
	assert.Equal(t, 4, rec.DailyTokensUsed)

	require.NoError(t, repo.Save(ctx, "u2", quota.Record{LastResetDate: "2024-05-20"}))
	tier, err = repo.TierOf(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierFree, tier)

	assert.ErrorIs(t, repo.SetTier(ctx, "u2", entitlement.TierGuest), shared.ErrUnknownTier)
}

func TestStatsRepository_TotalsNeverDecrease(t *testing.T) {
	ctx := context.Background()
	repo := NewStatsRepository(testConnection(t), discardLogger())

	_, err := repo.Load(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrStatsNotFound)

	fresh := progress.NewStats()
	fresh.CurrentStreak = 4
	fresh.BestStreak = 4
	fresh.TotalGamesPlayed = 5
	fresh.TotalXP = 500
	fresh.SubjectMastery["math"] = progress.Mastery{Level: 2, XP: 150}
	require.NoError(t, repo.Save(ctx, "u1", fresh))

	stale := progress.NewStats()
	stale.BestStreak = 2
	stale.TotalGamesPlayed = 3
	stale.TotalXP = 300
	require.NoError(t, repo.Save(ctx, "u1", stale))

	got, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 500, got.TotalXP)
	assert.Equal(t, 5, got.TotalGamesPlayed)
	assert.Equal(t, 4, got.BestStreak)
	assert.Equal(t, 0, got.CurrentStreak, "the current streak follows the latest write")
}

func TestStatsRepository_BadgesAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewStatsRepository(testConnection(t), discardLogger())

	first := progress.NewStats()
	first.UnlockedBadges = []string{"first-steps", "streak-starter"}
	first.ActivityStats[progress.ActivityMemory] = progress.ActivityStat{Played: 1, Won: 1, XPEarned: 100}
	require.NoError(t, repo.Save(ctx, "u1", first))

	second := progress.NewStats()
	second.UnlockedBadges = []string{"memorypro", "first-steps"}
	require.NoError(t, repo.Save(ctx, "u1", second))

	got, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"first-steps", "streak-starter", "memorypro"}, got.UnlockedBadges)
}
