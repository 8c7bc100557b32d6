package query

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
	"github.com/alem-hub/edu-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/edu-progress/pkg/timeutil"
)

func newLedger(durable *memory.DurableQuotaStore) *quota.Ledger {
	clock := timeutil.NewFixedClock(time.Date(2024, 5, 20, 12, 0, 0, 0, timeutil.AlmatyTZ))
	return quota.NewLedger(memory.NewEphemeralQuotaStore(16, time.Hour), durable, clock)
}

func TestGetQuota(t *testing.T) {
	ctx := context.Background()
	durable := memory.NewDurableQuotaStore()
	ledger := newLedger(durable)
	h := NewGetQuotaHandler(entitlement.NewResolver(durable), ledger, nil)

	t.Run("guest shows demo messages left", func(t *testing.T) {
		id := shared.AnonymousIdentity("fp")
		_, err := ledger.Consume(ctx, id, 1, entitlement.TierGuest, entitlement.ChargeChatMessage)
		require.NoError(t, err)

		dto, err := h.Handle(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entitlement.TierGuest, dto.Tier)
		assert.Equal(t, 9, dto.Remaining)
		require.NotNil(t, dto.MessagesLeft)
		assert.Equal(t, 2, *dto.MessagesLeft)

		again, err := h.Handle(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, dto, again, "reads are idempotent within a day")
	})

	t.Run("pro has no caps", func(t *testing.T) {
		require.NoError(t, durable.SetTier(ctx, "p1", entitlement.TierPro))
		dto, err := h.Handle(ctx, shared.RegisteredIdentity("p1", shared.RoleUser))
		require.NoError(t, err)
		assert.Equal(t, entitlement.TierPro, dto.Tier)
		assert.True(t, dto.Unlimited)
		assert.Nil(t, dto.MessagesLeft)
	})

	t.Run("empty identity", func(t *testing.T) {
		_, err := h.Handle(ctx, shared.Identity{})
		assert.ErrorIs(t, err, shared.ErrEmptyIdentity)
	})
}

func TestGetProgress(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStatsRepository()
	s := progress.NewStats()
	s.SubjectMastery["math"] = progress.Mastery{Level: 3, XP: 370}
	s.SubjectMastery["art"] = progress.Mastery{Level: 10, XP: 3200}
	require.NoError(t, repo.Save(ctx, "u1", s))

	h := NewGetProgressHandler(repo, nil)
	dto, err := h.Handle(ctx, shared.RegisteredIdentity("u1", shared.RoleUser))
	require.NoError(t, err)
	require.Len(t, dto.Subjects, 2)
	assert.Equal(t, SubjectDTO{Subject: "art", Level: 10, XP: 3200, NextLevelXP: 3000, MaxLevel: true}, dto.Subjects[0])
	assert.Equal(t, SubjectDTO{Subject: "math", Level: 3, XP: 370, NextLevelXP: 450}, dto.Subjects[1])

	empty, err := h.Handle(ctx, shared.RegisteredIdentity("nobody", shared.RoleUser))
	require.NoError(t, err)
	assert.Empty(t, empty.Subjects)

	anon, err := h.Handle(ctx, shared.AnonymousIdentity("fp"))
	require.NoError(t, err)
	assert.Zero(t, anon.Stats.TotalXP)
}

func TestListBadges(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStatsRepository()
	s := progress.NewStats()
	s.UnlockedBadges = []string{"memorypro", "retired-badge"}
	require.NoError(t, repo.Save(ctx, "u1", s))

	dto, err := NewListBadgesHandler(repo, nil).Handle(ctx, shared.RegisteredIdentity("u1", shared.RoleUser))
	require.NoError(t, err)
	assert.Equal(t, progress.DefaultCatalog().Len(), dto.Total)
	assert.Equal(t, 1, dto.Unlocked)
	assert.Equal(t, "first-steps", dto.Badges[0].ID)

	var memorypro BadgeDTO
	for _, b := range dto.Badges {
		if b.ID == "memorypro" {
			memorypro = b
		}
	}
	assert.True(t, memorypro.Unlocked)
	assert.Equal(t, "memory wins >= 5", memorypro.Requirement)
}
