package entitlement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

func TestPolicyTable(t *testing.T) {
	g, ok := Get(TierGuest)
	require.True(t, ok)
	assert.Equal(t, Allowance{Tokens: 10}, g.DailyTokenAllowance)
	assert.Equal(t, 3, g.MaxLifetimeMessages)
	assert.True(t, g.HasLifetimeCap())
	assert.False(t, g.VoiceSynthesisEnabled)

	f, ok := Get(TierFree)
	require.True(t, ok)
	assert.Equal(t, 50, f.DailyTokenAllowance.Tokens)
	assert.False(t, f.HasLifetimeCap())
	assert.Equal(t, VoiceStandard, f.VoiceQuality)

	p, ok := Get(TierPro)
	require.True(t, ok)
	assert.True(t, p.DailyTokenAllowance.Unlimited)
	assert.Equal(t, ModelAdvanced, p.ResponseModel)

	_, ok = Get(Tier("enterprise"))
	assert.False(t, ok)
}

func TestGet_ReturnsCopy(t *testing.T) {
	p, _ := Get(TierFree)
	p.DailyTokenAllowance.Tokens = 1_000_000

	again, _ := Get(TierFree)
	assert.Equal(t, FreeDailyTokens, again.DailyTokenAllowance.Tokens)
}

func TestAll_Order(t *testing.T) {
	all := All()
	require.Len(t, all, 3)
	assert.Equal(t, []Tier{TierGuest, TierFree, TierPro}, []Tier{all[0].Tier, all[1].Tier, all[2].Tier})
}

func TestAllowance(t *testing.T) {
	a := Limited(50)
	left, unlimited := a.Remaining(49)
	assert.Equal(t, 1, left)
	assert.False(t, unlimited)

	left, _ = a.Remaining(70)
	assert.Equal(t, 0, left, "remaining never goes negative")

	assert.True(t, a.Covers(49, 1))
	assert.False(t, a.Covers(49, 2))

	u := NoLimit()
	left, unlimited = u.Remaining(1 << 40)
	assert.Equal(t, 0, left)
	assert.True(t, unlimited)
	assert.True(t, u.Covers(1<<40, 1<<40))

	assert.Equal(t, 0, Limited(-5).Tokens)
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier(" PRO ")
	require.NoError(t, err)
	assert.Equal(t, TierPro, tier)

	_, err = ParseTier("gold")
	assert.ErrorIs(t, err, shared.ErrUnknownTier)
	assert.True(t, shared.IsValidation(err))
}

func TestChargeKinds(t *testing.T) {
	cost, err := CostOf(ChargeChatMessage)
	require.NoError(t, err)
	assert.Equal(t, 1, cost)

	cost, err = CostOf(ChargeVoiceSynthesis)
	require.NoError(t, err)
	assert.Equal(t, 2, cost)

	_, err = CostOf(ChargeKind("video"))
	assert.ErrorIs(t, err, shared.ErrUnknownChargeKind)

	k, err := ParseChargeKind("Voice_Synthesis")
	require.NoError(t, err)
	assert.True(t, k.RequiresVoice())
	assert.False(t, k.IsChargeableMessage())
	assert.True(t, ChargeChatMessage.IsChargeableMessage())
	assert.False(t, ChargeActivity.IsChargeableMessage())
}

type stubSource struct {
	tier  Tier
	err   error
	calls int
}

func (s *stubSource) TierOf(context.Context, string) (Tier, error) {
	s.calls++
	return s.tier, s.err
}

func TestResolveTier(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous is guest", func(t *testing.T) {
		src := &stubSource{tier: TierPro}
		tier, err := NewResolver(src).ResolveTier(ctx, shared.AnonymousIdentity("fp"))
		require.NoError(t, err)
		assert.Equal(t, TierGuest, tier)
		assert.Zero(t, src.calls)
	})

	t.Run("admin is pro without lookup", func(t *testing.T) {
		src := &stubSource{tier: TierFree}
		tier, err := NewResolver(src).ResolveTier(ctx, shared.RegisteredIdentity("root", shared.RoleAdmin))
		require.NoError(t, err)
		assert.Equal(t, TierPro, tier)
		assert.Zero(t, src.calls)
	})

	t.Run("stored tier", func(t *testing.T) {
		tier, err := NewResolver(&stubSource{tier: TierPro}).ResolveTier(ctx, shared.RegisteredIdentity("u1", shared.RoleUser))
		require.NoError(t, err)
		assert.Equal(t, TierPro, tier)
	})

	t.Run("missing record is free", func(t *testing.T) {
		tier, err := NewResolver(&stubSource{err: shared.ErrRecordNotFound}).ResolveTier(ctx, shared.RegisteredIdentity("u1", ""))
		require.NoError(t, err)
		assert.Equal(t, TierFree, tier)
	})

	t.Run("store failure degrades to free", func(t *testing.T) {
		boom := errors.New("db down")
		tier, err := NewResolver(&stubSource{err: boom}).ResolveTier(ctx, shared.RegisteredIdentity("u1", ""))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, TierFree, tier)
	})

	t.Run("stored guest is not honoured for accounts", func(t *testing.T) {
		tier, err := NewResolver(&stubSource{tier: TierGuest}).ResolveTier(ctx, shared.RegisteredIdentity("u1", ""))
		require.NoError(t, err)
		assert.Equal(t, TierFree, tier)
	})

	t.Run("nil source", func(t *testing.T) {
		tier, err := NewResolver(nil).ResolveTier(ctx, shared.RegisteredIdentity("u1", ""))
		require.NoError(t, err)
		assert.Equal(t, TierFree, tier)
	})
}
