package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/edu-progress/internal/domain/entitlement"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
	"github.com/alem-hub/edu-progress/pkg/timeutil"
)

type fakeStore struct {
	mu       sync.Mutex
	records  map[string]Record
	loadErr  error
	saveErr  error
	saves    int
	resets   []string
	resetErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]Record)}
}

func (s *fakeStore) Load(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return Record{}, s.loadErr
	}
	rec, ok := s.records[id]
	if !ok {
		return Record{}, shared.ErrRecordNotFound
	}
	return rec, nil
}

func (s *fakeStore) Save(_ context.Context, id string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.records[id] = rec
	return nil
}

func (s *fakeStore) ResetDay(_ context.Context, id, today string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets = append(s.resets, id)
	if s.resetErr != nil {
		return s.resetErr
	}
	rec, ok := s.records[id]
	if ok && rec.LastResetDate != today {
		rec.DailyTokensUsed = 0
		rec.LastResetDate = today
		s.records[id] = rec
	}
	return nil
}

type syncRunner struct{ names []string }

func (r *syncRunner) Submit(name string, task func(ctx context.Context) error) bool {
	r.names = append(r.names, name)
	_ = task(context.Background())
	return true
}

type fixture struct {
	ephemeral *fakeStore
	durable   *fakeStore
	clock     *timeutil.FixedClock
	runner    *syncRunner
	ledger    *Ledger
}

func newFixture() *fixture {
	f := &fixture{
		ephemeral: newFakeStore(),
		durable:   newFakeStore(),
		clock:     timeutil.NewFixedClock(time.Date(2024, 5, 20, 12, 0, 0, 0, timeutil.AlmatyTZ)),
		runner:    &syncRunner{},
	}
	f.ledger = NewLedger(f.ephemeral, f.durable, f.clock, WithTaskRunner(f.runner))
	return f
}

var (
	ctx   = context.Background()
	alice = shared.RegisteredIdentity("alice", shared.RoleUser)
	guest = shared.AnonymousIdentity("fp-123")
)

func TestFreeTier_ConsumeLastTokenThenDailyLimit(t *testing.T) {
	f := newFixture()
	f.durable.records["alice"] = Record{DailyTokensUsed: 49, LastResetDate: "2024-05-20"}

	res, err := f.ledger.Consume(ctx, alice, 1, entitlement.TierFree, entitlement.ChargeActivity)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Remaining)
	assert.False(t, res.Unlimited)
	assert.Equal(t, 50, f.durable.records["alice"].DailyTokensUsed)

	d, err := f.ledger.CanConsume(ctx, alice, 1, entitlement.TierFree)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyLimit, d.Reason)
}

func TestGuest_DemoLimitRegardlessOfTokens(t *testing.T) {
	f := newFixture()
	f.ephemeral.records[guest.ID] = Record{DailyTokensUsed: 0, LastResetDate: "2024-05-20", TotalMessagesUsed: 3}

	d, err := f.ledger.CanConsume(ctx, guest, 1, entitlement.TierGuest)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDemoLimitReached, d.Reason)
	assert.Equal(t, 10, d.Remaining)
}

func TestGuest_DailyTokensExhausted(t *testing.T) {
	f := newFixture()
	f.ephemeral.records[guest.ID] = Record{DailyTokensUsed: 9, LastResetDate: "2024-05-20", TotalMessagesUsed: 1}

	d, err := f.ledger.CanConsume(ctx, guest, 2, entitlement.TierGuest)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonGuestLimit, d.Reason)
}

func TestPro_AlwaysAllowedAndUnlimited(t *testing.T) {
	f := newFixture()
	f.durable.records["alice"] = Record{DailyTokensUsed: 10_000, LastResetDate: "2024-05-20"}

	res, err := f.ledger.Consume(ctx, alice, 5, entitlement.TierPro, entitlement.ChargeVoiceSynthesis)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Unlimited)
	assert.Equal(t, 10_005, res.State.TokensConsumedToday)
}

func TestConsume_ChargeableMessageIncrementsLifetime(t *testing.T) {
	f := newFixture()

	res, err := f.ledger.Consume(ctx, guest, 1, entitlement.TierGuest, entitlement.ChargeChatMessage)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.State.LifetimeMessageCount)
	assert.Equal(t, 9, res.Remaining)

	res, err = f.ledger.Consume(ctx, guest, 1, entitlement.TierGuest, entitlement.ChargeActivity)
	require.NoError(t, err)
	assert.Equal(t, 1, res.State.LifetimeMessageCount)
	assert.Equal(t, 2, res.State.TokensConsumedToday)
	assert.Empty(t, f.durable.records, "anonymous identities never reach the durable store")
}

func TestConsume_NeverExceedsAllowanceUnderSerializedCalls(t *testing.T) {
	f := newFixture()
	for i := 0; i < 60; i++ {
		_, err := f.ledger.Consume(ctx, alice, 1, entitlement.TierFree, entitlement.ChargeActivity)
		require.NoError(t, err)
		assert.LessOrEqual(t, f.durable.records["alice"].DailyTokensUsed, entitlement.FreeDailyTokens)
	}
	assert.Equal(t, entitlement.FreeDailyTokens, f.durable.records["alice"].DailyTokensUsed)
}

func TestConsume_DeniedDoesNotWrite(t *testing.T) {
	f := newFixture()
	f.durable.records["alice"] = Record{DailyTokensUsed: 50, LastResetDate: "2024-05-20"}

	res, err := f.ledger.Consume(ctx, alice, 1, entitlement.TierFree, entitlement.ChargeActivity)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonDailyLimit, res.Reason)
	assert.Equal(t, 0, f.durable.saves)
}

func TestConsume_SaveFailureKeepsPreConsumptionRemaining(t *testing.T) {
	f := newFixture()
	f.durable.records["alice"] = Record{DailyTokensUsed: 20, LastResetDate: "2024-05-20"}
	f.durable.saveErr = errors.New("connection reset")

	res, err := f.ledger.Consume(ctx, alice, 3, entitlement.TierFree, entitlement.ChargeChatMessage)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
	assert.True(t, shared.IsRetryable(err))
	assert.False(t, res.Success)
	assert.Equal(t, 30, res.Remaining)
	assert.Equal(t, 20, f.durable.records["alice"].DailyTokensUsed)
}

func TestConsume_LoadFailure(t *testing.T) {
	f := newFixture()
	f.ephemeral.loadErr = errors.New("redis down")

	res, err := f.ledger.Consume(ctx, guest, 1, entitlement.TierGuest, entitlement.ChargeChatMessage)
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
	assert.False(t, res.Success)
}

func TestConsume_RejectsNonPositiveAmount(t *testing.T) {
	f := newFixture()
	for _, amount := range []int{0, -1} {
		_, err := f.ledger.Consume(ctx, alice, amount, entitlement.TierFree, entitlement.ChargeActivity)
		assert.ErrorIs(t, err, shared.ErrInvalidAmount)
		assert.True(t, shared.IsValidation(err))
	}
	assert.Equal(t, 0, f.durable.saves)
}

func TestValidation_UnknownTierAndEmptyIdentity(t *testing.T) {
	f := newFixture()

	_, err := f.ledger.CanConsume(ctx, alice, 1, entitlement.Tier("platinum"))
	assert.ErrorIs(t, err, shared.ErrUnknownTier)

	_, err = f.ledger.GetState(ctx, shared.RegisteredIdentity("  ", shared.RoleUser))
	assert.ErrorIs(t, err, shared.ErrEmptyIdentity)
}

func TestGetState_MissingRecordIsZero(t *testing.T) {
	f := newFixture()

	s, err := f.ledger.GetState(ctx, guest)
	require.NoError(t, err)
	assert.Equal(t, State{LastResetDate: "2024-05-20"}, s)
}

func TestGetState_IdempotentWithinDay(t *testing.T) {
	f := newFixture()
	f.durable.records["alice"] = Record{DailyTokensUsed: 7, LastResetDate: "2024-05-20", TotalMessagesUsed: 4}

	first, err := f.ledger.GetState(ctx, alice)
	require.NoError(t, err)
	f.clock.Advance(3 * time.Hour)
	second, err := f.ledger.GetState(ctx, alice)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Empty(t, f.runner.names)
}

func TestGetState_DurableRolloverSchedulesReset(t *testing.T) {
	f := newFixture()
	f.durable.records["alice"] = Record{DailyTokensUsed: 50, LastResetDate: "2024-05-19", TotalMessagesUsed: 12}

	s, err := f.ledger.GetState(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, s.TokensConsumedToday)
	assert.Equal(t, "2024-05-20", s.LastResetDate)
	assert.Equal(t, 12, s.LifetimeMessageCount)

	assert.Equal(t, []string{"quota.reset_day"}, f.runner.names)
	assert.Equal(t, "2024-05-20", f.durable.records["alice"].LastResetDate)
	assert.Equal(t, 0, f.durable.records["alice"].DailyTokensUsed)
}

func TestGetState_RolloverResetFailureDoesNotAffectRead(t *testing.T) {
	f := newFixture()
	f.durable.records["alice"] = Record{DailyTokensUsed: 50, LastResetDate: "2024-05-19"}
	f.durable.resetErr = errors.New("timeout")

	s, err := f.ledger.GetState(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, s.TokensConsumedToday)
}

func TestGetState_EphemeralRolloverDoesNotWrite(t *testing.T) {
	f := newFixture()
	f.ephemeral.records[guest.ID] = Record{DailyTokensUsed: 10, LastResetDate: "2024-05-19", TotalMessagesUsed: 2}

	s, err := f.ledger.GetState(ctx, guest)
	require.NoError(t, err)
	assert.Equal(t, 0, s.TokensConsumedToday)
	assert.Equal(t, 2, s.LifetimeMessageCount)
	assert.Empty(t, f.runner.names)
	assert.Empty(t, f.ephemeral.resets)
}

func TestConsume_AfterMidnightStartsFromZero(t *testing.T) {
	f := newFixture()
	f.durable.records["alice"] = Record{DailyTokensUsed: 50, LastResetDate: "2024-05-20"}

	f.clock.Set(time.Date(2024, 5, 21, 0, 0, 1, 0, timeutil.AlmatyTZ))
	res, err := f.ledger.Consume(ctx, alice, 1, entitlement.TierFree, entitlement.ChargeActivity)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 49, res.Remaining)
	assert.Equal(t, "2024-05-21", f.durable.records["alice"].LastResetDate)
}

func TestConsume_PreservesStoredTier(t *testing.T) {
	f := newFixture()
	f.durable.records["alice"] = Record{Tier: entitlement.TierPro, LastResetDate: "2024-05-20"}

	_, err := f.ledger.Consume(ctx, alice, 1, entitlement.TierPro, entitlement.ChargeActivity)
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierPro, f.durable.records["alice"].Tier)
}

func TestRemaining(t *testing.T) {
	f := newFixture()
	f.durable.records["alice"] = Record{DailyTokensUsed: 12, LastResetDate: "2024-05-20"}

	left, unlimited, err := f.ledger.Remaining(ctx, alice, entitlement.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 38, left)
	assert.False(t, unlimited)

	_, unlimited, err = f.ledger.Remaining(ctx, alice, entitlement.TierPro)
	require.NoError(t, err)
	assert.True(t, unlimited)
}

func TestDecide_Table(t *testing.T) {
	guestPolicy, _ := entitlement.Get(entitlement.TierGuest)
	freePolicy, _ := entitlement.Get(entitlement.TierFree)
	proPolicy, _ := entitlement.Get(entitlement.TierPro)

	tests := []struct {
		name    string
		policy  entitlement.Policy
		state   State
		amount  int
		allowed bool
		reason  Reason
	}{
		{"free within", freePolicy, State{TokensConsumedToday: 10}, 40, true, ReasonOK},
		{"free over", freePolicy, State{TokensConsumedToday: 10}, 41, false, ReasonDailyLimit},
		{"guest lifetime first", guestPolicy, State{TokensConsumedToday: 10, LifetimeMessageCount: 3}, 1, false, ReasonDemoLimitReached},
		{"guest tokens", guestPolicy, State{TokensConsumedToday: 10, LifetimeMessageCount: 2}, 1, false, ReasonGuestLimit},
		{"guest ok", guestPolicy, State{TokensConsumedToday: 8, LifetimeMessageCount: 2}, 2, true, ReasonOK},
		{"pro", proPolicy, State{TokensConsumedToday: 1 << 30}, 1 << 20, true, ReasonOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.policy, tt.state, tt.amount)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}
