package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/edu-progress/internal/domain/entitlement"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
	"github.com/alem-hub/edu-progress/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// Ledger выводит и изменяет состояние квоты.
// Анонимные идентичности живут в эфемерном хранилище (потеря записи -
// допустимый мягкий сброс), зарегистрированные - в долговременном.
//
// Чтение-изменение-запись не транзакционно: два одновременных Consume могут
// оба пройти проверку, и перерасход ограничен одним списанием.
type Ledger struct {
	ephemeral Store
	durable   Store
	clock     timeutil.Clock
	runner    TaskRunner
}

// LedgerOption настраивает Ledger.
type LedgerOption func(*Ledger)

// WithTaskRunner задаёт исполнитель фоновых корректирующих записей.
func WithTaskRunner(r TaskRunner) LedgerOption {
	return func(l *Ledger) {
		if r != nil {
			l.runner = r
		}
	}
}

// NewLedger создаёт Ledger.
func NewLedger(ephemeral, durable Store, clock timeutil.Clock, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		ephemeral: ephemeral,
		durable:   durable,
		clock:     clock,
		runner:    goRunner{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) storeFor(id shared.Identity) Store {
	if id.Anonymous {
		return l.ephemeral
	}
	return l.durable
}

// load читает запись и выводит из неё состояние на сегодня.
// При устаревшей дате в долговременном хранилище ставит в очередь
// корректирующую запись и не ждёт её.
func (l *Ledger) load(ctx context.Context, id shared.Identity) (Record, State, error) {
	today := l.clock.Today()
	store := l.storeFor(id)

	rec, err := store.Load(ctx, id.ID)
	if err != nil {
		if errors.Is(err, shared.ErrRecordNotFound) || errors.Is(err, shared.ErrNotFound) {
			return Record{}, State{LastResetDate: today}, nil
		}
		return Record{}, State{}, fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}

	state, stale := stateFor(rec, today)
	if stale && !id.Anonymous {
		if resetter, ok := store.(DayResetter); ok {
			identityID := id.ID
			l.runner.Submit("quota.reset_day", func(ctx context.Context) error {
				return resetter.ResetDay(ctx, identityID, today)
			})
		}
	}
	return rec, state, nil
}

// GetState возвращает состояние квоты на сегодня. Два вызова в течение
// одного дня без Consume между ними возвращают одинаковое значение.
func (l *Ledger) GetState(ctx context.Context, id shared.Identity) (State, error) {
	if err := id.Validate(); err != nil {
		return State{}, err
	}
	_, state, err := l.load(ctx, id)
	return state, err
}

// CanConsume проверяет, можно ли списать amount токенов для тарифа.
// Превышение лимита - не ошибка, а Decision с Allowed=false.
func (l *Ledger) CanConsume(ctx context.Context, id shared.Identity, amount int, tier entitlement.Tier) (Decision, error) {
	policy, err := validate(id, amount, tier)
	if err != nil {
		return Decision{}, err
	}
	_, state, err := l.load(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	return Decide(policy, state, amount), nil
}

// Consume заново проверяет лимит на момент вызова, затем записывает
// consumed+amount и, для сообщения, пожизненный счётчик+1.
//
// При сбое записи возвращает Success=false, остаток до списания и ошибку,
// оборачивающую shared.ErrStoreUnavailable: списание не считается случившимся.
func (l *Ledger) Consume(ctx context.Context, id shared.Identity, amount int, tier entitlement.Tier, kind entitlement.ChargeKind) (ConsumeResult, error) {
	policy, err := validate(id, amount, tier)
	if err != nil {
		return ConsumeResult{}, err
	}

	rec, state, err := l.load(ctx, id)
	if err != nil {
		return ConsumeResult{Success: false}, err
	}

	decision := Decide(policy, state, amount)
	result := ConsumeResult{
		Reason:    decision.Reason,
		Remaining: decision.Remaining,
		Unlimited: decision.Unlimited,
		State:     state,
	}
	if !decision.Allowed {
		return result, nil
	}

	next := State{
		TokensConsumedToday:  state.TokensConsumedToday + amount,
		LastResetDate:        state.LastResetDate,
		LifetimeMessageCount: state.LifetimeMessageCount,
	}
	if kind.IsChargeableMessage() {
		next.LifetimeMessageCount++
	}

	err = l.storeFor(id).Save(ctx, id.ID, Record{
		Tier:              rec.Tier,
		DailyTokensUsed:   next.TokensConsumedToday,
		LastResetDate:     next.LastResetDate,
		TotalMessagesUsed: next.LifetimeMessageCount,
		UpdatedAt:         l.clock.Now(),
	})
	if err != nil {
		return result, fmt.Errorf("%w: %w", shared.ErrStoreUnavailable, err)
	}

	remaining, unlimited := policy.DailyTokenAllowance.Remaining(next.TokensConsumedToday)
	return ConsumeResult{
		Success:   true,
		Reason:    ReasonOK,
		Remaining: remaining,
		Unlimited: unlimited,
		State:     next,
	}, nil
}

// Remaining возвращает дневной остаток для отчётов.
func (l *Ledger) Remaining(ctx context.Context, id shared.Identity, tier entitlement.Tier) (int, bool, error) {
	policy, ok := entitlement.Get(tier)
	if !ok {
		return 0, false, shared.ErrUnknownTier
	}
	state, err := l.GetState(ctx, id)
	if err != nil {
		return 0, false, err
	}
	remaining, unlimited := policy.DailyTokenAllowance.Remaining(state.TokensConsumedToday)
	return remaining, unlimited, nil
}

func validate(id shared.Identity, amount int, tier entitlement.Tier) (entitlement.Policy, error) {
	if err := id.Validate(); err != nil {
		return entitlement.Policy{}, err
	}
	if amount <= 0 {
		return entitlement.Policy{}, shared.ErrInvalidAmount
	}
	policy, ok := entitlement.Get(tier)
	if !ok {
		return entitlement.Policy{}, shared.ErrUnknownTier
	}
	return policy, nil
}
