// Package quota ведёт дневной учёт потребления токенов для каждой идентичности
// и решает, можно ли списать очередное действие по политике тарифа.
package quota

import (
	"time"

	"github.com/alem-hub/edu-progress/internal/domain/entitlement"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD & STATE
// ══════════════════════════════════════════════════════════════════════════════

// Record - сохранённая запись квоты. Создаётся лениво при первом списании.
type Record struct {
	// Tier - сохранённый тариф (только в долговременном хранилище).
	Tier entitlement.Tier `json:"tier,omitempty"`

	// DailyTokensUsed - токены, потраченные за LastResetDate.
	DailyTokensUsed int `json:"daily_tokens_used"`

	// LastResetDate - дата последнего сброса, YYYY-MM-DD.
	LastResetDate string `json:"last_reset_date"`

	// TotalMessagesUsed - пожизненный счётчик сообщений.
	TotalMessagesUsed int `json:"total_messages_used"`

	// UpdatedAt - время последней записи.
	UpdatedAt time.Time `json:"updated_at"`
}

// State - состояние квоты на сегодня, уже с учётом смены дня.
type State struct {
	TokensConsumedToday  int    `json:"tokens_consumed_today"`
	LastResetDate        string `json:"last_reset_date"`
	LifetimeMessageCount int    `json:"lifetime_message_count"`
}

// stateFor выводит состояние на today из записи. Если дата устарела,
// дневной счётчик обнуляется, пожизненный сохраняется.
func stateFor(rec Record, today string) (State, bool) {
	if rec.LastResetDate != today {
		return State{
			TokensConsumedToday:  0,
			LastResetDate:        today,
			LifetimeMessageCount: rec.TotalMessagesUsed,
		}, true
	}
	return State{
		TokensConsumedToday:  rec.DailyTokensUsed,
		LastResetDate:        rec.LastResetDate,
		LifetimeMessageCount: rec.TotalMessagesUsed,
	}, false
}

// ══════════════════════════════════════════════════════════════════════════════
// DECISION
// ══════════════════════════════════════════════════════════════════════════════

// Reason - причина решения о списании.
type Reason string

const (
	// ReasonOK - списание разрешено.
	ReasonOK Reason = "ok"
	// ReasonDailyLimit - исчерпан дневной лимит Free.
	ReasonDailyLimit Reason = "daily_limit"
	// ReasonGuestLimit - исчерпан дневной лимит Guest.
	ReasonGuestLimit Reason = "guest_limit"
	// ReasonDemoLimitReached - исчерпан пожизненный лимит сообщений гостя.
	ReasonDemoLimitReached Reason = "demo_limit_reached"
)

// Decision - результат проверки CanConsume. Отказ - это не ошибка.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`

	// Remaining - остаток до списания; не имеет смысла при Unlimited.
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}

// Decide применяет политику тарифа к состоянию. Порядок проверок:
//  1. безлимитный тариф всегда разрешён;
//  2. пожизненный лимит гостя проверяется раньше дневного баланса;
//  3. дневной лимит (guest_limit для Guest, daily_limit для остальных).
func Decide(policy entitlement.Policy, state State, amount int) Decision {
	remaining, unlimited := policy.DailyTokenAllowance.Remaining(state.TokensConsumedToday)
	d := Decision{Remaining: remaining, Unlimited: unlimited}

	if unlimited {
		d.Allowed, d.Reason = true, ReasonOK
		return d
	}

	if policy.HasLifetimeCap() && state.LifetimeMessageCount >= policy.MaxLifetimeMessages {
		d.Reason = ReasonDemoLimitReached
		return d
	}

	if !policy.DailyTokenAllowance.Covers(state.TokensConsumedToday, amount) {
		if policy.Tier == entitlement.TierGuest {
			d.Reason = ReasonGuestLimit
		} else {
			d.Reason = ReasonDailyLimit
		}
		return d
	}

	d.Allowed, d.Reason = true, ReasonOK
	return d
}

// ConsumeResult - результат Consume.
type ConsumeResult struct {
	// Success - запись выполнена и потребление учтено.
	Success bool `json:"success"`

	// Reason - причина отказа (ok при успехе или сбое хранилища).
	Reason Reason `json:"reason"`

	// Remaining - остаток после списания при успехе, иначе остаток до него.
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`

	// State - состояние после списания (или до него, если списания не было).
	State State `json:"state"`
}
