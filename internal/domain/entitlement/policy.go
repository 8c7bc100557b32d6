// Package entitlement описывает статическую политику тарифов (Guest, Free, Pro):
// дневные лимиты токенов, пожизненный лимит сообщений для гостей и доступ к
// голосовому синтезу. Таблица политик неизменяема и читается без блокировок.
package entitlement

import (
	"strings"

	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TIER
// ══════════════════════════════════════════════════════════════════════════════

// Tier - уровень подписки.
type Tier string

const (
	// TierGuest - анонимный посетитель без аккаунта.
	TierGuest Tier = "guest"
	// TierFree - зарегистрированный пользователь без подписки.
	TierFree Tier = "free"
	// TierPro - платная подписка, лимиты не действуют.
	TierPro Tier = "pro"
)

// IsValid проверяет, что тариф известен.
func (t Tier) IsValid() bool {
	switch t {
	case TierGuest, TierFree, TierPro:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление.
func (t Tier) String() string {
	return string(t)
}

// ParseTier разбирает строку в Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", shared.ErrUnknownTier
	}
	return t, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ALLOWANCE
// ══════════════════════════════════════════════════════════════════════════════

// Allowance - дневной лимит токенов. Безлимит хранится флагом, а не числом:
// вся арифметика обязана проверять Unlimited до работы с Tokens.
type Allowance struct {
	Tokens    int  `json:"tokens"`
	Unlimited bool `json:"unlimited"`
}

// Limited создаёт конечный лимит.
func Limited(tokens int) Allowance {
	if tokens < 0 {
		tokens = 0
	}
	return Allowance{Tokens: tokens}
}

// NoLimit создаёт безлимитный Allowance.
func NoLimit() Allowance {
	return Allowance{Unlimited: true}
}

// Remaining возвращает остаток после consumed токенов.
// Для безлимита возвращает (0, true); остаток никогда не бывает отрицательным.
func (a Allowance) Remaining(consumed int) (int, bool) {
	if a.Unlimited {
		return 0, true
	}
	left := a.Tokens - consumed
	if left < 0 {
		left = 0
	}
	return left, false
}

// Covers проверяет, помещается ли amount в остаток.
func (a Allowance) Covers(consumed, amount int) bool {
	if a.Unlimited {
		return true
	}
	return amount <= a.Tokens-consumed
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// VoiceQuality - качество голосового синтеза, доступное тарифу.
type VoiceQuality string

const (
	VoiceNone     VoiceQuality = "none"
	VoiceStandard VoiceQuality = "standard"
	VoicePremium  VoiceQuality = "premium"
)

// ModelQuality - класс модели, отвечающей в чате.
type ModelQuality string

const (
	ModelBasic    ModelQuality = "basic"
	ModelStandard ModelQuality = "standard"
	ModelAdvanced ModelQuality = "advanced"
)

// Policy - неизменяемая политика одного тарифа.
type Policy struct {
	// Tier - тариф, к которому относится политика.
	Tier Tier `json:"tier"`

	// DailyTokenAllowance - дневной лимит токенов.
	DailyTokenAllowance Allowance `json:"daily_token_allowance"`

	// MaxLifetimeMessages - пожизненный лимит сообщений (только Guest, 0 = нет лимита).
	MaxLifetimeMessages int `json:"max_lifetime_messages"`

	// VoiceSynthesisEnabled - доступен ли голосовой синтез.
	VoiceSynthesisEnabled bool `json:"voice_synthesis_enabled"`

	// VoiceQuality - качество голоса.
	VoiceQuality VoiceQuality `json:"voice_quality"`

	// ResponseModel - класс модели для ответов.
	ResponseModel ModelQuality `json:"response_model"`
}

// HasLifetimeCap возвращает true, если у тарифа есть пожизненный лимит сообщений.
func (p Policy) HasLifetimeCap() bool {
	return p.MaxLifetimeMessages > 0
}

// Значения по умолчанию. Гость получает демо-доступ из трёх сообщений.
const (
	GuestDailyTokens         = 10
	GuestMaxLifetimeMessages = 3
	FreeDailyTokens          = 50
)

var policies = map[Tier]Policy{
	TierGuest: {
		Tier:                  TierGuest,
		DailyTokenAllowance:   Limited(GuestDailyTokens),
		MaxLifetimeMessages:   GuestMaxLifetimeMessages,
		VoiceSynthesisEnabled: false,
		VoiceQuality:          VoiceNone,
		ResponseModel:         ModelBasic,
	},
	TierFree: {
		Tier:                  TierFree,
		DailyTokenAllowance:   Limited(FreeDailyTokens),
		VoiceSynthesisEnabled: true,
		VoiceQuality:          VoiceStandard,
		ResponseModel:         ModelStandard,
	},
	TierPro: {
		Tier:                  TierPro,
		DailyTokenAllowance:   NoLimit(),
		VoiceSynthesisEnabled: true,
		VoiceQuality:          VoicePremium,
		ResponseModel:         ModelAdvanced,
	},
}

// Get возвращает политику тарифа. Policy передаётся по значению,
// поэтому вызывающий код не может изменить таблицу.
func Get(t Tier) (Policy, bool) {
	p, ok := policies[t]
	return p, ok
}

// All возвращает все политики в порядке Guest, Free, Pro.
func All() []Policy {
	return []Policy{policies[TierGuest], policies[TierFree], policies[TierPro]}
}
