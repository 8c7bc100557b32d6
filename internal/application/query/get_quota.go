// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alem-hub/edu-progress/internal/domain/entitlement"
	"github.com/alem-hub/edu-progress/internal/domain/quota"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET QUOTA QUERY
// Текущее состояние квоты: тариф, политика, дневной остаток и, для гостя,
// остаток демо-сообщений. Ничего не списывает.
// ══════════════════════════════════════════════════════════════════════════════

// TierResolver определяет тариф идентичности.
type TierResolver interface {
	ResolveTier(ctx context.Context, id shared.Identity) (entitlement.Tier, error)
}

// QuotaReader - чтение состояния квоты.
type QuotaReader interface {
	GetState(ctx context.Context, id shared.Identity) (quota.State, error)
}

// QuotaDTO - состояние квоты для отчёта.
type QuotaDTO struct {
	Tier   entitlement.Tier   `json:"tier"`
	Policy entitlement.Policy `json:"policy"`
	State  quota.State        `json:"state"`

	// Remaining - дневной остаток; не имеет смысла при Unlimited.
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`

	// MessagesLeft - остаток пожизненных сообщений; nil, если лимита нет.
	MessagesLeft *int `json:"messages_left,omitempty"`
}

// GetQuotaHandler обрабатывает запрос состояния квоты.
type GetQuotaHandler struct {
	resolver TierResolver
	ledger   QuotaReader
	logger   *slog.Logger
}

// NewGetQuotaHandler создаёт обработчик.
func NewGetQuotaHandler(resolver TierResolver, ledger QuotaReader, logger *slog.Logger) *GetQuotaHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetQuotaHandler{resolver: resolver, ledger: ledger, logger: logger.With("component", "get_quota")}
}

// Handle возвращает состояние квоты. Два вызова в течение дня без
// списаний между ними дают одинаковый результат.
func (h *GetQuotaHandler) Handle(ctx context.Context, id shared.Identity) (*QuotaDTO, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	tier, err := h.resolver.ResolveTier(ctx, id)
	if err != nil {
		h.logger.Warn("tier lookup failed, using fallback", "identity", id.String(), "tier", tier, "error", err)
	}
	policy, ok := entitlement.Get(tier)
	if !ok {
		return nil, shared.ErrUnknownTier
	}

	state, err := h.ledger.GetState(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get_quota: %w", err)
	}

	remaining, unlimited := policy.DailyTokenAllowance.Remaining(state.TokensConsumedToday)
	dto := &QuotaDTO{
		Tier:      tier,
		Policy:    policy,
		State:     state,
		Remaining: remaining,
		Unlimited: unlimited,
	}
	if policy.HasLifetimeCap() {
		left := max(policy.MaxLifetimeMessages-state.LifetimeMessageCount, 0)
		dto.MessagesLeft = &left
	}
	return dto, nil
}
