package entitlement

import (
	"context"
	"errors"

	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TIER RESOLUTION
// Единственное место, где действует правило "администратор получает Pro".
// Раньше это правило дублировалось в нескольких местах; теперь тариф
// вычисляется один раз на запрос.
// ══════════════════════════════════════════════════════════════════════════════

// TierSource возвращает сохранённый тариф зарегистрированного пользователя.
// Возвращает ошибку с ErrNotFound, если записи ещё нет.
type TierSource interface {
	TierOf(ctx context.Context, identityID string) (Tier, error)
}

// Resolver определяет действующий тариф для идентичности.
type Resolver struct {
	source TierSource
}

// NewResolver создаёт Resolver. source может быть nil - тогда все
// зарегистрированные пользователи получают Free.
func NewResolver(source TierSource) *Resolver {
	return &Resolver{source: source}
}

// ResolveTier возвращает тариф:
//   - анонимный посетитель -> Guest;
//   - администратор -> Pro без обращения к хранилищу;
//   - остальные -> тариф из хранилища (Free, если записи нет).
//
// При сбое хранилища возвращается Free вместе с ошибкой, чтобы вызывающий
// код мог залогировать сбой и продолжить с наименее привилегированным тарифом.
func (r *Resolver) ResolveTier(ctx context.Context, id shared.Identity) (Tier, error) {
	if id.Anonymous {
		return TierGuest, nil
	}
	if id.IsAdmin() {
		return TierPro, nil
	}
	if r.source == nil {
		return TierFree, nil
	}

	tier, err := r.source.TierOf(ctx, id.ID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return TierFree, nil
		}
		return TierFree, err
	}
	if !tier.IsValid() || tier == TierGuest {
		// Guest - тариф только для анонимов.
		return TierFree, nil
	}
	return tier, nil
}
