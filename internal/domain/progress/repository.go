package progress

import (
	"context"
)

// StatsRepository - долговременное хранилище статистики
// зарегистрированных идентичностей.
type StatsRepository interface {
	// Load возвращает статистику или shared.ErrStatsNotFound.
	Load(ctx context.Context, identityID string) (Stats, error)

	// Save сохраняет статистику. Значки только добавляются:
	// реализация не удаляет ранее открытые значки.
	Save(ctx context.Context, identityID string, stats Stats) error
}
