package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/edu-progress/internal/domain/progress"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Совокупная статистика и владение предметами. Анонимная статистика хранится
// у вызывающего, поэтому для анонима возвращается пустая.
// ══════════════════════════════════════════════════════════════════════════════

// SubjectDTO - владение одним предметом.
type SubjectDTO struct {
	Subject     string `json:"subject"`
	Level       int    `json:"level"`
	XP          int    `json:"xp"`
	NextLevelXP int    `json:"next_level_xp"`
	MaxLevel    bool   `json:"max_level"`
}

// ProgressDTO - прогресс идентичности.
type ProgressDTO struct {
	Stats    progress.Stats `json:"stats"`
	Subjects []SubjectDTO   `json:"subjects"`
}

// GetProgressHandler обрабатывает запрос прогресса.
type GetProgressHandler struct {
	stats   progress.StatsRepository
	mastery *progress.MasteryTable
}

// NewGetProgressHandler создаёт обработчик. nil-таблица - таблица по умолчанию.
func NewGetProgressHandler(stats progress.StatsRepository, mastery *progress.MasteryTable) *GetProgressHandler {
	if mastery == nil {
		mastery = progress.DefaultMasteryTable()
	}
	return &GetProgressHandler{stats: stats, mastery: mastery}
}

// Handle возвращает прогресс.
func (h *GetProgressHandler) Handle(ctx context.Context, id shared.Identity) (*ProgressDTO, error) {
	s, err := loadStats(ctx, h.stats, id)
	if err != nil {
		return nil, err
	}

	dto := &ProgressDTO{Stats: s, Subjects: make([]SubjectDTO, 0, len(s.SubjectMastery))}
	for _, subject := range s.Subjects() {
		m := s.SubjectMastery[subject]
		info := h.mastery.LevelFor(m.XP)
		dto.Subjects = append(dto.Subjects, SubjectDTO{
			Subject:     subject,
			Level:       info.Level,
			XP:          m.XP,
			NextLevelXP: info.NextLevelXP,
			MaxLevel:    info.Level == h.mastery.MaxLevel(),
		})
	}
	return dto, nil
}

func loadStats(ctx context.Context, repo progress.StatsRepository, id shared.Identity) (progress.Stats, error) {
	if err := id.Validate(); err != nil {
		return progress.Stats{}, err
	}
	if id.Anonymous || repo == nil {
		return progress.NewStats(), nil
	}

	s, err := repo.Load(ctx, id.ID)
	switch {
	case err == nil:
		return s.Normalize(), nil
	case errors.Is(err, shared.ErrStatsNotFound):
		return progress.NewStats(), nil
	default:
		return progress.Stats{}, fmt.Errorf("load stats: %w", err)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LIST BADGES QUERY
// Каталог значков в порядке каталога с отметкой об открытии.
// ══════════════════════════════════════════════════════════════════════════════

// BadgeDTO - значок каталога для отображения.
type BadgeDTO struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Requirement string `json:"requirement"`
	XPReward    int    `json:"xp_reward"`
	Unlocked    bool   `json:"unlocked"`
}

// BadgesDTO - результат запроса значков.
type BadgesDTO struct {
	Badges   []BadgeDTO `json:"badges"`
	Unlocked int        `json:"unlocked"`
	Total    int        `json:"total"`
}

// ListBadgesHandler обрабатывает запрос значков.
type ListBadgesHandler struct {
	stats   progress.StatsRepository
	catalog *progress.Catalog
}

// NewListBadgesHandler создаёт обработчик. nil-каталог - каталог по умолчанию.
func NewListBadgesHandler(stats progress.StatsRepository, catalog *progress.Catalog) *ListBadgesHandler {
	if catalog == nil {
		catalog = progress.DefaultCatalog()
	}
	return &ListBadgesHandler{stats: stats, catalog: catalog}
}

// Handle возвращает каталог. Значки, открытые ранее, но уже удалённые из
// каталога, не показываются.
func (h *ListBadgesHandler) Handle(ctx context.Context, id shared.Identity) (*BadgesDTO, error) {
	s, err := loadStats(ctx, h.stats, id)
	if err != nil {
		return nil, err
	}

	badges := h.catalog.Badges()
	dto := &BadgesDTO{Badges: make([]BadgeDTO, 0, len(badges)), Total: len(badges)}
	for _, b := range badges {
		unlocked := s.HasBadge(b.ID)
		if unlocked {
			dto.Unlocked++
		}
		dto.Badges = append(dto.Badges, BadgeDTO{
			ID:          b.ID,
			DisplayName: b.DisplayName,
			Requirement: progress.Describe(b.Rule),
			XPReward:    b.XPReward,
			Unlocked:    unlocked,
		})
	}
	return dto, nil
}
