// Package progress превращает оценённые результаты мини-игр в XP, серии,
// постоянные значки и уровни владения предметами. Все функции пакета чистые:
// без состояния, без времени, без случайности.
package progress

import (
	"strings"

	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY
// ══════════════════════════════════════════════════════════════════════════════

// ActivityType - тип мини-игры.
type ActivityType string

const (
	ActivityMemory    ActivityType = "memory"
	ActivityQuiz      ActivityType = "quiz"
	ActivityWordMatch ActivityType = "word_match"
	ActivitySpeedMath ActivityType = "speed_math"
	ActivityReaction  ActivityType = "reaction"
)

var activityTypes = map[ActivityType]bool{
	ActivityMemory:    false,
	ActivityQuiz:      false,
	ActivityWordMatch: false,
	ActivitySpeedMath: true,
	ActivityReaction:  true,
}

// IsValid проверяет, что тип известен.
func (t ActivityType) IsValid() bool {
	_, ok := activityTypes[t]
	return ok
}

// IsTimed - получает ли тип бонус за скорость.
func (t ActivityType) IsTimed() bool {
	return activityTypes[t]
}

// ParseActivityType разбирает строку в ActivityType.
func ParseActivityType(s string) (ActivityType, error) {
	t := ActivityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", shared.ErrUnknownActivityType
	}
	return t, nil
}

// Outcome - оценённый результат одной мини-игры.
type Outcome struct {
	// Type - тип мини-игры.
	Type ActivityType `json:"activity_type"`

	// Subject - предмет для уровня владения (может быть пустым).
	Subject string `json:"subject,omitempty"`

	// RawScore - очки в собственной шкале игры.
	RawScore float64 `json:"raw_score"`

	// MaxScore - максимум шкалы; MaxScore <= 0 трактуется как 0%.
	MaxScore float64 `json:"max_score"`

	// ElapsedSeconds - время прохождения, если известно.
	ElapsedSeconds *float64 `json:"elapsed_seconds,omitempty"`
}

// IsDegenerate - результат, который приводится к 0% из-за некорректной шкалы.
func (o Outcome) IsDegenerate() bool {
	return !(o.MaxScore > 0)
}
