package progress

import (
	"fmt"
	"sort"

	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MASTERY LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// DefaultThresholds - XP, с которого начинается каждый уровень (1..10).
var DefaultThresholds = []int{0, 100, 250, 450, 700, 1000, 1400, 1900, 2400, 3000}

// LevelInfo - уровень и порог следующего уровня.
// На максимальном уровне NextLevelXP равен порогу текущего.
type LevelInfo struct {
	Level       int `json:"level"`
	NextLevelXP int `json:"next_level_xp"`
}

// Mastery - владение одним предметом.
type Mastery struct {
	Level int `json:"level"`
	XP    int `json:"xp"`
}

// LevelChange - изменение уровня предмета после игры.
type LevelChange struct {
	Subject  string `json:"subject"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
}

// MasteryTable - возрастающая таблица порогов. Неизменяема после создания.
type MasteryTable struct {
	thresholds []int
}

// NewMasteryTable проверяет таблицу: не пустая, начинается с 0, строго возрастает.
func NewMasteryTable(thresholds []int) (*MasteryTable, error) {
	if len(thresholds) == 0 {
		return nil, shared.WrapError("progress", "NewMasteryTable", shared.ErrInvalidFormat,
			"thresholds are empty", shared.ErrInvalidThresholds)
	}
	if thresholds[0] != 0 {
		return nil, shared.WrapError("progress", "NewMasteryTable", shared.ErrInvalidFormat,
			"first threshold must be 0", shared.ErrInvalidThresholds)
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return nil, shared.WrapError("progress", "NewMasteryTable", shared.ErrInvalidFormat,
				fmt.Sprintf("threshold %d (%d) is not above %d", i+1, thresholds[i], thresholds[i-1]),
				shared.ErrInvalidThresholds)
		}
	}
	cp := make([]int, len(thresholds))
	copy(cp, thresholds)
	return &MasteryTable{thresholds: cp}, nil
}

// DefaultMasteryTable возвращает таблицу по умолчанию.
func DefaultMasteryTable() *MasteryTable {
	t, _ := NewMasteryTable(DefaultThresholds)
	return t
}

// MaxLevel - номер последнего уровня.
func (t *MasteryTable) MaxLevel() int {
	return len(t.thresholds)
}

// Thresholds возвращает копию таблицы.
func (t *MasteryTable) Thresholds() []int {
	cp := make([]int, len(t.thresholds))
	copy(cp, t.thresholds)
	return cp
}

// LevelFor возвращает наибольший уровень, порог которого <= xp.
func (t *MasteryTable) LevelFor(xp int) LevelInfo {
	if xp < 0 {
		xp = 0
	}
	// Индекс первого порога > xp.
	idx := sort.Search(len(t.thresholds), func(i int) bool { return t.thresholds[i] > xp })
	level := idx
	if level < 1 {
		level = 1
	}

	next := t.thresholds[len(t.thresholds)-1]
	if level < len(t.thresholds) {
		next = t.thresholds[level]
	}
	return LevelInfo{Level: level, NextLevelXP: next}
}

// Update прибавляет xpDelta к previousXP и пересчитывает уровень.
// Отрицательная сумма обрезается до 0.
func (t *MasteryTable) Update(xpDelta, previousXP int) Mastery {
	xp := previousXP + xpDelta
	if xp < 0 {
		xp = 0
	}
	return Mastery{Level: t.LevelFor(xp).Level, XP: xp}
}

var defaultTable = DefaultMasteryTable()

// LevelFor - LevelFor по таблице по умолчанию.
func LevelFor(xp int) LevelInfo {
	return defaultTable.LevelFor(xp)
}

// UpdateMastery - обновление предмета по таблице по умолчанию.
// subject не влияет на расчёт и нужен вызывающему коду как ключ.
func UpdateMastery(_ string, xpDelta, previousXP int) Mastery {
	return defaultTable.Update(xpDelta, previousXP)
}
