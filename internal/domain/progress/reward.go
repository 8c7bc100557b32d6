package progress

import (
	"math"
)

// ══════════════════════════════════════════════════════════════════════════════
// REWARD ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// SpeedBonusWindowSeconds - окно, внутри которого каждая сэкономленная
// секунда даёт SpeedBonusPerSecond XP.
const (
	SpeedBonusWindowSeconds = 60.0
	SpeedBonusPerSecond     = 2.0
)

// streakTier - множитель и плоский бонус для серии от MinStreak.
type streakTier struct {
	MinStreak  int
	Multiplier float64
	FlatBonus  float64
}

// streakTiers упорядочены по убыванию MinStreak.
var streakTiers = []streakTier{
	{MinStreak: 10, Multiplier: 3.0, FlatBonus: 150},
	{MinStreak: 7, Multiplier: 2.5, FlatBonus: 125},
	{MinStreak: 5, Multiplier: 2.0, FlatBonus: 100},
	{MinStreak: 3, Multiplier: 1.5, FlatBonus: 50},
}

// Breakdown - составные части начисления XP.
type Breakdown struct {
	Percentage float64 `json:"percentage"`
	BaseXP     int     `json:"base_xp"`
	Multiplier float64 `json:"multiplier"`
	FlatBonus  float64 `json:"flat_bonus"`
	SpeedBonus float64 `json:"speed_bonus"`
	Total      int     `json:"total"`
}

// Percentage возвращает clamp(raw/max*100, 0, 100).
// max <= 0 и нечисловые значения дают 0.
func Percentage(rawScore, maxScore float64) float64 {
	if !(maxScore > 0) || math.IsNaN(rawScore) || math.IsInf(maxScore, 0) {
		return 0
	}
	p := rawScore / maxScore * 100
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// StreakBonus возвращает множитель и плоский бонус для серии.
func StreakBonus(streak int) (multiplier, flat float64) {
	for _, t := range streakTiers {
		if streak >= t.MinStreak {
			return t.Multiplier, t.FlatBonus
		}
	}
	return 1.0, 0
}

// SpeedBonus возвращает max(0, 60-elapsed)*2. Отрицательное или
// нечисловое время не даёт бонуса.
func SpeedBonus(elapsedSeconds float64) float64 {
	if math.IsNaN(elapsedSeconds) || elapsedSeconds < 0 {
		return 0
	}
	return math.Max(0, SpeedBonusWindowSeconds-elapsedSeconds) * SpeedBonusPerSecond
}

// Compute возвращает полную раскладку начисления.
// elapsedSeconds == nil - бонус за скорость не начисляется.
func Compute(rawScore, maxScore float64, streak int, elapsedSeconds *float64) Breakdown {
	pct := Percentage(rawScore, maxScore)
	base := int(math.Round(pct / 100 * 100))
	mult, flat := StreakBonus(streak)

	var speed float64
	if elapsedSeconds != nil {
		speed = SpeedBonus(*elapsedSeconds)
	}

	return Breakdown{
		Percentage: pct,
		BaseXP:     base,
		Multiplier: mult,
		FlatBonus:  flat,
		SpeedBonus: speed,
		Total:      int(math.Round(float64(base)*mult + flat + speed)),
	}
}

// ComputeXP возвращает итоговое XP за результат.
func ComputeXP(rawScore, maxScore float64, streak int, elapsedSeconds *float64) int {
	return Compute(rawScore, maxScore, streak, elapsedSeconds).Total
}

// XPForOutcome считает XP для результата мини-игры: время учитывается
// только для игр на скорость. streak - серия до этой игры.
func XPForOutcome(o Outcome, streak int) Breakdown {
	var elapsed *float64
	if o.Type.IsTimed() {
		elapsed = o.ElapsedSeconds
	}
	return Compute(o.RawScore, o.MaxScore, streak, elapsed)
}
