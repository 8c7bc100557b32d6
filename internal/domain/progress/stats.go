package progress

import (
	"sort"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATE STATS
// ══════════════════════════════════════════════════════════════════════════════

// ActivityStat - счётчики по одному типу мини-игр.
type ActivityStat struct {
	Played   int `json:"played"`
	Won      int `json:"won"`
	XPEarned int `json:"xp_earned"`
}

// Stats - совокупная статистика идентичности. TotalXP и TotalGamesPlayed
// только растут; UnlockedBadges только дополняется.
type Stats struct {
	UnlockedBadges   []string                      `json:"unlocked_badges"`
	CurrentStreak    int                           `json:"current_streak"`
	BestStreak       int                           `json:"best_streak"`
	TotalGamesPlayed int                           `json:"total_games_played"`
	TotalXP          int                           `json:"total_xp"`
	ActivityStats    map[ActivityType]ActivityStat `json:"activity_stats"`
	SubjectMastery   map[string]Mastery            `json:"subject_mastery"`
}

// NewStats возвращает пустую статистику.
func NewStats() Stats {
	return Stats{
		UnlockedBadges: []string{},
		ActivityStats:  make(map[ActivityType]ActivityStat),
		SubjectMastery: make(map[string]Mastery),
	}
}

// Clone возвращает глубокую копию; результат можно менять, не трогая исходник.
func (s Stats) Clone() Stats {
	c := s
	c.UnlockedBadges = append([]string{}, s.UnlockedBadges...)
	c.ActivityStats = make(map[ActivityType]ActivityStat, len(s.ActivityStats))
	for k, v := range s.ActivityStats {
		c.ActivityStats[k] = v
	}
	c.SubjectMastery = make(map[string]Mastery, len(s.SubjectMastery))
	for k, v := range s.SubjectMastery {
		c.SubjectMastery[k] = v
	}
	return c
}

// HasBadge проверяет, открыт ли значок.
func (s Stats) HasBadge(id string) bool {
	for _, b := range s.UnlockedBadges {
		if b == id {
			return true
		}
	}
	return false
}

// Wins возвращает число побед в типе игры.
func (s Stats) Wins(t ActivityType) int {
	return s.ActivityStats[t].Won
}

// MaxSubjectLevel возвращает наибольший уровень среди предметов.
func (s Stats) MaxSubjectLevel() int {
	maxLevel := 0
	for _, m := range s.SubjectMastery {
		if m.Level > maxLevel {
			maxLevel = m.Level
		}
	}
	return maxLevel
}

// SubjectsAtLeast возвращает число предметов с уровнем >= level.
func (s Stats) SubjectsAtLeast(level int) int {
	n := 0
	for _, m := range s.SubjectMastery {
		if m.Level >= level {
			n++
		}
	}
	return n
}

// Subjects возвращает предметы в алфавитном порядке.
func (s Stats) Subjects() []string {
	out := make([]string, 0, len(s.SubjectMastery))
	for k := range s.SubjectMastery {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Normalize восстанавливает инварианты после чтения из внешнего источника:
// nil-карты, отрицательные счётчики, Best < Current, дубли значков.
func (s Stats) Normalize() Stats {
	c := s.Clone()
	if c.CurrentStreak < 0 {
		c.CurrentStreak = 0
	}
	if c.BestStreak < c.CurrentStreak {
		c.BestStreak = c.CurrentStreak
	}
	if c.TotalGamesPlayed < 0 {
		c.TotalGamesPlayed = 0
	}
	if c.TotalXP < 0 {
		c.TotalXP = 0
	}
	seen := make(map[string]bool, len(c.UnlockedBadges))
	badges := c.UnlockedBadges[:0]
	for _, b := range c.UnlockedBadges {
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		badges = append(badges, b)
	}
	c.UnlockedBadges = badges
	return c
}

// Application - результат применения одной игры к статистике.
type Application struct {
	Stats        Stats
	Won          bool
	LevelChange  *LevelChange
	SubjectAfter *Mastery
}

// ApplyOutcome применяет уже посчитанные XP и серию к копии статистики:
// счётчик игр, XP, статистику по типу, серию и владение предметом.
// Значки здесь не трогаются: их проверяют по уже обновлённой статистике.
func ApplyOutcome(stats Stats, o Outcome, xp int, streak Streak, won bool, table *MasteryTable) Application {
	next := stats.Normalize()

	next.TotalGamesPlayed++
	next.TotalXP += xp

	as := next.ActivityStats[o.Type]
	as.Played++
	as.XPEarned += xp
	if won {
		as.Won++
	}
	next.ActivityStats[o.Type] = as

	next.CurrentStreak = streak.Current
	if streak.Best > next.BestStreak {
		next.BestStreak = streak.Best
	}
	if next.BestStreak < next.CurrentStreak {
		next.BestStreak = next.CurrentStreak
	}

	app := Application{Won: won}

	subject := strings.TrimSpace(o.Subject)
	if subject != "" {
		if table == nil {
			table = defaultTable
		}
		prev := next.SubjectMastery[subject]
		prevLevel := prev.Level
		if prevLevel == 0 {
			prevLevel = table.LevelFor(prev.XP).Level
		}
		m := table.Update(xp, prev.XP)
		next.SubjectMastery[subject] = m
		app.SubjectAfter = &m
		if m.Level > prevLevel {
			app.LevelChange = &LevelChange{Subject: subject, OldLevel: prevLevel, NewLevel: m.Level}
		}
	}

	app.Stats = next
	return app
}

// Unlock добавляет значки и XP-награду за них.
func (s Stats) Unlock(ids []string, rewardXP int) Stats {
	c := s.Clone()
	for _, id := range ids {
		if !c.HasBadge(id) {
			c.UnlockedBadges = append(c.UnlockedBadges, id)
		}
	}
	if rewardXP > 0 {
		c.TotalXP += rewardXP
	}
	return c
}
