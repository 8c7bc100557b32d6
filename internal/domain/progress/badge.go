package progress

import (
	"fmt"
	"strings"

	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BADGE RULES
// Правила - закрытый набор вариантов. Новый вариант обязан появиться
// в Satisfied, Describe и RuleFromSpec.
// ══════════════════════════════════════════════════════════════════════════════

// Rule - условие открытия значка.
type Rule interface {
	isRule()
}

// ActivityWins: побед в типе игры >= Count.
type ActivityWins struct {
	Type  ActivityType
	Count int
}

// BestStreakAtLeast: лучшая серия >= N.
type BestStreakAtLeast struct{ N int }

// TotalXPAtLeast: общий XP >= N.
type TotalXPAtLeast struct{ N int }

// GamesPlayedAtLeast: сыграно игр >= N.
type GamesPlayedAtLeast struct{ N int }

// SubjectLevelAtLeast: хотя бы один предмет на уровне >= Level.
type SubjectLevelAtLeast struct{ Level int }

// SubjectsAtLevel: не меньше Count предметов на уровне >= Level.
type SubjectsAtLevel struct {
	Count int
	Level int
}

func (ActivityWins) isRule()        {}
func (BestStreakAtLeast) isRule()   {}
func (TotalXPAtLeast) isRule()      {}
func (GamesPlayedAtLeast) isRule()  {}
func (SubjectLevelAtLeast) isRule() {}
func (SubjectsAtLevel) isRule()     {}

// Satisfied проверяет правило на статистике.
func Satisfied(r Rule, s Stats) bool {
	switch r := r.(type) {
	case ActivityWins:
		return s.Wins(r.Type) >= r.Count
	case BestStreakAtLeast:
		return s.BestStreak >= r.N
	case TotalXPAtLeast:
		return s.TotalXP >= r.N
	case GamesPlayedAtLeast:
		return s.TotalGamesPlayed >= r.N
	case SubjectLevelAtLeast:
		return s.MaxSubjectLevel() >= r.Level
	case SubjectsAtLevel:
		return s.SubjectsAtLeast(r.Level) >= r.Count
	default:
		return false
	}
}

// Describe возвращает читаемое описание правила.
func Describe(r Rule) string {
	switch r := r.(type) {
	case ActivityWins:
		return fmt.Sprintf("%s wins >= %d", r.Type, r.Count)
	case BestStreakAtLeast:
		return fmt.Sprintf("best streak >= %d", r.N)
	case TotalXPAtLeast:
		return fmt.Sprintf("total xp >= %d", r.N)
	case GamesPlayedAtLeast:
		return fmt.Sprintf("games played >= %d", r.N)
	case SubjectLevelAtLeast:
		return fmt.Sprintf("any subject level >= %d", r.Level)
	case SubjectsAtLevel:
		return fmt.Sprintf("%d subjects at level >= %d", r.Count, r.Level)
	default:
		return "unknown rule"
	}
}

// Имена вариантов правил в файле каталога.
const (
	RuleKindActivityWins  = "activity_wins"
	RuleKindBestStreak    = "best_streak"
	RuleKindTotalXP       = "total_xp"
	RuleKindGamesPlayed   = "games_played"
	RuleKindSubjectLevel  = "subject_level"
	RuleKindSubjectsLevel = "subjects_at_level"
)

// RuleSpec - правило в виде, пригодном для файла конфигурации.
type RuleSpec struct {
	Kind     string `toml:"kind" yaml:"kind" json:"kind"`
	Activity string `toml:"activity,omitempty" yaml:"activity,omitempty" json:"activity,omitempty"`
	Count    int    `toml:"count,omitempty" yaml:"count,omitempty" json:"count,omitempty"`
	N        int    `toml:"n,omitempty" yaml:"n,omitempty" json:"n,omitempty"`
	Level    int    `toml:"level,omitempty" yaml:"level,omitempty" json:"level,omitempty"`
}

// RuleFromSpec строит правило из описания.
func RuleFromSpec(spec RuleSpec) (Rule, error) {
	invalid := func(msg string) error {
		return shared.WrapError("progress", "RuleFromSpec", shared.ErrInvalidFormat, msg, shared.ErrInvalidCatalog)
	}

	switch strings.ToLower(strings.TrimSpace(spec.Kind)) {
	case RuleKindActivityWins:
		t, err := ParseActivityType(spec.Activity)
		if err != nil {
			return nil, invalid(fmt.Sprintf("unknown activity %q", spec.Activity))
		}
		if spec.Count <= 0 {
			return nil, invalid("activity_wins needs count > 0")
		}
		return ActivityWins{Type: t, Count: spec.Count}, nil
	case RuleKindBestStreak:
		if spec.N <= 0 {
			return nil, invalid("best_streak needs n > 0")
		}
		return BestStreakAtLeast{N: spec.N}, nil
	case RuleKindTotalXP:
		if spec.N <= 0 {
			return nil, invalid("total_xp needs n > 0")
		}
		return TotalXPAtLeast{N: spec.N}, nil
	case RuleKindGamesPlayed:
		if spec.N <= 0 {
			return nil, invalid("games_played needs n > 0")
		}
		return GamesPlayedAtLeast{N: spec.N}, nil
	case RuleKindSubjectLevel:
		if spec.Level <= 0 {
			return nil, invalid("subject_level needs level > 0")
		}
		return SubjectLevelAtLeast{Level: spec.Level}, nil
	case RuleKindSubjectsLevel:
		if spec.Level <= 0 || spec.Count <= 0 {
			return nil, invalid("subjects_at_level needs count > 0 and level > 0")
		}
		return SubjectsAtLevel{Count: spec.Count, Level: spec.Level}, nil
	default:
		return nil, invalid(fmt.Sprintf("unknown rule kind %q", spec.Kind))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Badge - запись каталога значков.
type Badge struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Rule        Rule   `json:"-"`
	XPReward    int    `json:"xp_reward"`
}

// Catalog - упорядоченный неизменяемый каталог значков.
type Catalog struct {
	badges []Badge
	index  map[string]int
}

// NewCatalog проверяет записи (непустой id, уникальность, правило задано,
// награда >= 0) и сохраняет их порядок.
func NewCatalog(badges []Badge) (*Catalog, error) {
	c := &Catalog{
		badges: make([]Badge, 0, len(badges)),
		index:  make(map[string]int, len(badges)),
	}
	for _, b := range badges {
		id := strings.TrimSpace(b.ID)
		if id == "" {
			return nil, shared.WrapError("progress", "NewCatalog", shared.ErrInvalidFormat, "badge id is empty", shared.ErrInvalidCatalog)
		}
		if _, dup := c.index[id]; dup {
			return nil, shared.WrapError("progress", "NewCatalog", shared.ErrInvalidFormat,
				fmt.Sprintf("duplicate badge id %q", id), shared.ErrInvalidCatalog)
		}
		if b.Rule == nil {
			return nil, shared.WrapError("progress", "NewCatalog", shared.ErrInvalidFormat,
				fmt.Sprintf("badge %q has no rule", id), shared.ErrInvalidCatalog)
		}
		if b.XPReward < 0 {
			return nil, shared.WrapError("progress", "NewCatalog", shared.ErrInvalidFormat,
				fmt.Sprintf("badge %q has negative reward", id), shared.ErrInvalidCatalog)
		}
		b.ID = id
		if b.DisplayName == "" {
			b.DisplayName = id
		}
		c.index[id] = len(c.badges)
		c.badges = append(c.badges, b)
	}
	return c, nil
}

// DefaultBadges возвращает встроенный каталог.
func DefaultBadges() []Badge {
	return []Badge{
		{ID: "first-steps", DisplayName: "First Steps", Rule: GamesPlayedAtLeast{N: 1}, XPReward: 25},
		{ID: "memorypro", DisplayName: "Memory Pro", Rule: ActivityWins{Type: ActivityMemory, Count: 5}, XPReward: 100},
		{ID: "quiz-whiz", DisplayName: "Quiz Whiz", Rule: ActivityWins{Type: ActivityQuiz, Count: 5}, XPReward: 100},
		{ID: "speed-demon", DisplayName: "Speed Demon", Rule: ActivityWins{Type: ActivitySpeedMath, Count: 5}, XPReward: 100},
		{ID: "streak-starter", DisplayName: "Streak Starter", Rule: BestStreakAtLeast{N: 3}, XPReward: 50},
		{ID: "streak-builder", DisplayName: "Streak Builder", Rule: BestStreakAtLeast{N: 10}, XPReward: 150},
		{ID: "marathoner", DisplayName: "Marathoner", Rule: GamesPlayedAtLeast{N: 50}, XPReward: 200},
		{ID: "xp-collector", DisplayName: "XP Collector", Rule: TotalXPAtLeast{N: 5000}, XPReward: 250},
		{ID: "subject-master", DisplayName: "Subject Master", Rule: SubjectLevelAtLeast{Level: 10}, XPReward: 300},
		{ID: "polymath", DisplayName: "Polymath", Rule: SubjectsAtLevel{Count: 3, Level: 5}, XPReward: 300},
	}
}

// DefaultCatalog возвращает встроенный каталог.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog(DefaultBadges())
	return c
}

// Badges возвращает записи в порядке каталога.
func (c *Catalog) Badges() []Badge {
	out := make([]Badge, len(c.badges))
	copy(out, c.badges)
	return out
}

// Lookup ищет значок по id.
func (c *Catalog) Lookup(id string) (Badge, bool) {
	i, ok := c.index[id]
	if !ok {
		return Badge{}, false
	}
	return c.badges[i], true
}

// Len - число значков.
func (c *Catalog) Len() int {
	return len(c.badges)
}

// Evaluate проверяет все ещё не открытые значки на статистике, которая уже
// отражает только что завершённую игру. Возвращает новые id в порядке
// каталога. Открытые значки никогда не перепроверяются и не отзываются.
func (c *Catalog) Evaluate(previouslyUnlocked []string, updated Stats) []string {
	unlocked := make(map[string]struct{}, len(previouslyUnlocked))
	for _, id := range previouslyUnlocked {
		unlocked[id] = struct{}{}
	}

	var newly []string
	for _, b := range c.badges {
		if _, ok := unlocked[b.ID]; ok {
			continue
		}
		if Satisfied(b.Rule, updated) {
			newly = append(newly, b.ID)
		}
	}
	return newly
}

// Rewards суммирует XP-награды за значки; неизвестные id пропускаются.
func (c *Catalog) Rewards(ids []string) int {
	total := 0
	for _, id := range ids {
		if b, ok := c.Lookup(id); ok {
			total += b.XPReward
		}
	}
	return total
}
