// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/edu-progress/internal/domain/entitlement"
	"github.com/alem-hub/edu-progress/internal/domain/progress"
	"github.com/alem-hub/edu-progress/internal/domain/quota"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLLABORATORS
// ══════════════════════════════════════════════════════════════════════════════

// TierResolver maps an identity to its effective tier.
type TierResolver interface {
	ResolveTier(ctx context.Context, id shared.Identity) (entitlement.Tier, error)
}

// QuotaLedger is the metering surface used by commands.
type QuotaLedger interface {
	CanConsume(ctx context.Context, id shared.Identity, amount int, tier entitlement.Tier) (quota.Decision, error)
	Consume(ctx context.Context, id shared.Identity, amount int, tier entitlement.Tier, kind entitlement.ChargeKind) (quota.ConsumeResult, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE ACTIVITY COMMAND
// Flow: Idle → QuotaChecked → QuotaConsumed → RewardComputed → StreakUpdated →
//
//	BadgesEvaluated → MasteryUpdated → Reported
//
// A denied quota check jumps straight to Reported; no reward runs.
// ══════════════════════════════════════════════════════════════════════════════

// Step is a state of the activity flow.
type Step string

const (
	StepIdle            Step = "idle"
	StepQuotaChecked    Step = "quota_checked"
	StepQuotaConsumed   Step = "quota_consumed"
	StepRewardComputed  Step = "reward_computed"
	StepStreakUpdated   Step = "streak_updated"
	StepBadgesEvaluated Step = "badges_evaluated"
	StepMasteryUpdated  Step = "mastery_updated"
	StepReported        Step = "reported"
)

// CompleteActivityCommand reports a finished mini-game.
type CompleteActivityCommand struct {
	Identity shared.Identity
	Outcome  progress.Outcome

	// Stats is the caller-held aggregate for anonymous identities.
	// Ignored for registered identities, whose stats are loaded from storage.
	Stats *progress.Stats

	CorrelationID string
}

// Validate validates the command.
func (c CompleteActivityCommand) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if !c.Outcome.Type.IsValid() {
		return shared.ErrUnknownActivityType
	}
	return nil
}

// CompleteActivityResult is what the caller gets back in the Reported state.
type CompleteActivityResult struct {
	// Step is the final state, always StepReported when Handle returns a result.
	Step Step `json:"step"`
	// Path lists every state the flow passed through.
	Path []Step `json:"path"`

	Tier      entitlement.Tier `json:"tier"`
	Allowed   bool             `json:"allowed"`
	Reason    quota.Reason     `json:"reason"`
	Remaining int              `json:"remaining"`
	Unlimited bool             `json:"unlimited"`

	XP          progress.Breakdown    `json:"xp"`
	Won         bool                  `json:"won"`
	Streak      progress.Streak       `json:"streak"`
	NewBadges   []string              `json:"new_badges"`
	BadgeXP     int                   `json:"badge_xp"`
	LevelChange *progress.LevelChange `json:"level_change,omitempty"`
	Subject     *progress.Mastery     `json:"subject,omitempty"`

	// RewardApplied is false when the reward could not be persisted.
	// Quota consumption is kept either way.
	RewardApplied bool `json:"reward_applied"`
	// Stats is the aggregate after this call. For registered identities it is
	// always the stored aggregate; nil when it could not be read.
	Stats *progress.Stats `json:"stats,omitempty"`

	Events      []shared.Event `json:"-"`
	CompletedAt time.Time      `json:"completed_at"`
}

func (r *CompleteActivityResult) advance(s Step) {
	r.Step = s
	r.Path = append(r.Path, s)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CompleteActivityHandlerConfig contains configuration for the handler.
type CompleteActivityHandlerConfig struct {
	// BadgeRewards adds each newly unlocked badge's XP to TotalXP.
	BadgeRewards bool
}

// CompleteActivityHandler runs the activity flow.
type CompleteActivityHandler struct {
	resolver  TierResolver
	ledger    QuotaLedger
	stats     progress.StatsRepository
	catalog   *progress.Catalog
	mastery   *progress.MasteryTable
	publisher shared.EventPublisher
	logger    *slog.Logger
	config    CompleteActivityHandlerConfig
	now       func() time.Time
}

// NewCompleteActivityHandler creates a new CompleteActivityHandler.
// Nil catalog, mastery table, publisher and logger use defaults.
func NewCompleteActivityHandler(
	resolver TierResolver,
	ledger QuotaLedger,
	stats progress.StatsRepository,
	catalog *progress.Catalog,
	mastery *progress.MasteryTable,
	publisher shared.EventPublisher,
	logger *slog.Logger,
	config CompleteActivityHandlerConfig,
) *CompleteActivityHandler {
	if catalog == nil {
		catalog = progress.DefaultCatalog()
	}
	if mastery == nil {
		mastery = progress.DefaultMasteryTable()
	}
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CompleteActivityHandler{
		resolver:  resolver,
		ledger:    ledger,
		stats:     stats,
		catalog:   catalog,
		mastery:   mastery,
		publisher: publisher,
		logger:    logger.With("component", "complete_activity"),
		config:    config,
		now:       time.Now,
	}
}

// Handle executes the activity flow. Validation failures return an error and
// no result. A store failure on the quota path returns a Reported result with
// Allowed=false together with an error wrapping shared.ErrStoreUnavailable.
func (h *CompleteActivityHandler) Handle(ctx context.Context, cmd CompleteActivityCommand) (*CompleteActivityResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("complete_activity: validation failed: %w", err)
	}

	res := &CompleteActivityResult{NewBadges: []string{}}
	res.advance(StepIdle)
	log := h.logger.With("identity", cmd.Identity.String(), "activity", cmd.Outcome.Type)

	defer func() {
		res.CompletedAt = h.now().UTC()
		h.publish(res.Events, cmd.CorrelationID)
	}()

	tier, err := h.resolver.ResolveTier(ctx, cmd.Identity)
	if err != nil {
		log.Warn("tier lookup failed, using fallback", "tier", tier, "error", err)
	}
	res.Tier = tier

	cost, err := entitlement.CostOf(entitlement.ChargeActivity)
	if err != nil {
		return nil, err
	}

	// QuotaChecked
	decision, err := h.ledger.CanConsume(ctx, cmd.Identity, cost, tier)
	res.advance(StepQuotaChecked)
	if err != nil {
		log.Error("quota check failed", "error", err)
		h.report(ctx, res, cmd, log)
		return res, err
	}
	res.Allowed, res.Reason, res.Remaining, res.Unlimited = decision.Allowed, decision.Reason, decision.Remaining, decision.Unlimited
	if !decision.Allowed {
		h.deny(ctx, res, cmd, decision.Reason, log)
		return res, nil
	}

	// QuotaConsumed
	consumed, err := h.ledger.Consume(ctx, cmd.Identity, cost, tier, entitlement.ChargeActivity)
	res.advance(StepQuotaConsumed)
	if err != nil {
		log.Error("quota consume failed", "error", err)
		res.Allowed = false
		h.report(ctx, res, cmd, log)
		return res, err
	}
	res.Allowed, res.Reason, res.Remaining, res.Unlimited = consumed.Success, consumed.Reason, consumed.Remaining, consumed.Unlimited
	if !consumed.Success {
		h.deny(ctx, res, cmd, consumed.Reason, log)
		return res, nil
	}
	res.Events = append(res.Events, shared.NewQuotaConsumedEvent(
		cmd.Identity.ID, string(tier), string(entitlement.ChargeActivity), cost, consumed.Remaining, consumed.Unlimited))

	before, loaded := h.loadStats(ctx, cmd, log)
	if !loaded {
		res.advance(StepReported)
		return res, nil
	}

	// RewardComputed
	if cmd.Outcome.IsDegenerate() {
		log.Warn("degenerate activity outcome, scoring as 0%",
			"raw_score", cmd.Outcome.RawScore,
			"max_score", cmd.Outcome.MaxScore,
		)
	}
	res.XP = progress.XPForOutcome(cmd.Outcome, before.CurrentStreak)
	res.advance(StepRewardComputed)

	// StreakUpdated
	res.Won = progress.IsSuccess(res.XP.Percentage)
	res.Streak = progress.UpdateStreak(before.BestStreak, before.CurrentStreak, res.Won)
	res.advance(StepStreakUpdated)

	// Stats, including subject mastery, must reflect this game before badges
	// are evaluated.
	applied := progress.ApplyOutcome(before, cmd.Outcome, res.XP.Total, res.Streak, res.Won, h.mastery)

	// BadgesEvaluated
	newly := h.catalog.Evaluate(before.UnlockedBadges, applied.Stats)
	if h.config.BadgeRewards {
		res.BadgeXP = h.catalog.Rewards(newly)
	}
	after := applied.Stats.Unlock(newly, res.BadgeXP)
	res.NewBadges = append(res.NewBadges, newly...)
	res.advance(StepBadgesEvaluated)

	// MasteryUpdated
	res.LevelChange = applied.LevelChange
	res.Subject = applied.SubjectAfter
	res.advance(StepMasteryUpdated)

	res.RewardApplied = h.saveStats(ctx, cmd.Identity, after, log)
	if res.RewardApplied {
		res.Stats = &after
		res.Events = append(res.Events, h.progressEvents(cmd.Identity.ID, cmd.Outcome, res, after)...)
	} else {
		res.Stats = &before
	}

	res.advance(StepReported)
	log.Debug("activity reported",
		"xp", res.XP.Total,
		"streak", res.Streak.Current,
		"new_badges", len(res.NewBadges),
		"reward_applied", res.RewardApplied,
	)
	return res, nil
}

func (h *CompleteActivityHandler) deny(ctx context.Context, res *CompleteActivityResult, cmd CompleteActivityCommand, reason quota.Reason, log *slog.Logger) {
	res.Allowed = false
	res.Events = append(res.Events, shared.NewQuotaDeniedEvent(
		cmd.Identity.ID, string(res.Tier), string(entitlement.ChargeActivity), string(reason)))
	h.report(ctx, res, cmd, log)
}

// report ends a flow that never reached the reward. The stats are read, not
// written, so the caller still sees the current aggregate.
func (h *CompleteActivityHandler) report(ctx context.Context, res *CompleteActivityResult, cmd CompleteActivityCommand, log *slog.Logger) {
	if s, ok := h.loadStats(ctx, cmd, log); ok {
		res.Stats = &s
	}
	res.advance(StepReported)
}

// loadStats returns the aggregate to build on. It reports false when the
// registered aggregate could not be read; the reward is then not applied.
func (h *CompleteActivityHandler) loadStats(ctx context.Context, cmd CompleteActivityCommand, log *slog.Logger) (progress.Stats, bool) {
	if cmd.Identity.Anonymous || h.stats == nil {
		if cmd.Stats != nil {
			return cmd.Stats.Normalize(), true
		}
		return progress.NewStats(), true
	}

	s, err := h.stats.Load(ctx, cmd.Identity.ID)
	switch {
	case err == nil:
		return s.Normalize(), true
	case errors.Is(err, shared.ErrStatsNotFound):
		return progress.NewStats(), true
	default:
		log.Error("stats load failed, reward not applied", "error", err)
		return progress.NewStats(), false
	}
}

func (h *CompleteActivityHandler) saveStats(ctx context.Context, id shared.Identity, s progress.Stats, log *slog.Logger) bool {
	if id.Anonymous || h.stats == nil {
		return true
	}
	if err := h.stats.Save(ctx, id.ID, s); err != nil {
		log.Error("stats save failed, reward not applied", "error", err)
		return false
	}
	return true
}

func (h *CompleteActivityHandler) progressEvents(identityID string, o progress.Outcome, res *CompleteActivityResult, after progress.Stats) []shared.Event {
	events := []shared.Event{
		shared.NewActivityCompletedEvent(identityID, string(o.Type), res.XP.Percentage, res.XP.Total, res.Streak.Current, after.TotalXP),
	}
	for _, id := range res.NewBadges {
		var reward int
		if h.config.BadgeRewards {
			if b, ok := h.catalog.Lookup(id); ok {
				reward = b.XPReward
			}
		}
		events = append(events, shared.NewBadgeUnlockedEvent(identityID, id, reward))
	}
	if lc := res.LevelChange; lc != nil {
		events = append(events, shared.NewLevelUpEvent(identityID, lc.Subject, lc.OldLevel, lc.NewLevel))
	}
	return events
}

func (h *CompleteActivityHandler) publish(events []shared.Event, correlationID string) {
	for _, e := range events {
		if err := h.publisher.Publish(withCorrelation(e, correlationID)); err != nil {
			h.logger.Warn("failed to publish event", "event_type", e.EventType(), "error", err)
		}
	}
}
