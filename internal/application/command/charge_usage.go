package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alem-hub/edu-progress/internal/domain/entitlement"
	"github.com/alem-hub/edu-progress/internal/domain/quota"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHARGE USAGE COMMAND
// Conversation path: a chat message or a voice synthesis request is checked
// against the tier policy and, unless DryRun, charged to the quota.
// ══════════════════════════════════════════════════════════════════════════════

// ReasonVoiceDisabled denies voice synthesis on tiers without it.
const ReasonVoiceDisabled quota.Reason = "voice_disabled"

// ChargeUsageCommand charges one conversational action.
type ChargeUsageCommand struct {
	Identity shared.Identity
	Kind     entitlement.ChargeKind

	// DryRun only checks; nothing is written.
	DryRun bool

	CorrelationID string
}

// Validate validates the command.
func (c ChargeUsageCommand) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if _, err := entitlement.CostOf(c.Kind); err != nil {
		return err
	}
	return nil
}

// ChargeUsageResult describes the outcome of a charge.
type ChargeUsageResult struct {
	Tier      entitlement.Tier `json:"tier"`
	Kind      string           `json:"kind"`
	Cost      int              `json:"cost"`
	Allowed   bool             `json:"allowed"`
	Charged   bool             `json:"charged"`
	Reason    quota.Reason     `json:"reason"`
	Remaining int              `json:"remaining"`
	Unlimited bool             `json:"unlimited"`

	VoiceQuality  entitlement.VoiceQuality `json:"voice_quality"`
	ResponseModel entitlement.ModelQuality `json:"response_model"`
}

// ChargeUsageHandler handles ChargeUsageCommand.
type ChargeUsageHandler struct {
	resolver  TierResolver
	ledger    QuotaLedger
	publisher shared.EventPublisher
	logger    *slog.Logger
}

// NewChargeUsageHandler creates a new ChargeUsageHandler.
func NewChargeUsageHandler(resolver TierResolver, ledger QuotaLedger, publisher shared.EventPublisher, logger *slog.Logger) *ChargeUsageHandler {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChargeUsageHandler{
		resolver:  resolver,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger.With("component", "charge_usage"),
	}
}

// Handle executes the charge. Store failures return a denied result together
// with an error wrapping shared.ErrStoreUnavailable.
func (h *ChargeUsageHandler) Handle(ctx context.Context, cmd ChargeUsageCommand) (*ChargeUsageResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("charge_usage: validation failed: %w", err)
	}

	tier, err := h.resolver.ResolveTier(ctx, cmd.Identity)
	if err != nil {
		h.logger.Warn("tier lookup failed, using fallback", "identity", cmd.Identity.String(), "tier", tier, "error", err)
	}
	policy, ok := entitlement.Get(tier)
	if !ok {
		return nil, shared.ErrUnknownTier
	}
	cost, _ := entitlement.CostOf(cmd.Kind)

	res := &ChargeUsageResult{
		Tier:          tier,
		Kind:          string(cmd.Kind),
		Cost:          cost,
		VoiceQuality:  policy.VoiceQuality,
		ResponseModel: policy.ResponseModel,
	}

	if cmd.Kind.RequiresVoice() && !policy.VoiceSynthesisEnabled {
		res.Reason = ReasonVoiceDisabled
		h.denied(cmd, tier, res.Reason)
		return res, nil
	}

	if cmd.DryRun {
		d, err := h.ledger.CanConsume(ctx, cmd.Identity, cost, tier)
		if err != nil {
			return res, err
		}
		res.Allowed, res.Reason, res.Remaining, res.Unlimited = d.Allowed, d.Reason, d.Remaining, d.Unlimited
		return res, nil
	}

	r, err := h.ledger.Consume(ctx, cmd.Identity, cost, tier, cmd.Kind)
	res.Reason, res.Remaining, res.Unlimited = r.Reason, r.Remaining, r.Unlimited
	if err != nil {
		h.logger.Error("quota consume failed", "identity", cmd.Identity.String(), "kind", cmd.Kind, "error", err)
		return res, err
	}
	if !r.Success {
		h.denied(cmd, tier, r.Reason)
		return res, nil
	}

	res.Allowed, res.Charged = true, true
	h.emit(shared.NewQuotaConsumedEvent(cmd.Identity.ID, string(tier), string(cmd.Kind), cost, r.Remaining, r.Unlimited), cmd.CorrelationID)
	return res, nil
}

func (h *ChargeUsageHandler) denied(cmd ChargeUsageCommand, tier entitlement.Tier, reason quota.Reason) {
	if cmd.DryRun {
		return
	}
	h.emit(shared.NewQuotaDeniedEvent(cmd.Identity.ID, string(tier), string(cmd.Kind), string(reason)), cmd.CorrelationID)
}

func (h *ChargeUsageHandler) emit(e shared.Event, correlationID string) {
	if err := h.publisher.Publish(withCorrelation(e, correlationID)); err != nil {
		h.logger.Warn("failed to publish event", "event_type", e.EventType(), "error", err)
	}
}

// withCorrelation stamps the correlation id on the known event types.
func withCorrelation(e shared.Event, id string) shared.Event {
	if id == "" {
		return e
	}
	switch ev := e.(type) {
	case shared.QuotaConsumedEvent:
		ev.BaseEvent = ev.WithCorrelationID(id)
		return ev
	case shared.QuotaDeniedEvent:
		ev.BaseEvent = ev.WithCorrelationID(id)
		return ev
	case shared.ActivityCompletedEvent:
		ev.BaseEvent = ev.WithCorrelationID(id)
		return ev
	case shared.BadgeUnlockedEvent:
		ev.BaseEvent = ev.WithCorrelationID(id)
		return ev
	case shared.LevelUpEvent:
		ev.BaseEvent = ev.WithCorrelationID(id)
		return ev
	default:
		return e
	}
}
