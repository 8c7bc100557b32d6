// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types emitted by the metering and progression flows.
const (
	// Quota events
	EventQuotaConsumed EventType = "quota.consumed"
	EventQuotaDenied   EventType = "quota.denied"

	// Progress events
	EventActivityCompleted EventType = "progress.activity_completed"
	EventBadgeUnlocked     EventType = "progress.badge_unlocked"
	EventLevelUp           EventType = "progress.level_up"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Quota Events
// ═══════════════════════════════════════════════════════════════════════════

// QuotaConsumedEvent is emitted after a successful consumption write.
type QuotaConsumedEvent struct {
	BaseEvent
	Tier      string `json:"tier"`
	Kind      string `json:"kind"`
	Amount    int    `json:"amount"`
	Remaining int    `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
}

// Payload implements Event interface.
func (e QuotaConsumedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"tier":      e.Tier,
		"kind":      e.Kind,
		"amount":    e.Amount,
		"remaining": e.Remaining,
		"unlimited": e.Unlimited,
	}
}

// NewQuotaConsumedEvent creates a new QuotaConsumedEvent.
func NewQuotaConsumedEvent(identityID, tier, kind string, amount, remaining int, unlimited bool) QuotaConsumedEvent {
	return QuotaConsumedEvent{
		BaseEvent: NewBaseEvent(EventQuotaConsumed, identityID),
		Tier:      tier,
		Kind:      kind,
		Amount:    amount,
		Remaining: remaining,
		Unlimited: unlimited,
	}
}

// QuotaDeniedEvent is emitted when a consumption is refused.
type QuotaDeniedEvent struct {
	BaseEvent
	Tier   string `json:"tier"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Payload implements Event interface.
func (e QuotaDeniedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"tier":   e.Tier,
		"kind":   e.Kind,
		"reason": e.Reason,
	}
}

// NewQuotaDeniedEvent creates a new QuotaDeniedEvent.
func NewQuotaDeniedEvent(identityID, tier, kind, reason string) QuotaDeniedEvent {
	return QuotaDeniedEvent{
		BaseEvent: NewBaseEvent(EventQuotaDenied, identityID),
		Tier:      tier,
		Kind:      kind,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// ActivityCompletedEvent is emitted when a graded activity has been rewarded.
type ActivityCompletedEvent struct {
	BaseEvent
	ActivityType  string  `json:"activity_type"`
	Percentage    float64 `json:"percentage"`
	XPEarned      int     `json:"xp_earned"`
	CurrentStreak int     `json:"current_streak"`
	TotalXP       int     `json:"total_xp"`
}

// Payload implements Event interface.
func (e ActivityCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"activity_type":  e.ActivityType,
		"percentage":     e.Percentage,
		"xp_earned":      e.XPEarned,
		"current_streak": e.CurrentStreak,
		"total_xp":       e.TotalXP,
	}
}

// NewActivityCompletedEvent creates a new ActivityCompletedEvent.
func NewActivityCompletedEvent(identityID, activityType string, percentage float64, xpEarned, streak, totalXP int) ActivityCompletedEvent {
	return ActivityCompletedEvent{
		BaseEvent:     NewBaseEvent(EventActivityCompleted, identityID),
		ActivityType:  activityType,
		Percentage:    percentage,
		XPEarned:      xpEarned,
		CurrentStreak: streak,
		TotalXP:       totalXP,
	}
}

// BadgeUnlockedEvent is emitted once per newly unlocked badge.
type BadgeUnlockedEvent struct {
	BaseEvent
	BadgeID  string `json:"badge_id"`
	XPReward int    `json:"xp_reward"`
}

// Payload implements Event interface.
func (e BadgeUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"badge_id":  e.BadgeID,
		"xp_reward": e.XPReward,
	}
}

// NewBadgeUnlockedEvent creates a new BadgeUnlockedEvent.
func NewBadgeUnlockedEvent(identityID, badgeID string, xpReward int) BadgeUnlockedEvent {
	return BadgeUnlockedEvent{
		BaseEvent: NewBaseEvent(EventBadgeUnlocked, identityID),
		BadgeID:   badgeID,
		XPReward:  xpReward,
	}
}

// LevelUpEvent is emitted when a subject mastery level increases.
type LevelUpEvent struct {
	BaseEvent
	Subject  string `json:"subject"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"subject":   e.Subject,
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(identityID, subject string, oldLevel, newLevel int) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, identityID),
		Subject:   subject,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(Event) error { return nil }
