package eventbus

import (
	"time"

	"github.com/taskorch/taskorch/internal/types"
)

// EventType identifies an event flowing through the bus.
type EventType string

const (
	// EventStatusChanged fires after a caller-requested status change is stored.
	EventStatusChanged EventType = "status.changed"
	// EventCascadeApplied fires for every cascade event that was applied.
	EventCascadeApplied EventType = "cascade.applied"
	// EventCascadeFailed fires for every cascade event that was rejected or
	// failed to persist.
	EventCascadeFailed EventType = "cascade.failed"
	// EventTaskUnblocked fires once per task whose blockers are all satisfied.
	EventTaskUnblocked EventType = "task.unblocked"
	// EventLockConflict fires when an operation is refused by the lock registry.
	EventLockConflict EventType = "lock.conflict"
)

// AllEventTypes lists every event type, for handlers that observe everything.
func AllEventTypes() []EventType {
	return []EventType{EventStatusChanged, EventCascadeApplied, EventCascadeFailed, EventTaskUnblocked, EventLockConflict}
}

// IsCascadeEvent reports whether t describes a cascade outcome.
func (t EventType) IsCascadeEvent() bool {
	return t == EventCascadeApplied || t == EventCascadeFailed
}

// Event is a single notification. Which fields are set depends on Type.
type Event struct {
	Type       EventType        `json:"type"`
	EntityKind types.EntityKind `json:"entity_kind,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	OldStatus  string           `json:"old_status,omitempty"`
	NewStatus  string           `json:"new_status,omitempty"`
	Reason     string           `json:"reason,omitempty"`

	// Cascade is set for cascade.applied and cascade.failed.
	Cascade *types.CascadeResult `json:"cascade,omitempty"`
	// Unblocked is set for task.unblocked.
	Unblocked *types.UnblockedTask `json:"unblocked,omitempty"`
	// Operation is set for lock.conflict.
	Operation *types.LockOperation `json:"operation,omitempty"`

	// At is stamped by the bus when left zero.
	At time.Time `json:"at"`
}

// Result aggregates handler responses for an event.
type Result struct {
	Handled  int      `json:"handled"`
	Warnings []string `json:"warnings,omitempty"`
}
