package types

import (
	"fmt"
	"strings"
	"time"
)

// OperationType classifies an in-flight operation for conflict detection.
type OperationType string

// Operation type constants
const (
	OpRead            OperationType = "READ"
	OpWrite           OperationType = "WRITE"
	OpCreate          OperationType = "CREATE"
	OpDelete          OperationType = "DELETE"
	OpSectionEdit     OperationType = "SECTION_EDIT"
	OpStructureChange OperationType = "STRUCTURE_CHANGE"
)

// IsValid checks if the operation type value is valid
func (o OperationType) IsValid() bool {
	switch o {
	case OpRead, OpWrite, OpCreate, OpDelete, OpSectionEdit, OpStructureChange:
		return true
	}
	return false
}

// Exclusive reports whether the operation conflicts with any other operation
// touching the same entities. CREATE and READ are not exclusive.
func (o OperationType) Exclusive() bool {
	switch o {
	case OpWrite, OpDelete, OpSectionEdit, OpStructureChange:
		return true
	}
	return false
}

// ParseOperationType accepts "write", "section-edit", "STRUCTURE_CHANGE" etc.
func ParseOperationType(s string) (OperationType, error) {
	o := OperationType(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !o.IsValid() {
		return "", fmt.Errorf("invalid operation type %q", s)
	}
	return o, nil
}

// LockOperation describes an in-flight mutating or reading operation.
type LockOperation struct {
	OperationType OperationType `json:"operation_type"`
	ToolName      string        `json:"tool_name"`
	Description   string        `json:"description,omitempty"`
	EntityIDs     []string      `json:"entity_ids,omitempty"` // treated as a set
	Priority      int           `json:"priority"`
	StartedAt     time.Time     `json:"started_at"`
}

// Overlaps reports whether the two operations share at least one entity id.
// An operation with no entity ids overlaps nothing.
func (o LockOperation) Overlaps(other LockOperation) bool {
	if len(o.EntityIDs) == 0 || len(other.EntityIDs) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(o.EntityIDs))
	for _, id := range o.EntityIDs {
		set[id] = struct{}{}
	}
	for _, id := range other.EntityIDs {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// ConflictsWith reports whether the two operations may not run concurrently:
// their entity sets intersect and at least one of them is exclusive.
func (o LockOperation) ConflictsWith(other LockOperation) bool {
	if !o.OperationType.Exclusive() && !other.OperationType.Exclusive() {
		return false
	}
	return o.Overlaps(other)
}
