package types

import "slices"

// Built-in status sets used when no workflow configuration is loaded.
var (
	ProjectStatuses = []string{
		"planning", "in-development", "on-hold", "cancelled", "completed", "archived",
	}
	FeatureStatuses = []string{
		"draft", "planning", "in-development", "testing", "validating", "pending-review",
		"blocked", "on-hold", "deployed", "completed", "archived",
	}
	TaskStatuses = []string{
		"backlog", "pending", "in-progress", "in-review", "changes-requested", "testing",
		"ready-for-qa", "investigating", "blocked", "on-hold", "deployed", "completed",
		"cancelled", "deferred",
	}
)

// EnumStatuses returns a copy of the built-in status set for kind.
func EnumStatuses(kind EntityKind) []string {
	switch kind {
	case KindProject:
		return slices.Clone(ProjectStatuses)
	case KindFeature:
		return slices.Clone(FeatureStatuses)
	case KindTask:
		return slices.Clone(TaskStatuses)
	}
	return nil
}

// IsEnumStatus reports whether status (normalized) is in kind's built-in set.
func IsEnumStatus(kind EntityKind, status string) bool {
	return slices.Contains(EnumStatuses(kind), NormalizeStatus(status))
}

// defaultRoles maps common status names to roles. Configured status_roles
// take precedence.
var defaultRoles = map[string]Role{
	"backlog":  RoleQueue,
	"pending":  RoleQueue,
	"draft":    RoleQueue,
	"planning": RoleQueue,
	"deferred": RoleQueue,

	"in-progress":       RoleWork,
	"in-development":    RoleWork,
	"changes-requested": RoleWork,
	"investigating":     RoleWork,

	"in-review":      RoleReview,
	"testing":        RoleReview,
	"validating":     RoleReview,
	"ready-for-qa":   RoleReview,
	"pending-review": RoleReview,

	"completed": RoleTerminal,
	"cancelled": RoleTerminal,
	"deployed":  RoleTerminal,
	"archived":  RoleTerminal,
}

// DefaultRoleFor returns the built-in role for a status, or RoleNone.
// blocked and on-hold are deliberately unmapped.
func DefaultRoleFor(status string) Role {
	return defaultRoles[NormalizeStatus(status)]
}
