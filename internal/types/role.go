package types

import (
	"fmt"
	"strings"
)

// Role is an ordinal category attached to a status by configuration.
// Roles let cascade rules compare progress without naming concrete statuses.
type Role int

// Role constants, in ascending order. RoleNone is the "no role" value and
// sorts below RoleQueue.
const (
	RoleNone Role = iota
	RoleQueue
	RoleWork
	RoleReview
	RoleTerminal
)

var roleNames = [...]string{
	RoleNone:     "",
	RoleQueue:    "queue",
	RoleWork:     "work",
	RoleReview:   "review",
	RoleTerminal: "terminal",
}

// String returns the config spelling of the role ("" for RoleNone).
func (r Role) String() string {
	if r < RoleNone || r > RoleTerminal {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleNames[r]
}

// IsValid reports whether r is one of the four named roles.
func (r Role) IsValid() bool {
	return r >= RoleQueue && r <= RoleTerminal
}

// AtOrBeyond reports whether r's ordinal is at least threshold's.
func (r Role) AtOrBeyond(threshold Role) bool {
	return r >= threshold
}

// ParseRole parses "queue", "work", "review" or "terminal" (any case).
// The empty string parses to RoleNone.
func ParseRole(s string) (Role, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RoleNone, nil
	}
	for r := RoleQueue; r <= RoleTerminal; r++ {
		if roleNames[r] == s {
			return r, nil
		}
	}
	return RoleNone, fmt.Errorf("invalid role %q (expected queue, work, review or terminal)", s)
}

// MarshalText implements encoding.TextMarshaler for JSON and YAML.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON and YAML.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
