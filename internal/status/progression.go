package status

import (
	"context"
	"fmt"
	"slices"

	"github.com/taskorch/taskorch/internal/types"
	"github.com/taskorch/taskorch/internal/workflow"
)

// FlowPath is the resolved view of a workflow for one kind, tag set and
// current status.
type FlowPath struct {
	ActiveFlow           string   `json:"active_flow"`
	FlowSequence         []string `json:"flow_sequence"`
	CurrentPosition      int      `json:"current_position"` // -1 when outside the flow
	MatchedTags          []string `json:"matched_tags,omitempty"`
	TerminalStatuses     []string `json:"terminal_statuses"`
	EmergencyTransitions []string `json:"emergency_transitions"`
}

// Next returns the status after the current position, if any.
func (p FlowPath) Next() (string, bool) {
	if p.CurrentPosition < 0 || p.CurrentPosition+1 >= len(p.FlowSequence) {
		return "", false
	}
	return p.FlowSequence[p.CurrentPosition+1], true
}

// Position returns the index of status in the flow, or -1.
func (p FlowPath) Position(status string) int {
	return slices.Index(p.FlowSequence, types.NormalizeStatus(status))
}

// Outcome classifies a Recommendation.
type Outcome int

// Recommendation outcomes
const (
	OutcomeReady Outcome = iota
	OutcomeBlocked
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "ready"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeTerminal:
		return "terminal"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Recommendation is the next-status answer for an item.
type Recommendation struct {
	Outcome           Outcome  `json:"outcome"`
	CurrentStatus     string   `json:"current_status"`
	RecommendedStatus string   `json:"recommended_status,omitempty"`
	ActiveFlow        string   `json:"active_flow"`
	FlowSequence      []string `json:"flow_sequence"`
	CurrentPosition   int      `json:"current_position"`
	Blockers          []string `json:"blockers,omitempty"`
	Reason            string   `json:"reason"`
}

// Ready reports whether the recommendation proposes a next status.
func (r Recommendation) Ready() bool {
	return r.Outcome == OutcomeReady
}

// ProgressionService answers flow, next-status and role questions from a
// workflow configuration.
type ProgressionService struct {
	cfg     *workflow.Config
	checker PrerequisiteChecker
}

// ProgressionOption configures a ProgressionService.
type ProgressionOption func(*ProgressionService)

// WithProgressionPrerequisites makes NextStatus report Blocked when the
// checker finds unmet prerequisites for the recommended status.
func WithProgressionPrerequisites(c PrerequisiteChecker) ProgressionOption {
	return func(s *ProgressionService) {
		s.checker = c
	}
}

// NewProgressionService creates a progression service. A nil cfg uses the
// built-in workflow.
func NewProgressionService(cfg *workflow.Config, opts ...ProgressionOption) *ProgressionService {
	if cfg == nil {
		cfg = workflow.Default()
	}
	s := &ProgressionService{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the workflow the service reads.
func (s *ProgressionService) Config() *workflow.Config {
	return s.cfg
}

// FlowPath resolves the active flow for kind and tags and locates
// currentStatus within it.
func (s *ProgressionService) FlowPath(kind types.EntityKind, tags []string, currentStatus string) FlowPath {
	flow := s.cfg.SelectFlow(kind, tags)
	return FlowPath{
		ActiveFlow:           flow.Name,
		FlowSequence:         flow.Sequence,
		CurrentPosition:      flow.Position(currentStatus),
		MatchedTags:          flow.MatchedTags,
		TerminalStatuses:     s.cfg.TerminalStatuses(kind),
		EmergencyTransitions: s.cfg.EmergencyTransitions(kind),
	}
}

// NextStatus recommends the status immediately after currentStatus in the
// active flow. It never skips ahead to the end of the flow.
func (s *ProgressionService) NextStatus(ctx context.Context, currentStatus string, kind types.EntityKind, tags []string, entityID string) Recommendation {
	current := types.NormalizeStatus(currentStatus)
	path := s.FlowPath(kind, tags, current)
	rec := Recommendation{
		CurrentStatus:   current,
		ActiveFlow:      path.ActiveFlow,
		FlowSequence:    path.FlowSequence,
		CurrentPosition: path.CurrentPosition,
	}

	if s.cfg.IsTerminal(kind, current) {
		rec.Outcome = OutcomeTerminal
		rec.Reason = fmt.Sprintf("%q is a terminal status", current)
		return rec
	}
	if path.CurrentPosition < 0 {
		rec.Outcome = OutcomeBlocked
		rec.Blockers = []string{fmt.Sprintf("status %q is not part of flow %s", current, path.ActiveFlow)}
		rec.Reason = rec.Blockers[0]
		return rec
	}
	next, ok := path.Next()
	if !ok {
		rec.Outcome = OutcomeTerminal
		rec.Reason = fmt.Sprintf("%q is the last status in flow %s", current, path.ActiveFlow)
		return rec
	}

	if s.checker != nil && entityID != "" && s.cfg.Validation().ValidatePrerequisites {
		unmet, err := s.checker.CheckPrerequisites(ctx, entityID, kind, next)
		if err != nil {
			unmet = []string{fmt.Sprintf("prerequisite check failed: %v", err)}
		}
		if len(unmet) > 0 {
			rec.Outcome = OutcomeBlocked
			rec.RecommendedStatus = next
			rec.Blockers = unmet
			rec.Reason = fmt.Sprintf("cannot advance to %q: prerequisites not met", next)
			return rec
		}
	}

	rec.Outcome = OutcomeReady
	rec.RecommendedStatus = next
	rec.Reason = fmt.Sprintf("next step in flow %s", path.ActiveFlow)
	return rec
}

// RoleForStatus returns the role of status for kind. Configured status_roles
// win; otherwise terminal statuses are terminal, common status names use
// their built-in role and the first status of the active flow is queue.
func (s *ProgressionService) RoleForStatus(status string, kind types.EntityKind, tags []string) types.Role {
	status = types.NormalizeStatus(status)
	if r, ok := s.cfg.ConfiguredRole(kind, status); ok {
		return r
	}
	if s.cfg.IsTerminal(kind, status) {
		return types.RoleTerminal
	}
	if r := types.DefaultRoleFor(status); r != types.RoleNone {
		return r
	}
	if seq := s.cfg.SelectFlow(kind, tags).Sequence; len(seq) > 0 && seq[0] == status {
		return types.RoleQueue
	}
	return types.RoleNone
}

// IsRoleAtOrBeyond reports whether role's ordinal is at least threshold's.
// RoleNone sorts below queue.
func (s *ProgressionService) IsRoleAtOrBeyond(role, threshold types.Role) bool {
	return role.AtOrBeyond(threshold)
}
