// Package status validates status values and transitions and answers
// flow/role questions for projects, features and tasks.
package status

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/taskorch/taskorch/internal/types"
	"github.com/taskorch/taskorch/internal/workflow"
)

// Sentinel errors returned by Result.Err.
var (
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// PrerequisiteChecker reports unmet prerequisites for moving an entity into
// status to. An empty slice means the move may proceed.
type PrerequisiteChecker interface {
	CheckPrerequisites(ctx context.Context, entityID string, kind types.EntityKind, to string) ([]string, error)
}

// Mode is the validator's operating mode.
type Mode int

// Validator modes
const (
	// ModeEnum checks statuses against the built-in per-kind sets and allows
	// any transition between two valid statuses.
	ModeEnum Mode = iota
	// ModeConfigured checks statuses and transitions against a workflow.
	ModeConfigured
)

func (m Mode) String() string {
	if m == ModeConfigured {
		return "configured"
	}
	return "enum"
}

// Result is the outcome of a validation.
type Result struct {
	Valid       bool     `json:"valid"`
	Reason      string   `json:"reason,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`

	sentinel error
}

// Err returns nil for a valid result, otherwise an error wrapping
// ErrInvalidStatus or ErrInvalidTransition.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	sentinel := r.sentinel
	if sentinel == nil {
		sentinel = ErrInvalidTransition
	}
	msg := r.Reason
	if len(r.Suggestions) > 0 {
		msg += " (suggested: " + strings.Join(r.Suggestions, ", ") + ")"
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

func valid() Result {
	return Result{Valid: true}
}

func invalidStatus(reason string, suggestions ...string) Result {
	return Result{Reason: reason, Suggestions: suggestions, sentinel: ErrInvalidStatus}
}

func invalidTransition(reason string, suggestions ...string) Result {
	return Result{Reason: reason, Suggestions: suggestions, sentinel: ErrInvalidTransition}
}

// TransitionContext carries optional facts about the entity being moved.
type TransitionContext struct {
	EntityID string
	Tags     []string
}

// Validator checks statuses and transitions.
type Validator struct {
	cfg     *workflow.Config
	checker PrerequisiteChecker
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithTransitionPrerequisites consults c for transitions that carry an
// entity id when validate_prerequisites is enabled.
func WithTransitionPrerequisites(c PrerequisiteChecker) ValidatorOption {
	return func(v *Validator) {
		v.checker = c
	}
}

// NewValidator creates a validator. A nil cfg selects enum mode.
func NewValidator(cfg *workflow.Config, opts ...ValidatorOption) *Validator {
	v := &Validator{cfg: cfg}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Mode reports whether a workflow configuration is loaded.
func (v *Validator) Mode() Mode {
	if v.cfg == nil {
		return ModeEnum
	}
	return ModeConfigured
}

// configured reports whether kind is governed by the loaded workflow.
// Kinds the workflow leaves out fall back to enum rules.
func (v *Validator) configured(kind types.EntityKind) bool {
	return v.cfg != nil && v.cfg.HasKind(kind)
}

// AllowedStatuses lists the statuses valid for kind.
func (v *Validator) AllowedStatuses(kind types.EntityKind) []string {
	if v.configured(kind) {
		return v.cfg.AllowedStatuses(kind)
	}
	return types.EnumStatuses(kind)
}

// ValidateStatus checks that status is legal for kind.
func (v *Validator) ValidateStatus(status string, kind types.EntityKind) Result {
	if !kind.IsValid() {
		return invalidStatus(fmt.Sprintf("unknown entity kind %q", kind))
	}
	s := types.NormalizeStatus(status)
	if s == "" {
		return invalidStatus("status is required", v.AllowedStatuses(kind)...)
	}
	var ok bool
	if v.configured(kind) {
		ok = v.cfg.IsAllowed(kind, s)
	} else {
		ok = types.IsEnumStatus(kind, s)
	}
	if !ok {
		return invalidStatus(fmt.Sprintf("%q is not a valid %s status", status, kind), v.AllowedStatuses(kind)...)
	}
	return valid()
}

// ValidateTransition checks whether an entity of kind may move from one
// status to another.
func (v *Validator) ValidateTransition(ctx context.Context, from, to string, kind types.EntityKind, tc TransitionContext) Result {
	if r := v.ValidateStatus(to, kind); !r.Valid {
		return r
	}
	if r := v.ValidateStatus(from, kind); !r.Valid {
		r.Reason = "current status " + r.Reason
		return r
	}
	from, to = types.NormalizeStatus(from), types.NormalizeStatus(to)
	if from == to || !v.configured(kind) {
		return valid()
	}

	flags := v.cfg.Validation()
	emergency := flags.AllowEmergency && v.cfg.IsEmergency(kind, to)

	if v.cfg.IsTerminal(kind, from) {
		if emergency {
			return valid()
		}
		return invalidTransition(fmt.Sprintf("cannot transition from terminal status %q to %q", from, to))
	}
	if emergency {
		return valid()
	}

	flow := v.cfg.SelectFlow(kind, tc.Tags)
	fromPos, toPos := flow.Position(from), flow.Position(to)

	switch {
	case toPos < 0:
		if flags.EnforceSequential {
			return invalidTransition(fmt.Sprintf("%q is not part of flow %s", to, flow.Name), nextOf(flow, fromPos)...)
		}
	case fromPos < 0:
		// Resuming from outside the flow (blocked, on-hold): any in-flow
		// destination is accepted.
	case toPos == fromPos+1:
	case toPos > fromPos+1:
		if flags.EnforceSequential {
			skipped := flow.Sequence[fromPos+1 : toPos]
			return invalidTransition(
				fmt.Sprintf("cannot skip statuses: %q to %q would skip %s", from, to, strings.Join(skipped, ", ")),
				nextOf(flow, fromPos)...)
		}
	default:
		if !flags.AllowBackward {
			return invalidTransition(fmt.Sprintf("backward transition from %q to %q is not allowed", from, to), nextOf(flow, fromPos)...)
		}
	}

	if flags.ValidatePrerequisites && v.checker != nil && tc.EntityID != "" {
		unmet, err := v.checker.CheckPrerequisites(ctx, tc.EntityID, kind, to)
		if err != nil {
			return invalidTransition(fmt.Sprintf("prerequisite check failed: %v", err))
		}
		if len(unmet) > 0 {
			return invalidTransition("prerequisites not met: " + strings.Join(unmet, "; "))
		}
	}
	return valid()
}

func nextOf(flow workflow.Flow, pos int) []string {
	if pos < 0 || pos+1 >= len(flow.Sequence) {
		return nil
	}
	return []string{flow.Sequence[pos+1]}
}
