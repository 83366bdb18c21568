package status

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskorch/taskorch/internal/types"
	"github.com/taskorch/taskorch/internal/workflow"
)

const testWorkflow = `
status_progression:
  features:
    allowed_statuses: [draft, planning, in-development, testing, validating, completed, archived, blocked, on-hold]
    default_flow: [planning, in-development, testing, validating, completed]
    flows:
      rapid_prototype_flow: [draft, in-development, completed]
    flow_mappings:
      - tags: [prototype]
        flow: rapid_prototype_flow
    terminal_statuses: [completed, archived]
    emergency_transitions: [blocked, on-hold, archived]
    status_roles: {planning: queue, in-development: work, testing: review, validating: review, completed: terminal}
  tasks:
    allowed_statuses: [pending, in-progress, testing, completed, cancelled, blocked]
    default_flow: [pending, in-progress, testing, completed]
    terminal_statuses: [completed, cancelled]
    emergency_transitions: [blocked, cancelled]
status_validation:
  enforce_sequential: true
  allow_backward: %s
  allow_emergency: true
  validate_prerequisites: true
`

func loadConfig(t *testing.T, allowBackward bool) *workflow.Config {
	t.Helper()
	flag := "false"
	if allowBackward {
		flag = "true"
	}
	cfg, err := workflow.ParseYAML([]byte(fmt.Sprintf(testWorkflow, flag)))
	require.NoError(t, err)
	return cfg
}

type stubChecker struct {
	unmet []string
	err   error
	calls int
}

func (s *stubChecker) CheckPrerequisites(_ context.Context, _ string, _ types.EntityKind, _ string) ([]string, error) {
	s.calls++
	return s.unmet, s.err
}

func TestEnumMode(t *testing.T) {
	v := NewValidator(nil)
	ctx := context.Background()

	assert.Equal(t, ModeEnum, v.Mode())
	assert.True(t, v.ValidateStatus("IN_PROGRESS", types.KindTask).Valid)

	r := v.ValidateStatus("shipped", types.KindTask)
	assert.False(t, r.Valid)
	assert.ErrorIs(t, r.Err(), ErrInvalidStatus)
	assert.Contains(t, r.Suggestions, "pending")

	// No sequencing in enum mode.
	assert.True(t, v.ValidateTransition(ctx, "backlog", "completed", types.KindTask, TransitionContext{}).Valid)
	assert.True(t, v.ValidateTransition(ctx, "completed", "pending", types.KindTask, TransitionContext{}).Valid)
	assert.False(t, v.ValidateTransition(ctx, "backlog", "testing", types.KindProject, TransitionContext{}).Valid)
	assert.False(t, v.ValidateTransition(ctx, "nonsense", "planning", types.KindProject, TransitionContext{}).Valid)
}

func TestValidateStatusConfigured(t *testing.T) {
	v := NewValidator(loadConfig(t, true))
	assert.Equal(t, ModeConfigured, v.Mode())

	assert.True(t, v.ValidateStatus("Testing", types.KindTask).Valid)
	assert.False(t, v.ValidateStatus("in-review", types.KindTask).Valid)
	assert.False(t, v.ValidateStatus("", types.KindTask).Valid)
	assert.False(t, v.ValidateStatus("pending", types.EntityKind("epic")).Valid)

	// Projects are not in the document, so enum rules apply.
	assert.True(t, v.ValidateStatus("on-hold", types.KindProject).Valid)
	assert.Equal(t, types.EnumStatuses(types.KindProject), v.AllowedStatuses(types.KindProject))
}

func TestValidateTransitionConfigured(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name          string
		allowBackward bool
		from, to      string
		kind          types.EntityKind
		tags          []string
		wantValid     bool
		reasonHas     string
		suggestions   []string
	}{
		{name: "forward by one", from: "pending", to: "in-progress", kind: types.KindTask, wantValid: true},
		{name: "no-op", from: "testing", to: "TESTING", kind: types.KindTask, wantValid: true},
		{name: "skip rejected", from: "pending", to: "completed", kind: types.KindTask, reasonHas: "skip", suggestions: []string{"in-progress"}},
		{name: "backward rejected", from: "testing", to: "pending", kind: types.KindTask, reasonHas: "backward", suggestions: []string{"completed"}},
		{name: "backward allowed", allowBackward: true, from: "testing", to: "pending", kind: types.KindTask, wantValid: true},
		{name: "from terminal rejected", from: "completed", to: "testing", kind: types.KindTask, reasonHas: "terminal"},
		{name: "from terminal to emergency", from: "completed", to: "cancelled", kind: types.KindTask, wantValid: true},
		{name: "emergency from anywhere", from: "pending", to: "blocked", kind: types.KindTask, wantValid: true},
		{name: "resume from outside flow", from: "blocked", to: "testing", kind: types.KindTask, wantValid: true},
		{name: "to outside flow", from: "planning", to: "draft", kind: types.KindFeature, reasonHas: "not part of flow", suggestions: []string{"in-development"}},
		{name: "tag selected flow", from: "draft", to: "in-development", kind: types.KindFeature, tags: []string{"prototype"}, wantValid: true},
		{name: "tag selected flow skip", from: "in-development", to: "completed", kind: types.KindFeature, wantValid: false, reasonHas: "skip"},
		{name: "tag selected flow final step", from: "in-development", to: "completed", kind: types.KindFeature, tags: []string{"prototype"}, wantValid: true},
		{name: "destination not allowed", from: "pending", to: "shipped", kind: types.KindTask, reasonHas: "not a valid task status"},
		{name: "unknown current status", from: "not-a-status", to: "in-development", kind: types.KindFeature, reasonHas: "current status \"not-a-status\" is not a valid feature status"},
		{name: "empty current status", from: "", to: "in-development", kind: types.KindFeature, reasonHas: "status is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(loadConfig(t, tt.allowBackward))
			r := v.ValidateTransition(ctx, tt.from, tt.to, tt.kind, TransitionContext{Tags: tt.tags})
			assert.Equal(t, tt.wantValid, r.Valid, r.Reason)
			if tt.reasonHas != "" {
				assert.Contains(t, r.Reason, tt.reasonHas)
			}
			if tt.suggestions != nil {
				assert.Equal(t, tt.suggestions, r.Suggestions)
			}
			if !tt.wantValid {
				assert.Error(t, r.Err())
			} else {
				assert.NoError(t, r.Err())
			}
		})
	}
}

func TestValidateTransitionSkipErrorWraps(t *testing.T) {
	v := NewValidator(loadConfig(t, false))
	err := v.ValidateTransition(context.Background(), "pending", "completed", types.KindTask, TransitionContext{}).Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "suggested: in-progress")
}

func TestValidateTransitionPrerequisites(t *testing.T) {
	ctx := context.Background()
	cfg := loadConfig(t, false)

	checker := &stubChecker{unmet: []string{"2 child tasks are not terminal"}}
	v := NewValidator(cfg, WithTransitionPrerequisites(checker))

	r := v.ValidateTransition(ctx, "validating", "completed", types.KindFeature, TransitionContext{EntityID: "f-1"})
	assert.False(t, r.Valid)
	assert.Contains(t, r.Reason, "2 child tasks are not terminal")

	// Without an entity id the checker is not consulted.
	calls := checker.calls
	assert.True(t, v.ValidateTransition(ctx, "validating", "completed", types.KindFeature, TransitionContext{}).Valid)
	assert.Equal(t, calls, checker.calls)

	// Emergency transitions bypass prerequisites.
	assert.True(t, v.ValidateTransition(ctx, "validating", "blocked", types.KindFeature, TransitionContext{EntityID: "f-1"}).Valid)

	failing := NewValidator(cfg, WithTransitionPrerequisites(&stubChecker{err: errors.New("db down")}))
	r = failing.ValidateTransition(ctx, "validating", "completed", types.KindFeature, TransitionContext{EntityID: "f-1"})
	assert.False(t, r.Valid)
	assert.Contains(t, r.Reason, "db down")
}
