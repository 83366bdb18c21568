package cascade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskorch/taskorch/internal/status"
	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/types"
)

func TestPrerequisiteChecker(t *testing.T) {
	h := newHarness(t, loadConfig(t, true, ""), Options{})
	h.create(t, types.KindProject, "p-1", "", "in-development")
	h.create(t, types.KindFeature, "f-empty", "p-1", "planning")
	h.create(t, types.KindFeature, "f-1", "p-1", "testing")
	h.create(t, types.KindTask, "t-1", "f-1", "completed")
	h.create(t, types.KindTask, "t-2", "f-1", "in-review")
	h.create(t, types.KindTask, "t-3", "f-1", "pending")
	h.block(t, "t-2", "t-3", types.RoleNone)

	checker := NewPrerequisiteChecker(h.repos, loadConfig(t, true, ""))
	ctx := context.Background()

	tests := []struct {
		name string
		id   string
		kind types.EntityKind
		to   string
		want []string
	}{
		{"feature without tasks cannot start", "f-empty", types.KindFeature, "in-development", []string{"feature f-empty has no tasks"}},
		{"feature with open tasks cannot complete", "f-1", types.KindFeature, "completed", []string{"2 of 3 tasks are not complete"}},
		{"feature review step has no prerequisite", "f-1", types.KindFeature, "testing", nil},
		{"project with open features cannot complete", "p-1", types.KindProject, "completed", []string{"2 of 2 features are not complete"}},
		{"project non-terminal move", "p-1", types.KindProject, "planning", nil},
		{"blocked task cannot start", "t-3", types.KindTask, "in-progress", []string{"blocked by t-2"}},
		{"blocked task may stay queued", "t-3", types.KindTask, "pending", nil},
		{"unblocked task may start", "t-2", types.KindTask, "completed", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unmet, err := checker.CheckPrerequisites(ctx, tt.id, tt.kind, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, unmet)
		})
	}

	_, err := checker.CheckPrerequisites(ctx, "t-404", types.KindTask, "in-progress")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestValidatorConsultsPrerequisites(t *testing.T) {
	cfg := loadConfig(t, true, "")
	h := newHarness(t, cfg, Options{})
	h.create(t, types.KindProject, "p-1", "", "in-development")
	h.create(t, types.KindFeature, "f-1", "p-1", "in-development")
	h.create(t, types.KindTask, "a", "f-1", "pending")
	h.create(t, types.KindTask, "b", "f-1", "pending")
	h.block(t, "a", "b", types.RoleNone)

	v := status.NewValidator(cfg, status.WithTransitionPrerequisites(NewPrerequisiteChecker(h.repos, cfg)))
	ctx := context.Background()

	r := v.ValidateTransition(ctx, "pending", "in-progress", types.KindTask, status.TransitionContext{EntityID: "b"})
	assert.False(t, r.Valid)
	assert.Contains(t, r.Reason, "prerequisites not met: blocked by a")

	r = v.ValidateTransition(ctx, "pending", "in-progress", types.KindTask, status.TransitionContext{EntityID: "a"})
	assert.True(t, r.Valid, r.Reason)

	r = v.ValidateTransition(ctx, "pending", "blocked", types.KindTask, status.TransitionContext{EntityID: "b"})
	assert.True(t, r.Valid, "emergency transitions skip prerequisites")
}
