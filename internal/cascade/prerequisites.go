package cascade

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskorch/taskorch/internal/status"
	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/types"
	"github.com/taskorch/taskorch/internal/workflow"
)

// PrerequisiteChecker answers status.PrerequisiteChecker from the
// repositories:
//   - a feature leaving the queue role needs at least one task
//   - a feature entering a terminal role needs every task terminal
//   - a project entering a terminal role needs every feature terminal
//   - a task entering the work role needs its BLOCKS edges satisfied
type PrerequisiteChecker struct {
	repos storage.Repositories
	roles *status.ProgressionService
}

var _ status.PrerequisiteChecker = (*PrerequisiteChecker)(nil)

// NewPrerequisiteChecker creates a checker. Roles are resolved against cfg,
// or the built-in workflow when cfg is nil.
func NewPrerequisiteChecker(repos storage.Repositories, cfg *workflow.Config) *PrerequisiteChecker {
	return &PrerequisiteChecker{repos: repos, roles: status.NewProgressionService(cfg)}
}

// CheckPrerequisites returns a reason for every unmet prerequisite of moving
// entityID to status to.
func (c *PrerequisiteChecker) CheckPrerequisites(ctx context.Context, entityID string, kind types.EntityKind, to string) ([]string, error) {
	item, err := c.repos.Get(ctx, kind, entityID)
	if err != nil {
		return nil, err
	}
	from := c.roles.RoleForStatus(item.Status, kind, item.Tags)
	target := c.roles.RoleForStatus(to, kind, item.Tags)

	var unmet []string
	switch kind {
	case types.KindFeature:
		counts, err := c.children(ctx, item)
		if err != nil {
			return nil, err
		}
		total, open := c.tally(types.KindTask, counts)
		if from <= types.RoleQueue && target > types.RoleQueue && total == 0 {
			unmet = append(unmet, fmt.Sprintf("feature %s has no tasks", item.ID))
		}
		if target == types.RoleTerminal && open > 0 {
			unmet = append(unmet, fmt.Sprintf("%d of %d tasks are not complete", open, total))
		}
	case types.KindProject:
		if target != types.RoleTerminal {
			break
		}
		counts, err := c.children(ctx, item)
		if err != nil {
			return nil, err
		}
		total, open := c.tally(types.KindFeature, counts)
		if open > 0 {
			unmet = append(unmet, fmt.Sprintf("%d of %d features are not complete", open, total))
		}
	case types.KindTask:
		if from >= types.RoleWork || target < types.RoleWork || c.repos.Dependencies == nil {
			break
		}
		ok, pending, err := unsatisfiedBlockers(ctx, c.repos, func(b *types.Item) types.Role {
			return c.roles.RoleForStatus(b.Status, types.KindTask, b.Tags)
		}, item.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			unmet = append(unmet, "blocked by "+strings.Join(pending, ", "))
		}
	}
	return unmet, nil
}

func (c *PrerequisiteChecker) children(ctx context.Context, parent *types.Item) (map[string]int, error) {
	repo, err := c.repos.For(parent.Kind.ChildKind())
	if err != nil {
		return nil, err
	}
	return repo.CountChildrenByStatus(ctx, parent.ID)
}

// tally returns the number of children and how many are not terminal.
func (c *PrerequisiteChecker) tally(kind types.EntityKind, counts map[string]int) (total, open int) {
	for st, n := range counts {
		total += n
		if c.roles.RoleForStatus(st, kind, nil) != types.RoleTerminal {
			open += n
		}
	}
	return total, open
}
