package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/types"
)

type depRepo struct {
	s *Store
}

var _ storage.DependencyRepository = (*depRepo)(nil)

func (r *depRepo) AddDependency(ctx context.Context, dep *types.Dependency) error {
	if err := ctx.Err(); err != nil {
		return storage.NewError(storage.KindDatabase, "add dependency", dep.FromTaskID, err)
	}
	if err := dep.Validate(); err != nil {
		return storage.NewError(storage.KindValidation, "add dependency", dep.FromTaskID, err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, id := range []string{dep.FromTaskID, dep.ToTaskID} {
		if item, ok := r.s.items[id]; !ok || item.Kind != types.KindTask {
			return storage.NewError(storage.KindValidation, "add dependency", id, fmt.Errorf("task %s does not exist", id))
		}
	}
	for _, d := range r.s.deps {
		if d.FromTaskID == dep.FromTaskID && d.ToTaskID == dep.ToTaskID {
			return storage.NewError(storage.KindConflict, "add dependency", dep.FromTaskID,
				fmt.Errorf("dependency %s -> %s already exists", dep.FromTaskID, dep.ToTaskID))
		}
	}
	if dep.Type.AffectsScheduling() && r.s.reachableLocked(dep.ToTaskID, dep.FromTaskID) {
		return storage.NewError(storage.KindValidation, "add dependency", dep.FromTaskID,
			fmt.Errorf("adding dependency would create a cycle"))
	}

	stored := *dep
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.s.now().UTC()
	}
	dep.CreatedAt = stored.CreatedAt
	r.s.deps = append(r.s.deps, &stored)
	return nil
}

// reachableLocked reports whether target can be reached from start by
// following BLOCKS edges. Caller must hold s.mu.
func (s *Store) reachableLocked(start, target string) bool {
	seen := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		for _, d := range s.deps {
			if d.FromTaskID == cur && d.Type.AffectsScheduling() && !seen[d.ToTaskID] {
				seen[d.ToTaskID] = true
				stack = append(stack, d.ToTaskID)
			}
		}
	}
	return false
}

func (r *depRepo) RemoveDependency(ctx context.Context, fromID, toID string) error {
	if err := ctx.Err(); err != nil {
		return storage.NewError(storage.KindDatabase, "remove dependency", fromID, err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	i := slices.IndexFunc(r.s.deps, func(d *types.Dependency) bool {
		return d.FromTaskID == fromID && d.ToTaskID == toID
	})
	if i < 0 {
		return storage.NotFound("remove dependency", fromID+"->"+toID)
	}
	r.s.deps = slices.Delete(r.s.deps, i, i+1)
	return nil
}

func (r *depRepo) GetBlocking(ctx context.Context, taskID string) ([]*types.Dependency, error) {
	return r.collect(ctx, "get blocking", taskID, func(d *types.Dependency) bool { return d.FromTaskID == taskID })
}

func (r *depRepo) GetBlockedBy(ctx context.Context, taskID string) ([]*types.Dependency, error) {
	return r.collect(ctx, "get blocked by", taskID, func(d *types.Dependency) bool { return d.ToTaskID == taskID })
}

func (r *depRepo) collect(ctx context.Context, op, taskID string, match func(*types.Dependency) bool) ([]*types.Dependency, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.NewError(storage.KindDatabase, op, taskID, err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*types.Dependency
	for _, d := range r.s.deps {
		if match(d) {
			c := *d
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *types.Dependency) int {
		if c := strings.Compare(a.FromTaskID, b.FromTaskID); c != 0 {
			return c
		}
		return strings.Compare(a.ToTaskID, b.ToTaskID)
	})
	return out, nil
}
