package cascade

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskorch/taskorch/internal/eventbus"
	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/types"
)

// FindNewlyUnblockedTasks reports the tasks directly blocked by taskID whose
// incoming BLOCKS edges are now all satisfied. An edge is satisfied when the
// blocker's role has reached the edge's unblock threshold (terminal unless
// set); a blocker that no longer exists counts as satisfied. Tasks already in
// a terminal status are not reported. RELATES_TO edges are ignored.
//
// Only one hop is walked, so dependency cycles cannot cause runaway traversal.
func (s *Service) FindNewlyUnblockedTasks(ctx context.Context, taskID string) ([]types.UnblockedTask, error) {
	if s.repos.Dependencies == nil {
		return nil, storage.NewError(storage.KindDatabase, "find unblocked", taskID, fmt.Errorf("no dependency repository configured"))
	}
	outgoing, err := s.repos.Dependencies.GetBlocking(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get dependents of %s: %w", taskID, err)
	}

	var unblocked []types.UnblockedTask
	checked := make(map[string]struct{})
	for _, dep := range outgoing {
		if !dep.Type.AffectsScheduling() {
			continue
		}
		if _, ok := checked[dep.ToTaskID]; ok {
			continue
		}
		checked[dep.ToTaskID] = struct{}{}

		task, err := s.repos.Get(ctx, types.KindTask, dep.ToTaskID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load dependent %s: %w", dep.ToTaskID, err)
		}
		if s.isTerminal(types.KindTask, task.Status) {
			continue
		}

		ok, err := s.blockersSatisfied(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			unblocked = append(unblocked, types.UnblockedTask{TaskID: task.ID, Title: task.Title})
		}
	}

	for i := range unblocked {
		u := unblocked[i]
		s.logger.Info("task unblocked", "task_id", u.TaskID, "by", taskID)
		s.bus.Publish(ctx, &eventbus.Event{
			Type:       eventbus.EventTaskUnblocked,
			EntityKind: types.KindTask,
			EntityID:   u.TaskID,
			Reason:     fmt.Sprintf("blockers satisfied after %s changed", taskID),
			Unblocked:  &u,
		})
	}
	return unblocked, nil
}

// BlockersSatisfied reports whether every BLOCKS edge entering taskID is
// satisfied, along with the ids of blockers that are not.
func (s *Service) BlockersSatisfied(ctx context.Context, taskID string) (bool, []string, error) {
	if s.repos.Dependencies == nil {
		return true, nil, nil
	}
	return unsatisfiedBlockers(ctx, s.repos, s.role, taskID)
}

func (s *Service) blockersSatisfied(ctx context.Context, taskID string) (bool, error) {
	ok, _, err := s.BlockersSatisfied(ctx, taskID)
	return ok, err
}

// unsatisfiedBlockers is shared with the prerequisite checker.
func unsatisfiedBlockers(ctx context.Context, repos storage.Repositories, roleOf func(*types.Item) types.Role, taskID string) (bool, []string, error) {
	incoming, err := repos.Dependencies.GetBlockedBy(ctx, taskID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to get blockers of %s: %w", taskID, err)
	}
	var pending []string
	for _, dep := range incoming {
		if !dep.Type.AffectsScheduling() {
			continue
		}
		blocker, err := repos.Get(ctx, types.KindTask, dep.FromTaskID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, nil, fmt.Errorf("failed to load blocker %s: %w", dep.FromTaskID, err)
		}
		if !roleOf(blocker).AtOrBeyond(dep.Threshold()) {
			pending = append(pending, blocker.ID)
		}
	}
	return len(pending) == 0, pending, nil
}
