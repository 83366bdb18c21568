// Package engine wires validation, cascades, dependency resolution and the
// lock registry into a single status-change entry point.
//
// A change runs in this order: acquire the advisory lock over the entity and
// its ancestors, validate the transition, persist it, apply cascades, resolve
// newly unblocked tasks, and publish events. The lock is released on every
// path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskorch/taskorch/internal/cascade"
	"github.com/taskorch/taskorch/internal/eventbus"
	"github.com/taskorch/taskorch/internal/locking"
	"github.com/taskorch/taskorch/internal/status"
	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/types"
	"github.com/taskorch/taskorch/internal/workflow"
)

// Errors callers match with errors.Is.
var (
	ErrInvalidTransition = status.ErrInvalidTransition
	ErrInvalidStatus     = status.ErrInvalidStatus
	ErrLocked            = locking.ErrConflict
)

// DefaultConcurrency bounds ChangeStatuses when Options.Concurrency is unset.
const DefaultConcurrency = 4

// DefaultToolName labels lock entries when a request does not name a tool.
const DefaultToolName = "set-status"

// Options configures an Engine. Zero values are usable.
type Options struct {
	// Workflow selects configured validation; nil validates against the
	// built-in enums and uses the built-in flows for progression.
	Workflow *workflow.Config
	// MaxDepth overrides the workflow's cascade depth bound.
	MaxDepth int
	// Concurrency bounds ChangeStatuses.
	Concurrency int
	// LockTimeout is passed to the lock registry (nil means its default).
	LockTimeout *time.Duration
	// Locks shares an existing registry instead of creating one.
	Locks   *locking.Service
	Bus     *eventbus.Bus
	Metrics cascade.Recorder
	Logger  *slog.Logger
}

// Engine applies status changes. It is safe for concurrent use.
type Engine struct {
	repos       storage.Repositories
	cfg         *workflow.Config
	validator   *status.Validator
	progression *status.ProgressionService
	cascade     *cascade.Service
	locks       *locking.Service
	bus         *eventbus.Bus
	logger      *slog.Logger
	concurrency int
}

// New builds an engine over repos.
func New(repos storage.Repositories, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	checker := cascade.NewPrerequisiteChecker(repos, opts.Workflow)
	validator := status.NewValidator(opts.Workflow, status.WithTransitionPrerequisites(checker))
	progression := status.NewProgressionService(opts.Workflow, status.WithProgressionPrerequisites(checker))

	locks := opts.Locks
	if locks == nil {
		locks = locking.New(locking.Options{Timeout: opts.LockTimeout, Logger: logger})
	}

	e := &Engine{
		repos:       repos,
		cfg:         opts.Workflow,
		validator:   validator,
		progression: progression,
		cascade: cascade.New(repos, validator, progression, opts.Workflow, cascade.Options{
			MaxDepth: opts.MaxDepth,
			Logger:   logger,
			Metrics:  opts.Metrics,
			Bus:      opts.Bus,
		}),
		locks:       locks,
		bus:         opts.Bus,
		logger:      logger,
		concurrency: opts.Concurrency,
	}
	if e.concurrency <= 0 {
		e.concurrency = DefaultConcurrency
	}
	return e
}

// Validator returns the validator used for caller-requested changes.
func (e *Engine) Validator() *status.Validator { return e.validator }

// Progression returns the progression service.
func (e *Engine) Progression() *status.ProgressionService { return e.progression }

// Cascade returns the cascade service.
func (e *Engine) Cascade() *cascade.Service { return e.cascade }

// Locks returns the lock registry.
func (e *Engine) Locks() *locking.Service { return e.locks }

// Repositories returns the repositories the engine writes through.
func (e *Engine) Repositories() storage.Repositories { return e.repos }

// Workflow returns the loaded workflow, or nil in enum mode.
func (e *Engine) Workflow() *workflow.Config { return e.cfg }

// ChangeRequest asks for one entity to move to Status.
type ChangeRequest struct {
	Kind   types.EntityKind `json:"kind"`
	ID     string           `json:"id"`
	Status string           `json:"status"`
	// ToolName labels the lock entry; DefaultToolName when empty.
	ToolName string `json:"tool_name,omitempty"`
	// SkipCascade stores the change without applying cascades.
	SkipCascade bool `json:"skip_cascade,omitempty"`
}

// ChangeResult reports what a request did.
type ChangeResult struct {
	Kind           types.EntityKind      `json:"kind"`
	ID             string                `json:"id"`
	PreviousStatus string                `json:"previous_status"`
	NewStatus      string                `json:"new_status"`
	Changed        bool                  `json:"changed"`
	Item           *types.Item           `json:"item,omitempty"`
	Cascades       []types.CascadeResult `json:"cascades,omitempty"`
	Unblocked      []types.UnblockedTask `json:"unblocked,omitempty"`
	// Error is set by ChangeStatuses for requests that failed.
	Error string `json:"error,omitempty"`
}

// ChangeStatus applies one request. Validation failures wrap
// ErrInvalidStatus or ErrInvalidTransition; a lock conflict wraps ErrLocked.
// Cascade failures do not fail the request; they are reported in Cascades.
func (e *Engine) ChangeStatus(ctx context.Context, req ChangeRequest) (*ChangeResult, error) {
	if !req.Kind.IsValid() {
		return nil, fmt.Errorf("invalid entity kind %q", req.Kind)
	}
	to := types.NormalizeStatus(req.Status)
	if to == "" {
		return nil, fmt.Errorf("%w: status is required", ErrInvalidStatus)
	}

	item, err := e.repos.Get(ctx, req.Kind, req.ID)
	if err != nil {
		return nil, err
	}

	entities, err := e.lockSet(ctx, item)
	if err != nil {
		return nil, err
	}
	tool := req.ToolName
	if tool == "" {
		tool = DefaultToolName
	}
	op := types.LockOperation{
		OperationType: types.OpWrite,
		ToolName:      tool,
		Description:   fmt.Sprintf("set %s %s to %s", req.Kind, req.ID, to),
		EntityIDs:     entities,
	}
	release, err := e.locks.Acquire(op)
	if err != nil {
		e.bus.Publish(ctx, &eventbus.Event{
			Type:       eventbus.EventLockConflict,
			EntityKind: req.Kind,
			EntityID:   req.ID,
			Reason:     err.Error(),
			Operation:  &op,
		})
		return nil, err
	}
	defer release()

	// Re-read under the lock; another writer may have finished in between.
	item, err = e.repos.Get(ctx, req.Kind, req.ID)
	if err != nil {
		return nil, err
	}

	res := &ChangeResult{
		Kind:           req.Kind,
		ID:             req.ID,
		PreviousStatus: item.Status,
		NewStatus:      to,
	}

	v := e.validator.ValidateTransition(ctx, item.Status, to, req.Kind, status.TransitionContext{
		EntityID: item.ID,
		Tags:     item.Tags,
	})
	if !v.Valid {
		return nil, v.Err()
	}
	if item.Status == to {
		res.Item = item
		return res, nil
	}

	repo, err := e.repos.For(req.Kind)
	if err != nil {
		return nil, err
	}
	next := item.Clone()
	next.Status = to
	stored, err := repo.Update(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("update %s %s: %w", req.Kind, req.ID, err)
	}
	res.Changed = true
	res.Item = stored

	e.logger.Info("status changed", "kind", req.Kind, "id", req.ID, "from", item.Status, "to", to)
	e.bus.Publish(ctx, &eventbus.Event{
		Type:       eventbus.EventStatusChanged,
		EntityKind: req.Kind,
		EntityID:   req.ID,
		OldStatus:  item.Status,
		NewStatus:  to,
	})

	if !req.SkipCascade {
		res.Cascades = e.cascade.Apply(ctx, req.ID, req.Kind)
	}

	if req.Kind == types.KindTask {
		unblocked, err := e.cascade.FindNewlyUnblockedTasks(ctx, req.ID)
		if err != nil {
			// The change itself is stored; an unblock lookup failure is reported, not fatal.
			e.logger.Warn("unblock resolution failed", "task", req.ID, "error", err)
		}
		res.Unblocked = unblocked
	}
	return res, nil
}

// lockSet is the entity and its ancestors, which cascades may rewrite.
func (e *Engine) lockSet(ctx context.Context, item *types.Item) ([]string, error) {
	ids := []string{item.ID}
	cur := item
	for cur.ParentID != "" {
		parent, err := e.repos.Get(ctx, cur.Kind.ParentKind(), cur.ParentID)
		if errors.Is(err, storage.ErrNotFound) {
			ids = append(ids, cur.ParentID)
			break
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, parent.ID)
		cur = parent
	}
	return ids, nil
}

// ChangeStatuses applies requests concurrently, at most Concurrency at a
// time. Results are in request order; a failed request has Error set and its
// error is joined into the returned error. Requests touching overlapping
// entities are not serialized: whichever loses the lock race fails with
// ErrLocked.
func (e *Engine) ChangeStatuses(ctx context.Context, reqs []ChangeRequest) ([]*ChangeResult, error) {
	results := make([]*ChangeResult, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := e.ChangeStatus(ctx, req)
			if err != nil {
				errs[i] = fmt.Errorf("%s %s: %w", req.Kind, req.ID, err)
				res = &ChangeResult{Kind: req.Kind, ID: req.ID, NewStatus: types.NormalizeStatus(req.Status), Error: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// Next returns the progression recommendation for an entity.
func (e *Engine) Next(ctx context.Context, kind types.EntityKind, id string) (status.Recommendation, error) {
	item, err := e.repos.Get(ctx, kind, id)
	if err != nil {
		return status.Recommendation{}, err
	}
	return e.progression.NextStatus(ctx, item.Status, kind, item.Tags, item.ID), nil
}
