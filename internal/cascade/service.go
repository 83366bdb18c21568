// Package cascade propagates status changes through the project, feature and
// task hierarchy and resolves which tasks a status change unblocks.
//
// Detection (DetectCascadeEvents) is read-only. Application (ApplyCascades)
// walks an explicit breadth-first queue: every applied event re-enters the
// queue one level deeper, so a task completion can ripple feature to project
// in a single call, and the depth bound stops pathological configurations.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/taskorch/taskorch/internal/eventbus"
	"github.com/taskorch/taskorch/internal/status"
	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/types"
	"github.com/taskorch/taskorch/internal/workflow"
)

// Recorder receives cascade measurements. telemetry.CascadeMetrics
// implements it.
type Recorder interface {
	RecordDetected(ctx context.Context, kind types.EntityKind, events int)
	RecordResult(ctx context.Context, result types.CascadeResult)
}

// Options configures a Service. Zero values are usable.
type Options struct {
	// MaxDepth bounds Apply. Zero uses the workflow's cascade.max_depth.
	MaxDepth int
	Logger   *slog.Logger
	Metrics  Recorder
	// Bus, when set, receives cascade.applied, cascade.failed and
	// task.unblocked events.
	Bus *eventbus.Bus
}

// Service detects and applies cascades.
type Service struct {
	repos       storage.Repositories
	validator   *status.Validator
	progression *status.ProgressionService
	cfg         *workflow.Config
	maxDepth    int
	logger      *slog.Logger
	metrics     Recorder
	bus         *eventbus.Bus
}

// New creates a cascade service. A nil validator validates in enum mode, a
// nil progression service uses the built-in workflow and a nil cfg defaults
// to the progression service's workflow.
func New(repos storage.Repositories, validator *status.Validator, progression *status.ProgressionService, cfg *workflow.Config, opts Options) *Service {
	if progression == nil {
		progression = status.NewProgressionService(cfg)
	}
	if cfg == nil {
		cfg = progression.Config()
	}
	if validator == nil {
		validator = status.NewValidator(nil)
	}
	s := &Service{
		repos:       repos,
		validator:   validator,
		progression: progression,
		cfg:         cfg,
		maxDepth:    opts.MaxDepth,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		bus:         opts.Bus,
	}
	if s.maxDepth <= 0 {
		s.maxDepth = cfg.MaxDepth()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// MaxDepth returns the depth bound Apply uses.
func (s *Service) MaxDepth() int {
	return s.maxDepth
}

// Apply applies every cascade triggered by entityID, up to the configured
// depth.
func (s *Service) Apply(ctx context.Context, entityID string, kind types.EntityKind) []types.CascadeResult {
	return s.ApplyCascades(ctx, entityID, kind, 0, s.maxDepth)
}

type queued struct {
	id    string
	kind  types.EntityKind
	depth int
}

// ApplyCascades detects cascade events for the entity and applies them,
// re-detecting on every updated target at depth+1. Entries at or beyond
// maxDepth are dropped, so a call with depth >= maxDepth returns nothing.
//
// A failed event is recorded with Applied false and its branch stops, as is
// a detection failure (event detection_failed). A target that no longer exists
// abandons the branch without a result. A target already at the suggested
// status is skipped.
func (s *Service) ApplyCascades(ctx context.Context, entityID string, kind types.EntityKind, depth, maxDepth int) []types.CascadeResult {
	var results []types.CascadeResult
	visited := make(map[string]struct{})
	queue := []queued{{id: entityID, kind: kind, depth: depth}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			if cur.depth > depth {
				s.logger.Warn("cascade depth limit reached", "entity_id", cur.id, "kind", cur.kind, "max_depth", maxDepth)
			}
			continue
		}

		events, err := s.DetectCascadeEvents(ctx, cur.id, cur.kind)
		if err != nil {
			s.logger.Warn("cascade detection failed", "entity_id", cur.id, "kind", cur.kind, "error", err)
			if !errors.Is(err, storage.ErrNotFound) {
				res := types.CascadeResult{
					Event: types.CascadeEvent{
						Event:      types.EventDetectionFailed,
						TargetKind: cur.kind,
						TargetID:   cur.id,
						Reason:     "cascade detection failed",
					},
					Error: err.Error(),
				}
				results = append(results, res)
				s.report(ctx, res)
			}
			continue
		}

		for _, ev := range events {
			key := fmt.Sprintf("%s/%s/%s", ev.TargetKind, ev.TargetID, ev.SuggestedStatus)
			if _, seen := visited[key]; seen {
				continue
			}
			visited[key] = struct{}{}

			res, ok := s.applyEvent(ctx, ev)
			if !ok {
				continue
			}
			results = append(results, res)
			s.report(ctx, res)
			if res.Applied {
				queue = append(queue, queued{id: ev.TargetID, kind: ev.TargetKind, depth: cur.depth + 1})
			}
		}
	}
	return results
}

// applyEvent re-reads the target, re-validates and updates it. ok is false
// when the event produced no result (target gone or already at status).
func (s *Service) applyEvent(ctx context.Context, ev types.CascadeEvent) (types.CascadeResult, bool) {
	res := types.CascadeResult{Event: ev, PreviousStatus: ev.CurrentStatus}

	repo, err := s.repos.For(ev.TargetKind)
	if err != nil {
		res.Error = err.Error()
		return res, true
	}
	target, err := repo.GetByID(ctx, ev.TargetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Info("cascade target disappeared, abandoning branch", "target_id", ev.TargetID, "kind", ev.TargetKind)
			return res, false
		}
		res.Error = err.Error()
		return res, true
	}

	res.PreviousStatus = target.Status
	if target.Status == ev.SuggestedStatus {
		return res, false
	}

	v := s.validator.ValidateTransition(ctx, target.Status, ev.SuggestedStatus, ev.TargetKind, status.TransitionContext{
		EntityID: target.ID,
		Tags:     target.Tags,
	})
	if !v.Valid {
		res.Error = v.Err().Error()
		return res, true
	}

	next := target.Clone()
	next.Status = ev.SuggestedStatus
	updated, err := repo.Update(ctx, next)
	if err != nil {
		res.Error = err.Error()
		return res, true
	}

	res.Applied = true
	res.NewStatus = updated.Status
	return res, true
}

func (s *Service) report(ctx context.Context, res types.CascadeResult) {
	if s.metrics != nil {
		s.metrics.RecordResult(ctx, res)
	}

	ev := &eventbus.Event{
		Type:       eventbus.EventCascadeApplied,
		EntityKind: res.Event.TargetKind,
		EntityID:   res.Event.TargetID,
		OldStatus:  res.PreviousStatus,
		NewStatus:  res.Event.SuggestedStatus,
		Reason:     res.Event.Reason,
		Cascade:    &res,
	}
	if res.Applied {
		s.logger.Info("cascade applied", "event", res.Event.Event, "target_id", res.Event.TargetID,
			"from", res.PreviousStatus, "to", res.NewStatus)
	} else {
		ev.Type = eventbus.EventCascadeFailed
		ev.Reason = res.Error
		s.logger.Warn("cascade failed", "event", res.Event.Event, "target_id", res.Event.TargetID,
			"to", res.Event.SuggestedStatus, "error", res.Error)
	}
	s.bus.Publish(ctx, ev)
}
