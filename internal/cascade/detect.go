package cascade

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/types"
)

// DetectCascadeEvents returns the transitions that the current state of the
// entity implies for itself or its ancestors. It never writes, so calling it
// twice without intervening changes returns the same events.
//
// Every proposal passes the verification gate: the target's next status must
// be Ready, and an entity with RequiresVerification is never proposed a
// terminal status.
func (s *Service) DetectCascadeEvents(ctx context.Context, entityID string, kind types.EntityKind) ([]types.CascadeEvent, error) {
	item, err := s.repos.Get(ctx, kind, entityID)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, entityID, err)
	}

	d := detection{seen: make(map[string]struct{})}
	switch kind {
	case types.KindTask:
		err = s.detectForTask(ctx, item, &d)
	case types.KindFeature:
		err = s.detectForFeature(ctx, item, &d)
	case types.KindProject:
		err = s.detectForProject(ctx, item, &d)
	}
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordDetected(ctx, kind, len(d.events))
	}
	return d.events, nil
}

// detection accumulates events, dropping a second proposal for the same
// target and status.
type detection struct {
	events []types.CascadeEvent
	seen   map[string]struct{}
}

func (d *detection) add(ev types.CascadeEvent) {
	key := fmt.Sprintf("%s/%s/%s", ev.TargetKind, ev.TargetID, ev.SuggestedStatus)
	if _, ok := d.seen[key]; ok {
		return
	}
	d.seen[key] = struct{}{}
	d.events = append(d.events, ev)
}

func (s *Service) detectForTask(ctx context.Context, task *types.Item, d *detection) error {
	feature, err := s.parent(ctx, task)
	if err != nil || feature == nil {
		return err
	}
	role := s.role(task)

	if role == types.RoleTerminal {
		done, err := s.allChildrenTerminal(ctx, feature)
		if err != nil {
			return err
		}
		if done {
			s.proposeNext(ctx, d, feature, types.EventAllChildrenComplete,
				fmt.Sprintf("all tasks of feature %s are complete", feature.ID))
		}
	}

	if role == types.RoleWork {
		s.detectStart(ctx, d, feature, task)
	}

	return s.detectAggregation(ctx, d, feature)
}

func (s *Service) detectForFeature(ctx context.Context, feature *types.Item, d *detection) error {
	if err := s.detectSelfAdvancement(ctx, d, feature); err != nil {
		return err
	}
	if err := s.detectAggregation(ctx, d, feature); err != nil {
		return err
	}

	project, err := s.parent(ctx, feature)
	if err != nil || project == nil {
		return err
	}
	switch s.role(feature) {
	case types.RoleTerminal:
		done, err := s.allChildrenTerminal(ctx, project)
		if err != nil {
			return err
		}
		if done {
			s.proposeNext(ctx, d, project, types.EventAllFeaturesComplete,
				fmt.Sprintf("all features of project %s are complete", project.ID))
		}
	case types.RoleWork:
		s.detectStart(ctx, d, project, feature)
	}
	return nil
}

func (s *Service) detectForProject(ctx context.Context, project *types.Item, d *detection) error {
	return s.detectSelfAdvancement(ctx, d, project)
}

// detectStart proposes moving a queued parent forward once a child starts work.
func (s *Service) detectStart(ctx context.Context, d *detection, parent, child *types.Item) {
	if !s.cfg.StartCascadeEnabled() || s.role(parent) != types.RoleQueue {
		return
	}
	s.proposeNext(ctx, d, parent, types.EventFirstChildStarted,
		fmt.Sprintf("%s %s started work", child.Kind, child.ID))
}

// detectSelfAdvancement proposes the next step for an entity sitting in a
// review status whose children are all terminal.
func (s *Service) detectSelfAdvancement(ctx context.Context, d *detection, item *types.Item) error {
	if s.role(item) != types.RoleReview {
		return nil
	}
	done, err := s.allChildrenTerminal(ctx, item)
	if err != nil || !done {
		return err
	}
	s.proposeNext(ctx, d, item, types.EventSelfAdvancement,
		fmt.Sprintf("%s %s has completed the work for %q", item.Kind, item.ID, item.Status))
	return nil
}

// detectAggregation evaluates role_aggregation rules against the feature's
// tasks. A rule never proposes a status at or before the feature's current
// position in its flow. With enforce_sequential the proposal is the next step
// toward the target; re-detection on the updated feature continues the walk.
func (s *Service) detectAggregation(ctx context.Context, d *detection, feature *types.Item) error {
	rules := s.cfg.RoleAggregation()
	if len(rules) == 0 {
		return nil
	}
	counts, err := s.childCounts(ctx, feature)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return nil
	}

	path := s.progression.FlowPath(types.KindFeature, feature.Tags, feature.Status)
	if path.CurrentPosition < 0 {
		return nil
	}

	for _, rule := range rules {
		reached := 0
		for st, n := range counts {
			if s.progression.IsRoleAtOrBeyond(s.progression.RoleForStatus(st, types.KindTask, nil), rule.RoleThreshold) {
				reached += n
			}
		}
		fraction := float64(reached) / float64(total)
		if fraction < rule.Percentage {
			continue
		}

		targetPos := path.Position(rule.TargetFeatureStatus)
		if targetPos <= path.CurrentPosition {
			continue
		}
		suggested := rule.TargetFeatureStatus
		if s.cfg.Validation().EnforceSequential {
			suggested = path.FlowSequence[path.CurrentPosition+1]
		}
		if feature.RequiresVerification && s.isTerminal(types.KindFeature, suggested) {
			continue
		}
		d.add(types.CascadeEvent{
			Event:           types.EventRoleAggregationThreshold,
			TargetKind:      types.KindFeature,
			TargetID:        feature.ID,
			CurrentStatus:   feature.Status,
			SuggestedStatus: suggested,
			Flow:            path.ActiveFlow,
			Automatic:       true,
			Reason: fmt.Sprintf("%.0f%% of tasks reached role %s (threshold %.0f%%), target %s",
				fraction*100, rule.RoleThreshold, rule.Percentage*100, rule.TargetFeatureStatus),
		})
	}
	return nil
}

// proposeNext adds an event moving target to its next flow status, subject to
// the verification gate.
func (s *Service) proposeNext(ctx context.Context, d *detection, target *types.Item, event, reason string) {
	rec := s.progression.NextStatus(ctx, target.Status, target.Kind, target.Tags, target.ID)
	if !rec.Ready() {
		s.logger.Debug("cascade not proposed", "event", event, "target_id", target.ID,
			"outcome", rec.Outcome, "reason", rec.Reason)
		return
	}
	if target.RequiresVerification && s.isTerminal(target.Kind, rec.RecommendedStatus) {
		s.logger.Debug("cascade held by verification gate", "event", event, "target_id", target.ID,
			"suggested", rec.RecommendedStatus)
		return
	}
	d.add(types.CascadeEvent{
		Event:           event,
		TargetKind:      target.Kind,
		TargetID:        target.ID,
		CurrentStatus:   target.Status,
		SuggestedStatus: rec.RecommendedStatus,
		Flow:            rec.ActiveFlow,
		Automatic:       true,
		Reason:          reason,
	})
}

// parent loads item's parent. A missing parent yields nil, nil.
func (s *Service) parent(ctx context.Context, item *types.Item) (*types.Item, error) {
	pk := item.Kind.ParentKind()
	if pk == "" || item.ParentID == "" {
		return nil, nil
	}
	p, err := s.repos.Get(ctx, pk, item.ParentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load parent %s %s: %w", pk, item.ParentID, err)
	}
	return p, nil
}

func (s *Service) childCounts(ctx context.Context, parent *types.Item) (map[string]int, error) {
	ck := parent.Kind.ChildKind()
	if ck == "" {
		return nil, nil
	}
	repo, err := s.repos.For(ck)
	if err != nil {
		return nil, err
	}
	counts, err := repo.CountChildrenByStatus(ctx, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("count children of %s: %w", parent.ID, err)
	}
	return counts, nil
}

// allChildrenTerminal reports whether parent has at least one child and every
// child has the terminal role.
func (s *Service) allChildrenTerminal(ctx context.Context, parent *types.Item) (bool, error) {
	counts, err := s.childCounts(ctx, parent)
	if err != nil {
		return false, err
	}
	ck := parent.Kind.ChildKind()
	total := 0
	for st, n := range counts {
		if n == 0 {
			continue
		}
		if !s.isTerminal(ck, st) {
			return false, nil
		}
		total += n
	}
	return total > 0, nil
}

func (s *Service) role(item *types.Item) types.Role {
	return s.progression.RoleForStatus(item.Status, item.Kind, item.Tags)
}

func (s *Service) isTerminal(kind types.EntityKind, st string) bool {
	return s.progression.RoleForStatus(st, kind, nil) == types.RoleTerminal
}
