// Package workflow compiles workflow documents into an immutable Config that
// the status and cascade services share.
package workflow

import (
	"fmt"
	"slices"

	"github.com/taskorch/taskorch/internal/types"
)

// DefaultMaxDepth bounds cascade application when the document leaves
// cascade.max_depth unset.
const DefaultMaxDepth = 10

// Validation holds the status_validation flags.
type Validation struct {
	EnforceSequential     bool
	AllowBackward         bool
	AllowEmergency        bool
	ValidatePrerequisites bool
}

// RoleAggregationRule advances a feature once Percentage of its tasks reach
// RoleThreshold.
type RoleAggregationRule struct {
	RoleThreshold       types.Role `json:"role_threshold"`
	Percentage          float64    `json:"percentage"`
	TargetFeatureStatus string     `json:"target_feature_status"`
}

// FlowMapping routes items carrying every tag in Tags to the named flow.
type FlowMapping struct {
	Tags []string `json:"tags"`
	Flow string   `json:"flow"`
}

// Flow is a resolved, named status sequence.
type Flow struct {
	Name        string   `json:"name"`
	Sequence    []string `json:"sequence"`
	MatchedTags []string `json:"matched_tags,omitempty"`
}

// Position returns the index of status in the flow, or -1.
func (f Flow) Position(status string) int {
	return slices.Index(f.Sequence, types.NormalizeStatus(status))
}

type kindConfig struct {
	allowed   []string
	flows     map[string][]string
	mappings  []FlowMapping
	terminal  []string
	emergency []string
	roles     map[string]types.Role
}

// Config is a compiled workflow. It is never mutated after FromDocument
// returns, so one value can be shared by every service and goroutine.
type Config struct {
	kinds        map[types.EntityKind]*kindConfig
	validation   Validation
	startCascade bool
	aggregation  []RoleAggregationRule
	maxDepth     int
}

// FromDocument validates doc and compiles it. Status names and tags are
// normalized on the way in.
func FromDocument(doc *Document) (*Config, error) {
	if doc == nil {
		return nil, fmt.Errorf("workflow document is nil")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	kinds, _ := doc.kinds()
	cfg := &Config{
		kinds: make(map[types.EntityKind]*kindConfig, len(kinds)),
		validation: Validation{
			EnforceSequential:     boolOr(doc.StatusValidation.EnforceSequential, true),
			AllowBackward:         boolOr(doc.StatusValidation.AllowBackward, true),
			AllowEmergency:        boolOr(doc.StatusValidation.AllowEmergency, true),
			ValidatePrerequisites: boolOr(doc.StatusValidation.ValidatePrerequisites, true),
		},
		startCascade: boolOr(doc.StartCascade.Enabled, true),
		maxDepth:     doc.Cascade.MaxDepth,
	}
	if cfg.maxDepth == 0 {
		cfg.maxDepth = DefaultMaxDepth
	}

	for kind, kd := range kinds {
		kc := &kindConfig{
			allowed:   types.NormalizeStatuses(kd.AllowedStatuses),
			flows:     make(map[string][]string, len(kd.Flows)+1),
			terminal:  types.NormalizeStatuses(kd.TerminalStatuses),
			emergency: types.NormalizeStatuses(kd.EmergencyTransitions),
			roles:     make(map[string]types.Role, len(kd.StatusRoles)),
		}
		kc.flows[DefaultFlowName] = types.NormalizeStatuses(kd.DefaultFlow)
		for name, seq := range kd.Flows {
			kc.flows[name] = types.NormalizeStatuses(seq)
		}
		for _, m := range kd.FlowMappings {
			kc.mappings = append(kc.mappings, FlowMapping{Tags: types.NormalizeTags(m.Tags), Flow: m.Flow})
		}
		for status, role := range kd.StatusRoles {
			r, _ := types.ParseRole(role) // checked by Validate
			kc.roles[types.NormalizeStatus(status)] = r
		}
		cfg.kinds[kind] = kc
	}

	for _, rule := range doc.RoleAggregation {
		r, _ := types.ParseRole(rule.RoleThreshold)
		cfg.aggregation = append(cfg.aggregation, RoleAggregationRule{
			RoleThreshold:       r,
			Percentage:          rule.Percentage,
			TargetFeatureStatus: types.NormalizeStatus(rule.TargetFeatureStatus),
		})
	}
	return cfg, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// HasKind reports whether the workflow configures kind.
func (c *Config) HasKind(kind types.EntityKind) bool {
	_, ok := c.kinds[kind]
	return ok
}

// AllowedStatuses returns a copy of kind's allowed statuses in file order.
func (c *Config) AllowedStatuses(kind types.EntityKind) []string {
	if kc, ok := c.kinds[kind]; ok {
		return slices.Clone(kc.allowed)
	}
	return nil
}

// IsAllowed reports whether status is in kind's allowed_statuses.
func (c *Config) IsAllowed(kind types.EntityKind, status string) bool {
	kc, ok := c.kinds[kind]
	return ok && slices.Contains(kc.allowed, types.NormalizeStatus(status))
}

// IsTerminal reports whether status is one of kind's terminal_statuses.
func (c *Config) IsTerminal(kind types.EntityKind, status string) bool {
	kc, ok := c.kinds[kind]
	return ok && slices.Contains(kc.terminal, types.NormalizeStatus(status))
}

// IsEmergency reports whether status is one of kind's emergency_transitions.
func (c *Config) IsEmergency(kind types.EntityKind, status string) bool {
	kc, ok := c.kinds[kind]
	return ok && slices.Contains(kc.emergency, types.NormalizeStatus(status))
}

// TerminalStatuses returns a copy of kind's terminal_statuses.
func (c *Config) TerminalStatuses(kind types.EntityKind) []string {
	if kc, ok := c.kinds[kind]; ok {
		return slices.Clone(kc.terminal)
	}
	return nil
}

// EmergencyTransitions returns a copy of kind's emergency_transitions.
func (c *Config) EmergencyTransitions(kind types.EntityKind) []string {
	if kc, ok := c.kinds[kind]; ok {
		return slices.Clone(kc.emergency)
	}
	return nil
}

// ConfiguredRole returns the role that status_roles assigns to status.
func (c *Config) ConfiguredRole(kind types.EntityKind, status string) (types.Role, bool) {
	kc, ok := c.kinds[kind]
	if !ok {
		return types.RoleNone, false
	}
	r, ok := kc.roles[types.NormalizeStatus(status)]
	return r, ok
}

// FlowNames lists kind's flows, default first, the rest sorted.
func (c *Config) FlowNames(kind types.EntityKind) []string {
	kc, ok := c.kinds[kind]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(kc.flows))
	for name := range kc.flows {
		if name != DefaultFlowName {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return append([]string{DefaultFlowName}, names...)
}

// Flow returns the named flow for kind.
func (c *Config) Flow(kind types.EntityKind, name string) (Flow, bool) {
	kc, ok := c.kinds[kind]
	if !ok {
		return Flow{}, false
	}
	seq, ok := kc.flows[name]
	if !ok {
		return Flow{}, false
	}
	return Flow{Name: name, Sequence: slices.Clone(seq)}, true
}

// SelectFlow picks the flow for an item of kind carrying tags. A mapping
// matches only when every one of its tags is present; the mapping with the
// most tags wins and ties keep file order. Without a match the default flow
// is returned.
func (c *Config) SelectFlow(kind types.EntityKind, tags []string) Flow {
	kc, ok := c.kinds[kind]
	if !ok {
		return Flow{}
	}
	have := types.NormalizeTags(tags)

	best := -1
	bestScore := 0
	for i, m := range kc.mappings {
		score := 0
		for _, t := range m.Tags {
			if slices.Contains(have, t) {
				score++
			}
		}
		if score != len(m.Tags) || score == 0 {
			continue
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	if best < 0 {
		return Flow{Name: DefaultFlowName, Sequence: slices.Clone(kc.flows[DefaultFlowName])}
	}
	m := kc.mappings[best]
	return Flow{
		Name:        m.Flow,
		Sequence:    slices.Clone(kc.flows[m.Flow]),
		MatchedTags: slices.Clone(m.Tags),
	}
}

// Validation returns the status_validation flags.
func (c *Config) Validation() Validation {
	return c.validation
}

// StartCascadeEnabled reports whether first_child_started cascades fire.
func (c *Config) StartCascadeEnabled() bool {
	return c.startCascade
}

// RoleAggregation returns a copy of the role_aggregation rules in file order.
func (c *Config) RoleAggregation() []RoleAggregationRule {
	return slices.Clone(c.aggregation)
}

// MaxDepth returns the configured cascade depth bound.
func (c *Config) MaxDepth() int {
	return c.maxDepth
}
