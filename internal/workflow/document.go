package workflow

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/taskorch/taskorch/internal/types"
)

// DefaultFlowName is the flow name used for a kind's default_flow.
const DefaultFlowName = "default_flow"

// Document is the on-disk shape of a workflow file. YAML and TOML share keys.
type Document struct {
	StatusProgression map[string]*KindDocument  `yaml:"status_progression" toml:"status_progression"`
	StatusValidation  ValidationDocument        `yaml:"status_validation,omitempty" toml:"status_validation"`
	StartCascade      StartCascadeDocument      `yaml:"start_cascade,omitempty" toml:"start_cascade"`
	RoleAggregation   []RoleAggregationDocument `yaml:"role_aggregation,omitempty" toml:"role_aggregation"`
	Cascade           CascadeDocument           `yaml:"cascade,omitempty" toml:"cascade"`
}

// KindDocument holds the status_progression block for one entity kind.
type KindDocument struct {
	AllowedStatuses      []string              `yaml:"allowed_statuses" toml:"allowed_statuses"`
	DefaultFlow          []string              `yaml:"default_flow" toml:"default_flow"`
	Flows                map[string][]string   `yaml:"flows,omitempty" toml:"flows"`
	FlowMappings         []FlowMappingDocument `yaml:"flow_mappings,omitempty" toml:"flow_mappings"`
	TerminalStatuses     []string              `yaml:"terminal_statuses" toml:"terminal_statuses"`
	EmergencyTransitions []string              `yaml:"emergency_transitions,omitempty" toml:"emergency_transitions"`
	StatusRoles          map[string]string     `yaml:"status_roles,omitempty" toml:"status_roles"`
}

// FlowMappingDocument routes items carrying all of Tags to Flow.
type FlowMappingDocument struct {
	Tags []string `yaml:"tags" toml:"tags"`
	Flow string   `yaml:"flow" toml:"flow"`
}

// ValidationDocument holds the status_validation flags. Absent flags default to true.
type ValidationDocument struct {
	EnforceSequential     *bool `yaml:"enforce_sequential,omitempty" toml:"enforce_sequential"`
	AllowBackward         *bool `yaml:"allow_backward,omitempty" toml:"allow_backward"`
	AllowEmergency        *bool `yaml:"allow_emergency,omitempty" toml:"allow_emergency"`
	ValidatePrerequisites *bool `yaml:"validate_prerequisites,omitempty" toml:"validate_prerequisites"`
}

// StartCascadeDocument toggles first_child_started cascades. Absent means enabled.
type StartCascadeDocument struct {
	Enabled *bool `yaml:"enabled,omitempty" toml:"enabled"`
}

// RoleAggregationDocument is one role_aggregation rule.
type RoleAggregationDocument struct {
	RoleThreshold       string  `yaml:"role_threshold" toml:"role_threshold"`
	Percentage          float64 `yaml:"percentage" toml:"percentage"`
	TargetFeatureStatus string  `yaml:"target_feature_status" toml:"target_feature_status"`
}

// CascadeDocument bounds cascade application. Zero means DefaultMaxDepth.
type CascadeDocument struct {
	MaxDepth int `yaml:"max_depth,omitempty" toml:"max_depth"`
}

// ParseYAML decodes and compiles a YAML workflow document.
func ParseYAML(data []byte) (*Config, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return FromDocument(&doc)
}

// ParseTOML decodes and compiles a TOML workflow document.
func ParseTOML(data []byte) (*Config, error) {
	var doc Document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("toml: %w", err)
	}
	return FromDocument(&doc)
}

// kinds resolves status_progression block names to entity kinds.
// Plural and singular names are both accepted.
func (d *Document) kinds() (map[types.EntityKind]*KindDocument, []string) {
	out := make(map[types.EntityKind]*KindDocument, len(d.StatusProgression))
	var errs []string
	names := make([]string, 0, len(d.StatusProgression))
	for name := range d.StatusProgression {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		kd := d.StatusProgression[name]
		kind, err := types.ParseEntityKind(name)
		if err != nil {
			errs = append(errs, fmt.Sprintf("status_progression.%s: unknown entity kind", name))
			continue
		}
		if _, dup := out[kind]; dup {
			errs = append(errs, fmt.Sprintf("status_progression.%s: %s configured twice", name, kind))
			continue
		}
		if kd == nil {
			errs = append(errs, fmt.Sprintf("status_progression.%s: empty block", name))
			continue
		}
		out[kind] = kd
	}
	return out, errs
}

// Validate checks the document for structural errors.
func (d *Document) Validate() error {
	var errs []string

	kinds, kindErrs := d.kinds()
	errs = append(errs, kindErrs...)
	if len(d.StatusProgression) == 0 {
		errs = append(errs, "status_progression: at least one entity kind is required")
	}

	for _, kind := range []types.EntityKind{types.KindProject, types.KindFeature, types.KindTask} {
		kd, ok := kinds[kind]
		if !ok {
			continue
		}
		errs = append(errs, kd.validate(string(kind))...)
	}

	var featureAllowed []string
	if kd, ok := kinds[types.KindFeature]; ok {
		featureAllowed = types.NormalizeStatuses(kd.AllowedStatuses)
	}
	for i, rule := range d.RoleAggregation {
		prefix := fmt.Sprintf("role_aggregation[%d]", i)
		if r, err := types.ParseRole(rule.RoleThreshold); err != nil || r == types.RoleNone {
			errs = append(errs, fmt.Sprintf("%s: invalid role_threshold %q", prefix, rule.RoleThreshold))
		}
		if rule.Percentage < 0 || rule.Percentage > 1 {
			errs = append(errs, fmt.Sprintf("%s: percentage must be between 0.0 and 1.0 (got %g)", prefix, rule.Percentage))
		}
		target := types.NormalizeStatus(rule.TargetFeatureStatus)
		switch {
		case target == "":
			errs = append(errs, fmt.Sprintf("%s: target_feature_status is required", prefix))
		case featureAllowed != nil && !slices.Contains(featureAllowed, target):
			errs = append(errs, fmt.Sprintf("%s: target_feature_status %q is not an allowed feature status", prefix, rule.TargetFeatureStatus))
		}
	}

	if d.Cascade.MaxDepth < 0 {
		errs = append(errs, fmt.Sprintf("cascade.max_depth: must be >= 0 (got %d)", d.Cascade.MaxDepth))
	}

	if len(errs) > 0 {
		return fmt.Errorf("workflow validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (kd *KindDocument) validate(kind string) []string {
	var errs []string
	prefix := "status_progression." + kind

	allowed := types.NormalizeStatuses(kd.AllowedStatuses)
	if len(allowed) == 0 {
		errs = append(errs, prefix+".allowed_statuses: at least one status is required")
	}
	inAllowed := func(field string, statuses []string) {
		for _, s := range statuses {
			if !slices.Contains(allowed, types.NormalizeStatus(s)) {
				errs = append(errs, fmt.Sprintf("%s.%s: %q is not in allowed_statuses", prefix, field, s))
			}
		}
	}

	if len(kd.DefaultFlow) == 0 {
		errs = append(errs, prefix+".default_flow: at least one status is required")
	}
	inAllowed("default_flow", kd.DefaultFlow)
	for name, flow := range kd.Flows {
		if name == DefaultFlowName {
			errs = append(errs, fmt.Sprintf("%s.flows.%s: name is reserved", prefix, name))
			continue
		}
		if len(flow) == 0 {
			errs = append(errs, fmt.Sprintf("%s.flows.%s: at least one status is required", prefix, name))
		}
		inAllowed("flows."+name, flow)
	}
	inAllowed("terminal_statuses", kd.TerminalStatuses)
	inAllowed("emergency_transitions", kd.EmergencyTransitions)

	for i, m := range kd.FlowMappings {
		if len(types.NormalizeTags(m.Tags)) == 0 {
			errs = append(errs, fmt.Sprintf("%s.flow_mappings[%d]: at least one tag is required", prefix, i))
		}
		if _, ok := kd.Flows[m.Flow]; !ok && m.Flow != DefaultFlowName {
			errs = append(errs, fmt.Sprintf("%s.flow_mappings[%d]: unknown flow %q", prefix, i, m.Flow))
		}
	}

	for status, role := range kd.StatusRoles {
		if !slices.Contains(allowed, types.NormalizeStatus(status)) {
			errs = append(errs, fmt.Sprintf("%s.status_roles: %q is not in allowed_statuses", prefix, status))
		}
		if r, err := types.ParseRole(role); err != nil || r == types.RoleNone {
			errs = append(errs, fmt.Sprintf("%s.status_roles.%s: invalid role %q", prefix, status, role))
		}
	}
	sort.Strings(errs)
	return errs
}
