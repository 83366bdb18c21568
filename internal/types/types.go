// Package types defines core data structures for the taskorch workflow engine.
package types

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// EntityKind discriminates the three levels of the work hierarchy.
type EntityKind string

// Entity kind constants
const (
	KindProject EntityKind = "project"
	KindFeature EntityKind = "feature"
	KindTask    EntityKind = "task"
)

// IsValid checks if the entity kind value is valid
func (k EntityKind) IsValid() bool {
	switch k {
	case KindProject, KindFeature, KindTask:
		return true
	}
	return false
}

// ParentKind returns the kind one level up the hierarchy.
// Projects have no parent and return the empty kind.
func (k EntityKind) ParentKind() EntityKind {
	switch k {
	case KindTask:
		return KindFeature
	case KindFeature:
		return KindProject
	}
	return ""
}

// ChildKind returns the kind one level down the hierarchy.
// Tasks have no children and return the empty kind.
func (k EntityKind) ChildKind() EntityKind {
	switch k {
	case KindProject:
		return KindFeature
	case KindFeature:
		return KindTask
	}
	return ""
}

// ParseEntityKind accepts singular or plural, any case ("Tasks", "feature").
func ParseEntityKind(s string) (EntityKind, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	k = strings.TrimSuffix(k, "s")
	kind := EntityKind(k)
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid entity kind %q (expected project, feature or task)", s)
	}
	return kind, nil
}

// Item is a unit of work at any level of the hierarchy.
// The Kind field decides which repository owns it.
type Item struct {
	ID                   string     `json:"id" yaml:"id"`
	Kind                 EntityKind `json:"kind" yaml:"kind"`
	ParentID             string     `json:"parent_id,omitempty" yaml:"parent_id,omitempty"` // feature for a task, project for a feature
	Title                string     `json:"title" yaml:"title"`
	Status               string     `json:"status" yaml:"status"`
	Tags                 []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	RequiresVerification bool       `json:"requires_verification,omitempty" yaml:"requires_verification,omitempty"`
	Version              int64      `json:"version" yaml:"version"` // bumped by every successful update
	CreatedAt            time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing storage.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	c := *i
	c.Tags = slices.Clone(i.Tags)
	return &c
}

// Validate checks if the item has valid field values.
// Status membership is checked by the status validator, not here.
func (i *Item) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if !i.Kind.IsValid() {
		return fmt.Errorf("invalid kind: %s", i.Kind)
	}
	if len(i.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(i.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(i.Title))
	}
	if i.Status == "" {
		return fmt.Errorf("status is required")
	}
	switch i.Kind {
	case KindProject:
		if i.ParentID != "" {
			return fmt.Errorf("projects cannot have a parent (got %s)", i.ParentID)
		}
	default:
		if i.ParentID == "" {
			return fmt.Errorf("%s requires a parent %s", i.Kind, i.Kind.ParentKind())
		}
	}
	return nil
}

// SetDefaults normalizes status and tags. Call before persisting.
func (i *Item) SetDefaults() {
	i.Status = NormalizeStatus(i.Status)
	i.Tags = NormalizeTags(i.Tags)
}

// HasTag reports whether the item carries tag (case-insensitive).
func (i *Item) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	return slices.Contains(i.Tags, tag)
}

// NormalizeStatus maps "IN_PROGRESS", "In Progress" and "in-progress" to the
// same canonical form: trimmed, lower case, hyphen separated.
func NormalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.Join(strings.Fields(s), "-")
	return s
}

// NormalizeStatuses applies NormalizeStatus to every element, dropping blanks.
func NormalizeStatuses(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := NormalizeStatus(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// NormalizeTags lower-cases, trims, de-duplicates and sorts a tag set.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// DependencyType categorizes the relationship between two tasks
type DependencyType string

// Dependency type constants
const (
	// DepBlocks affects scheduling: the downstream task waits for the upstream one.
	DepBlocks DependencyType = "BLOCKS"
	// DepRelatesTo is informational and never blocks.
	DepRelatesTo DependencyType = "RELATES_TO"
)

// IsValid checks if the dependency type value is valid
func (d DependencyType) IsValid() bool {
	return d == DepBlocks || d == DepRelatesTo
}

// AffectsScheduling returns true if this dependency type blocks work.
func (d DependencyType) AffectsScheduling() bool {
	return d == DepBlocks
}

// ParseDependencyType accepts "blocks", "relates-to", "RELATES_TO" etc.
func ParseDependencyType(s string) (DependencyType, error) {
	d := DependencyType(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !d.IsValid() {
		return "", fmt.Errorf("invalid dependency type %q (expected BLOCKS or RELATES_TO)", s)
	}
	return d, nil
}

// Dependency is a directed edge FromTaskID → ToTaskID. For BLOCKS edges the
// from-task blocks the to-task until the from-task's role reaches UnblockAt.
type Dependency struct {
	FromTaskID string         `json:"from_task_id" yaml:"from_task_id"`
	ToTaskID   string         `json:"to_task_id" yaml:"to_task_id"`
	Type       DependencyType `json:"type" yaml:"type"`
	UnblockAt  Role           `json:"unblock_at,omitempty" yaml:"unblock_at,omitempty"` // RoleNone means terminal
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at"`
}

// Threshold returns the role the blocker must reach, defaulting to terminal.
func (d *Dependency) Threshold() Role {
	if d.UnblockAt == RoleNone {
		return RoleTerminal
	}
	return d.UnblockAt
}

// Validate checks if the dependency has valid field values
func (d *Dependency) Validate() error {
	if d.FromTaskID == "" || d.ToTaskID == "" {
		return fmt.Errorf("dependency requires both from and to task ids")
	}
	if d.FromTaskID == d.ToTaskID {
		return fmt.Errorf("task %s cannot depend on itself", d.FromTaskID)
	}
	if !d.Type.IsValid() {
		return fmt.Errorf("invalid dependency type: %s", d.Type)
	}
	return nil
}
