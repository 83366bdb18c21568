package types

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestItemValidation(t *testing.T) {
	tests := []struct {
		name    string
		item    Item
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid task",
			item:    Item{ID: "t-1", Kind: KindTask, ParentID: "f-1", Title: "Write parser", Status: "pending"},
			wantErr: false,
		},
		{
			name:    "valid project",
			item:    Item{ID: "p-1", Kind: KindProject, Title: "Platform", Status: "planning"},
			wantErr: false,
		},
		{
			name:    "missing id",
			item:    Item{Kind: KindTask, ParentID: "f-1", Title: "x", Status: "pending"},
			wantErr: true,
			errMsg:  "id is required",
		},
		{
			name:    "invalid kind",
			item:    Item{ID: "x-1", Kind: EntityKind("epic"), Title: "x", Status: "pending"},
			wantErr: true,
			errMsg:  "invalid kind: epic",
		},
		{
			name:    "missing title",
			item:    Item{ID: "t-1", Kind: KindTask, ParentID: "f-1", Status: "pending"},
			wantErr: true,
			errMsg:  "title is required",
		},
		{
			name:    "title too long",
			item:    Item{ID: "t-1", Kind: KindTask, ParentID: "f-1", Title: string(make([]byte, 501)), Status: "pending"},
			wantErr: true,
			errMsg:  "title must be 500 characters or less (got 501)",
		},
		{
			name:    "task without feature",
			item:    Item{ID: "t-1", Kind: KindTask, Title: "x", Status: "pending"},
			wantErr: true,
			errMsg:  "task requires a parent feature",
		},
		{
			name:    "project with parent",
			item:    Item{ID: "p-1", Kind: KindProject, ParentID: "p-0", Title: "x", Status: "planning"},
			wantErr: true,
			errMsg:  "projects cannot have a parent (got p-0)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Validate() expected error %q, got nil", tt.errMsg)
				}
				if err.Error() != tt.errMsg {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]string{
		"IN_PROGRESS":     "in-progress",
		"In Progress":     "in-progress",
		" in-progress ":   "in-progress",
		"completed":       "completed",
		"READY_FOR_QA":    "ready-for-qa",
		"":                "",
		"pending  review": "pending-review",
	}
	for in, want := range tests {
		if got := NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{"Backend", "api", " backend ", "", "API"})
	want := []string{"api", "backend"}
	if len(got) != len(want) {
		t.Fatalf("NormalizeTags() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("NormalizeTags()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if NormalizeTags(nil) != nil {
		t.Error("NormalizeTags(nil) should be nil")
	}
}

func TestItemCloneDoesNotAlias(t *testing.T) {
	orig := &Item{ID: "t-1", Tags: []string{"a"}}
	c := orig.Clone()
	c.Tags[0] = "b"
	if orig.Tags[0] != "a" {
		t.Errorf("Clone aliased tags: orig = %v", orig.Tags)
	}
	var nilItem *Item
	if nilItem.Clone() != nil {
		t.Error("Clone of nil item should be nil")
	}
}

func TestParseEntityKind(t *testing.T) {
	for _, in := range []string{"task", "Tasks", " FEATURE ", "projects"} {
		if _, err := ParseEntityKind(in); err != nil {
			t.Errorf("ParseEntityKind(%q) unexpected error: %v", in, err)
		}
	}
	if _, err := ParseEntityKind("epic"); err == nil {
		t.Error("ParseEntityKind(epic) expected error")
	}
}

func TestEntityKindHierarchy(t *testing.T) {
	if KindTask.ParentKind() != KindFeature || KindFeature.ParentKind() != KindProject || KindProject.ParentKind() != "" {
		t.Error("ParentKind chain is wrong")
	}
	if KindProject.ChildKind() != KindFeature || KindFeature.ChildKind() != KindTask || KindTask.ChildKind() != "" {
		t.Error("ChildKind chain is wrong")
	}
}

func TestRoleOrdering(t *testing.T) {
	ordered := []Role{RoleNone, RoleQueue, RoleWork, RoleReview, RoleTerminal}
	for i, r := range ordered {
		for j, threshold := range ordered {
			if got, want := r.AtOrBeyond(threshold), i >= j; got != want {
				t.Errorf("%q.AtOrBeyond(%q) = %v, want %v", r, threshold, got, want)
			}
		}
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"queue", RoleQueue, false},
		{"WORK", RoleWork, false},
		{" review ", RoleReview, false},
		{"terminal", RoleTerminal, false},
		{"", RoleNone, false},
		{"blocked", RoleNone, true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRole(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRoleTextEncoding(t *testing.T) {
	dep := Dependency{FromTaskID: "a", ToTaskID: "b", Type: DepBlocks, UnblockAt: RoleReview}
	data, err := json.Marshal(dep)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Dependency
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.UnblockAt != RoleReview {
		t.Errorf("UnblockAt = %v, want review", back.UnblockAt)
	}

	var fromYAML Dependency
	if err := yaml.Unmarshal([]byte("from_task_id: a\nto_task_id: b\ntype: BLOCKS\nunblock_at: work\n"), &fromYAML); err != nil {
		t.Fatalf("yaml unmarshal: %v", err)
	}
	if fromYAML.UnblockAt != RoleWork {
		t.Errorf("yaml UnblockAt = %v, want work", fromYAML.UnblockAt)
	}
}

func TestDependencyThresholdDefaultsToTerminal(t *testing.T) {
	d := Dependency{FromTaskID: "a", ToTaskID: "b", Type: DepBlocks}
	if d.Threshold() != RoleTerminal {
		t.Errorf("Threshold() = %v, want terminal", d.Threshold())
	}
	d.UnblockAt = RoleWork
	if d.Threshold() != RoleWork {
		t.Errorf("Threshold() = %v, want work", d.Threshold())
	}
}

func TestDependencyValidate(t *testing.T) {
	if err := (&Dependency{FromTaskID: "a", ToTaskID: "a", Type: DepBlocks}).Validate(); err == nil {
		t.Error("self dependency should be rejected")
	}
	if err := (&Dependency{FromTaskID: "a", ToTaskID: "b", Type: "parent-child"}).Validate(); err == nil {
		t.Error("unknown dependency type should be rejected")
	}
	if err := (&Dependency{FromTaskID: "a", ToTaskID: "b", Type: DepRelatesTo}).Validate(); err != nil {
		t.Errorf("valid dependency rejected: %v", err)
	}
	if DepRelatesTo.AffectsScheduling() {
		t.Error("RELATES_TO must never affect scheduling")
	}
}

func TestParseDependencyType(t *testing.T) {
	for in, want := range map[string]DependencyType{"blocks": DepBlocks, "relates-to": DepRelatesTo, "RELATES_TO": DepRelatesTo} {
		got, err := ParseDependencyType(in)
		if err != nil || got != want {
			t.Errorf("ParseDependencyType(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestLockOperationConflicts(t *testing.T) {
	op := func(typ OperationType, ids ...string) LockOperation {
		return LockOperation{OperationType: typ, EntityIDs: ids}
	}
	tests := []struct {
		name string
		a, b LockOperation
		want bool
	}{
		{"read/read same entity", op(OpRead, "x"), op(OpRead, "x"), false},
		{"read/write same entity", op(OpRead, "x"), op(OpWrite, "x"), true},
		{"delete/write same entity", op(OpDelete, "x"), op(OpWrite, "x"), true},
		{"write/write disjoint", op(OpWrite, "x"), op(OpWrite, "y"), false},
		{"create/create same entity", op(OpCreate, "x"), op(OpCreate, "x"), false},
		{"create/section edit", op(OpCreate, "x"), op(OpSectionEdit, "x"), true},
		{"structure change empty set", op(OpStructureChange), op(OpWrite, "x"), false},
		{"partial overlap", op(OpWrite, "x", "y"), op(OpRead, "y", "z"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.ConflictsWith(tt.b); got != tt.want {
				t.Errorf("a.ConflictsWith(b) = %v, want %v", got, tt.want)
			}
			if got := tt.b.ConflictsWith(tt.a); got != tt.want {
				t.Errorf("b.ConflictsWith(a) = %v, want %v (must be symmetric)", got, tt.want)
			}
		})
	}
}

func TestEnumStatuses(t *testing.T) {
	if !IsEnumStatus(KindTask, "IN_PROGRESS") {
		t.Error("in-progress should be a task enum status")
	}
	if IsEnumStatus(KindProject, "testing") {
		t.Error("testing is not a project enum status")
	}
	s := EnumStatuses(KindFeature)
	s[0] = "mutated"
	if FeatureStatuses[0] == "mutated" {
		t.Error("EnumStatuses must return a copy")
	}
	if DefaultRoleFor("blocked") != RoleNone {
		t.Error("blocked must not have a default role")
	}
	if DefaultRoleFor("Completed") != RoleTerminal {
		t.Error("completed should default to terminal")
	}
}
