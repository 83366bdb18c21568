package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/taskorch/taskorch/internal/types"
)

// DefaultDocument returns the built-in workflow. Callers may modify the
// returned value; each call builds a fresh one.
func DefaultDocument() *Document {
	return &Document{
		StatusProgression: map[string]*KindDocument{
			"projects": {
				AllowedStatuses:      types.EnumStatuses(types.KindProject),
				DefaultFlow:          []string{"planning", "in-development", "completed", "archived"},
				TerminalStatuses:     []string{"completed", "cancelled", "archived"},
				EmergencyTransitions: []string{"on-hold", "cancelled", "archived"},
				StatusRoles: map[string]string{
					"planning":       "queue",
					"in-development": "work",
					"completed":      "terminal",
					"cancelled":      "terminal",
					"archived":       "terminal",
				},
			},
			"features": {
				AllowedStatuses: types.EnumStatuses(types.KindFeature),
				DefaultFlow:     []string{"draft", "planning", "in-development", "testing", "validating", "pending-review", "completed"},
				Flows: map[string][]string{
					"rapid_prototype_flow": {"draft", "in-development", "completed"},
					"with_review_flow":     {"planning", "in-development", "testing", "validating", "pending-review", "completed"},
				},
				FlowMappings: []FlowMappingDocument{
					{Tags: []string{"prototype"}, Flow: "rapid_prototype_flow"},
					{Tags: []string{"experiment"}, Flow: "rapid_prototype_flow"},
					{Tags: []string{"security"}, Flow: "with_review_flow"},
					{Tags: []string{"compliance"}, Flow: "with_review_flow"},
				},
				TerminalStatuses:     []string{"completed", "archived"},
				EmergencyTransitions: []string{"blocked", "on-hold", "archived"},
				StatusRoles: map[string]string{
					"draft":          "queue",
					"planning":       "queue",
					"in-development": "work",
					"testing":        "review",
					"validating":     "review",
					"pending-review": "review",
					"deployed":       "terminal",
					"completed":      "terminal",
					"archived":       "terminal",
				},
			},
			"tasks": {
				AllowedStatuses: types.EnumStatuses(types.KindTask),
				DefaultFlow:     []string{"backlog", "pending", "in-progress", "testing", "completed"},
				Flows: map[string][]string{
					"bug_fix_flow":       {"pending", "investigating", "in-progress", "testing", "completed"},
					"documentation_flow": {"pending", "in-progress", "in-review", "completed"},
					"hotfix_flow":        {"pending", "in-progress", "completed"},
				},
				FlowMappings: []FlowMappingDocument{
					{Tags: []string{"bug"}, Flow: "bug_fix_flow"},
					{Tags: []string{"documentation"}, Flow: "documentation_flow"},
					{Tags: []string{"hotfix"}, Flow: "hotfix_flow"},
					{Tags: []string{"bug", "urgent"}, Flow: "hotfix_flow"},
				},
				TerminalStatuses:     []string{"completed", "cancelled", "deployed"},
				EmergencyTransitions: []string{"blocked", "on-hold", "cancelled", "deferred"},
				StatusRoles: map[string]string{
					"backlog":           "queue",
					"pending":           "queue",
					"deferred":          "queue",
					"in-progress":       "work",
					"investigating":     "work",
					"changes-requested": "work",
					"in-review":         "review",
					"testing":           "review",
					"ready-for-qa":      "review",
					"completed":         "terminal",
					"cancelled":         "terminal",
					"deployed":          "terminal",
				},
			},
		},
		Cascade: CascadeDocument{MaxDepth: DefaultMaxDepth},
	}
}

// Default returns the compiled built-in workflow.
func Default() *Config {
	cfg, err := FromDocument(DefaultDocument())
	if err != nil {
		panic(fmt.Sprintf("workflow: built-in document is invalid: %v", err))
	}
	return cfg
}

// DefaultDocumentYAML renders the built-in workflow, used by "config init".
func DefaultDocumentYAML() ([]byte, error) {
	doc := DefaultDocument()
	on := true
	doc.StatusValidation = ValidationDocument{
		EnforceSequential:     &on,
		AllowBackward:         &on,
		AllowEmergency:        &on,
		ValidatePrerequisites: &on,
	}
	doc.StartCascade = StartCascadeDocument{Enabled: &on}
	return yaml.Marshal(doc)
}
