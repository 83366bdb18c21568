package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskorch/taskorch/internal/status"
	"github.com/taskorch/taskorch/internal/types"
	"github.com/taskorch/taskorch/internal/ui"
	"github.com/taskorch/taskorch/internal/workflow"
)

var allKinds = []types.EntityKind{types.KindProject, types.KindFeature, types.KindTask}

var flowsCmd = &cobra.Command{
	Use:   "flows [kind]",
	Short: "Show the configured flows",
	Long: `Show each kind's flows, terminal statuses and emergency transitions.

Without a workflow file the built-in flows are shown. --tag resolves which flow
an item with those tags would follow.`,
	GroupID: GroupInspect,
	Args:    cobra.MaximumNArgs(1),
	Run:     runFlows,
}

var validateCmd = &cobra.Command{
	Use:   "validate <kind> <status>",
	Short: "Check a status, or a transition with --from",
	Long: `Check whether a status is allowed for a kind. With --from, check the
transition from that status instead. Prerequisites are only checked for real
items; use set-status for that.

Examples:
  taskorch validate task in-review
  taskorch validate task completed --from pending --tag backend`,
	GroupID: GroupInspect,
	Args:    cobra.ExactArgs(2),
	Run:     runValidate,
}

var nextCmd = &cobra.Command{
	Use:     "next <kind> <id>",
	Short:   "Recommend the next status for an item",
	GroupID: GroupWork,
	Args:    cobra.ExactArgs(2),
	Run:     runNext,
}

type kindFlows struct {
	Kind                 types.EntityKind `json:"kind"`
	AllowedStatuses      []string         `json:"allowed_statuses"`
	Flows                []workflow.Flow  `json:"flows,omitempty"`
	Selected             *status.FlowPath `json:"selected,omitempty"`
	TerminalStatuses     []string         `json:"terminal_statuses,omitempty"`
	EmergencyTransitions []string         `json:"emergency_transitions,omitempty"`
}

func init() {
	flowsCmd.Flags().StringSlice("tag", nil, "Show the flow selected for these tags")
	validateCmd.Flags().String("from", "", "Current status; checks the transition instead of the status")
	validateCmd.Flags().StringSlice("tag", nil, "Item tags (select the flow)")

	rootCmd.AddCommand(flowsCmd, validateCmd, nextCmd)
}

func runFlows(cmd *cobra.Command, args []string) {
	kinds := allKinds
	if len(args) == 1 {
		kind, err := types.ParseEntityKind(args[0])
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		kinds = []types.EntityKind{kind}
	}
	tags, _ := cmd.Flags().GetStringSlice("tag")
	tags = types.NormalizeTags(tags)

	loaded := loadWorkflowConfig()
	validator := status.NewValidator(loaded)
	// Enum mode still has the built-in flows to show.
	cfg := loaded
	if cfg == nil {
		cfg = workflow.Default()
	}
	prog := status.NewProgressionService(cfg)

	var out []kindFlows
	for _, kind := range kinds {
		kf := kindFlows{
			Kind:                 kind,
			AllowedStatuses:      validator.AllowedStatuses(kind),
			TerminalStatuses:     cfg.TerminalStatuses(kind),
			EmergencyTransitions: cfg.EmergencyTransitions(kind),
		}
		for _, name := range cfg.FlowNames(kind) {
			if f, ok := cfg.Flow(kind, name); ok {
				kf.Flows = append(kf.Flows, f)
			}
		}
		if len(tags) > 0 {
			p := prog.FlowPath(kind, tags, "")
			kf.Selected = &p
		}
		out = append(out, kf)
	}

	if jsonOutput {
		outputJSON(out)
		return
	}
	if loaded == nil {
		fmt.Println(ui.RenderMuted("No workflow file; showing built-in flows (statuses validated against built-in enums)."))
	}
	for _, kf := range out {
		fmt.Println(ui.RenderCategory(string(kf.Kind)))
		for _, f := range kf.Flows {
			marker := "  "
			if kf.Selected != nil && kf.Selected.ActiveFlow == f.Name {
				marker = ui.RenderPassIcon() + " "
			}
			fmt.Printf("%s%-16s %s\n", marker, f.Name, ui.RenderFlow(f.Sequence, -1))
		}
		fmt.Printf("  %-16s %s\n", "terminal", strings.Join(kf.TerminalStatuses, ", "))
		if len(kf.EmergencyTransitions) > 0 {
			fmt.Printf("  %-16s %s\n", "emergency", strings.Join(kf.EmergencyTransitions, ", "))
		}
	}
}

func runValidate(cmd *cobra.Command, args []string) {
	kind, err := types.ParseEntityKind(args[0])
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	from, _ := cmd.Flags().GetString("from")
	tags, _ := cmd.Flags().GetStringSlice("tag")

	validator := status.NewValidator(loadWorkflowConfig())
	var res status.Result
	if from == "" {
		res = validator.ValidateStatus(args[1], kind)
	} else {
		res = validator.ValidateTransition(rootCtx, from, args[1], kind, status.TransitionContext{Tags: types.NormalizeTags(tags)})
	}

	if jsonOutput {
		outputJSON(map[string]any{"mode": validator.Mode().String(), "result": res})
		if !res.Valid {
			os.Exit(1)
		}
		return
	}
	if res.Valid {
		fmt.Printf("%s valid (%s mode)\n", ui.RenderPassIcon(), validator.Mode())
		return
	}
	msg := res.Reason
	if len(res.Suggestions) > 0 {
		msg += "\n  suggestions: " + strings.Join(res.Suggestions, ", ")
	}
	FatalError("%s", msg)
}

func runNext(cmd *cobra.Command, args []string) {
	kind, err := types.ParseEntityKind(args[0])
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	b := openBackend(rootCtx)
	eng := newEngine(b)

	rec, err := eng.Next(rootCtx, kind, args[1])
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	if jsonOutput {
		outputJSON(rec)
		return
	}

	fmt.Printf("%s: %s\n", args[1], ui.RenderFlow(rec.FlowSequence, rec.CurrentPosition))
	switch rec.Outcome {
	case status.OutcomeReady:
		fmt.Printf("%s next: %s\n", ui.RenderPassIcon(), ui.RenderAccent(rec.RecommendedStatus))
	case status.OutcomeBlocked:
		fmt.Printf("%s blocked: %s\n", ui.RenderFailIcon(), rec.Reason)
		for _, bl := range rec.Blockers {
			fmt.Printf("  %s%s\n", ui.TreeLast, bl)
		}
	case status.OutcomeTerminal:
		fmt.Printf("%s %s\n", ui.RenderSkipIcon(), rec.Reason)
	}
}
