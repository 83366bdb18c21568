package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskorch/taskorch/internal/engine"
	"github.com/taskorch/taskorch/internal/types"
	"github.com/taskorch/taskorch/internal/ui"
)

var setStatusCmd = &cobra.Command{
	Use:   "set-status <kind> <status> <id> [id...]",
	Short: "Change the status of one or more items",
	Long: `Validate and apply a status change, then apply the cascades it triggers and
report tasks it unblocked.

With several ids the changes run concurrently (engine.concurrency at a time).
Changes that touch the same feature or project may be refused with a lock
conflict; rerun them.

Examples:
  taskorch set-status task in-progress t-1
  taskorch set-status task completed t-1 t-2 t-3
  taskorch set-status feature blocked f-1 --no-cascade`,
	GroupID: GroupWork,
	Args:    cobra.MinimumNArgs(3),
	Run:     runSetStatus,
}

var cascadeCmd = &cobra.Command{
	Use:   "cascade <kind> <id>",
	Short: "Show (or apply) the cascades an item's current status implies",
	Long: `Detect the parent status changes implied by an item's current state without
writing anything. With --apply, apply them up the hierarchy.`,
	GroupID: GroupWork,
	Args:    cobra.ExactArgs(2),
	Run:     runCascade,
}

var unblockedCmd = &cobra.Command{
	Use:     "unblocked <task>",
	Short:   "List tasks blocked by a task whose blockers are now all satisfied",
	GroupID: GroupViews,
	Args:    cobra.ExactArgs(1),
	Run:     runUnblocked,
}

func init() {
	setStatusCmd.Flags().Bool("no-cascade", false, "Store the change without applying cascades")
	cascadeCmd.Flags().Bool("apply", false, "Apply the detected cascades")

	rootCmd.AddCommand(setStatusCmd, cascadeCmd, unblockedCmd)
}

func runSetStatus(cmd *cobra.Command, args []string) {
	kind, err := types.ParseEntityKind(args[0])
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	noCascade, _ := cmd.Flags().GetBool("no-cascade")

	b := openBackend(rootCtx)
	eng := newEngine(b)

	ids := args[2:]
	reqs := make([]engine.ChangeRequest, len(ids))
	for i, id := range ids {
		reqs[i] = engine.ChangeRequest{Kind: kind, ID: id, Status: args[1], ToolName: "cli", SkipCascade: noCascade}
	}

	var results []*engine.ChangeResult
	if len(reqs) == 1 {
		res, err := eng.ChangeStatus(rootCtx, reqs[0])
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		results = []*engine.ChangeResult{res}
	} else {
		results, err = eng.ChangeStatuses(rootCtx, reqs)
	}
	for _, r := range results {
		if r.Changed {
			b.markDirty()
		}
	}

	if jsonOutput {
		outputJSON(results)
	} else {
		for _, r := range results {
			printChange(eng, r)
		}
	}
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
}

func printChange(eng *engine.Engine, r *engine.ChangeResult) {
	if r.Error != "" {
		fmt.Printf("%s %s %s: %s\n", ui.RenderFailIcon(), r.Kind, r.ID, r.Error)
		return
	}
	if !r.Changed {
		fmt.Printf("%s %s %s already %s\n", ui.RenderSkipIcon(), r.Kind, r.ID, r.NewStatus)
		return
	}
	role := eng.Progression().RoleForStatus(r.NewStatus, r.Kind, r.Item.Tags)
	fmt.Printf("%s %s %s: %s → %s\n", ui.RenderPassIcon(), r.Kind, ui.RenderAccent(r.ID),
		r.PreviousStatus, ui.RenderStatus(r.NewStatus, role))
	printCascades(r.Cascades)
	for _, u := range r.Unblocked {
		fmt.Printf("  %sunblocked %s %s\n", ui.TreeLast, ui.RenderAccent(u.TaskID), u.Title)
	}
}

func printCascades(results []types.CascadeResult) {
	for _, c := range results {
		ev := c.Event
		if c.Applied {
			fmt.Printf("  %s%s %s: %s → %s %s\n", ui.TreeLast, ev.TargetKind, ev.TargetID,
				c.PreviousStatus, c.NewStatus, ui.RenderMuted("("+ev.Event+")"))
			continue
		}
		if ev.Event == types.EventDetectionFailed {
			fmt.Printf("  %s%s %s %s: %s\n", ui.TreeLast, ui.RenderWarnIcon(), ev.TargetKind, ev.TargetID, c.Error)
			continue
		}
		fmt.Printf("  %s%s %s %s: not moved to %s: %s\n", ui.TreeLast, ui.RenderWarnIcon(), ev.TargetKind, ev.TargetID,
			ev.SuggestedStatus, c.Error)
	}
}

func runCascade(cmd *cobra.Command, args []string) {
	kind, err := types.ParseEntityKind(args[0])
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	apply, _ := cmd.Flags().GetBool("apply")

	b := openBackend(rootCtx)
	eng := newEngine(b)

	if apply {
		results := eng.Cascade().Apply(rootCtx, args[1], kind)
		for _, r := range results {
			if r.Applied {
				b.markDirty()
			}
		}
		if jsonOutput {
			outputJSON(results)
			return
		}
		if len(results) == 0 {
			fmt.Println("No cascades apply.")
			return
		}
		printCascades(results)
		return
	}

	events, err := eng.Cascade().DetectCascadeEvents(rootCtx, args[1], kind)
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	if jsonOutput {
		outputJSON(events)
		return
	}
	if len(events) == 0 {
		fmt.Println("No cascades apply.")
		return
	}
	for _, ev := range events {
		auto := ""
		if !ev.Automatic {
			auto = " " + ui.RenderMuted("(manual)")
		}
		fmt.Printf("%s %s %s: %s → %s%s\n  %s%s\n", ui.RenderInfoIcon(), ev.TargetKind, ev.TargetID,
			ev.CurrentStatus, ui.RenderAccent(ev.SuggestedStatus), auto, ui.TreeLast, ev.Reason)
	}
	fmt.Println(ui.RenderMuted("Run with --apply to apply."))
}

func runUnblocked(cmd *cobra.Command, args []string) {
	b := openBackend(rootCtx)
	eng := newEngine(b)

	unblocked, err := eng.Cascade().FindNewlyUnblockedTasks(rootCtx, args[0])
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	if jsonOutput {
		if unblocked == nil {
			unblocked = []types.UnblockedTask{}
		}
		outputJSON(unblocked)
		return
	}
	if len(unblocked) == 0 {
		fmt.Printf("No tasks are unblocked by %s.\n", args[0])
		return
	}
	for _, u := range unblocked {
		fmt.Printf("%s %s %s\n", ui.RenderPassIcon(), ui.RenderAccent(u.TaskID), u.Title)
	}
}
