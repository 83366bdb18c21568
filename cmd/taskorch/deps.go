package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskorch/taskorch/internal/types"
	"github.com/taskorch/taskorch/internal/ui"
)

var depCmd = &cobra.Command{
	Use:     "dep",
	Short:   "Manage task dependencies",
	GroupID: GroupWork,
}

var depAddCmd = &cobra.Command{
	Use:   "add <blocker-task> <blocked-task>",
	Short: "Add a dependency edge",
	Long: `Add a dependency edge from the blocker task to the blocked task.

BLOCKS edges hold the blocked task in its queue until the blocker's status
role reaches --unblock-at (terminal by default). Edges that would close a
BLOCKS cycle are rejected. RELATES_TO edges are informational.

Examples:
  taskorch dep add t-1 t-2
  taskorch dep add t-1 t-3 --unblock-at review
  taskorch dep add t-4 t-5 --type relates-to`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		typeStr, _ := cmd.Flags().GetString("type")
		atStr, _ := cmd.Flags().GetString("unblock-at")
		depType, err := types.ParseDependencyType(typeStr)
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		at, err := types.ParseRole(atStr)
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}

		b := openBackend(rootCtx)
		dep := &types.Dependency{FromTaskID: args[0], ToTaskID: args[1], Type: depType, UnblockAt: at}
		if err := b.repos.Dependencies.AddDependency(rootCtx, dep); err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		b.markDirty()

		if jsonOutput {
			outputJSON(dep)
			return
		}
		fmt.Printf("%s Added %s %s → %s", ui.RenderPassIcon(), dep.Type, dep.FromTaskID, dep.ToTaskID)
		if dep.Type == types.DepBlocks {
			fmt.Printf(" (unblocks at %s)", dep.Threshold())
		}
		fmt.Println()
	},
}

var depRemoveCmd = &cobra.Command{
	Use:     "remove <blocker-task> <blocked-task>",
	Aliases: []string{"rm"},
	Short:   "Remove a dependency edge",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		b := openBackend(rootCtx)
		if err := b.repos.Dependencies.RemoveDependency(rootCtx, args[0], args[1]); err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		b.markDirty()

		if jsonOutput {
			outputJSON(map[string]string{"removed_from": args[0], "removed_to": args[1]})
			return
		}
		fmt.Printf("%s Removed %s → %s\n", ui.RenderPassIcon(), args[0], args[1])
	},
}

var depListCmd = &cobra.Command{
	Use:   "list <task>",
	Short: "List a task's incoming and outgoing edges",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		b := openBackend(rootCtx)
		in, err := b.repos.Dependencies.GetBlockedBy(rootCtx, args[0])
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		out, err := b.repos.Dependencies.GetBlocking(rootCtx, args[0])
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}

		if jsonOutput {
			outputJSON(map[string][]*types.Dependency{"blocked_by": in, "blocking": out})
			return
		}
		fmt.Println(ui.RenderCategory("blocked by"))
		printEdges(in, func(d *types.Dependency) string { return d.FromTaskID })
		fmt.Println(ui.RenderCategory("blocking"))
		printEdges(out, func(d *types.Dependency) string { return d.ToTaskID })
	},
}

func printEdges(deps []*types.Dependency, other func(*types.Dependency) string) {
	if len(deps) == 0 {
		fmt.Println("  " + ui.RenderMuted("none"))
		return
	}
	for _, d := range deps {
		fmt.Printf("  %s %s", other(d), ui.RenderMuted(string(d.Type)))
		if d.Type == types.DepBlocks {
			fmt.Printf(" %s", ui.RenderMuted("at "+d.Threshold().String()))
		}
		fmt.Println()
	}
}

func init() {
	depAddCmd.Flags().String("type", string(types.DepBlocks), "Dependency type: BLOCKS or RELATES_TO")
	depAddCmd.Flags().String("unblock-at", "", "Role the blocker must reach: queue, work, review or terminal (default terminal)")

	depCmd.AddCommand(depAddCmd, depRemoveCmd, depListCmd)
	rootCmd.AddCommand(depCmd)
}
