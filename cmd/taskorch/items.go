package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskorch/taskorch/internal/engine"
	"github.com/taskorch/taskorch/internal/status"
	"github.com/taskorch/taskorch/internal/types"
	"github.com/taskorch/taskorch/internal/ui"
)

var createCmd = &cobra.Command{
	Use:   "create <kind> <title>",
	Short: "Create a project, feature or task",
	Long: `Create a project, feature or task. The status defaults to the first status of
the flow selected by the item's tags.

Examples:
  taskorch create project "Platform"
  taskorch create feature "Login" --parent p-1a2b3c4d
  taskorch create task "Add OAuth callback" --parent f-9f8e7d6c --tag backend`,
	GroupID: GroupWork,
	Args:    cobra.ExactArgs(2),
	Run:     runCreate,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "Show the project → feature → task tree",
	GroupID: GroupViews,
	Args:    cobra.NoArgs,
	Run:     runList,
}

var showCmd = &cobra.Command{
	Use:     "show <kind> <id>",
	Short:   "Show one item with its flow position",
	GroupID: GroupViews,
	Args:    cobra.ExactArgs(2),
	Run:     runShow,
}

func init() {
	createCmd.Flags().String("id", "", "Item id (default: generated)")
	createCmd.Flags().String("parent", "", "Parent id (feature for a task, project for a feature)")
	createCmd.Flags().String("status", "", "Initial status (default: first status of the flow)")
	createCmd.Flags().StringSlice("tag", nil, "Tag (repeatable); tags select the flow")
	createCmd.Flags().Bool("requires-verification", false, "Hold the item before its terminal status until verified")

	rootCmd.AddCommand(createCmd, listCmd, showCmd)
}

// newID returns a short random id prefixed with the kind's initial.
func newID(kind types.EntityKind) string {
	return fmt.Sprintf("%c-%s", kind[0], strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func runCreate(cmd *cobra.Command, args []string) {
	kind, err := types.ParseEntityKind(args[0])
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	id, _ := cmd.Flags().GetString("id")
	parent, _ := cmd.Flags().GetString("parent")
	st, _ := cmd.Flags().GetString("status")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	verify, _ := cmd.Flags().GetBool("requires-verification")
	if id == "" {
		id = newID(kind)
	}

	b := openBackend(rootCtx)
	eng := newEngine(b)

	if st == "" {
		path := eng.Progression().FlowPath(kind, types.NormalizeTags(tags), "")
		if len(path.FlowSequence) == 0 {
			FatalErrorRespectJSON("no flow configured for %s; pass --status", kind)
		}
		st = path.FlowSequence[0]
	}
	if res := eng.Validator().ValidateStatus(st, kind); !res.Valid {
		FatalErrorRespectJSON("%v", res.Err())
	}

	repo, err := b.repos.For(kind)
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	item := &types.Item{
		ID:                   id,
		Kind:                 kind,
		ParentID:             parent,
		Title:                args[1],
		Status:               st,
		Tags:                 tags,
		RequiresVerification: verify,
	}
	if err := repo.Create(rootCtx, item); err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	b.markDirty()

	if jsonOutput {
		outputJSON(item)
		return
	}
	fmt.Printf("%s Created %s %s: %s [%s]\n", ui.RenderPassIcon(), kind, ui.RenderAccent(item.ID), item.Title,
		ui.RenderStatus(item.Status, eng.Progression().RoleForStatus(item.Status, kind, item.Tags)))
}

type treeNode struct {
	*types.Item
	Children []*treeNode `json:"children,omitempty"`
}

func runList(cmd *cobra.Command, args []string) {
	b := openBackend(rootCtx)
	eng := newEngine(b)

	if b.mem == nil {
		FatalErrorWithHint("list needs the in-memory backend",
			"Use 'taskorch show project <id>' with --dsn")
	}
	snap := b.mem.Snapshot()
	roots := buildTree(snap.Projects, snap.Features, snap.Tasks)

	if jsonOutput {
		outputJSON(roots)
		return
	}
	if len(roots) == 0 {
		fmt.Println("No projects. Create one with 'taskorch create project <title>'.")
		return
	}
	for _, p := range roots {
		printTree(eng, p, "", true, true)
	}
}

func buildTree(projects, features, tasks []*types.Item) []*treeNode {
	byID := make(map[string]*treeNode)
	var roots []*treeNode
	for _, p := range projects {
		n := &treeNode{Item: p}
		byID[p.ID] = n
		roots = append(roots, n)
	}
	for _, group := range [][]*types.Item{features, tasks} {
		for _, it := range group {
			n := &treeNode{Item: it}
			byID[it.ID] = n
			if parent, ok := byID[it.ParentID]; ok {
				parent.Children = append(parent.Children, n)
			}
		}
	}
	return roots
}

func printTree(eng *engine.Engine, n *treeNode, prefix string, last, root bool) {
	role := eng.Progression().RoleForStatus(n.Status, n.Kind, n.Tags)
	line := fmt.Sprintf("%s %s %s", ui.RenderAccent(n.ID), n.Title, ui.RenderStatus("["+n.Status+"]", role))
	childPrefix := prefix
	if root {
		fmt.Println(line)
	} else {
		branch := ui.TreeChild
		if last {
			branch = ui.TreeLast
		}
		fmt.Println(prefix + ui.RenderMuted(branch) + line)
		if last {
			childPrefix += ui.TreeIndent
		} else {
			childPrefix += ui.RenderMuted("│") + "  "
		}
	}
	for i, c := range n.Children {
		printTree(eng, c, childPrefix, i == len(n.Children)-1, false)
	}
}

type showResult struct {
	Item     *types.Item         `json:"item"`
	Role     string              `json:"role"`
	Flow     status.FlowPath     `json:"flow"`
	Blockers []string            `json:"blockers,omitempty"`
	Children map[string]int      `json:"children,omitempty"`
	Blocking []*types.Dependency `json:"blocking,omitempty"`
}

func runShow(cmd *cobra.Command, args []string) {
	kind, err := types.ParseEntityKind(args[0])
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	b := openBackend(rootCtx)
	eng := newEngine(b)

	item, err := b.repos.Get(rootCtx, kind, args[1])
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	path := eng.Progression().FlowPath(kind, item.Tags, item.Status)
	role := eng.Progression().RoleForStatus(item.Status, kind, item.Tags)
	res := showResult{Item: item, Role: role.String(), Flow: path}

	if kind == types.KindTask {
		_, pending, err := eng.Cascade().BlockersSatisfied(rootCtx, item.ID)
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		res.Blockers = pending
		if b.repos.Dependencies != nil {
			res.Blocking, err = b.repos.Dependencies.GetBlocking(rootCtx, item.ID)
			if err != nil {
				FatalErrorRespectJSON("%v", err)
			}
		}
	} else if repo, err := b.repos.For(kind.ChildKind()); err == nil {
		res.Children, err = repo.CountChildrenByStatus(rootCtx, item.ID)
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
	}

	if jsonOutput {
		outputJSON(res)
		return
	}
	fmt.Printf("%s %s\n", ui.RenderAccent(item.ID), item.Title)
	fmt.Printf("  Kind:    %s\n", kind)
	fmt.Printf("  Status:  %s (%s)\n", ui.RenderStatus(item.Status, role), orDash(role.String()))
	if len(item.Tags) > 0 {
		fmt.Printf("  Tags:    %s\n", strings.Join(item.Tags, ", "))
	}
	if item.ParentID != "" {
		fmt.Printf("  Parent:  %s\n", item.ParentID)
	}
	fmt.Printf("  Flow:    %s: %s\n", path.ActiveFlow, ui.RenderFlow(path.FlowSequence, path.CurrentPosition))
	if item.RequiresVerification {
		fmt.Printf("  %s requires verification before completion\n", ui.RenderWarnIcon())
	}
	if len(res.Blockers) > 0 {
		fmt.Printf("  %s blocked by %s\n", ui.RenderFailIcon(), strings.Join(res.Blockers, ", "))
	}
	for _, d := range res.Blocking {
		fmt.Printf("  %s %s %s\n", ui.RenderMuted(string(d.Type)), "→", d.ToTaskID)
	}
	if len(res.Children) > 0 {
		parts := make([]string, 0, len(res.Children))
		for _, st := range slices.Sorted(maps.Keys(res.Children)) {
			parts = append(parts, fmt.Sprintf("%s=%d", st, res.Children[st]))
		}
		fmt.Printf("  Children: %s\n", strings.Join(parts, " "))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
