package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/storage/memory"
	"github.com/taskorch/taskorch/internal/types"
	"github.com/taskorch/taskorch/internal/ui"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Import projects, features, tasks and dependencies from a YAML file",
	Long: `Import items from a YAML file in the state-file layout:

  projects:     [{id, title, status, tags}]
  features:     [{id, parent_id, title, status, tags, requires_verification}]
  tasks:        [{id, parent_id, title, status, tags}]
  dependencies: [{from_task_id, to_task_id, type, unblock_at}]

Items that already exist are skipped. Works with either backend, so it can
also copy a state file into a Dolt database.`,
	GroupID: GroupSetup,
	Args:    cobra.ExactArgs(1),
	Run:     runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

type seedReport struct {
	Created      int      `json:"created"`
	Dependencies int      `json:"dependencies"`
	Skipped      []string `json:"skipped,omitempty"`
}

func runSeed(cmd *cobra.Command, args []string) {
	data, err := os.ReadFile(args[0]) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	var snap memory.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		FatalErrorRespectJSON("parse %s: %v", args[0], err)
	}

	b := openBackend(rootCtx)
	report, err := seed(rootCtx, b.repos, &snap)
	if report.Created > 0 || report.Dependencies > 0 {
		b.markDirty()
	}
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}

	if jsonOutput {
		outputJSON(report)
		return
	}
	fmt.Printf("%s Imported %d items and %d dependencies\n", ui.RenderPassIcon(), report.Created, report.Dependencies)
	for _, s := range report.Skipped {
		fmt.Printf("  %s%s\n", ui.TreeLast, ui.RenderMuted("skipped "+s))
	}
}

// seed creates parents before children so parent checks pass. Duplicates are
// reported as skipped; any other error stops the import.
func seed(ctx context.Context, repos storage.Repositories, snap *memory.Snapshot) (seedReport, error) {
	var report seedReport
	groups := []struct {
		kind  types.EntityKind
		items []*types.Item
	}{
		{types.KindProject, snap.Projects},
		{types.KindFeature, snap.Features},
		{types.KindTask, snap.Tasks},
	}
	for _, g := range groups {
		repo, err := repos.For(g.kind)
		if err != nil {
			return report, err
		}
		for _, it := range g.items {
			it.Kind = g.kind
			err := repo.Create(ctx, it)
			if errors.Is(err, storage.ErrConflict) {
				report.Skipped = append(report.Skipped, fmt.Sprintf("%s %s", g.kind, it.ID))
				continue
			}
			if err != nil {
				return report, err
			}
			report.Created++
		}
	}
	for _, d := range snap.Dependencies {
		if d.Type == "" {
			d.Type = types.DepBlocks
		}
		t, err := types.ParseDependencyType(string(d.Type))
		if err != nil {
			return report, err
		}
		d.Type = t
		err = repos.Dependencies.AddDependency(ctx, d)
		if errors.Is(err, storage.ErrConflict) {
			report.Skipped = append(report.Skipped, fmt.Sprintf("dependency %s → %s", d.FromTaskID, d.ToTaskID))
			continue
		}
		if err != nil {
			return report, err
		}
		report.Dependencies++
	}
	return report, nil
}
