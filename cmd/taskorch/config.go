package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskorch/taskorch/internal/config"
	"github.com/taskorch/taskorch/internal/status"
	"github.com/taskorch/taskorch/internal/types"
	"github.com/taskorch/taskorch/internal/ui"
	"github.com/taskorch/taskorch/internal/workflow"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: GroupSetup,
	Short:   "Manage configuration settings",
	Long: `Manage taskorch configuration.

Settings come from .taskorch/config.yaml (found by walking up from the current
directory), then $XDG_CONFIG_HOME/taskorch/config.yaml. TASKORCH_* environment
variables override the file, and flags override both.

Examples:
  taskorch config init
  taskorch config set cascade.max-depth 5
  taskorch config get lock.timeout
  taskorch config check --watch`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .taskorch/ with config.yaml and the built-in workflow",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		wd, err := os.Getwd()
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		doc, err := workflow.DefaultDocumentYAML()
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		written, err := config.WriteProjectFiles(wd, doc)
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		if jsonOutput {
			if written == nil {
				written = []string{}
			}
			outputJSON(map[string]any{"written": written})
			return
		}
		if len(written) == 0 {
			fmt.Println("Already initialized; nothing written.")
			return
		}
		for _, p := range written {
			fmt.Printf("%s wrote %s\n", ui.RenderPassIcon(), p)
		}
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a value in .taskorch/config.yaml",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.SetProjectConfig(args[0], args[1]); err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"key": args[0], "value": args[1]})
			return
		}
		fmt.Printf("Set %s = %s\n", args[0], args[1])
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show the effective value of a setting",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		settings := flatten("", config.AllSettings())
		value, ok := settings[args[0]]
		if !ok {
			FatalErrorRespectJSON("unknown config key %q", args[0])
		}
		if jsonOutput {
			outputJSON(map[string]any{"key": args[0], "value": value})
			return
		}
		fmt.Println(value)
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the effective settings",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		settings := flatten("", config.AllSettings())
		if jsonOutput {
			outputJSON(settings)
			return
		}
		if used := config.ConfigFileUsed(); used != "" {
			fmt.Println(ui.RenderMuted("# " + used))
		}
		for _, k := range config.SortedKeys() {
			fmt.Printf("%-20s %v\n", k, settings[k])
		}
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the workflow file",
	Long: `Parse and validate the workflow file in effect. With --watch, keep running and
re-check every time the file is saved.`,
	Args: cobra.NoArgs,
	Run:  runConfigCheck,
}

func init() {
	configCheckCmd.Flags().Bool("watch", false, "Re-check whenever the workflow file changes")

	configCmd.AddCommand(configInitCmd, configSetCmd, configGetCmd, configListCmd, configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

// flatten turns viper's nested settings into dotted keys.
func flatten(prefix string, m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// summarizeWorkflow reports each kind's flows in one line.
func summarizeWorkflow(cfg *workflow.Config) string {
	prog := status.NewProgressionService(cfg)
	var parts []string
	for _, kind := range allKinds {
		if !cfg.HasKind(kind) {
			continue
		}
		p := prog.FlowPath(kind, nil, "")
		parts = append(parts, fmt.Sprintf("%s: %d flows, default %s", kind, len(cfg.FlowNames(kind)), strings.Join(p.FlowSequence, "→")))
	}
	return strings.Join(parts, "; ")
}

type checkResult struct {
	Path    string `json:"path"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
	Summary string `json:"summary,omitempty"`
}

func report(path string, cfg *workflow.Config, err error) checkResult {
	r := checkResult{Path: path, Valid: err == nil}
	if err != nil {
		r.Error = err.Error()
	} else {
		r.Summary = summarizeWorkflow(cfg)
	}
	if jsonOutput {
		outputJSON(r)
		return r
	}
	if r.Valid {
		fmt.Printf("%s %s is valid\n  %s%s\n", ui.RenderPassIcon(), path, ui.TreeLast, r.Summary)
	} else {
		fmt.Printf("%s %s: %s\n", ui.RenderFailIcon(), path, r.Error)
	}
	return r
}

func runConfigCheck(cmd *cobra.Command, args []string) {
	watch, _ := cmd.Flags().GetBool("watch")
	if workflowPath == "" {
		if jsonOutput {
			outputJSON(checkResult{Valid: true, Summary: "no workflow file; enum mode"})
			return
		}
		fmt.Printf("No workflow file; statuses are validated against the built-in enums (%s).\n",
			strings.Join(types.EnumStatuses(types.KindTask)[:3], ", ")+", ...")
		return
	}

	cfg, err := config.LoadWorkflow(workflowPath)
	r := report(workflowPath, cfg, err)
	if !watch {
		if !r.Valid {
			os.Exit(1)
		}
		return
	}

	if !jsonOutput {
		fmt.Println(ui.RenderMuted("Watching for changes (Ctrl+C to stop)..."))
	}
	err = config.WatchWorkflow(rootCtx, workflowPath, func(cfg *workflow.Config, err error) {
		report(workflowPath, cfg, err)
	})
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
}
