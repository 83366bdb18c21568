package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskorch/taskorch/internal/config"
	"github.com/taskorch/taskorch/internal/debug"
	"github.com/taskorch/taskorch/internal/telemetry"
	"github.com/taskorch/taskorch/internal/ui"
)

var (
	// Version is set at build time with -ldflags.
	Version = "0.1.0"
	Build   = "dev"
)

// Command group ids for help output.
const (
	GroupWork    = "work"
	GroupViews   = "views"
	GroupSetup   = "setup"
	GroupInspect = "inspect"
)

var (
	jsonOutput   bool
	statePath    string
	dsn          string
	workflowPath string
	noColor      bool
	verboseFlag  bool
	quietFlag    bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	logger     = slog.New(slog.DiscardHandler)
)

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupWork, Title: "Working With Items:"},
		&cobra.Group{ID: GroupViews, Title: "Views & Reports:"},
		&cobra.Group{ID: GroupInspect, Title: "Workflow Inspection:"},
		&cobra.Group{ID: GroupSetup, Title: "Setup & Configuration:"},
	)

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "YAML state file for the in-memory backend (config: state.path)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Dolt/MySQL DSN; selects the SQL backend (config: db.dsn)")
	rootCmd.PersistentFlags().StringVar(&workflowPath, "workflow", "", "Workflow file (default: auto-discover .taskorch/workflow.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

var rootCmd = &cobra.Command{
	Use:   "taskorch",
	Short: "taskorch - workflow orchestration for projects, features and tasks",
	Long: `taskorch validates status changes against a configurable workflow, recommends
the next status, cascades completion up the Project → Feature → Task hierarchy,
and reports tasks unblocked by their dependencies.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("taskorch version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupSignalContext()
		applyViperOverrides(cmd)
		applyVerbosityFlags()
		ui.ApplyColorMode(noColor)
		setupLogger()

		if err := telemetry.Init(rootCtx, "taskorch", Version); err != nil {
			debug.Logf("telemetry init failed: %v\n", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeBackend()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(ctx)

		if rootCancel != nil {
			rootCancel()
		}
	},
}

func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// applyViperOverrides lets config file and TASKORCH_* env values fill flags
// the user did not pass explicitly.
func applyViperOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if !flags.Changed("json") {
		jsonOutput = config.GetBool("json")
	}
	if !flags.Changed("state") {
		statePath = config.GetString("state.path")
	}
	if !flags.Changed("dsn") {
		dsn = config.GetString("db.dsn")
	}
	if flags.Changed("workflow") {
		config.Set("workflow.path", workflowPath)
	}
	workflowPath = config.WorkflowPath()
}

func applyVerbosityFlags() {
	debug.SetVerbose(verboseFlag)
	debug.SetQuiet(quietFlag)
}

func setupLogger() {
	level, err := debug.ParseLevel(config.GetString("log.level"))
	if err != nil {
		WarnError("%v, using info", err)
	}
	if quietFlag && !verboseFlag {
		level = slog.LevelError
	}
	logger = debug.NewLogger(os.Stderr, level, config.GetBool("log.json"))
	slog.SetDefault(logger)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
