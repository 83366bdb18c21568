package main

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/taskorch/taskorch/internal/config"
	"github.com/taskorch/taskorch/internal/engine"
	"github.com/taskorch/taskorch/internal/eventbus"
	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/storage/dolt"
	"github.com/taskorch/taskorch/internal/storage/memory"
	"github.com/taskorch/taskorch/internal/telemetry"
	"github.com/taskorch/taskorch/internal/workflow"
)

// StateFileName is the default in-memory backend state file inside .taskorch.
const StateFileName = "state.yaml"

// backend is the store opened for the current command.
type backend struct {
	repos     storage.Repositories
	mem       *memory.Store
	sql       *dolt.Store
	path      string
	dirty     bool
	closeOnce sync.Once
}

// current is the backend opened by the running command.
var current *backend

// resolveStatePath returns --state, then state.path, then
// .taskorch/state.yaml next to the project config file.
func resolveStatePath() string {
	if statePath != "" {
		return statePath
	}
	used := config.ConfigFileUsed()
	if used != "" && filepath.Base(filepath.Dir(used)) == config.DirName {
		return filepath.Join(filepath.Dir(used), StateFileName)
	}
	return ""
}

// openBackend opens the SQL backend when a DSN is configured, otherwise the
// in-memory backend loaded from the state file.
func openBackend(ctx context.Context) *backend {
	if current != nil {
		return current
	}

	b := &backend{}
	if dsn != "" {
		s, err := dolt.New(ctx, &dolt.Config{DSN: dsn})
		if err != nil {
			FatalErrorRespectJSON("open database: %v", err)
		}
		b.sql = s
		b.repos = s.Repositories()
	} else {
		b.path = resolveStatePath()
		if b.path == "" {
			FatalErrorWithHint("no state file configured",
				"Run 'taskorch config init' to create .taskorch/, or pass --state or --dsn")
		}
		s, err := memory.LoadFile(ctx, b.path)
		if err != nil {
			FatalErrorRespectJSON("%v", err)
		}
		b.mem = s
		b.repos = s.Repositories()
	}
	if telemetry.Enabled() {
		b.repos = telemetry.WrapRepositories(b.repos)
	}
	current = b
	return b
}

// markDirty records that the in-memory state must be written back on exit.
func (b *backend) markDirty() {
	b.dirty = true
}

func (b *backend) close() {
	b.closeOnce.Do(func() {
		if b.mem != nil && b.dirty {
			if err := b.mem.SaveFile(b.path); err != nil {
				WarnError("failed to save state: %v", err)
			}
		}
		if b.sql != nil {
			_ = b.sql.Close()
		}
	})
}

// closeBackend flushes and closes the backend opened by this command, if any.
func closeBackend() {
	if current != nil {
		current.close()
	}
}

// loadWorkflowConfig returns the configured workflow or nil for enum mode.
func loadWorkflowConfig() *workflow.Config {
	cfg, err := config.ResolveWorkflow()
	if err != nil {
		FatalErrorRespectJSON("%v", err)
	}
	return cfg
}

// newEngine wires an engine over b with the configured workflow, limits and
// event handlers.
func newEngine(b *backend) *engine.Engine {
	bus := eventbus.New(eventbus.WithLogger(logger))
	for _, h := range eventbus.DefaultHandlers(logger) {
		bus.Register(h)
	}
	timeout := config.GetDuration("lock.timeout")
	return engine.New(b.repos, engine.Options{
		Workflow:    loadWorkflowConfig(),
		MaxDepth:    config.GetInt("cascade.max-depth"),
		Concurrency: config.GetInt("engine.concurrency"),
		LockTimeout: &timeout,
		Bus:         bus,
		Metrics:     telemetry.NewCascadeMetrics(),
		Logger:      logger,
	})
}
