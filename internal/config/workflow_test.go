package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskorch/taskorch/internal/types"
	"github.com/taskorch/taskorch/internal/workflow"
)

const taskWorkflowYAML = `
status_progression:
  tasks:
    allowed_statuses: [pending, in-progress, completed]
    default_flow: [pending, in-progress, completed]
    terminal_statuses: [completed]
cascade:
  max_depth: %d
`

const taskWorkflowTOML = `
[status_progression.tasks]
allowed_statuses = ["pending", "in-progress", "review", "completed"]
default_flow = ["pending", "in-progress", "review", "completed"]
terminal_statuses = ["completed"]
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func yamlWithDepth(depth int) string {
	return fmt.Sprintf(taskWorkflowYAML, depth)
}

func TestLoadWorkflow(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "workflow.yaml")
		writeFile(t, path, yamlWithDepth(7))

		cfg, err := LoadWorkflow(path)
		require.NoError(t, err)
		assert.True(t, cfg.HasKind(types.KindTask))
		assert.Equal(t, 7, cfg.MaxDepth())
	})

	t.Run("toml by extension", func(t *testing.T) {
		path := filepath.Join(dir, "workflow.TOML")
		writeFile(t, path, taskWorkflowTOML)

		cfg, err := LoadWorkflow(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"pending", "in-progress", "review", "completed"}, cfg.SelectFlow(types.KindTask, nil).Sequence)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadWorkflow(filepath.Join(dir, "nope.yaml"))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("invalid document names the file", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		writeFile(t, path, "status_progression: {}\n")

		_, err := LoadWorkflow(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), path)
	})
}

func TestResolveWorkflow(t *testing.T) {
	t.Run("no workflow means enum mode", func(t *testing.T) {
		t.Chdir(t.TempDir())
		require.NoError(t, Initialize())

		assert.Equal(t, "", WorkflowPath())
		cfg, err := ResolveWorkflow()
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("discovered in project dir", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, DirName, "workflow.toml"), taskWorkflowTOML)
		nested := filepath.Join(root, "src")
		require.NoError(t, os.MkdirAll(nested, 0750))
		t.Chdir(nested)
		require.NoError(t, Initialize())

		cfg, err := ResolveWorkflow()
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.True(t, cfg.IsAllowed(types.KindTask, "review"))
	})

	t.Run("workflow.path wins", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, DirName, "workflow.toml"), taskWorkflowTOML)
		explicit := filepath.Join(root, "custom.yaml")
		writeFile(t, explicit, yamlWithDepth(2))
		t.Chdir(root)
		t.Setenv("TASKORCH_WORKFLOW_PATH", explicit)
		require.NoError(t, Initialize())

		assert.Equal(t, explicit, WorkflowPath())
		cfg, err := ResolveWorkflow()
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.MaxDepth())
	})
}

func TestWatchWorkflow(t *testing.T) {
	old := watchDebounce
	watchDebounce = 10 * time.Millisecond
	t.Cleanup(func() { watchDebounce = old })

	path := filepath.Join(t.TempDir(), "workflow.yaml")
	writeFile(t, path, yamlWithDepth(1))

	type update struct {
		cfg *workflow.Config
		err error
	}
	updates := make(chan update, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- WatchWorkflow(ctx, path, func(cfg *workflow.Config, err error) {
			select {
			case updates <- update{cfg, err}:
			default:
			}
		})
	}()

	// The watcher may not be registered yet; keep rewriting until it reports.
	var got update
	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte(yamlWithDepth(5)), 0600); err != nil {
			return false
		}
		select {
		case got = <-updates:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, got.err)
	require.NotNil(t, got.cfg)
	assert.Equal(t, 5, got.cfg.MaxDepth())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("WatchWorkflow did not return after cancel")
	}
}

func TestWatchWorkflowMissingDir(t *testing.T) {
	err := WatchWorkflow(context.Background(), filepath.Join(t.TempDir(), "gone", "workflow.yaml"), func(*workflow.Config, error) {})
	require.Error(t, err)
}
