package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taskorch/taskorch/internal/workflow"
)

// workflowFileNames are probed in order inside DirName when workflow.path is unset.
var workflowFileNames = []string{"workflow.yaml", "workflow.yml", "workflow.toml"}

// watchDebounce coalesces the burst of events an editor save produces.
var watchDebounce = 250 * time.Millisecond

// LoadWorkflow reads and compiles the workflow file at path. Files ending in
// .toml are decoded as TOML, everything else as YAML.
func LoadWorkflow(path string) (*workflow.Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from config or flags
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	var cfg *workflow.Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		cfg, err = workflow.ParseTOML(data)
	} else {
		cfg, err = workflow.ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}
	return cfg, nil
}

// WorkflowPath returns the workflow file in effect: workflow.path when set,
// otherwise the first workflow file found in a .taskorch directory walking up
// from CWD. It returns "" when there is none.
func WorkflowPath() string {
	if p := GetString("workflow.path"); p != "" {
		return p
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		for _, name := range workflowFileNames {
			p := filepath.Join(dir, DirName, name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
		if dir == filepath.Dir(dir) {
			return ""
		}
	}
}

// ResolveWorkflow loads the workflow in effect. It returns (nil, nil) when no
// workflow file exists, which puts validation in enum mode.
func ResolveWorkflow() (*workflow.Config, error) {
	path := WorkflowPath()
	if path == "" {
		return nil, nil
	}
	return LoadWorkflow(path)
}

// WatchWorkflow calls fn with a freshly parsed config each time the file at
// path is written or recreated, until ctx is done. Parse failures are passed
// to fn as well so the caller keeps its previous config.
//
// The parent directory is watched rather than the file, since editors often
// save by renaming a temp file over the original.
func WatchWorkflow(ctx context.Context, path string, fn func(*workflow.Config, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()
	reload := func() {
		if ctx.Err() != nil {
			return
		}
		fn(LoadWorkflow(abs))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fn(nil, fmt.Errorf("watch %s: %w", abs, err))
		}
	}
}
