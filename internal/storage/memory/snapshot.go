package memory

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"github.com/taskorch/taskorch/internal/types"
)

// Snapshot is the YAML state file layout.
type Snapshot struct {
	Projects     []*types.Item       `yaml:"projects,omitempty"`
	Features     []*types.Item       `yaml:"features,omitempty"`
	Tasks        []*types.Item       `yaml:"tasks,omitempty"`
	Dependencies []*types.Dependency `yaml:"dependencies,omitempty"`
}

// Snapshot copies the store's contents, items ordered by creation time.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{}
	for _, item := range s.items {
		c := item.Clone()
		switch item.Kind {
		case types.KindProject:
			snap.Projects = append(snap.Projects, c)
		case types.KindFeature:
			snap.Features = append(snap.Features, c)
		case types.KindTask:
			snap.Tasks = append(snap.Tasks, c)
		}
	}
	sortItems(snap.Projects)
	sortItems(snap.Features)
	sortItems(snap.Tasks)
	for _, d := range s.deps {
		c := *d
		snap.Dependencies = append(snap.Dependencies, &c)
	}
	return snap
}

// Restore loads snap into the store through the normal repository checks,
// parents first. Statuses and versions are kept as recorded.
func (s *Store) Restore(ctx context.Context, snap *Snapshot) error {
	repos := s.Repositories()
	sections := []struct {
		kind  types.EntityKind
		items []*types.Item
	}{
		{types.KindProject, snap.Projects},
		{types.KindFeature, snap.Features},
		{types.KindTask, snap.Tasks},
	}
	for _, sec := range sections {
		repo, err := repos.For(sec.kind)
		if err != nil {
			return err
		}
		for _, item := range sec.items {
			c := item.Clone()
			if c.Kind == "" {
				c.Kind = sec.kind
			}
			if err := repo.Create(ctx, c); err != nil {
				return fmt.Errorf("restore %s: %w", sec.kind, err)
			}
		}
	}
	for _, d := range snap.Dependencies {
		c := *d
		if c.Type == "" {
			c.Type = types.DepBlocks
		}
		if err := repos.Dependencies.AddDependency(ctx, &c); err != nil {
			return fmt.Errorf("restore dependency: %w", err)
		}
	}
	return nil
}

// LoadFile reads a YAML state file into a new store. A missing file yields
// an empty store.
func LoadFile(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := New(opts...)
	data, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the operator
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	if err := s.Restore(ctx, &snap); err != nil {
		return nil, fmt.Errorf("load state %s: %w", path, err)
	}
	return s, nil
}

// SaveFile writes the store to path atomically.
func (s *Store) SaveFile(path string) error {
	data, err := yaml.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	return nil
}
