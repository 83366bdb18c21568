// Package storage provides the repository contracts the workflow engine
// reads and writes through.
//
// Concrete implementations live in the memory and dolt sub-packages. This
// package holds the interfaces and error types referenced by both the
// implementations and their consumers (cascade, engine, cmd/taskorch).
package storage

import (
	"context"
	"fmt"

	"github.com/taskorch/taskorch/internal/types"
)

// ItemRepository stores items of a single kind.
type ItemRepository interface {
	Create(ctx context.Context, item *types.Item) error
	GetByID(ctx context.Context, id string) (*types.Item, error)
	// Update persists item if its Version matches the stored one and returns
	// the stored copy with Version bumped. A stale Version yields ErrConflict.
	Update(ctx context.Context, item *types.Item) (*types.Item, error)
	FindByParent(ctx context.Context, parentID string) ([]*types.Item, error)
	// CountChildrenByStatus counts the children of parentID grouped by status.
	CountChildrenByStatus(ctx context.Context, parentID string) (map[string]int, error)
}

// DependencyRepository stores task-to-task dependency edges.
type DependencyRepository interface {
	// AddDependency stores dep. BLOCKS edges that would close a cycle are
	// rejected with ErrValidation.
	AddDependency(ctx context.Context, dep *types.Dependency) error
	RemoveDependency(ctx context.Context, fromID, toID string) error
	// GetBlocking returns the edges leaving taskID.
	GetBlocking(ctx context.Context, taskID string) ([]*types.Dependency, error)
	// GetBlockedBy returns the edges entering taskID.
	GetBlockedBy(ctx context.Context, taskID string) ([]*types.Dependency, error)
}

// Repositories bundles one repository per entity kind plus dependencies.
type Repositories struct {
	Projects     ItemRepository
	Features     ItemRepository
	Tasks        ItemRepository
	Dependencies DependencyRepository
}

// For returns the repository holding items of kind.
func (r Repositories) For(kind types.EntityKind) (ItemRepository, error) {
	var repo ItemRepository
	switch kind {
	case types.KindProject:
		repo = r.Projects
	case types.KindFeature:
		repo = r.Features
	case types.KindTask:
		repo = r.Tasks
	default:
		return nil, NewError(KindValidation, "repository", "", fmt.Errorf("unknown entity kind %q", kind))
	}
	if repo == nil {
		return nil, NewError(KindDatabase, "repository", "", fmt.Errorf("no repository configured for %s", kind))
	}
	return repo, nil
}

// Get loads the item id of kind.
func (r Repositories) Get(ctx context.Context, kind types.EntityKind, id string) (*types.Item, error) {
	repo, err := r.For(kind)
	if err != nil {
		return nil, err
	}
	return repo.GetByID(ctx, id)
}
