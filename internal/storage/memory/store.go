// Package memory provides thread-safe in-memory repositories.
//
// The store backs the CLI's state files and every test that needs real
// repository semantics: optimistic versioning, parent checks and BLOCKS
// cycle rejection behave the same as in the dolt store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/types"
)

// Store holds projects, features, tasks and dependency edges.
type Store struct {
	mu    sync.RWMutex
	items map[string]*types.Item
	deps  []*types.Dependency
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		items: make(map[string]*types.Item),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repositories returns kind-scoped views over the store.
func (s *Store) Repositories() storage.Repositories {
	return storage.Repositories{
		Projects:     &itemRepo{s: s, kind: types.KindProject},
		Features:     &itemRepo{s: s, kind: types.KindFeature},
		Tasks:        &itemRepo{s: s, kind: types.KindTask},
		Dependencies: &depRepo{s: s},
	}
}

type itemRepo struct {
	s    *Store
	kind types.EntityKind
}

var _ storage.ItemRepository = (*itemRepo)(nil)

func (r *itemRepo) Create(ctx context.Context, item *types.Item) error {
	if err := ctx.Err(); err != nil {
		return storage.NewError(storage.KindDatabase, "create", item.ID, err)
	}
	if item.Kind == "" {
		item.Kind = r.kind
	}
	if item.Kind != r.kind {
		return storage.NewError(storage.KindValidation, "create", item.ID,
			fmt.Errorf("%s repository cannot store a %s", r.kind, item.Kind))
	}
	item.SetDefaults()
	if err := item.Validate(); err != nil {
		return storage.NewError(storage.KindValidation, "create", item.ID, err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.items[item.ID]; exists {
		return storage.NewError(storage.KindConflict, "create", item.ID, fmt.Errorf("id already exists"))
	}
	if err := r.s.checkParentLocked(item); err != nil {
		return storage.NewError(storage.KindValidation, "create", item.ID, err)
	}

	now := r.s.now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	if item.Version == 0 {
		item.Version = 1
	}
	r.s.items[item.ID] = item.Clone()
	return nil
}

func (r *itemRepo) GetByID(ctx context.Context, id string) (*types.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.NewError(storage.KindDatabase, "get", id, err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	item, ok := r.s.items[id]
	if !ok || item.Kind != r.kind {
		return nil, storage.NotFound("get "+string(r.kind), id)
	}
	return item.Clone(), nil
}

func (r *itemRepo) Update(ctx context.Context, item *types.Item) (*types.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.NewError(storage.KindDatabase, "update", item.ID, err)
	}
	next := item.Clone()
	next.SetDefaults()
	if next.Kind == "" {
		next.Kind = r.kind
	}
	if err := next.Validate(); err != nil {
		return nil, storage.NewError(storage.KindValidation, "update", item.ID, err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.items[item.ID]
	if !ok || cur.Kind != r.kind {
		return nil, storage.NotFound("update "+string(r.kind), item.ID)
	}
	if next.Kind != cur.Kind {
		return nil, storage.NewError(storage.KindValidation, "update", item.ID, fmt.Errorf("kind cannot change"))
	}
	if next.Version != cur.Version {
		return nil, storage.NewError(storage.KindConflict, "update", item.ID,
			fmt.Errorf("version %d is stale (current %d)", next.Version, cur.Version))
	}
	if next.ParentID != cur.ParentID {
		if err := r.s.checkParentLocked(next); err != nil {
			return nil, storage.NewError(storage.KindValidation, "update", item.ID, err)
		}
	}

	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = r.s.now().UTC()
	next.Version = cur.Version + 1
	r.s.items[next.ID] = next
	return next.Clone(), nil
}

func (r *itemRepo) FindByParent(ctx context.Context, parentID string) ([]*types.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.NewError(storage.KindDatabase, "find by parent", parentID, err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*types.Item
	for _, item := range r.s.items {
		if item.Kind == r.kind && item.ParentID == parentID {
			out = append(out, item.Clone())
		}
	}
	sortItems(out)
	return out, nil
}

func (r *itemRepo) CountChildrenByStatus(ctx context.Context, parentID string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.NewError(storage.KindDatabase, "count children", parentID, err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	counts := make(map[string]int)
	for _, item := range r.s.items {
		if item.Kind == r.kind && item.ParentID == parentID {
			counts[item.Status]++
		}
	}
	return counts, nil
}

// checkParentLocked requires the parent of item to exist with the right kind.
// Caller must hold s.mu.
func (s *Store) checkParentLocked(item *types.Item) error {
	if item.Kind == types.KindProject {
		return nil
	}
	parent, ok := s.items[item.ParentID]
	if !ok || parent.Kind != item.Kind.ParentKind() {
		return fmt.Errorf("parent %s %s does not exist", item.Kind.ParentKind(), item.ParentID)
	}
	return nil
}

func sortItems(items []*types.Item) {
	slices.SortFunc(items, func(a, b *types.Item) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
