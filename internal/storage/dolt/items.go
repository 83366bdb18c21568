package dolt

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/types"
)

const itemColumns = "id, kind, parent_id, title, status, tags, requires_verification, version, created_at, updated_at"

type itemRepo struct {
	s    *Store
	kind types.EntityKind
}

var _ storage.ItemRepository = (*itemRepo)(nil)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*types.Item, error) {
	var (
		item     types.Item
		kind     string
		tagsJSON sql.NullString
	)
	if err := row.Scan(&item.ID, &kind, &item.ParentID, &item.Title, &item.Status, &tagsJSON,
		&item.RequiresVerification, &item.Version, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.Kind = types.EntityKind(kind)
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &item.Tags); err != nil {
			return nil, fmt.Errorf("decode tags of %s: %w", item.ID, err)
		}
	}
	return &item, nil
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// checkParent requires the parent of item to exist with the right kind.
func checkParent(ctx context.Context, tx *sql.Tx, item *types.Item) error {
	if item.Kind == types.KindProject {
		return nil
	}
	var n int
	err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE id = ? AND kind = ?",
		item.ParentID, string(item.Kind.ParentKind())).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.NewError(storage.KindValidation, "check parent", item.ID,
			fmt.Errorf("parent %s %s does not exist", item.Kind.ParentKind(), item.ParentID))
	}
	return nil
}

func (r *itemRepo) Create(ctx context.Context, item *types.Item) error {
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
	tags, err := encodeTags(item.Tags)
	if err != nil {
		return storage.NewError(storage.KindValidation, "create", item.ID, err)
	}

	now := r.s.timestamp()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	} else {
		item.CreatedAt = item.CreatedAt.UTC().Truncate(time.Microsecond)
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	if item.Version == 0 {
		item.Version = 1
	}

	err = r.s.runInTx(ctx, func(tx *sql.Tx) error {
		if err := checkParent(ctx, tx, item); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO items (`+itemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, item.ID, string(item.Kind), item.ParentID, item.Title, item.Status, tags,
			item.RequiresVerification, item.Version, item.CreatedAt, item.UpdatedAt)
		return err
	})
	return wrapErr("create", item.ID, err)
}

func (r *itemRepo) GetByID(ctx context.Context, id string) (*types.Item, error) {
	var item *types.Item
	err := r.s.queryRowContext(ctx, func(row *sql.Row) error {
		var scanErr error
		item, scanErr = scanItem(row)
		return scanErr
	}, "SELECT "+itemColumns+" FROM items WHERE id = ? AND kind = ?", id, string(r.kind))
	if err != nil {
		return nil, wrapErr("get "+string(r.kind), id, err)
	}
	return item, nil
}

// Update reads the current row to report not-found and stale versions, then
// writes with UPDATE ... WHERE version = ? so a concurrent writer that slips
// in between still loses.
func (r *itemRepo) Update(ctx context.Context, item *types.Item) (*types.Item, error) {
	next := item.Clone()
	next.SetDefaults()
	if next.Kind == "" {
		next.Kind = r.kind
	}
	if err := next.Validate(); err != nil {
		return nil, storage.NewError(storage.KindValidation, "update", item.ID, err)
	}
	if next.Kind != r.kind {
		return nil, storage.NewError(storage.KindValidation, "update", item.ID, fmt.Errorf("kind cannot change"))
	}
	tags, err := encodeTags(next.Tags)
	if err != nil {
		return nil, storage.NewError(storage.KindValidation, "update", item.ID, err)
	}

	var stored *types.Item
	err = r.s.runInTx(ctx, func(tx *sql.Tx) error {
		cur, err := scanItem(tx.QueryRowContext(ctx,
			"SELECT "+itemColumns+" FROM items WHERE id = ? AND kind = ?", next.ID, string(r.kind)))
		if err != nil {
			return err
		}
		if cur.Version != next.Version {
			return storage.NewError(storage.KindConflict, "update", next.ID,
				fmt.Errorf("version %d is stale (current %d)", next.Version, cur.Version))
		}
		if cur.ParentID != next.ParentID {
			if err := checkParent(ctx, tx, next); err != nil {
				return err
			}
		}

		now := r.s.timestamp()
		res, err := tx.ExecContext(ctx, `
			UPDATE items
			SET parent_id = ?, title = ?, status = ?, tags = ?, requires_verification = ?,
			    version = version + 1, updated_at = ?
			WHERE id = ? AND kind = ? AND version = ?
		`, next.ParentID, next.Title, next.Status, tags, next.RequiresVerification,
			now, next.ID, string(r.kind), next.Version)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.NewError(storage.KindConflict, "update", next.ID,
				fmt.Errorf("version %d is stale", next.Version))
		}

		next.CreatedAt = cur.CreatedAt
		next.UpdatedAt = now
		next.Version = cur.Version + 1
		stored = next
		return nil
	})
	if err != nil {
		return nil, wrapErr("update "+string(r.kind), item.ID, err)
	}
	return stored.Clone(), nil
}

func (r *itemRepo) FindByParent(ctx context.Context, parentID string) ([]*types.Item, error) {
	rows, err := r.s.queryContext(ctx,
		"SELECT "+itemColumns+" FROM items WHERE kind = ? AND parent_id = ? ORDER BY created_at, id",
		string(r.kind), parentID)
	if err != nil {
		return nil, wrapErr("find by parent", parentID, err)
	}
	defer rows.Close()

	var out []*types.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, wrapErr("find by parent", parentID, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("find by parent", parentID, err)
	}
	return out, nil
}

func (r *itemRepo) CountChildrenByStatus(ctx context.Context, parentID string) (map[string]int, error) {
	rows, err := r.s.queryContext(ctx,
		"SELECT status, COUNT(*) FROM items WHERE kind = ? AND parent_id = ? GROUP BY status",
		string(r.kind), parentID)
	if err != nil {
		return nil, wrapErr("count children", parentID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, wrapErr("count children", parentID, err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("count children", parentID, err)
	}
	return counts, nil
}
