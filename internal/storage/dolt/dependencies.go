package dolt

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/types"
)

const depColumns = "from_task_id, to_task_id, type, unblock_at, created_at"

// maxCycleDepth bounds the recursive reachability query.
const maxCycleDepth = 100

type depRepo struct {
	s *Store
}

var _ storage.DependencyRepository = (*depRepo)(nil)

// AddDependency adds a dependency edge. BLOCKS edges are checked for cycles
// in the same transaction as the insert.
func (r *depRepo) AddDependency(ctx context.Context, dep *types.Dependency) error {
	if err := dep.Validate(); err != nil {
		return storage.NewError(storage.KindValidation, "add dependency", dep.FromTaskID, err)
	}
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = r.s.timestamp()
	}

	err := r.s.runInTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{dep.FromTaskID, dep.ToTaskID} {
			var n int
			if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE id = ? AND kind = ?",
				id, string(types.KindTask)).Scan(&n); err != nil {
				return err
			}
			if n == 0 {
				return storage.NewError(storage.KindValidation, "add dependency", id, fmt.Errorf("task %s does not exist", id))
			}
		}

		// Adding from -> to closes a cycle if from is already reachable from to.
		if dep.Type.AffectsScheduling() {
			var reachable int
			if err := tx.QueryRowContext(ctx, `
				WITH RECURSIVE reachable AS (
					SELECT CAST(? AS CHAR(255)) AS node, 0 AS depth
					UNION ALL
					SELECT d.to_task_id, r.depth + 1
					FROM reachable r
					JOIN dependencies d ON d.from_task_id = r.node
					WHERE d.type = ?
					  AND r.depth < ?
				)
				SELECT COUNT(*) FROM reachable WHERE node = ?
			`, dep.ToTaskID, string(types.DepBlocks), maxCycleDepth, dep.FromTaskID).Scan(&reachable); err != nil {
				return fmt.Errorf("failed to check for dependency cycle: %w", err)
			}
			if reachable > 0 {
				return storage.NewError(storage.KindValidation, "add dependency", dep.FromTaskID,
					fmt.Errorf("adding dependency would create a cycle"))
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO dependencies (`+depColumns+`)
			VALUES (?, ?, ?, ?, ?)
		`, dep.FromTaskID, dep.ToTaskID, string(dep.Type), dep.UnblockAt.String(), dep.CreatedAt)
		if isDuplicateKey(err) {
			return storage.NewError(storage.KindConflict, "add dependency", dep.FromTaskID,
				fmt.Errorf("dependency %s -> %s already exists", dep.FromTaskID, dep.ToTaskID))
		}
		return err
	})
	return wrapErr("add dependency", dep.FromTaskID, err)
}

func (r *depRepo) RemoveDependency(ctx context.Context, fromID, toID string) error {
	res, err := r.s.execContext(ctx,
		"DELETE FROM dependencies WHERE from_task_id = ? AND to_task_id = ?", fromID, toID)
	if err != nil {
		return wrapErr("remove dependency", fromID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.NotFound("remove dependency", fromID+"->"+toID)
	}
	return nil
}

func (r *depRepo) GetBlocking(ctx context.Context, taskID string) ([]*types.Dependency, error) {
	return r.list(ctx, "get blocking", taskID, "from_task_id")
}

func (r *depRepo) GetBlockedBy(ctx context.Context, taskID string) ([]*types.Dependency, error) {
	return r.list(ctx, "get blocked by", taskID, "to_task_id")
}

// list returns the edges whose column equals taskID. column is one of two
// constants, never caller input.
func (r *depRepo) list(ctx context.Context, op, taskID, column string) ([]*types.Dependency, error) {
	//nolint:gosec // G202: column is a constant
	rows, err := r.s.queryContext(ctx, "SELECT "+depColumns+" FROM dependencies WHERE "+column+" = ? ORDER BY from_task_id, to_task_id", taskID)
	if err != nil {
		return nil, wrapErr(op, taskID, err)
	}
	defer rows.Close()

	var out []*types.Dependency
	for rows.Next() {
		var (
			d         types.Dependency
			depType   string
			unblockAt string
		)
		if err := rows.Scan(&d.FromTaskID, &d.ToTaskID, &depType, &unblockAt, &d.CreatedAt); err != nil {
			return nil, wrapErr(op, taskID, err)
		}
		d.Type = types.DependencyType(depType)
		role, err := types.ParseRole(unblockAt)
		if err != nil {
			return nil, wrapErr(op, taskID, fmt.Errorf("dependency %s -> %s: %w", d.FromTaskID, d.ToTaskID, err))
		}
		d.UnblockAt = role
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, taskID, err)
	}
	return out, nil
}
