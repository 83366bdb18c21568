package dolt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers the store reacts to.
const (
	errDupEntry        = 1062
	errDBCreateExists  = 1007
	errLockWaitTimeout = 1205
	errLockDeadlock    = 1213
)

// isRetryableError returns true if the error is a transient connection error.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		// the server may come back within the backoff window
		"connection refused",
		// Dolt under load: "cannot update manifest: database is read only"
		"database is read only",
		// 2013: mid-query disconnect
		"lost connection",
		// 2006: idle connection timeout
		"gone away",
		"i/o timeout",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// isSerializationError reports a transaction that lost a conflict and can be
// rerun from the start.
func isSerializationError(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == errLockDeadlock || me.Number == errLockWaitTimeout
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "serialization failure") || strings.Contains(errStr, "deadlock")
}

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDupEntry
}

func isDatabaseExists(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == errDBCreateExists {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "database exists")
}

// withRetry executes op, retrying transient errors with backoff.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	return s.retry(ctx, isRetryableError, op)
}

func (s *Store) retry(ctx context.Context, retryable func(error) bool, op func() error) error {
	bo := s.newBackoff()
	return backoff.Retry(func() error {
		err := op()
		if err != nil && retryable(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// execContext wraps s.db.ExecContext with retry for transient errors.
func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := s.withRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// queryContext wraps s.db.QueryContext with retry for transient errors.
func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := s.withRetry(ctx, func() error {
		var queryErr error
		rows, queryErr = s.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

// queryRowContext wraps s.db.QueryRowContext with retry for transient errors.
// The scan function receives the *sql.Row and should call .Scan() on it.
func (s *Store) queryRowContext(ctx context.Context, scan func(*sql.Row) error, query string, args ...any) error {
	return s.withRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, query, args...)
		return scan(row)
	})
}

// runInTx runs fn in a transaction, rerunning it when the commit loses a
// serialization conflict or the connection drops.
func (s *Store) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.retry(ctx, func(err error) bool {
		return isRetryableError(err) || isSerializationError(err)
	}, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
