package dolt

import (
	"database/sql"
	"errors"

	"github.com/taskorch/taskorch/internal/storage"
)

// wrapErr classifies a driver error as a storage error. Errors that are
// already *storage.Error pass through unchanged.
func wrapErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var se *storage.Error
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return storage.NotFound(op, id)
	case isDuplicateKey(err):
		return storage.NewError(storage.KindConflict, op, id, err)
	case isSerializationError(err):
		return storage.NewError(storage.KindConflict, op, id, err)
	}
	return storage.NewError(storage.KindDatabase, op, id, err)
}
