package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/taskorch/taskorch/internal/engine"
	"github.com/taskorch/taskorch/internal/storage"
)

// FatalError writes an error message to stderr and exits with code 1.
// Use this for failures that prevent the command from completing.
func FatalError(format string, args ...interface{}) {
	closeBackend()
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// FatalErrorWithHint writes an error message with a hint to stderr and exits.
func FatalErrorWithHint(message, hint string) {
	closeBackend()
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	os.Exit(1)
}

// FatalErrorRespectJSON is FatalError that emits a JSON error object on
// stderr when --json is set.
func FatalErrorRespectJSON(format string, args ...interface{}) {
	err := fmt.Errorf(format, args...)
	if jsonOutput {
		closeBackend()
		outputJSONError(err, errorCode(err))
	}
	FatalError("%v", err)
}

// WarnError writes a warning to stderr and returns.
func WarnError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// errorCode classifies err for JSON consumers.
func errorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrInvalidStatus):
		return "invalid_status"
	case errors.Is(err, engine.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, engine.ErrLocked):
		return "locked"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	case errors.Is(err, storage.ErrValidation):
		return "validation"
	}
	return ""
}
