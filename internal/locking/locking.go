// Package locking is an advisory, in-memory registry of in-flight operations.
//
// It does not block anything at the storage layer. Callers check CanProceed
// (or use Acquire) before starting work and release the operation when done,
// including on error paths. Two operations conflict when their entity sets
// intersect and at least one of them is exclusive (WRITE, DELETE,
// SECTION_EDIT, STRUCTURE_CHANGE). Entries older than the timeout are purged
// before every check.
package locking

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskorch/taskorch/internal/types"
)

// DefaultTimeout is how long an operation stays registered without completing.
const DefaultTimeout = 5 * time.Minute

// ErrConflict is returned by Acquire when the operation overlaps an active one.
var ErrConflict = errors.New("conflicting operation in progress")

// Options configures a Service.
type Options struct {
	// Timeout after which an active operation is treated as abandoned.
	// Nil means DefaultTimeout; a zero duration expires entries immediately.
	Timeout *time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

// ActiveOperation is a registered operation and its id.
type ActiveOperation struct {
	ID        string              `json:"id"`
	Operation types.LockOperation `json:"operation"`
}

// Service is the lock registry. All methods are safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	ops     map[string]types.LockOperation
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Timeout returns a pointer to d, for Options.Timeout.
func Timeout(d time.Duration) *time.Duration { return &d }

// New creates an empty registry.
func New(opts Options) *Service {
	s := &Service{
		ops:     make(map[string]types.LockOperation),
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  opts.Logger,
	}
	if opts.Timeout != nil {
		s.timeout = *opts.Timeout
	}
	if opts.Now != nil {
		s.now = opts.Now
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// CanProceed reports whether op could start now without conflicting.
func (s *Service) CanProceed(op types.LockOperation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	return len(s.conflictsLocked(op)) == 0
}

// Conflicts lists the active operations op would conflict with, oldest first.
func (s *Service) Conflicts(op types.LockOperation) []ActiveOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	return s.conflictsLocked(op)
}

// RecordOperationStart registers op and returns its id. It does not check for
// conflicts; call CanProceed first or use Acquire.
func (s *Service) RecordOperationStart(op types.LockOperation) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	return s.recordLocked(op)
}

// RecordOperationComplete removes the operation. Unknown ids are ignored.
func (s *Service) RecordOperationComplete(operationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, operationID)
}

// Acquire checks and records op in one step. The returned release func is
// idempotent and must be called when the operation finishes.
func (s *Service) Acquire(op types.LockOperation) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()

	if conflicts := s.conflictsLocked(op); len(conflicts) > 0 {
		descs := make([]string, 0, len(conflicts))
		for _, c := range conflicts {
			descs = append(descs, fmt.Sprintf("%s %s (%s)", c.Operation.OperationType, c.Operation.ToolName, c.ID))
		}
		s.logger.Warn("lock conflict", "operation", op.OperationType, "tool", op.ToolName,
			"entities", op.EntityIDs, "held_by", descs)
		return nil, fmt.Errorf("%w: %s", ErrConflict, strings.Join(descs, ", "))
	}

	id := s.recordLocked(op)
	var once sync.Once
	return func() {
		once.Do(func() { s.RecordOperationComplete(id) })
	}, nil
}

// ActiveOperationCount returns the number of registered, unexpired operations.
func (s *Service) ActiveOperationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	return len(s.ops)
}

// LongestRunningOperation returns the oldest active operation and how long it
// has been running. ok is false when nothing is active.
func (s *Service) LongestRunningOperation() (id string, d time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()

	var oldest time.Time
	for opID, op := range s.ops {
		if !ok || op.StartedAt.Before(oldest) || (op.StartedAt.Equal(oldest) && opID < id) {
			id, oldest, ok = opID, op.StartedAt, true
		}
	}
	if !ok {
		return "", 0, false
	}
	return id, s.now().Sub(oldest), true
}

func (s *Service) recordLocked(op types.LockOperation) string {
	id := uuid.NewString()
	op.EntityIDs = append([]string(nil), op.EntityIDs...)
	if op.StartedAt.IsZero() {
		op.StartedAt = s.now()
	}
	s.ops[id] = op
	s.logger.Debug("operation started", "id", id, "operation", op.OperationType, "tool", op.ToolName)
	return id
}

func (s *Service) conflictsLocked(op types.LockOperation) []ActiveOperation {
	var out []ActiveOperation
	for id, active := range s.ops {
		if op.ConflictsWith(active) {
			out = append(out, ActiveOperation{ID: id, Operation: active})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Operation.StartedAt.Equal(out[j].Operation.StartedAt) {
			return out[i].Operation.StartedAt.Before(out[j].Operation.StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// purgeLocked drops operations whose age has reached the timeout.
func (s *Service) purgeLocked() {
	now := s.now()
	for id, op := range s.ops {
		if now.Sub(op.StartedAt) >= s.timeout {
			s.logger.Warn("expiring stale operation", "id", id, "operation", op.OperationType,
				"tool", op.ToolName, "age", now.Sub(op.StartedAt))
			delete(s.ops, id)
		}
	}
}
