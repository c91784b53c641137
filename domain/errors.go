package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOwned is returned when a task id is outside the caller's scope.
	// Missing rows and rows owned by someone else are reported the same way.
	ErrNotOwned = errors.New("todo not found for current user")
	// ErrColumnMismatch indicates stale client state: the task no longer
	// classifies into the column named by the request.
	ErrColumnMismatch = errors.New("todo is not in the requested column")
	// ErrIneligible is returned for notes and other rows that cannot be placed on a board.
	ErrIneligible = errors.New("only todos can be placed on the board")
	// ErrStorageNotReady means the ordering storage has not been provisioned yet.
	ErrStorageNotReady = errors.New("ordering storage is not ready")
	// ErrConcurrencyConflict indicates that the underlying storage rejected a
	// write because a newer version of an entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrStaleSequence rejects a reorder that was issued before one already applied.
	ErrStaleSequence = errors.New("stale reorder sequence")
	// ErrTooManyIDs is returned when a reorder cannot be applied atomically.
	ErrTooManyIDs = errors.New("too many todo ids in one reorder")
)

// ValidationError reports an invalid request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TaskError ties a sentinel error to the task that triggered it.
type TaskError struct {
	TaskID int64
	Err    error
}

func (e *TaskError) Error() string { return fmt.Sprintf("todo %d: %v", e.TaskID, e.Err) }

func (e *TaskError) Unwrap() error { return e.Err }

func taskErr(id int64, err error) error { return &TaskError{TaskID: id, Err: err} }
