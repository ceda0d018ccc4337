package core

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDuplicateJob      = errors.New("job already registered")
	ErrQueueClosed       = errors.New("dispatch queue closed")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type QuotaExceededError struct {
	Used      int
	Limit     int
	Requested int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("Monthly paper quota exceeded. Used %d/%d papers.", e.Used, e.Limit)
}

// DocumentError is surfaced to the caller verbatim.
type DocumentError struct {
	Message string
	Cause   error
}

func (e *DocumentError) Error() string {
	return e.Message
}

func (e *DocumentError) Unwrap() error {
	return e.Cause
}

type StateConflictError struct {
	JobID  int64
	Status JobStatus
	// Orphaned marks a job left PRINTING by a previous run.
	Orphaned bool
}

func (e *StateConflictError) Error() string {
	if e.Orphaned {
		return "Job was printing when the server restarted; resolve it with 'printdesk reconcile'"
	}
	return fmt.Sprintf("Cannot cancel job in state '%s'", e.Status)
}

func (e *StateConflictError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type PrinterServiceError struct {
	Op    string
	Cause error
}

func (e *PrinterServiceError) Error() string {
	return fmt.Sprintf("printer service %s: %v", e.Op, e.Cause)
}

func (e *PrinterServiceError) Unwrap() error {
	return e.Cause
}

type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("job store %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrJobNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Cause: err}
}
