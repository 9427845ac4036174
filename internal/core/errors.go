package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the service. Callers test them with errors.Is.
var (
	// ErrValidationFailed means the input was rejected before anything was
	// written. Import failures carry a *ValidationFailedError.
	ErrValidationFailed = errors.New("validation failed")

	// ErrStorageFailure is transient: nothing was committed and the call is
	// safe to retry.
	ErrStorageFailure = errors.New("storage failure")

	// ErrAlreadyRevoked means the batch already has a REVOKE_BATCH entry.
	ErrAlreadyRevoked = errors.New("batch already revoked")

	// ErrBatchNotFound means no rows carry the batch key.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrRedactionPolicy means a snapshot carried a sensitive field in clear.
	ErrRedactionPolicy = errors.New("redaction policy violation")

	ErrRecordNotFound   = errors.New("record not found")
	ErrAuditNotFound    = errors.New("audit entry not found")
	ErrUnknownEntity    = errors.New("unknown entity type")
	ErrNotIngestible    = errors.New("entity type does not support batch import")
	ErrActionNotAllowed = errors.New("action not allowed for entity type")
	ErrFileTooLarge     = errors.New("file too large")
	ErrTooManyImports   = errors.New("too many imports in progress")
)

// RowError is one row-level rejection. Row is the physical line number in the
// file (header is line 1); Row 0 refers to the file or request as a whole.
type RowError struct {
	Row    int    `json:"row"`
	Column string `json:"column,omitempty"`
	Reason string `json:"reason"`
}

func (e RowError) String() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("line %d, column %s: %s", e.Row, e.Column, e.Reason)
}

// ValidationFailedError lists every failure found in an input. It matches
// ErrValidationFailed under errors.Is.
type ValidationFailedError struct {
	Errors []RowError
}

func (e *ValidationFailedError) Error() string {
	if len(e.Errors) == 0 {
		return ErrValidationFailed.Error()
	}
	parts := make([]string, 0, min(len(e.Errors), 5))
	for i, re := range e.Errors {
		if i == 5 {
			break
		}
		parts = append(parts, re.String())
	}
	msg := fmt.Sprintf("%s: %d error(s): %s", ErrValidationFailed, len(e.Errors), strings.Join(parts, "; "))
	if len(e.Errors) > 5 {
		msg += "; ..."
	}
	return msg
}

func (e *ValidationFailedError) Is(target error) bool {
	return target == ErrValidationFailed
}

// validationError builds a single-issue validation failure.
func validationError(column, format string, args ...any) error {
	return &ValidationFailedError{Errors: []RowError{{
		Column: column,
		Reason: fmt.Sprintf(format, args...),
	}}}
}

// storageError classifies a failed transaction as retryable. Known domain
// errors pass through unchanged.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrValidationFailed, ErrAlreadyRevoked, ErrBatchNotFound, ErrRedactionPolicy,
		ErrRecordNotFound, ErrAuditNotFound, ErrStorageFailure, ErrUnknownEntity,
		ErrNotIngestible, ErrActionNotAllowed, ErrFileTooLarge, ErrTooManyImports,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s interrupted before commit: %w", ErrStorageFailure, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}
