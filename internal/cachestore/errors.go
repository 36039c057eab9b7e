package cachestore

import (
	"fmt"

	"github.com/rohmanhakim/gravity-worker/internal/metadata"
	"github.com/rohmanhakim/gravity-worker/pkg/failure"
)

type StoreErrorCause string

const (
	ErrCauseMethodNotAllowed StoreErrorCause = "method not allowed"
	ErrCauseInvalidKey       StoreErrorCause = "invalid key"
	ErrCauseInvalidName      StoreErrorCause = "invalid cache name"
	ErrCauseBackendFailure   StoreErrorCause = "backend failure"
	ErrCauseClosed           StoreErrorCause = "storage closed"
)

type StoreError struct {
	Message   string
	Retryable bool
	Cause     StoreErrorCause
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("cache store error: %s: %s", e.Cause, e.Message)
}

func (e *StoreError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *StoreError) IsRetryable() bool {
	return e.Retryable
}

// BackendError wraps an adapter failure. A nil err yields nil.
func BackendError(action string, err error) failure.ClassifiedError {
	if err == nil {
		return nil
	}
	return &StoreError{
		Message:   fmt.Sprintf("%s: %v", action, err),
		Retryable: true,
		Cause:     ErrCauseBackendFailure,
	}
}

// MapToMetadataCause maps store errors onto the canonical metadata table.
// Observational only.
func MapToMetadataCause(err *StoreError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseMethodNotAllowed, ErrCauseInvalidKey, ErrCauseInvalidName:
		return metadata.CauseInvariantViolation
	case ErrCauseBackendFailure, ErrCauseClosed:
		return metadata.CauseStorageFailure
	default:
		return metadata.CauseUnknown
	}
}
