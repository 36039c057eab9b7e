package lifecycle

import (
	"fmt"

	"github.com/rohmanhakim/gravity-worker/internal/metadata"
	"github.com/rohmanhakim/gravity-worker/pkg/failure"
)

type LifecycleErrorCause string

const (
	ErrCauseInvalidState    LifecycleErrorCause = "invalid lifecycle state"
	ErrCauseManifestFetch   LifecycleErrorCause = "manifest fetch failed"
	ErrCauseManifestInvalid LifecycleErrorCause = "manifest response not ok"
	ErrCauseStorage         LifecycleErrorCause = "storage failure"
)

type LifecycleError struct {
	Message   string
	Retryable bool
	Cause     LifecycleErrorCause
	Err       error
}

func (e *LifecycleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lifecycle error: %s: %s: %v", e.Cause, e.Message, e.Err)
	}
	return fmt.Sprintf("lifecycle error: %s: %s", e.Cause, e.Message)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

func (e *LifecycleError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *LifecycleError) IsRetryable() bool {
	return e.Retryable
}

// observational only
func mapLifecycleErrorToMetadataCause(err *LifecycleError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseManifestFetch:
		return metadata.CauseNetworkFailure
	case ErrCauseManifestInvalid:
		return metadata.CauseContentInvalid
	case ErrCauseStorage:
		return metadata.CauseStorageFailure
	case ErrCauseInvalidState:
		return metadata.CauseInvariantViolation
	default:
		return metadata.CauseUnknown
	}
}
