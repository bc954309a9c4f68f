package resilience

import (
	"context"
	"errors"

	"github.com/kirillkom/signflow/internal/core/domain"
)

// DomainClassifier retries storage and render failures. Caller mistakes
// (validation, authorization, conflict, not found) are terminal and do not
// count against the breaker.
func DomainClassifier(err error) ErrorClassification {
	switch {
	case err == nil:
		return ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{Retryable: false, RecordFailure: false}
	case IsCircuitOpen(err):
		return ErrorClassification{Retryable: false, RecordFailure: false}
	case domain.IsRetryable(err):
		return ErrorClassification{Retryable: true, RecordFailure: true}
	case domain.KindOf(err) != nil:
		return ErrorClassification{Retryable: false, RecordFailure: false}
	default:
		return ErrorClassification{Retryable: false, RecordFailure: true}
	}
}

// AsStorageError types untyped failures, breaker rejections included, as
// storage errors so callers see a retryable kind. Domain errors pass through.
func AsStorageError(operation string, err error) error {
	if err == nil || domain.KindOf(err) != nil {
		return err
	}
	return domain.WrapError(domain.ErrStorage, operation, err)
}
