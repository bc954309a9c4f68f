package httpadapter

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kirillkom/signflow/internal/core/domain"
	"github.com/kirillkom/signflow/internal/observability/logging"
)

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrValidation):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrAuthorization):
		return http.StatusForbidden
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrConflict):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrRender):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	var turn *domain.TurnError
	var dup *domain.DuplicateError
	switch {
	case errors.As(err, &turn):
		return "out_of_turn"
	case errors.As(err, &dup):
		return "duplicate_document"
	case domain.IsKind(err, domain.ErrValidation):
		return "validation_failed"
	case domain.IsKind(err, domain.ErrUnauthenticated):
		return "unauthenticated"
	case domain.IsKind(err, domain.ErrAuthorization):
		return "forbidden"
	case domain.IsKind(err, domain.ErrNotFound):
		return "not_found"
	case domain.IsKind(err, domain.ErrConflict):
		return "conflict"
	case domain.IsKind(err, domain.ErrRender):
		return "render_failed"
	case domain.IsKind(err, domain.ErrStorage):
		return "storage_unavailable"
	default:
		return "internal"
	}
}

func errorDetails(err error) map[string]any {
	var turn *domain.TurnError
	if errors.As(err, &turn) {
		return map[string]any{
			"request_id":     turn.RequestID,
			"current_signer": turn.CurrentSigner,
			"current_order":  turn.CurrentOrder,
		}
	}
	var dup *domain.DuplicateError
	if errors.As(err, &dup) {
		return map[string]any{
			"hash":                    dup.Hash,
			"conflicting_document_id": dup.ConflictingDocument,
			"conflicting_status":      dup.ConflictingStatus,
		}
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("http_handler_failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
		message = "internal error"
	}
	if domain.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{Error: errorPayload{
		Code:    errorCode(err),
		Message: message,
		Details: errorDetails(err),
	}})
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorPayload{Code: code, Message: message}})
}

func logWriteFailure(r *http.Request, err error) {
	slog.Warn("http_response_write_failed",
		"request_id", logging.RequestID(r.Context()),
		"path", r.URL.Path,
		"error", err.Error(),
	)
}
