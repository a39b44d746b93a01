package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/rpggio/overseer/internal/domain/approval"
	"github.com/rpggio/overseer/internal/domain/mode"
	"github.com/rpggio/overseer/internal/repository"
)

// ErrUnauthorized indicates invalid or missing credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Error kinds shared by the REST and MCP surfaces.
const (
	KindInvalidParent   = "InvalidParent"
	KindInvalidState    = "InvalidState"
	KindInvalidInput    = "InvalidInput"
	KindNotFound        = "NotFound"
	KindAlreadyResolved = "AlreadyResolved"
	KindNotPending      = "NotPending"
	KindInvalidMode     = "InvalidMode"
	KindUnauthorized    = "Unauthorized"
	KindUnavailable     = "Unavailable"
	KindInternal        = "Internal"
)

// APIError is the machine readable error returned to callers. Message
// answers "why?"; RecoveryHint says what to do next.
type APIError struct {
	Kind         string `json:"kind"`
	Message      string `json:"message"`
	RecoveryHint string `json:"recoveryHint,omitempty"`
	Details      any    `json:"details,omitempty"`
	Status       int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// MapError maps domain errors to API errors. Unknown errors become Internal.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var notPending *approval.NotPendingError
	if errors.As(err, &notPending) {
		details := map[string]any{"id": notPending.ID, "reason": notPending.Reason}
		if notPending.Current != nil {
			details["current"] = notPending.Current
		}
		return &APIError{
			Kind:         KindNotPending,
			Message:      err.Error(),
			RecoveryHint: "Inspect details.current; if it already has the outcome you wanted, treat this as success",
			Details:      details,
			Status:       http.StatusConflict,
		}
	}

	var already *activity.AlreadyResolvedError
	if errors.As(err, &already) {
		return &APIError{
			Kind:         KindAlreadyResolved,
			Message:      err.Error(),
			RecoveryHint: "Terminal results are final; fetch the activity to see its outcome",
			Details:      map[string]any{"current": already.Current},
			Status:       http.StatusConflict,
		}
	}

	switch {
	case errors.Is(err, activity.ErrInvalidParent):
		return &APIError{Kind: KindInvalidParent, Message: err.Error(), RecoveryHint: "parentId must reference an existing activity", Status: http.StatusUnprocessableEntity}
	case errors.Is(err, activity.ErrInvalidState):
		return &APIError{Kind: KindInvalidState, Message: err.Error(), RecoveryHint: "Use ok, error or rejected without approval; leave result empty when requiresApproval is true", Status: http.StatusUnprocessableEntity}
	case errors.Is(err, activity.ErrNotFound):
		return &APIError{Kind: KindNotFound, Message: err.Error(), RecoveryHint: "Check the activity id", Status: http.StatusNotFound}
	case errors.Is(err, activity.ErrAlreadyResolved):
		return &APIError{Kind: KindAlreadyResolved, Message: err.Error(), Status: http.StatusConflict}
	case errors.Is(err, approval.ErrNotPending):
		return &APIError{Kind: KindNotPending, Message: err.Error(), Status: http.StatusConflict}
	case errors.Is(err, mode.ErrInvalidMode):
		return &APIError{Kind: KindInvalidMode, Message: err.Error(), RecoveryHint: "Use one of full_auto, supervised, notify_only, safe_mode", Status: http.StatusBadRequest}
	case errors.Is(err, activity.ErrInvalidInput),
		errors.Is(err, approval.ErrInvalidInput),
		errors.Is(err, mode.ErrInvalidDuration),
		errors.Is(err, mode.ErrInvalidRule):
		return &APIError{Kind: KindInvalidInput, Message: err.Error(), Status: http.StatusBadRequest}
	case errors.Is(err, ErrUnauthorized):
		return &APIError{Kind: KindUnauthorized, Message: err.Error(), RecoveryHint: "Send a valid bearer token", Status: http.StatusUnauthorized}
	case errors.Is(err, repository.ErrBusy):
		return &APIError{Kind: KindUnavailable, Message: "storage is busy", RecoveryHint: "Retry shortly", Status: http.StatusServiceUnavailable}
	default:
		return &APIError{Kind: KindInternal, Message: "internal error", Status: http.StatusInternalServerError}
	}
}

// InvalidInput builds an InvalidInput error for malformed requests.
func InvalidInput(format string, args ...any) *APIError {
	return &APIError{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...), Status: http.StatusBadRequest}
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// WriteError writes err as a JSON error envelope. Internal errors are logged
// with their cause and reported through onInternal when set.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, onInternal func(error)) {
	apiErr := MapError(err)
	if apiErr.Status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
		if apiErr.Kind == KindInternal && onInternal != nil {
			onInternal(err)
		}
	}
	status := apiErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorEnvelope{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
