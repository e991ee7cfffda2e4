package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/eventfold/userd/pkg/auth"
	"github.com/eventfold/userd/pkg/domain"
)

// Envelope is the uniform error body. The type field carries a class-name
// hint and nothing else; stack traces and internal identifiers never leave
// the process.
type Envelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Type    string `json:"type"`
}

// Error categories.
const (
	categoryValidation        = "Validation Error"
	categoryBusinessRule      = "Business Rule Violation"
	categoryNotFound          = "Resource Not Found"
	categoryConflict          = "Resource Conflict"
	categoryAuthentication    = "Authentication Error"
	categoryHTTP              = "HTTP Error"
	categoryRequestValidation = "Request Validation Error"
	categoryBadRequest        = "Bad Request"
	categoryInternal          = "Internal Server Error"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeEnvelope(w http.ResponseWriter, status int, category, message string, details any, typeName string) {
	writeJSON(w, status, Envelope{
		Error:   category,
		Message: message,
		Details: details,
		Type:    typeName,
	})
}

// writeError maps a domain or infrastructure error to its fixed category and
// status.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var fieldErr *domain.UniqueFieldError
	switch {
	case errors.As(err, &fieldErr):
		writeEnvelope(w, http.StatusConflict, categoryConflict, fieldErr.Error(),
			map[string]string{fieldErr.Field: fieldErr.Value}, "UniqueFieldError")

	case errors.Is(err, domain.ErrConcurrencyConflict):
		writeEnvelope(w, http.StatusConflict, categoryConflict,
			"the resource was modified concurrently, retry the request", nil, "ConcurrencyError")

	case errors.Is(err, domain.ErrUserNotFound):
		writeEnvelope(w, http.StatusNotFound, categoryNotFound,
			"user not found", nil, "UserNotFound")

	case errors.Is(err, domain.ErrUsernameTooShort),
		errors.Is(err, domain.ErrInvalidEmail),
		errors.Is(err, domain.ErrPasswordRequired),
		errors.Is(err, domain.ErrNoFieldsToUpdate),
		errors.Is(err, domain.ErrSamePassword):
		writeEnvelope(w, http.StatusUnprocessableEntity, categoryValidation,
			err.Error(), nil, "DomainValidationError")

	case errors.Is(err, domain.ErrUserDeleted),
		errors.Is(err, domain.ErrUserAlreadyDeleted),
		errors.Is(err, domain.ErrUserAlreadyExists):
		writeEnvelope(w, http.StatusBadRequest, categoryBusinessRule,
			err.Error(), nil, "BusinessRuleViolation")

	case errors.Is(err, auth.ErrInvalidCredentials):
		writeEnvelope(w, http.StatusUnauthorized, categoryAuthentication,
			auth.ErrInvalidCredentials.Error(), nil, "InvalidCredentials")

	case errors.Is(err, auth.ErrInvalidToken):
		writeEnvelope(w, http.StatusUnauthorized, categoryAuthentication,
			"invalid or expired token", nil, "InvalidToken")

	default:
		logger.Error("request failed", slog.Any("error", err))
		writeEnvelope(w, http.StatusInternalServerError, categoryInternal,
			"internal server error", nil, "InternalError")
	}
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeEnvelope(w, http.StatusBadRequest, categoryBadRequest, message, nil, "BadRequest")
}

func writeRequestValidation(w http.ResponseWriter, details map[string]string) {
	writeEnvelope(w, http.StatusUnprocessableEntity, categoryRequestValidation,
		"request validation failed", details, "RequestValidationError")
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeEnvelope(w, http.StatusUnauthorized, categoryAuthentication, message, nil, "Unauthorized")
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeEnvelope(w, http.StatusForbidden, categoryHTTP, message, nil, "Forbidden")
}
