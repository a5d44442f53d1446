package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/auth"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/service"
	"go.uber.org/zap"
)

var validate = validator.New()

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondProblem(w http.ResponseWriter, problem domain.APIError) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// respondValidationError sends a standardized validation error response with specific field messages
func respondValidationError(w http.ResponseWriter, err error) {
	fields := make(map[string]string)
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[toJSONFieldName(fe.Field())] = formatValidationError(fe)
		}
	}
	respondProblem(w, domain.APIError{
		Type:   domain.ErrorTypeValidation,
		Title:  "Validation Error",
		Status: http.StatusBadRequest,
		Detail: "One or more fields failed validation",
		Errors: fields,
	})
}

// formatValidationError creates a human-readable validation error message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", toJSONFieldName(fe.Field()))
	case "max":
		return fmt.Sprintf("Must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("Must be greater than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("Must be greater than %s", fe.Param())
	default:
		return domain.GetValidationMessage(fe.Tag())
	}
}

// toJSONFieldName converts a Go struct field name to its JSON equivalent (camelCase)
func toJSONFieldName(field string) string {
	if len(field) == 0 {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// respondWithError sends a standardized JSON error response
func respondWithError(w http.ResponseWriter, status int, message string) {
	respondProblem(w, domain.APIError{
		Type:   getErrorType(status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: message,
	})
}

// getErrorType returns the appropriate error type for an HTTP status code
func getErrorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return domain.ErrorTypeBadRequest
	case http.StatusUnauthorized:
		return domain.ErrorTypeUnauthorized
	case http.StatusNotFound:
		return domain.ErrorTypeNotFound
	case http.StatusConflict:
		return domain.ErrorTypeConflict
	default:
		return domain.ErrorTypeInternal
	}
}

// respondServiceError maps the service error taxonomy onto problem responses.
// Remote and partial failures are logged with their cause; the client only
// sees a generic detail.
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, operation string, err error) {
	var (
		validationErr *service.ValidationError
		notFoundErr   *service.NotFoundError
		conflictErr   *service.ConflictError
		partialErr    *service.PartialFailureError
		remoteErr     *service.RemoteOperationError
	)

	switch {
	case errors.As(err, &validationErr):
		respondProblem(w, domain.APIError{
			Type:   domain.ErrorTypeValidation,
			Title:  "Validation Error",
			Status: http.StatusBadRequest,
			Detail: "One or more fields failed validation",
			Errors: validationErr.Fields,
		})
	case errors.As(err, &partialErr):
		logger.Error(operation+" partially completed",
			zap.Strings("completed", partialErr.Completed),
			zap.Error(err),
		)
		respondProblem(w, domain.APIError{
			Type:           domain.ErrorTypePartialFailure,
			Title:          "Partially Completed",
			Status:         http.StatusInternalServerError,
			Detail:         "The operation did not finish; retrying it is safe",
			CompletedSteps: partialErr.Completed,
		})
	case errors.As(err, &notFoundErr):
		if notFoundErr.State != "" {
			respondProblem(w, domain.APIError{
				Type:   domain.ErrorTypeInvalidState,
				Title:  "Invalid State",
				Status: http.StatusConflict,
				Detail: notFoundErr.Error(),
			})
			return
		}
		respondWithError(w, http.StatusNotFound, notFoundErr.Error())
	case errors.As(err, &conflictErr):
		respondWithError(w, http.StatusConflict, conflictErr.Error())
	case errors.As(err, &remoteErr):
		logger.Error(operation+" failed", zap.String("remote_operation", remoteErr.Operation), zap.Error(err))
		respondProblem(w, domain.APIError{
			Type:   domain.ErrorTypeRemote,
			Title:  "Upstream Failure",
			Status: http.StatusBadGateway,
			Detail: remoteErr.Operation + " failed",
		})
	default:
		logger.Error(operation+" failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to "+operation)
	}
}

// decodeJSON decodes the body into target and validates it. Returns false
// after writing the error response.
func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body: malformed JSON")
		return false
	}
	if err := validate.Struct(target); err != nil {
		respondValidationError(w, err)
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request, entity string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid "+entity+" ID: must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// actorFrom resolves the acting staff member once per request
func actorFrom(w http.ResponseWriter, r *http.Request) (domain.ActorContext, bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "No authenticated user")
		return domain.ActorContext{}, false
	}
	return actor, true
}

func parsePagination(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 {
		pageSize = 20
	}
	return page, pageSize
}
