package domain

// APIError is an RFC 7807 problem details body
type APIError struct {
	Type   string            `json:"type"`
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
	// CompletedSteps lists the effects that were committed before a partial failure
	CompletedSteps []string `json:"completedSteps,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}

// ValidationMessages maps validator tags to user-facing messages
var ValidationMessages = map[string]string{
	"required": "This field is required",
	"email":    "Must be a valid email address",
	"max":      "Exceeds maximum length",
	"min":      "Below minimum length",
	"gte":      "Must be greater than or equal to minimum value",
	"gt":       "Must be greater than zero",
	"lte":      "Must be less than or equal to maximum value",
	"uuid":     "Must be a valid UUID",
	"oneof":    "Must be one of the allowed values",
	"numeric":  "Must be a numeric value",
}

// GetValidationMessage returns a human-readable message for a validation tag
func GetValidationMessage(tag string) string {
	if msg, ok := ValidationMessages[tag]; ok {
		return msg
	}
	return "Validation failed: " + tag
}

// Problem types
const (
	ErrorTypeValidation     = "validation_error"
	ErrorTypeNotFound       = "not_found"
	ErrorTypeInvalidState   = "invalid_state"
	ErrorTypeBadRequest     = "bad_request"
	ErrorTypeConflict       = "conflict"
	ErrorTypeUnauthorized   = "unauthorized"
	ErrorTypeRemote         = "remote_operation_failed"
	ErrorTypePartialFailure = "partial_failure"
	ErrorTypeInternal       = "internal_error"
)
