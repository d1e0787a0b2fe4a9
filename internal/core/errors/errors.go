package errors

const (
	HttpInternalError       = "internal_error"
	HttpInvalidJsonError    = "invalid_json"
	HttpValidationError     = "validation_failed"
	HttpNotFoundError       = "not_found"
	HttpUnauthorizedError   = "unauthorized"
	HttpDuplicateError      = "duplicate_contract"
	HttpUnknownEndpoint     = "unknown_endpoint"
	HttpNormalizationFailed = "normalization_failed"
)

// ErrorResponse is the error response body for API and inbound endpoints.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
