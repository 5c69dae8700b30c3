package sdk

import "fmt"

// Error codes returned by the server.
const (
	CodeBadRequest    = "bad_request"
	CodeNotFound      = "not_found"
	CodeUnsupported   = "unsupported_file"
	CodeModelError    = "model_error"
	CodeInternalError = "internal_error"
)

// APIError is a structured error response from the server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("finqa: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
}

// IsNotFound reports whether err is a not_found API error.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == CodeNotFound
}
