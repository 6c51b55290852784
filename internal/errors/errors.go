package errors

import (
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Authentication errors (401xx)
	ErrInvalidCredentials   ErrorCode = "40101"
	ErrTokenExpired         ErrorCode = "40102"
	ErrInvalidPersonalToken ErrorCode = "40103"
	ErrUserNotActive        ErrorCode = "40104"

	// Authorization errors (403xx)
	ErrForbidden ErrorCode = "40301"

	// Resource errors (404xx)
	ErrUserNotFound      ErrorCode = "40401"
	ErrPoolTokenNotFound ErrorCode = "40402"

	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"
	ErrQuotaExceeded    ErrorCode = "40003"

	// Rate limit errors (429xx)
	ErrRateLimited ErrorCode = "42901"

	// Server errors (5xxxx)
	ErrInternalServer        ErrorCode = "50001"
	ErrNoAvailableCredential ErrorCode = "50301"
	ErrUpstreamUnavailable   ErrorCode = "50201"
	ErrUpstreamTimeout       ErrorCode = "50401"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id"`
	Path      string   `json:"path,omitempty"`
	Method    string   `json:"method,omitempty"`
}

// NewErrorResponse builds the wire-level error envelope
func NewErrorResponse(apiErr *APIError, requestID, path, method string) *ErrorResponse {
	return &ErrorResponse{
		Error:     *apiErr,
		RequestID: requestID,
		Path:      path,
		Method:    method,
	}
}

// Common errors
var (
	ErrInvalidCredentialsError = &APIError{
		Code:       ErrInvalidCredentials,
		Message:    "Invalid username or password",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenExpiredError = &APIError{
		Code:       ErrTokenExpired,
		Message:    "Token has expired",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidPersonalTokenError = &APIError{
		Code:       ErrInvalidPersonalToken,
		Message:    "Invalid personal access token",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrUserNotActiveError = &APIError{
		Code:       ErrUserNotActive,
		Message:    "User account is not active",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbiddenError = &APIError{
		Code:       ErrForbidden,
		Message:    "Access denied",
		HTTPStatus: http.StatusForbidden,
	}

	ErrUserNotFoundError = &APIError{
		Code:       ErrUserNotFound,
		Message:    "User not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrPoolTokenNotFoundError = &APIError{
		Code:       ErrPoolTokenNotFound,
		Message:    "Pool token not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrQuotaExceededError = &APIError{
		Code:       ErrQuotaExceeded,
		Message:    "Allocation would exceed the user's token quota",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrRateLimitedError = &APIError{
		Code:       ErrRateLimited,
		Message:    "Rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}

	ErrNoAvailableCredentialError = &APIError{
		Code:       ErrNoAvailableCredential,
		Message:    "No available pool tokens",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	ErrUpstreamUnavailableError = &APIError{
		Code:       ErrUpstreamUnavailable,
		Message:    "Upstream service unavailable",
		HTTPStatus: http.StatusBadGateway,
	}

	ErrUpstreamTimeoutError = &APIError{
		Code:       ErrUpstreamTimeout,
		Message:    "Upstream service timeout",
		HTTPStatus: http.StatusGatewayTimeout,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewQuotaExceededError creates a quota error carrying the offending counts
func NewQuotaExceededError(active, requested, quota int) *APIError {
	return &APIError{
		Code:    ErrQuotaExceeded,
		Message: "Allocation would exceed the user's token quota",
		Details: map[string]int{
			"active_allocations": active,
			"requested":          requested,
			"token_quota":        quota,
		},
		HTTPStatus: http.StatusBadRequest,
	}
}
