package errors

import "fmt"

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	// ErrorTypeAPI is an error envelope returned by the VK API itself
	// (HTTP 200 with an "error" object in the body).
	ErrorTypeAPI ErrorType = "api"
	// ErrorTypeScript means an execute script was rejected as too heavy;
	// the caller recovers by narrowing the batch width, not by retrying.
	ErrorTypeScript  ErrorType = "script"
	ErrorTypeUnknown ErrorType = "unknown"
)

// Error represents a VK API error with type information
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("vk %s error (code %d): %s", e.Type, e.Code, e.Message)
}

// IsNarrowable reports whether an error type should make the pager retry
// the same offset with a narrower batch script.
func IsNarrowable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeParsing, ErrorTypeServerError, ErrorTypeRateLimit, ErrorTypeAPI, ErrorTypeScript:
		return true
	case ErrorTypeAuth, ErrorTypeNotFound:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a transient failure
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500
	}
}
