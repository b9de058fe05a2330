package errors

import "net/http"

// Error codes. Errors carry code + params; the UI layer picks the wording.
// Logs are always in English.

// Notification error codes.
const (
	CodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	CodeInvalidResponse      = "INVALID_RESPONSE"
)

// Backend error codes.
const (
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeRateLimited        = "RATE_LIMITED"
)

// Push channel error codes.
const (
	CodePushUnavailable = "PUSH_UNAVAILABLE"
	CodeSubscribeFailed = "SUBSCRIBE_FAILED"
)

// Auth error codes.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeTokenInvalid = "TOKEN_INVALID"
	CodeTokenMissing = "TOKEN_MISSING"
)

// Convenience constructors using predefined codes.

// ErrNotificationNotFoundf creates a notification not found error.
func ErrNotificationNotFoundf(id string) *AppError {
	return NotFound(CodeNotificationNotFound, "notification not found").
		WithParams(map[string]interface{}{"id": id})
}

// ErrBackendUnavailablef wraps a transport or 5xx failure of the REST backend.
func ErrBackendUnavailablef(err error, op string) *AppError {
	return Wrap(err, CodeBackendUnavailable, "notification backend unavailable", http.StatusServiceUnavailable).
		WithParams(map[string]interface{}{"op": op})
}

// ErrTokenInvalidf creates an error for a bearer token that cannot be decoded.
func ErrTokenInvalidf(err error) *AppError {
	return Wrap(err, CodeTokenInvalid, "bearer token is not a valid JWT", http.StatusUnauthorized)
}
