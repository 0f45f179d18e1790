package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound        = errors.New("resource not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrBadRequest      = errors.New("bad request")
	ErrUnavailable     = errors.New("service unavailable")
	ErrInternal        = errors.New("internal server error")
	ErrInvalidToken    = errors.New("invalid token")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// AppError represents an application error with an HTTP status
type AppError struct {
	Err        error  `json:"-"`
	Message    string `json:"message"`
	Code       string `json:"-"`
	StatusCode int    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Input validity (400)

func InvalidTenantID() *AppError {
	return New("INVALID_TENANT_ID", "tenant id is required", http.StatusBadRequest)
}

func InvalidSchemaName() *AppError {
	return New("INVALID_SCHEMA_NAME", "schema name is invalid", http.StatusBadRequest)
}

func InvalidTableName() *AppError {
	return New("INVALID_TABLE_NAME", "table name is invalid", http.StatusBadRequest)
}

func InvalidColumnName() *AppError {
	return New("INVALID_COLUMN_NAME", "column name is invalid", http.StatusBadRequest)
}

func InvalidRowIdentifier() *AppError {
	return New("INVALID_ROW_IDENTIFIER", "invalid row identifier", http.StatusBadRequest)
}

func InvalidPayload() *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "INVALID_PAYLOAD",
		Message:    "payload must be an object",
		StatusCode: http.StatusBadRequest,
	}
}

func PayloadTooLarge() *AppError {
	return &AppError{
		Err:        ErrPayloadTooLarge,
		Code:       "PAYLOAD_TOO_LARGE",
		Message:    "payload size exceeded",
		StatusCode: http.StatusBadRequest,
	}
}

func UnsupportedAPIVersion() *AppError {
	return New("UNSUPPORTED_API_VERSION", "unsupported API version", http.StatusBadRequest)
}

func InvalidQueryParameters() *AppError {
	return New("INVALID_QUERY_PARAMETERS", "invalid filter or sort expression", http.StatusBadRequest)
}

func NonEditableColumn(column string) *AppError {
	return New("NON_EDITABLE_COLUMN", fmt.Sprintf("column is not editable: %s", column), http.StatusBadRequest)
}

func InvalidPolicyTemplateName() *AppError {
	return New("INVALID_POLICY_TEMPLATE", "invalid policy template name", http.StatusBadRequest)
}

// Authentication (401)

func MissingAuthentication() *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Code:       "MISSING_AUTHENTICATION",
		Message:    "authentication is required (bearer token)",
		StatusCode: http.StatusUnauthorized,
	}
}

func InvalidAuthentication() *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Code:       "INVALID_AUTHENTICATION",
		Message:    "authentication mechanism is invalid",
		StatusCode: http.StatusUnauthorized,
	}
}

func InvalidToken(message string) *AppError {
	if message == "" {
		message = "invalid token"
	}
	return &AppError{
		Err:        ErrInvalidToken,
		Code:       "INVALID_TOKEN",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// Authorization (403)

func AccessDenied(message string) *AppError {
	if message == "" {
		message = "access denied"
	}
	return &AppError{
		Err:        ErrForbidden,
		Code:       "ACCESS_DENIED",
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func TableNotAllowed() *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Code:       "TABLE_NOT_ALLOWED",
		Message:    "table is not exposed by allowlist",
		StatusCode: http.StatusForbidden,
	}
}

// Not found (404)

func TableNotFound() *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "TABLE_NOT_FOUND",
		Message:    "table not found",
		StatusCode: http.StatusNotFound,
	}
}

func RecordNotFound() *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "RECORD_NOT_FOUND",
		Message:    "record not found",
		StatusCode: http.StatusNotFound,
	}
}

func TenantDatabaseNotFound() *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "TENANT_DATABASE_NOT_FOUND",
		Message:    "tenant database not found",
		StatusCode: http.StatusNotFound,
	}
}

func PrimaryKeyNotFound() *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "PRIMARY_KEY_NOT_FOUND",
		Message:    "table has no primary key",
		StatusCode: http.StatusNotFound,
	}
}

// Remote dependency (503)

func ServiceUnavailable(message string) *AppError {
	if message == "" {
		message = "service unavailable"
	}
	return &AppError{
		Err:        ErrUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
	}
}

// Infrastructure (500)

func Infrastructure(err error) *AppError {
	return &AppError{
		Err:        err,
		Code:       "INFRASTRUCTURE_ERROR",
		Message:    fmt.Sprintf("infrastructure error: %v", err),
		StatusCode: http.StatusInternalServerError,
	}
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
