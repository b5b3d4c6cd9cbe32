// Package apperrors provides the standardized error taxonomy for funcdock.
//
// Every error kind named by the platform spec's error taxonomy has a
// constructor here. AppError carries a machine-readable Code, an HTTP
// StatusCode, a human Message, and optional Details for debugging. Loader,
// dispatcher, and orchestrator failures are always returned as *AppError so
// the Control Plane can produce the standard {ok:false, error:kind,
// detail:...} envelope without re-deriving a status code at the handler.
package apperrors

import (
	"fmt"
	"net/http"
)

// AppError is a standardized, HTTP-aware application error.
type AppError struct {
	// Code is the machine-readable error kind, e.g. "ROUTE_CONFLICT".
	Code string `json:"code"`
	// Message is a human-readable summary.
	Message string `json:"message"`
	// Details carries additional debugging context (wrapped error text,
	// conflict listings, test output). Omitted from the response when empty.
	Details string `json:"details,omitempty"`
	// StatusCode is the HTTP status to return; not serialized.
	StatusCode int `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Response is the JSON envelope returned to API clients.
type Response struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// ToResponse converts an AppError into the wire envelope.
func (e *AppError) ToResponse() Response {
	return Response{
		OK:      false,
		Error:   e.Code,
		Message: e.Message,
		Detail:  e.Details,
	}
}

// Error code taxonomy, one per kind named in the spec's error taxonomy (§7).
const (
	CodePackageIncomplete   = "PACKAGE_INCOMPLETE"
	CodePackageMalformed    = "PACKAGE_MALFORMED"
	CodeHandlerLoadFailed   = "HANDLER_LOAD_FAILED"
	CodeRouteConflict       = "ROUTE_CONFLICT"
	CodeDeployBusy          = "DEPLOY_BUSY"
	CodeDeployFailed        = "DEPLOY_FAILED"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeInvalidPath         = "INVALID_PATH"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeInternalHandlerErr  = "INTERNAL_HANDLER_ERROR"
	CodeBadRequest          = "BAD_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL_ERROR"
)

func statusFor(code string) int {
	switch code {
	case CodePackageIncomplete, CodePackageMalformed, CodeRouteConflict, CodeBadRequest, CodeInvalidPath:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeDeployBusy:
		return http.StatusConflict
	case CodeDeployFailed, CodeValidationFailed, CodeHandlerLoadFailed:
		return http.StatusUnprocessableEntity
	case CodeInternalHandlerErr, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New creates an AppError with the standard status code for code.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusFor(code)}
}

// NewWithDetails creates an AppError carrying extra debugging detail.
func NewWithDetails(code, message, details string) *AppError {
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusFor(code)}
}

// Wrap lifts a Go error into an AppError of the given kind.
func Wrap(code, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewWithDetails(code, message, details)
}

func PackageIncomplete(detail string) *AppError {
	return NewWithDetails(CodePackageIncomplete, "function package is missing required files", detail)
}

func PackageMalformed(detail string) *AppError {
	return NewWithDetails(CodePackageMalformed, "function package metadata is malformed", detail)
}

func HandlerLoadFailed(handlerFile string, err error) *AppError {
	return Wrap(CodeHandlerLoadFailed, fmt.Sprintf("failed to load handler %q", handlerFile), err)
}

func RouteConflict(detail string) *AppError {
	return NewWithDetails(CodeRouteConflict, "route conflicts with an already-loaded function", detail)
}

func DeployBusy(name string) *AppError {
	return New(CodeDeployBusy, fmt.Sprintf("a deploy for %q is already in progress", name))
}

func DeployFailed(reason string) *AppError {
	return New(CodeDeployFailed, reason)
}

func ValidationFailed(detail string) *AppError {
	return NewWithDetails(CodeValidationFailed, "post-deploy validation failed", detail)
}

func InvalidPath(detail string) *AppError {
	return NewWithDetails(CodeInvalidPath, "path resolves outside the allowed directory", detail)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func MethodNotAllowed(method, path string) *AppError {
	return New(CodeMethodNotAllowed, fmt.Sprintf("method %s not allowed for %s", method, path))
}

func InternalHandlerError(err error) *AppError {
	return Wrap(CodeInternalHandlerErr, "handler raised an error", err)
}

func BadRequest(message string) *AppError {
	return New(CodeBadRequest, message)
}

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, message)
}

func Internal(err error) *AppError {
	return Wrap(CodeInternal, "internal error", err)
}
