// Package errors defines the service error taxonomy shared across the gateway.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies an error class in responses and logs.
type Code string

const (
	CodeInvalidToken          Code = "invalid_token"
	CodeNoOrganizationContext Code = "no_organization_context"
	CodeActorNotMember        Code = "actor_not_member"
	CodeBadRequest            Code = "bad_request"
	CodeRateLimitExceeded     Code = "rate_limit_exceeded"
	CodeBackendError          Code = "backend_error"
	CodeNotFound              Code = "not_found"
	CodeMethodNotAllowed      Code = "method_not_allowed"
	CodeInternal              Code = "internal_error"
)

// ServiceError carries an error code, an HTTP status and optional details.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair to the error for responses and logs.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetServiceError unwraps err to a *ServiceError, or nil if there is none.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if stderrors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// InvalidToken reports a missing or unverifiable credential.
func InvalidToken(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidToken,
		Message:    "missing or invalid credential",
		HTTPStatus: http.StatusUnauthorized,
		Err:        err,
	}
}

// NoOrganizationContext reports that no tenant could be resolved for the actor.
func NoOrganizationContext() *ServiceError {
	return &ServiceError{
		Code:       CodeNoOrganizationContext,
		Message:    "no organization context could be resolved",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NotMember reports that the actor is not an active member of the requested organization.
func NotMember(organizationID string) *ServiceError {
	return (&ServiceError{
		Code:       CodeActorNotMember,
		Message:    "actor is not a member of the requested organization",
		HTTPStatus: http.StatusForbidden,
	}).WithDetails("organization_id", organizationID)
}

// Guardrail reports a guardrail violation. The reason becomes part of the
// wire-visible error code, e.g. "guardrail_violation:GL_NOT_BALANCED".
func Guardrail(reason string) *ServiceError {
	return &ServiceError{
		Code:       Code("guardrail_violation:" + reason),
		Message:    "request rejected by gateway guardrails",
		HTTPStatus: http.StatusBadRequest,
	}
}

// RateLimitExceeded reports that the sliding window for the key is full.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return (&ServiceError{
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
	}).WithDetails("limit", limit).WithDetails("window", window)
}

// BadRequest reports a malformed request body.
func BadRequest(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Backend surfaces an error classified by the backing store. The backend is
// trusted to have classified the failure, so it maps to a 400.
func Backend(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeBackendError,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NotFound reports an unknown route.
func NotFound() *ServiceError {
	return &ServiceError{
		Code:       CodeNotFound,
		Message:    "unknown route",
		HTTPStatus: http.StatusNotFound,
	}
}

// MethodNotAllowed reports an unsupported method on a known route.
func MethodNotAllowed() *ServiceError {
	return &ServiceError{
		Code:       CodeMethodNotAllowed,
		Message:    "method not allowed",
		HTTPStatus: http.StatusMethodNotAllowed,
	}
}

// Internal wraps an unhandled failure.
func Internal(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}
