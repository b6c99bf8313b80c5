// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package) and the translation of service errors
// into status/code pairs. These codes provide clients with a stable,
// machine-readable error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Credential codes (invalid_credentials, token_expired, invalid_token) let
//     clients tell "log in again" apart from "wrong password".
//   - All error responses must include both an HTTP status and one of these codes.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "not_found",
//	  "message": "Parent message not found."
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-thread-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Credential-specific:
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeTokenExpired       = "token_expired"
	ErrCodeInvalidToken       = "invalid_token"

	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// failErr translates a service error into the matching response. Not-found
// errors keep their display-ready message; unexpected failures are reported
// generically and logged by fail.
func failErr(c *gin.Context, err error) {
	var nf *services.NotFoundError
	switch {
	case errors.As(err, &nf):
		fail(c, http.StatusNotFound, ErrCodeNotFound, nf.Message)
	case errors.Is(err, services.ErrInvalidInput):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid email or password")
	case errors.Is(err, services.ErrTokenExpired):
		fail(c, http.StatusUnauthorized, ErrCodeTokenExpired, "token expired")
	case errors.Is(err, services.ErrInvalidToken):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidToken, "invalid token")
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not allowed to act on this message")
	case errors.Is(err, services.ErrDuplicateEmail):
		fail(c, http.StatusConflict, ErrCodeConflict, "email already registered")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// AuthErrorCode classifies authentication errors for middleware.RequireAuth.
func AuthErrorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrTokenExpired):
		return ErrCodeTokenExpired
	case errors.Is(err, services.ErrInvalidToken):
		return ErrCodeInvalidToken
	}
	return ""
}
