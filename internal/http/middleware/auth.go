// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication. Authenticate runs once,
// globally: it resolves "Authorization: Bearer <token>" to a user id and
// stores it in the Gin context, or remembers why it could not. RequireAuth is
// mounted on the routes that mutate content and turns a missing or rejected
// token into a 401.
//
// Keeping the two apart lets the idempotency and rate-limit middleware key
// their state by user before the route handler runs.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// userIDKey holds the authenticated user id (int64).
	userIDKey = "userID"
	// authErrKey holds the error from a rejected token.
	authErrKey = "auth.err"
)

// Sentinel auth errors recognized by RequireAuth. Authenticators should wrap
// or return these so the response carries the right code.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

// Authenticator resolves a raw bearer token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (int64, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, token string) (int64, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (int64, error) {
	return f(ctx, token)
}

// ErrorClassifier maps an authenticator error to a response code. It returns
// "token_expired", "invalid_token", or "" when the error is not an auth
// failure (which is then treated as internal).
type ErrorClassifier func(error) string

// defaultClassifier understands the sentinels declared in this file.
func defaultClassifier(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	}
	return ""
}

// UserIDFrom returns the authenticated user id, if any.
func UserIDFrom(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}

// bearerToken extracts the token from an Authorization header. The scheme is
// case-insensitive.
func bearerToken(h string) (string, bool) {
	scheme, tok, found := strings.Cut(strings.TrimSpace(h), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// Authenticate verifies a bearer token when one is present. It never aborts:
// a valid token sets the user id, a bad one records the error for
// RequireAuth, and no header leaves the request anonymous.
func Authenticate(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			c.Next()
			return
		}
		tok, ok := bearerToken(h)
		if !ok {
			c.Set(authErrKey, ErrInvalidToken)
			c.Next()
			return
		}
		uid, err := a.Authenticate(c.Request.Context(), tok)
		if err != nil {
			c.Set(authErrKey, err)
			c.Next()
			return
		}
		c.Set(userIDKey, uid)
		c.Next()
	}
}

// RequireAuth rejects requests that Authenticate could not attribute to a
// user. classify may be nil to use the sentinels in this package.
//
// Responses:
//   - no credentials:   401 {"code":"unauthorized"} with WWW-Authenticate
//   - expired token:    401 {"code":"token_expired"}
//   - any other reject: 401 {"code":"invalid_token"}
//   - lookup failure:   500 {"code":"internal_error"}
func RequireAuth(classify ErrorClassifier) gin.HandlerFunc {
	if classify == nil {
		classify = defaultClassifier
	}
	return func(c *gin.Context) {
		if _, ok := UserIDFrom(c); ok {
			c.Next()
			return
		}

		rid := c.Writer.Header().Get(requestIDHeader)
		v, rejected := c.Get(authErrKey)
		if !rejected {
			authRejections.WithLabelValues("unauthorized").Inc()
			c.Header("WWW-Authenticate", `Bearer realm="api"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": rid,
				"code":       "unauthorized",
				"message":    "missing bearer token",
			})
			return
		}

		err, _ := v.(error)
		code := classify(err)
		if code == "" {
			LoggerFrom(c).Error().Err(err).Msg("authentication lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
			return
		}

		authRejections.WithLabelValues(code).Inc()
		msg := "invalid token"
		if code == "token_expired" {
			msg = "token expired"
		}
		c.Header("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"request_id": rid,
			"code":       code,
			"message":    msg,
		})
	}
}
