// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file sets response hardening headers. SecurityHeaders runs on every
// request; NoStore is mounted only on the credential routes (registration and
// login) whose bodies carry account data or bearer tokens and must never land
// in a browser or proxy cache.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// defaultHSTSMaxAge applies when HSTS is enabled without an explicit max age.
const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
//
// HSTS is only emitted for requests that arrived over HTTPS (directly or per
// X-Forwarded-Proto), so enabling it behind a plain-HTTP proxy hop is a no-op
// rather than a lockout.
type SecurityOptions struct {
	EnableHSTS   bool          // Strict-Transport-Security on HTTPS requests
	HSTSMaxAge   time.Duration // <= 0 selects 180 days
	HSTSPreload  bool          // append "preload"; only for domains submitted to the list
	NoStore      bool          // Cache-Control: no-store on every response
	EnablePolicy bool          // Permissions-Policy and X-Permitted-Cross-Domain-Policies
}

// SecurityHeaders returns middleware that adds the baseline API headers
// (nosniff, frame denial, no referrer) plus whatever opt enables. When the
// response already carries X-Request-ID it is added to
// Access-Control-Expose-Headers so browser clients can quote it in reports.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	hsts := hstsValue(opt.HSTSMaxAge, opt.HSTSPreload)
	return func(c *gin.Context) {
		h := c.Writer.Header()

		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.NoStore {
			setNoStore(h)
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if h.Get(requestIDHeader) != "" {
			exposeHeader(h, requestIDHeader)
		}

		c.Next()
	}
}

// NoStore marks responses as uncacheable. Mount it per route for endpoints
// that return credentials or account data.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		setNoStore(c.Writer.Header())
		c.Next()
	}
}

func setNoStore(h http.Header) {
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// hstsValue renders the Strict-Transport-Security value once per middleware.
func hstsValue(maxAge time.Duration, preload bool) string {
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	v := "max-age=" + strconv.FormatInt(int64(maxAge/time.Second), 10) + "; includeSubDomains"
	if preload {
		v += "; preload"
	}
	return v
}

// exposeHeader appends name to Access-Control-Expose-Headers unless it is
// already listed (case-insensitive).
func exposeHeader(h http.Header, name string) {
	const hdr = "Access-Control-Expose-Headers"
	cur := h.Get(hdr)
	if cur == "" {
		h.Set(hdr, name)
		return
	}
	for _, v := range strings.Split(cur, ",") {
		if strings.EqualFold(strings.TrimSpace(v), name) {
			return
		}
	}
	h.Set(hdr, cur+", "+name)
}

// isHTTPS reports whether the request used TLS, directly or at a proxy that
// set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
