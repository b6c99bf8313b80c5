// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// authentication, CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-thread-backend/docs"
	"github.com/tbourn/go-thread-backend/internal/auth"
	"github.com/tbourn/go-thread-backend/internal/config"
	"github.com/tbourn/go-thread-backend/internal/http/handlers"
	"github.com/tbourn/go-thread-backend/internal/http/middleware"
	"github.com/tbourn/go-thread-backend/internal/repo"
	"github.com/tbourn/go-thread-backend/internal/services"
)

// idempotencyStore adapts the repository idempotency functions to
// handlers.IdempotencyStore. Records live for ttl.
type idempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// Find proxies repo.GetIdempotency; expired and missing records are "not found".
func (s idempotencyStore) Find(ctx context.Context, userID int64, scope, key string, now time.Time) (int64, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rec.MessageID, true, nil
}

// Save proxies repo.CreateIdempotency. A concurrent retry that already
// recorded the key wins; that is not an error.
func (s idempotencyStore) Save(ctx context.Context, userID int64, scope, key string, messageID int64, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, scope, key, messageID, status, s.ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// lookup adapts Find to middleware.IdempotencyLookup.
func (s idempotencyStore) lookup(ctx context.Context, userID int64, scope, key string, now time.Time) (bool, error) {
	_, found, err := s.Find(ctx, userID, scope, key, now)
	return found, err
}

// Services bundles the application services the router mounts.
type Services struct {
	Users    *services.UserService
	Messages *services.MessageService
	Threads  *services.ThreadService
}

// NewServices builds the services from configuration over db.
func NewServices(db *gorm.DB, cfg config.Config) Services {
	tokens := auth.NewTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)
	v := services.Validator{}
	return Services{
		Users: &services.UserService{
			DB:        db,
			Tokens:    tokens,
			Validator: v,
			Argon2: auth.Argon2Params{
				MemoryKiB:   cfg.Auth.Argon2MemoryKiB,
				Iterations:  cfg.Auth.Argon2Iterations,
				Parallelism: cfg.Auth.Argon2Parallelism,
			},
		},
		Messages: &services.MessageService{
			DB:           db,
			Validator:    v,
			MaxBodyRunes: cfg.MaxBodyRunes,
		},
		Threads: &services.ThreadService{
			DB:        db,
			Validator: v,
			MaxDepth:  cfg.MaxThreadDepth,
		},
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), authentication,
// idempotency and rate limiting, CORS and security headers, health and
// metrics endpoints, and then mounts the versioned public API under
// cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger (RedactingLogger when LOG_REDACT): structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Authenticate: resolve the bearer token to a user id (never aborts)
//  8. Idempotency validator (keyed by user, before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS, security headers and gzip
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	svc := NewServices(db, cfg)
	idem := idempotencyStore{db: db, ttl: cfg.IdempotencyTTL}

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging, optionally with redaction
	if cfg.LogRedact {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{middleware.HeaderIdempotencyKey},
		}))
	} else {
		r.Use(middleware.Logger())
	}

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Bearer token → user id
	r.Use(middleware.Authenticate(svc.Users))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		idem.lookup,
	))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag", "Location", "Idempotency-Replayed"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		corsCfg.AllowAllOrigins = true // AllowCredentials must remain false
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	// Compress JSON responses; scrapers negotiate their own encoding.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(svc.Users, svc.Messages, svc.Threads, idem)
	authn := middleware.RequireAuth(handlers.AuthErrorCode)

	// Credential endpoints get a stricter per-IP limiter to slow down
	// password guessing; argon2 makes each attempt expensive for us too.
	// Their responses carry account data or tokens and are never cached.
	authRL := middleware.NewRateLimiter(cfg.Auth.RateRPS, cfg.Auth.RateBurst, middleware.KeyByIP())
	noStore := middleware.NoStore()

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Accounts
		api.POST("/users", authRL.Handler(), noStore, h.Register)
		api.POST("/auth/login", authRL.Handler(), noStore, h.Login)
		api.GET("/users/:id", h.GetUser)
		api.GET("/users/:id/messages", h.ListUserMessages)

		// Messages
		api.POST("/messages", authn, h.CreateMessage)
		api.GET("/messages/:id", h.GetMessage)
		api.PUT("/messages/:id", authn, h.ModifyMessage)
		api.DELETE("/messages/:id", authn, h.DeleteMessage)

		// Threads
		api.GET("/messages/:id/subtree", h.Subtree)
		api.GET("/messages/:id/thread", h.Thread)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
