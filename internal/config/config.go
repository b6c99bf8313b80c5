// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the database, credentials, rate limiting,
// and observability.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-thread-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
	Environment string  // OTEL_DEPLOYMENT_ENVIRONMENT (defaults to GIN_MODE)
}

// DBConfig selects and locates the message store.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH (sqlite file)
	URL    string // DATABASE_URL (postgres DSN)
}

// AuthConfig holds token signing and password hashing settings.
type AuthConfig struct {
	JWTSecret string        // JWT_SECRET (HS256 key, >= 32 bytes outside debug/test)
	JWTIssuer string        // JWT_ISSUER
	TokenTTL  time.Duration // TOKEN_TTL

	Argon2MemoryKiB   uint32 // ARGON2_MEMORY_KIB
	Argon2Iterations  uint32 // ARGON2_ITERATIONS
	Argon2Parallelism uint8  // ARGON2_PARALLELISM

	// Login/registration limiter, keyed by client IP.
	RateRPS   float64 // AUTH_RATE_RPS
	RateBurst int     // AUTH_RATE_BURST
}

// MinJWTSecretLen is the shortest accepted JWT_SECRET outside debug/test.
const MinJWTSecretLen = 32

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	LogRedact      bool   // mask emails, ids and tokens in access logs
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DB DBConfig

	// Credentials
	Auth AuthConfig

	// Threads
	MaxBodyRunes   int // longest accepted message body, in runes
	MaxThreadDepth int // subtree depth cap; 0 means unbounded

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		LogRedact:      getbool("LOG_REDACT", true),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "threads.db"),
			URL:    getenv("DATABASE_URL", ""),
		},

		// Credentials
		Auth: AuthConfig{
			JWTSecret:         getenv("JWT_SECRET", ""),
			JWTIssuer:         getenv("JWT_ISSUER", "go-thread-backend"),
			TokenTTL:          getdur("TOKEN_TTL", 24*time.Hour),
			Argon2MemoryKiB:   uint32(getbounded("ARGON2_MEMORY_KIB", 64*1024, 0, 4<<20)),
			Argon2Iterations:  uint32(getbounded("ARGON2_ITERATIONS", 3, 0, 64)),
			Argon2Parallelism: uint8(getbounded("ARGON2_PARALLELISM", 2, 0, 255)),
			RateRPS:           getfloat("AUTH_RATE_RPS", 1.0),
			RateBurst:         getint("AUTH_RATE_BURST", 5),
		},

		// Threads
		MaxBodyRunes:   getint("MAX_BODY_RUNES", 4000),
		MaxThreadDepth: getint("MAX_THREAD_DEPTH", 0),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-thread-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
			Environment: getenv("OTEL_DEPLOYMENT_ENVIRONMENT", ""),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.OTEL.Environment == "" {
		cfg.OTEL.Environment = cfg.GinMode
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if err := validateAuth(&cfg); err != nil {
		return cfg, err
	}
	if cfg.MaxBodyRunes <= 0 {
		return cfg, errors.New("MAX_BODY_RUNES must be > 0")
	}
	if cfg.MaxThreadDepth < 0 {
		return cfg, errors.New("MAX_THREAD_DEPTH must be >= 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// validateAuth checks credential settings. Outside debug/test a missing or
// short JWT_SECRET is fatal; in debug/test a random per-process secret is
// generated instead, so tokens do not survive a restart.
func validateAuth(cfg *Config) error {
	a := &cfg.Auth
	dev := cfg.GinMode == "debug" || cfg.GinMode == "test"
	switch {
	case a.JWTSecret == "" && dev:
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("generate dev JWT secret: %w", err)
		}
		a.JWTSecret = secret
	case len(a.JWTSecret) < MinJWTSecretLen && !dev:
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretLen)
	}
	if a.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be > 0")
	}
	if a.Argon2MemoryKiB < 8 || a.Argon2Iterations < 1 || a.Argon2Parallelism < 1 {
		return errors.New("ARGON2_* must be positive (memory >= 8 KiB)")
	}
	if a.RateRPS < 0 {
		return errors.New("AUTH_RATE_RPS must be >= 0")
	}
	if a.RateBurst < 1 {
		return errors.New("AUTH_RATE_BURST must be >= 1")
	}
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, MinJWTSecretLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getbounded is getint that maps values outside [lo, hi] to lo, which the
// validation step then rejects.
func getbounded(k string, def, lo, hi int) int {
	v := getint(k, def)
	if v < lo || v > hi {
		return lo
	}
	return v
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
