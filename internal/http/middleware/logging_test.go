package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })
	log.Logger = zerolog.New(&buf)
	return &buf
}

// logLines decodes every JSON line written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(ln), &m); err != nil {
			t.Fatalf("bad log line %q: %v", ln, err)
		}
		out = append(out, m)
	}
	return out
}

// findLog returns the first line whose message is msg.
func findLog(t *testing.T, lines []map[string]any, msg string) map[string]any {
	t.Helper()
	for _, m := range lines {
		if m["message"] == msg {
			return m
		}
	}
	t.Fatalf("no %q line in %v", msg, lines)
	return nil
}

// tokenAuth resolves "tok-7" to user 7 and rejects everything else.
var tokenAuth = AuthenticatorFunc(func(_ context.Context, tok string) (int64, error) {
	if tok == "tok-7" {
		return 7, nil
	}
	return 0, ErrInvalidToken
})

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/api/v1/messages/:id", func(c *gin.Context) {
		if v, ok := c.Get(requestIDKey); !ok || v == "" {
			t.Fatalf("requestID not set in context")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/messages/1", nil))
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected generated %s header", requestIDHeader)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/1", nil)
	req.Header.Set(strings.ToLower(requestIDHeader), "abc-123")
	r.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}

func TestLogger_AccessLine(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger(), Authenticate(tokenAuth))
	r.GET("/api/v1/messages/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.DELETE("/api/v1/messages/:id", func(c *gin.Context) {
		_ = c.Error(errSentinel{})
		c.Status(http.StatusForbidden)
	})

	cases := []struct {
		name, method, path, token string
		level, logPath            string
		userID                    float64 // 0 means absent
	}{
		{"anonymous read", http.MethodGet, "/api/v1/messages/3", "", "info", "/api/v1/messages/:id", 0},
		{"authenticated read", http.MethodGet, "/api/v1/messages/3", "tok-7", "info", "/api/v1/messages/:id", 7},
		{"rejected token", http.MethodGet, "/api/v1/messages/3", "forged", "info", "/api/v1/messages/:id", 0},
		{"gin error", http.MethodDelete, "/api/v1/messages/3", "tok-7", "error", "/api/v1/messages/:id", 7},
		{"no route", http.MethodGet, "/api/v1/nope", "", "warn", "/api/v1/nope", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			r.ServeHTTP(httptest.NewRecorder(), req)

			line := findLog(t, logLines(t, buf), "request")
			if line["level"] != tc.level || line["path"] != tc.logPath || line["method"] != tc.method {
				t.Fatalf("unexpected access line: %v", line)
			}
			if line["request_id"] == "" || line["request_id"] == nil {
				t.Fatalf("missing request_id: %v", line)
			}
			uid, has := line["user_id"]
			if tc.userID == 0 && has {
				t.Fatalf("anonymous request logged user_id=%v", uid)
			}
			if tc.userID != 0 && uid != tc.userID {
				t.Fatalf("user_id = %v; want %v", uid, tc.userID)
			}
		})
	}
}

type errSentinel struct{}

func (e errSentinel) Error() string { return "boom" }

func TestLoggerFrom_RequestScoped(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger(), Authenticate(tokenAuth))
	r.PUT("/api/v1/messages/:id", func(c *gin.Context) {
		LoggerFrom(c).Info().Str("message_id", c.Param("id")).Msg("edit")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPut, "/api/v1/messages/42", nil)
	req.Header.Set(requestIDHeader, "rid-42")
	req.Header.Set("Authorization", "Bearer tok-7")
	r.ServeHTTP(httptest.NewRecorder(), req)

	line := findLog(t, logLines(t, buf), "edit")
	if line["request_id"] != "rid-42" ||
		line["method"] != http.MethodPut ||
		line["path"] != "/api/v1/messages/:id" ||
		line["user_id"] != float64(7) ||
		line["message_id"] != "42" {
		t.Fatalf("handler log missing request scope: %v", line)
	}
}

func TestLoggerFrom_Fallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.GET("/health", func(c *gin.Context) {
		lg := LoggerFrom(c)
		if lg == nil {
			t.Fatalf("LoggerFrom returned nil")
		}
		lg.Info().Msg("custom")
		c.Status(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	line := findLog(t, logLines(t, buf), "custom")
	if _, ok := line["request_id"]; ok {
		t.Fatalf("fallback logger unexpectedly had request_id: %v", line)
	}
}

func TestRecovery_PanicsToJSON500AndLogs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery())
	r.GET("/api/v1/messages/:id/subtree", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/1/subtree", nil)
	req.Header.Set(requestIDHeader, "rid-panic")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 from Recovery, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if body["code"] != "internal_error" || body["request_id"] != "rid-panic" {
		t.Fatalf("unexpected body: %v", body)
	}
	line := findLog(t, logLines(t, buf), "panic recovered")
	if line["request_id"] != "rid-panic" || line["panic"] != "kaboom" {
		t.Fatalf("panic log missing context: %v", line)
	}
}

func TestRecovery_PanicAfterWrite_NoJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Logger(), Recovery())
	r.GET("/partial", func(c *gin.Context) {
		c.String(http.StatusOK, "partial-body")
		panic("late kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/partial", nil))

	if strings.Contains(strings.ToLower(w.Header().Get("Content-Type")), "application/json") {
		t.Fatalf("JSON error body after partial write: CT=%q body=%q",
			w.Header().Get("Content-Type"), w.Body.String())
	}
	findLog(t, logLines(t, buf), "panic recovered")
}

func TestHelpers_asString_and_truncate(t *testing.T) {
	if asString("x") != "x" || asString(123) != "" {
		t.Fatalf("asString failed")
	}
	if truncate("start=2025", 20) != "start=2025" {
		t.Fatalf("truncate no-op failed")
	}
	if got := truncate("abcdefgh", 5); got != "abcde…" {
		t.Fatalf("truncate result = %q", got)
	}
	if truncate("abc", 0) != "abc" {
		t.Fatalf("truncate disable failed")
	}
}
