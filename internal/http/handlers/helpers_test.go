package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-thread-backend/internal/domain"
	"github.com/tbourn/go-thread-backend/internal/http/middleware"
	"github.com/tbourn/go-thread-backend/internal/services"
)

// ---------- stubs ----------

type stubUserSvc struct {
	register func(ctx context.Context, name, email, password string) (*domain.PublicUser, error)
	login    func(ctx context.Context, email, password string) (*services.Token, error)
	public   func(ctx context.Context, userID int64) (*domain.PublicUser, error)
}

func (s stubUserSvc) Register(ctx context.Context, name, email, password string) (*domain.PublicUser, error) {
	return s.register(ctx, name, email, password)
}

func (s stubUserSvc) Login(ctx context.Context, email, password string) (*services.Token, error) {
	return s.login(ctx, email, password)
}

func (s stubUserSvc) GetPublic(ctx context.Context, userID int64) (*domain.PublicUser, error) {
	return s.public(ctx, userID)
}

type stubMsgSvc struct {
	create func(ctx context.Context, actorID, authorID int64, body string, parentID *int64) (*domain.Message, error)
	get    func(ctx context.Context, id int64) (*domain.Message, error)
	modify func(ctx context.Context, actorID, id int64, body string) (*domain.Message, error)
	del    func(ctx context.Context, actorID, id int64) (int64, error)
	find   func(ctx context.Context, authorID int64, start, end *time.Time) ([]domain.Message, error)
	stats  func(ctx context.Context, authorID int64) (int64, *time.Time, error)
}

func (s stubMsgSvc) Create(ctx context.Context, actorID, authorID int64, body string, parentID *int64) (*domain.Message, error) {
	return s.create(ctx, actorID, authorID, body, parentID)
}
func (s stubMsgSvc) Get(ctx context.Context, id int64) (*domain.Message, error) { return s.get(ctx, id) }
func (s stubMsgSvc) Modify(ctx context.Context, actorID, id int64, body string) (*domain.Message, error) {
	return s.modify(ctx, actorID, id, body)
}
func (s stubMsgSvc) Delete(ctx context.Context, actorID, id int64) (int64, error) {
	return s.del(ctx, actorID, id)
}
func (s stubMsgSvc) FindByAuthorAndTimeRange(ctx context.Context, authorID int64, start, end *time.Time) ([]domain.Message, error) {
	return s.find(ctx, authorID, start, end)
}
func (s stubMsgSvc) AuthorStats(ctx context.Context, authorID int64) (int64, *time.Time, error) {
	if s.stats == nil {
		return 0, nil, nil
	}
	return s.stats(ctx, authorID)
}

type stubThreadSvc struct {
	subtree func(ctx context.Context, rootID int64) (*services.Subtree, error)
	thread  func(ctx context.Context, id int64) (int64, *services.Subtree, error)
}

func (s stubThreadSvc) Subtree(ctx context.Context, rootID int64) (*services.Subtree, error) {
	return s.subtree(ctx, rootID)
}
func (s stubThreadSvc) ThreadOf(ctx context.Context, id int64) (int64, *services.Subtree, error) {
	return s.thread(ctx, id)
}

// memIdem is an in-memory IdempotencyStore.
type memIdem struct {
	mu   sync.Mutex
	rows map[string]int64
}

func newMemIdem() *memIdem { return &memIdem{rows: map[string]int64{}} }

func (m *memIdem) key(userID int64, scope, key string) string {
	return fmt.Sprintf("%d|%s|%s", userID, scope, key)
}

func (m *memIdem) Find(_ context.Context, userID int64, scope, key string, _ time.Time) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.rows[m.key(userID, scope, key)]
	return id, ok, nil
}

func (m *memIdem) Save(_ context.Context, userID int64, scope, key string, messageID int64, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[m.key(userID, scope, key)] = messageID
	return nil
}

// ---------- plumbing ----------

// tokenUsers maps bearer tokens to user ids for tests.
var tokenUsers = map[string]int64{"tok-7": 7, "tok-8": 8}

var errStubExpired = errors.New("stub: expired")

func testAuthenticator() middleware.Authenticator {
	return middleware.AuthenticatorFunc(func(_ context.Context, tok string) (int64, error) {
		if tok == "expired" {
			return 0, errStubExpired
		}
		if id, ok := tokenUsers[tok]; ok {
			return id, nil
		}
		return 0, services.ErrInvalidToken
	})
}

func testClassifier(err error) string {
	if errors.Is(err, errStubExpired) {
		return ErrCodeTokenExpired
	}
	return AuthErrorCode(err)
}

// newRouter mounts the handlers the way the production router does, minus
// the outer middleware.
func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Authenticate(testAuthenticator()))
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	authn := middleware.RequireAuth(testClassifier)

	r.POST("/users", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/users/:id", h.GetUser)
	r.GET("/users/:id/messages", h.ListUserMessages)
	r.POST("/messages", authn, h.CreateMessage)
	r.GET("/messages/:id", h.GetMessage)
	r.PUT("/messages/:id", authn, h.ModifyMessage)
	r.DELETE("/messages/:id", authn, h.DeleteMessage)
	r.GET("/messages/:id/subtree", h.Subtree)
	r.GET("/messages/:id/thread", h.Thread)
	return r
}

func do(t *testing.T, r http.Handler, method, path, token, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func ptr[T any](v T) *T { return &v }
