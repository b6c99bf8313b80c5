// Package handlers implements the HTTP endpoints of the public API.
//
// This file declares the service contracts the handlers depend on, the
// Handlers aggregate and the request/response DTOs. Handlers are
// transport-thin: they validate input shape, call application services, and
// translate results into HTTP responses (including conditional responses and
// idempotent replays).
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-thread-backend/internal/domain"
	"github.com/tbourn/go-thread-backend/internal/http/middleware"
	"github.com/tbourn/go-thread-backend/internal/services"
	"github.com/tbourn/go-thread-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// UserService covers registration and login.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type UserService interface {
	// Register creates a user and returns its public view.
	Register(ctx context.Context, name, email, password string) (*domain.PublicUser, error)
	// Login checks credentials and issues an access token.
	Login(ctx context.Context, email, password string) (*services.Token, error)
	// GetPublic returns the public profile of a user.
	GetPublic(ctx context.Context, userID int64) (*domain.PublicUser, error)
}

// MessageService defines message lifecycle and query operations. actorID is
// always the authenticated caller.
type MessageService interface {
	Create(ctx context.Context, actorID, authorID int64, body string, parentID *int64) (*domain.Message, error)
	Get(ctx context.Context, messageID int64) (*domain.Message, error)
	Modify(ctx context.Context, actorID, messageID int64, body string) (*domain.Message, error)
	Delete(ctx context.Context, actorID, messageID int64) (int64, error)
	FindByAuthorAndTimeRange(ctx context.Context, authorID int64, start, end *time.Time) ([]domain.Message, error)
	// AuthorStats returns the message count and latest update of an author
	// (for ETags).
	AuthorStats(ctx context.Context, authorID int64) (int64, *time.Time, error)
}

// ThreadService reconstructs reply trees. A subtree may be cut short by the
// configured depth cap; Truncated says so.
type ThreadService interface {
	Subtree(ctx context.Context, rootID int64) (*services.Subtree, error)
	ThreadOf(ctx context.Context, messageID int64) (int64, *services.Subtree, error)
}

// IdempotencyStore remembers which message a (user, scope, key) produced so
// retried POSTs can be replayed instead of creating duplicates.
type IdempotencyStore interface {
	Find(ctx context.Context, userID int64, scope, key string, now time.Time) (messageID int64, found bool, err error)
	Save(ctx context.Context, userID int64, scope, key string, messageID int64, status int) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for users, messages and threads.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	userSvc   UserService
	msgSvc    MessageService
	threadSvc ThreadService
	idem      IdempotencyStore // optional
}

// New constructs a Handlers instance bound to the given services. idem may be
// nil to disable replay of Idempotency-Key requests.
func New(userSvc UserService, msgSvc MessageService, threadSvc ThreadService, idem IdempotencyStore) *Handlers {
	return &Handlers{userSvc: userSvc, msgSvc: msgSvc, threadSvc: threadSvc, idem: idem}
}

//
// DTOs
//

// RegisterRequest is the JSON payload for creating an account.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required" example:"Ada Lovelace"`
	Email    string `json:"email" binding:"required" example:"ada@example.com"`
	Password string `json:"password" binding:"required" example:"correct horse battery staple"`
}

// LoginRequest is the JSON payload for obtaining a token.
type LoginRequest struct {
	Email    string `json:"email" binding:"required" example:"ada@example.com"`
	Password string `json:"password" binding:"required" example:"correct horse battery staple"`
}

// CreateMessageRequest is the JSON payload for posting a message. userId must
// match the bearer token's subject.
type CreateMessageRequest struct {
	UserID   int64  `json:"userId" binding:"required" example:"7"`
	Message  string `json:"message" binding:"required" example:"Has anyone tried the new release?"`
	ParentID *int64 `json:"parentId,omitempty" example:"42"`
}

// ModifyMessageRequest is the JSON payload for editing a message.
type ModifyMessageRequest struct {
	Message string `json:"message" binding:"required" example:"Edited: has anyone tried v2?"`
}

// DeleteMessageResponse confirms a deletion.
type DeleteMessageResponse struct {
	ID int64 `json:"id" example:"42"`
}

// MessagesResponse wraps a list of messages.
type MessagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

// SubtreeResponse is a message and its replies. Truncated is true when the
// server's depth cap left deeper replies out.
type SubtreeResponse struct {
	Messages  []domain.Message `json:"messages"`
	Truncated bool             `json:"truncated" example:"false"`
}

// ThreadResponse is a whole conversation and the id of its root.
type ThreadResponse struct {
	RootID    int64            `json:"rootId" example:"1"`
	Messages  []domain.Message `json:"messages"`
	Truncated bool             `json:"truncated" example:"false"`
}

//
// Helpers
//

// pathID parses the ":id" path parameter, writing a 400 on failure.
func pathID(c *gin.Context) (int64, bool) {
	id, err := utils.ParseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// actorID returns the authenticated caller. Routes using it sit behind
// middleware.RequireAuth; the 401 here only guards against misconfiguration.
func actorID(c *gin.Context) (int64, bool) {
	uid, ok := middleware.UserIDFrom(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return 0, false
	}
	return uid, true
}
