// Message HTTP handlers.
//
// This file exposes REST endpoints for messages:
//   - POST   /messages               (create; Bearer; Idempotency-Key aware)
//   - GET    /messages/{id}          (read one)
//   - PUT    /messages/{id}          (edit body; Bearer, author only)
//   - DELETE /messages/{id}          (delete; Bearer, author only)
//   - GET    /users/{id}/messages    (by author within an optional time window, ETag)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, route, key), the handler returns that recorded
// message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-thread-backend/internal/http/middleware"
	"github.com/tbourn/go-thread-backend/internal/services"
	"github.com/tbourn/go-thread-backend/internal/utils"
)

// CreateMessage godoc
// @ID          createMessage
// @Summary     Post a message
// @Description Creates a root message, or a reply when parentId is set. userId must be the token's user.
// @Description Supports idempotency via the Idempotency-Key header (same key → same message).
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateMessageRequest  true  "Message payload"
//
// @Success     201  {object}  domain.Message
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing, invalid or expired token"
// @Failure     403  {object}  handlers.ErrorResponse  "userId is not the caller"
// @Failure     404  {object}  handlers.ErrorResponse  "User or parent message not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages [post]
func (h *Handlers) CreateMessage(c *gin.Context) {
	ctx := c.Request.Context()
	actor, okActor := actorID(c)
	if !okActor {
		return
	}

	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "userId and message are required")
		return
	}
	if req.UserID <= 0 || (req.ParentID != nil && *req.ParentID <= 0) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ids must be positive integers")
		return
	}

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	scope := middleware.IdempotencyScope(c)
	if idemKey != "" && h.idem != nil {
		if id, found, err := h.idem.Find(ctx, actor, scope, idemKey, time.Now().UTC()); err == nil && found {
			if prev, err := h.msgSvc.Get(ctx, id); err == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusCreated, prev)
				return
			}
		}
	}

	m, err := h.msgSvc.Create(ctx, actor, req.UserID, req.Message, req.ParentID)
	if err != nil {
		failErr(c, err)
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" && h.idem != nil {
		if err := h.idem.Save(ctx, actor, scope, idemKey, m.ID, http.StatusCreated); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not saved")
		}
	}

	c.Header("Location", fmt.Sprintf("%s/%d", c.Request.URL.Path, m.ID))
	ok(c, http.StatusCreated, m)
}

// GetMessage godoc
// @ID          getMessage
// @Summary     Get a message
// @Tags        Messages
// @Produce     json
//
// @Param       id  path  int  true  "Message ID"  minimum(1)
//
// @Success     200  {object}  domain.Message
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages/{id} [get]
func (h *Handlers) GetMessage(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	m, err := h.msgSvc.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// ModifyMessage godoc
// @ID          modifyMessage
// @Summary     Edit a message
// @Description Replaces the body. Only the author may edit; messageTime and createdAt never change.
// @Tags        Messages
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  int                            true  "Message ID"  minimum(1)
// @Param       body  body  handlers.ModifyMessageRequest  true  "New body"
//
// @Success     200  {object}  domain.Message
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing, invalid or expired token"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the author"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages/{id} [put]
func (h *Handlers) ModifyMessage(c *gin.Context) {
	actor, okActor := actorID(c)
	if !okActor {
		return
	}
	id, okID := pathID(c)
	if !okID {
		return
	}
	var req ModifyMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message is required")
		return
	}

	m, err := h.msgSvc.Modify(c.Request.Context(), actor, id, req.Message)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// DeleteMessage godoc
// @ID          deleteMessage
// @Summary     Delete a message
// @Description Deletes the message. Direct replies are detached and become thread roots.
// @Tags        Messages
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  int  true  "Message ID"  minimum(1)
//
// @Success     200  {object}  handlers.DeleteMessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing, invalid or expired token"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the author"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages/{id} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	actor, okActor := actorID(c)
	if !okActor {
		return
	}
	id, okID := pathID(c)
	if !okID {
		return
	}

	deleted, err := h.msgSvc.Delete(c.Request.Context(), actor, id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, DeleteMessageResponse{ID: deleted})
}

// ListUserMessages godoc
// @ID          listUserMessages
// @Summary     Messages by author
// @Description Lists an author's messages whose messageTime lies in [start, end]. Both bounds are optional RFC 3339 timestamps.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
//
// @Param       id             path    int     true   "Author (user) ID"  minimum(1)
// @Param       start          query   string  false  "Inclusive lower bound (RFC 3339)"  example(2025-01-01T00:00:00Z)
// @Param       end            query   string  false  "Inclusive upper bound (RFC 3339)"  example(2025-12-31T23:59:59Z)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
//
// @Success     200  {object} handlers.MessagesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /users/{id}/messages [get]
func (h *Handlers) ListUserMessages(c *gin.Context) {
	ctx := c.Request.Context()
	authorID, okID := pathID(c)
	if !okID {
		return
	}
	start, err := utils.ParseOptionalTime(c.Query("start"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "start must be an RFC 3339 timestamp")
		return
	}
	end, err := utils.ParseOptionalTime(c.Query("end"))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "end must be an RFC 3339 timestamp")
		return
	}

	// A 304 must not mask an invalid window.
	if start != nil && end != nil && start.After(*end) {
		failErr(c, services.ErrInvalidRange)
		return
	}

	// ETag pre-check (best effort).
	if count, maxTS, err := h.msgSvc.AuthorStats(ctx, authorID); err == nil && count > 0 {
		etag := fmt.Sprintf(`W/"user-messages:%d:%d:%d:%s:%s"`, authorID, count, unixOrZero(maxTS), boundKey(start), boundKey(end))
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			notModified(c)
			return
		}
	}

	items, err := h.msgSvc.FindByAuthorAndTimeRange(ctx, authorID, start, end)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MessagesResponse{Messages: items})
}

func unixOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMicro()
}

// boundKey renders an optional bound for the ETag; "-" marks an open bound.
func boundKey(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprint(t.UnixMicro())
}
