// Thread HTTP handlers.
//
//   - GET /messages/{id}/subtree  (a message and all of its descendants)
//   - GET /messages/{id}/thread   (the whole conversation containing {id})
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Subtree godoc
// @ID          subtreeOf
// @Summary     Reply subtree
// @Description Returns the message and every reply beneath it, root first, each parent before its children.
// @Description When a server-side depth cap cuts the walk short, truncated is true.
// @Tags        Threads
// @Produce     json
//
// @Param       id  path  int  true  "Subtree root message ID"  minimum(1)
//
// @Success     200  {object}  handlers.SubtreeResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages/{id}/subtree [get]
func (h *Handlers) Subtree(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	st, err := h.threadSvc.Subtree(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SubtreeResponse{Messages: st.Messages, Truncated: st.Truncated})
}

// Thread godoc
// @ID          threadOf
// @Summary     Whole thread
// @Description Walks up to the root of the thread containing the message and returns the root's subtree.
// @Tags        Threads
// @Produce     json
//
// @Param       id  path  int  true  "Any message ID in the thread"  minimum(1)
//
// @Success     200  {object}  handlers.ThreadResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages/{id}/thread [get]
func (h *Handlers) Thread(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	rootID, st, err := h.threadSvc.ThreadOf(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ThreadResponse{RootID: rootID, Messages: st.Messages, Truncated: st.Truncated})
}
