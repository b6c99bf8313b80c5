// Account HTTP handlers.
//
// This file exposes the credential endpoints:
//   - POST /users        (register)
//   - POST /auth/login   (exchange email + password for a bearer token)
//   - GET  /users/{id}   (public profile)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Register godoc
// @ID          register
// @Summary     Register a user
// @Description Creates an account. The password is stored as an argon2id hash and never returned.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.RegisterRequest  true  "Registration payload"
//
// @Success     201  {object}  domain.PublicUser
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Email already registered"
// @Failure     429  {object}  handlers.ErrorResponse  "Too many requests"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name, email and password are required")
		return
	}

	u, err := h.userSvc.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, u)
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Description Verifies the password and returns a bearer token valid for 24 hours.
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.LoginRequest  true  "Credentials"
//
// @Success     200  {object}  services.Token
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid credentials"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     429  {object}  handlers.ErrorResponse  "Too many requests"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and password are required")
		return
	}

	tok, err := h.userSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, tok)
}

// GetUser godoc
// @ID          getUser
// @Summary     Public profile
// @Tags        Auth
// @Produce     json
//
// @Param       id  path  int  true  "User ID"  minimum(1)
//
// @Success     200  {object}  domain.PublicUser
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	u, err := h.userSvc.GetPublic(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}
