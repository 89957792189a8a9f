package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zivenyang/auth-api/internal/models"
	"github.com/zivenyang/auth-api/internal/service"
	appErrors "github.com/zivenyang/auth-api/pkg/errors"
	"github.com/zivenyang/auth-api/pkg/response"
)

// AuthHandler wires the authentication endpoints to the auth and user
// services.
type AuthHandler struct {
	auth  *service.AuthService
	users *service.UserService
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(auth *service.AuthService, users *service.UserService) *AuthHandler {
	return &AuthHandler{auth: auth, users: users}
}

// Login godoc
// @Summary Obtain an access token
// @Description OAuth2 password flow. The username field accepts an email address or a username.
// @Tags Auth
// @Accept x-www-form-urlencoded
// @Produce json
// @Param username formData string true "Email or username"
// @Param password formData string true "Password"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Validation(err, "invalid login payload"))
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Register godoc
// @Summary Register a new account
// @Description Creates an active, non-admin, unverified user
// @Tags Auth
// @Accept json
// @Produce json
// @Param payload body models.RegisterRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Validation(err, "invalid registration payload"))
		return
	}

	user, err := h.users.Register(c.Request.Context(), req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, user)
}

// Logout godoc
// @Summary Log out the current session
// @Description Revokes the presented bearer token for the rest of its lifetime
// @Tags Auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	identity := userFromContext(c)
	token := tokenFromContext(c)
	if identity == nil || token == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.auth.Logout(c.Request.Context(), token, identity, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.Message(c, http.StatusOK, "successfully logged out")
}
