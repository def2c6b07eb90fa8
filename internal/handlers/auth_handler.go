package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"crowdtask-api/internal/apperror"
	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/store"
	"crowdtask-api/internal/tasktype"

	"github.com/gin-gonic/gin"
)

// LoginRequest represents the login request payload
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token    string    `json:"token"`
	UserID   string    `json:"uid"`
	Username string    `json:"username"`
	Role     auth.Role `json:"role"`
}

type AuthHandler struct {
	users  *store.UserRepository
	hasher *auth.PasswordHasher
	issuer *auth.TokenIssuer
	log    *slog.Logger
}

func NewAuthHandler(users *store.UserRepository, hasher *auth.PasswordHasher, issuer *auth.TokenIssuer, log *slog.Logger) *AuthHandler {
	return &AuthHandler{users: users, hasher: hasher, issuer: issuer, log: log}
}

func respond(c *gin.Context, err error) {
	e := apperror.As(err)
	c.JSON(e.HTTPStatus(), e.Payload())
}

// Login handles POST /api/login. Unknown users and wrong passwords get the
// same answer.
func (h *AuthHandler) Login(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		respond(c, apperror.Schema("Invalid request body"))
		return
	}
	var req LoginRequest
	if err := apperror.DecodeJSON(raw, &req); err != nil {
		respond(c, err)
		return
	}

	user, err := h.users.FindByUsername(c.Request.Context(), req.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.Error("failed to load user", "username", req.Username, "error", err)
		respond(c, apperror.Internal("Failed to log in", err))
		return
	}
	if user == nil || !h.hasher.Verify(req.Password, user.Password) {
		respond(c, apperror.Unauthenticated("Invalid username or password"))
		return
	}

	role := auth.Role(user.Roles)
	token, err := h.issuer.GenerateToken(user.ID, user.Username, role)
	if err != nil {
		h.log.Error("failed to sign token", "user", user.ID, "error", err)
		respond(c, apperror.Internal("Failed to generate token", err))
		return
	}
	h.log.Info("user logged in", "user", user.ID)
	res := tasktype.OK(LoginResponse{Token: token, UserID: user.ID, Username: user.Username, Role: role})
	c.JSON(http.StatusOK, res.Body)
}
