package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kirimapp/kirim/internal/apperr"
	"github.com/kirimapp/kirim/internal/auth"
	"github.com/kirimapp/kirim/internal/users"
	"github.com/kirimapp/kirim/pkg/i18n"
)

type AuthHandler struct {
	authSvc *auth.Service
	users   *users.Service
}

func NewAuthHandler(authSvc *auth.Service, userSvc *users.Service) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, users: userSvc}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token    string `json:"token"`
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

func authError(c *gin.Context, err error) {
	c.JSON(statusForCode(apperr.CodeOf(err)), gin.H{"error": i18n.Translate(apperr.MessageOf(err))})
}

// Register creates a new user account
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("invalid request")})
		return
	}

	userID, err := h.authSvc.Register(req.Username, req.Email, req.Password)
	if err != nil {
		authError(c, err)
		return
	}

	token, err := h.authSvc.GenerateToken(userID, strings.TrimSpace(req.Username), false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": i18n.Translate("internal server error")})
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{
		Token:    token,
		UserID:   userID,
		Username: strings.TrimSpace(req.Username),
	})
}

// Login authenticates a user and returns a token
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": i18n.Translate("invalid request")})
		return
	}

	token, user, err := h.authSvc.Login(req.Username, req.Password)
	if err != nil {
		authError(c, err)
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
	})
}

// AuthMiddleware validates the bearer token, re-checks the account standing
// against the database, and records request activity on last_seen.
func (h *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token := ""

		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": i18n.Translate("missing authorization token")})
			c.Abort()
			return
		}

		claims, err := h.authSvc.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": i18n.Translate("invalid token")})
			c.Abort()
			return
		}

		standing, err := h.authSvc.Standing(claims.UserID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": i18n.Translate("internal server error")})
			c.Abort()
			return
		}
		if !standing.Exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": i18n.Translate("user not found")})
			c.Abort()
			return
		}
		if !standing.IsActive {
			c.JSON(http.StatusForbidden, gin.H{"error": i18n.Translate("account is inactive")})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("is_admin", standing.IsAdmin)

		// Best-effort; a failed write never blocks the request.
		h.users.TouchLastSeen(claims.UserID)

		c.Next()
	}
}

// AdminMiddleware gates admin endpoints on the fresh database flag, not the
// token claim.
func (h *AuthHandler) AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool("is_admin") {
			failMsg(c, http.StatusForbidden, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}
