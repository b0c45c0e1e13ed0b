package handler

import (
	"context"
	"net/http"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/middleware"
	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/gin-gonic/gin"
)

// Authenticator é o subconjunto do serviço de autenticação usado pelo handler
type Authenticator interface {
	Register(ctx context.Context, req model.RegisterRequest) (*model.User, error)
	Login(ctx context.Context, req model.LoginRequest, userAgent string) (*model.Session, *model.User, error)
	Logout(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	auth    Authenticator
	session *middleware.SessionAuth
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(auth Authenticator, session *middleware.SessionAuth) *AuthHandler {
	return &AuthHandler{
		auth:    auth,
		session: session,
	}
}

// Register cria uma conta
func (h *AuthHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model.Response{
		Success: true,
		Data:    user,
		Message: "Usuário cadastrado com sucesso",
	})
}

// Login handles user login requests
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	session, user, err := h.auth.Login(c.Request.Context(), req, c.Request.UserAgent())
	if err != nil {
		respondError(c, err)
		return
	}

	h.session.SetSessionCookie(c, session.Token)

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Login realizado com sucesso",
		"expires_at": session.ExpiresAt,
		"user":       user,
	})
}

// Logout handles user logout requests
func (h *AuthHandler) Logout(c *gin.Context) {
	token, err := c.Cookie(h.session.CookieName())
	if err == nil && token != "" {
		if err := h.auth.Logout(c.Request.Context(), token); err != nil {
			// A sessão pode já ter expirado; o cookie é apagado de qualquer forma
			logger.Get(c.Request.Context()).Warn().Err(err).Msg("Erro ao remover sessão no logout")
		}
	}

	h.session.ClearSessionCookie(c)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Logout realizado com sucesso",
	})
}

// Me retorna o usuário da sessão atual
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	user, err := h.auth.CurrentUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.Response{Success: true, Data: user})
}
