package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/gin-gonic/gin"
)

// Chaves do gin.Context preenchidas pela autenticação
const (
	ContextUserID       = "user_id"
	ContextEmail        = "email"
	ContextSessionToken = "session_token"
)

// SessionResolver resolve o token do cookie em uma sessão válida
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*model.Session, error)
}

// SessionConfig contains configuration for cookie sessions
type SessionConfig struct {
	SessionDuration time.Duration // session duration
	CookieName      string        // session cookie name
	CookieDomain    string        // cookie domain
	CookieSecure    bool          // secure cookie flag
}

// SessionAuth autentica requisições pelo cookie de sessão
type SessionAuth struct {
	config   SessionConfig
	resolver SessionResolver
}

// NewSessionAuth creates a new session auth middleware
func NewSessionAuth(config SessionConfig, resolver SessionResolver) *SessionAuth {
	// Set defaults
	if config.SessionDuration == 0 {
		config.SessionDuration = 24 * time.Hour
	}
	if config.CookieName == "" {
		config.CookieName = "session_id"
	}

	return &SessionAuth{config: config, resolver: resolver}
}

// CookieName retorna o nome do cookie de sessão
func (m *SessionAuth) CookieName() string {
	return m.config.CookieName
}

// RequireAuth middleware that requires authentication
func (m *SessionAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(m.config.CookieName)
		if err != nil || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Sessão não encontrada",
				"code":    "SESSION_NOT_FOUND",
			})
			return
		}

		session, err := m.resolver.ResolveSession(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, model.ErrNotFound) {
				logger.Get(c.Request.Context()).Error().Err(err).Msg("Erro ao validar sessão")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "Erro interno do servidor",
					"code":    "INTERNAL_ERROR",
				})
				return
			}
			m.ClearSessionCookie(c)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Sessão inválida ou expirada",
				"code":    "SESSION_INVALID",
			})
			return
		}

		// Add session info to context
		c.Set(ContextUserID, session.UserID)
		c.Set(ContextEmail, session.Email)
		c.Set(ContextSessionToken, token)
		ctx := logger.WithUserInfo(c.Request.Context(), session.UserID, session.Email)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// SetSessionCookie grava o cookie HttpOnly da sessão
func (m *SessionAuth) SetSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		m.config.CookieName,
		token,
		int(m.config.SessionDuration.Seconds()),
		"/",
		m.config.CookieDomain,
		m.config.CookieSecure,
		true,
	)
}

// ClearSessionCookie apaga o cookie da sessão
func (m *SessionAuth) ClearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		m.config.CookieName,
		"",
		-1,
		"/",
		m.config.CookieDomain,
		m.config.CookieSecure,
		true,
	)
}
