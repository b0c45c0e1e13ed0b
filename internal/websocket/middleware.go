package websocket

import (
	"errors"
	"net/http"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/middleware"
	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/gin-gonic/gin"
)

// SessionQueryParam é o parâmetro aceito quando o cliente não envia o cookie
const SessionQueryParam = "session_id"

// AuthMiddleware creates a WebSocket authentication middleware.
// It checks for session authentication via cookie or query parameter.
func AuthMiddleware(resolver middleware.SessionResolver, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(cookieName)
		if err != nil || token == "" {
			// Navegadores nem sempre repassam cookies no upgrade entre origens
			token = c.Query(SessionQueryParam)
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Sessão não encontrada",
				"code":    "SESSION_NOT_FOUND",
			})
			return
		}

		session, err := resolver.ResolveSession(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, model.ErrNotFound) {
				logger.Get(c.Request.Context()).Error().Err(err).Msg("Erro ao validar sessão do WebSocket")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "Erro interno do servidor",
					"code":    "INTERNAL_ERROR",
				})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Sessão inválida ou expirada",
				"code":    "SESSION_INVALID",
			})
			return
		}

		c.Set(middleware.ContextUserID, session.UserID)
		c.Set(middleware.ContextEmail, session.Email)

		c.Next()
	}
}
