package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/middleware"
	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/gin-gonic/gin"
)

// Sugestões de Retry-After para respostas de back-pressure
const (
	queueFullRetryAfter   = 5 * time.Second
	rateLimitedRetryAfter = 30 * time.Second
)

// statusForError mapeia o erro de domínio para o status HTTP
func statusForError(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrEstimationFailed):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrReviewExists), errors.Is(err, model.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage retorna a mensagem exposta ao cliente; falhas internas não vazam detalhes
func errorMessage(status int, err error) string {
	switch status {
	case http.StatusBadRequest:
		return model.ErrValidation.Error()
	case http.StatusServiceUnavailable:
		return "Serviço de estimativa sobrecarregado, tente novamente em instantes"
	case http.StatusTooManyRequests:
		return "Limite do provedor de estimativa atingido, tente novamente mais tarde"
	case http.StatusBadGateway:
		return model.ErrEstimationFailed.Error()
	case http.StatusInternalServerError:
		if errors.Is(err, model.ErrPersistence) {
			return model.ErrPersistence.Error()
		}
		return "Erro interno do servidor"
	default:
		var target error
		for _, sentinel := range []error{
			model.ErrNotFound, model.ErrForbidden, model.ErrReviewExists,
			model.ErrEmailTaken, model.ErrInvalidCredentials,
		} {
			if errors.Is(err, sentinel) {
				target = sentinel
				break
			}
		}
		if target != nil {
			return target.Error()
		}
		return err.Error()
	}
}

// respondError escreve a resposta de erro padrão para err
func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	resp := model.ErrorResponse{
		Success: false,
		Error:   errorMessage(status, err),
		Code:    model.ErrorCode(err),
	}

	var verr *model.ValidationError
	if errors.As(err, &verr) {
		resp.Details = verr.Errors
	}

	switch status {
	case http.StatusServiceUnavailable:
		c.Header("Retry-After", strconv.Itoa(int(queueFullRetryAfter.Seconds())))
	case http.StatusTooManyRequests:
		c.Header("Retry-After", strconv.Itoa(int(rateLimitedRetryAfter.Seconds())))
	}

	log := logger.FromGin(c)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("code", resp.Code).Msg("Erro ao processar requisição")
	} else {
		log.Debug().Err(err).Str("code", resp.Code).Msg("Requisição rejeitada")
	}

	c.JSON(status, resp)
}

// respondBindError responde 400 para corpo JSON malformado
func respondBindError(c *gin.Context, err error) {
	respondError(c, model.NewValidationError("body", "invalid JSON payload: "+err.Error()))
}

// currentUserID lê o usuário autenticado do contexto
func currentUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Usuário não autenticado",
			"code":    "USER_NOT_AUTHENTICATED",
		})
		return "", false
	}
	return userID, true
}
