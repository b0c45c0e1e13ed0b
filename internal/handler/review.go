package handler

import (
	"context"
	"net/http"

	"github.com/cleberrangel/quotation-api/internal/middleware"
	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/gin-gonic/gin"
)

// ReviewManager cria e consulta avaliações
type ReviewManager interface {
	CreateReview(ctx context.Context, userID, quotationID string, rating int, comment *string) (*model.Review, error)
	GetReview(ctx context.Context, userID, quotationID string) (*model.Review, error)
}

// ReviewHandler handles quotation review requests
type ReviewHandler struct {
	reviews ReviewManager
}

// NewReviewHandler creates a new review handler
func NewReviewHandler(reviews ReviewManager) *ReviewHandler {
	return &ReviewHandler{reviews: reviews}
}

// CreateReview registra a avaliação da cotação
func (h *ReviewHandler) CreateReview(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req model.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.Comment != nil {
		comment := middleware.SanitizeText(*req.Comment)
		req.Comment = &comment
	}

	review, err := h.reviews.CreateReview(c.Request.Context(), userID, c.Param("id"), req.Rating, req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model.Response{
		Success: true,
		Data:    review,
		Message: "Avaliação registrada com sucesso",
	})
}

// GetReview retorna a avaliação da cotação
func (h *ReviewHandler) GetReview(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	review, err := h.reviews.GetReview(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.Response{Success: true, Data: review})
}
