package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/google/uuid"
)

// ReviewRepository armazena as avaliações (no máximo uma por cotação)
type ReviewRepository interface {
	Create(ctx context.Context, r *model.Review) error
	GetByQuotationID(ctx context.Context, quotationID string) (*model.Review, error)
}

// ReviewService cria e consulta avaliações de cotações
type ReviewService struct {
	reviews    ReviewRepository
	quotations QuotationRepository
}

// NewReviewService cria o serviço de avaliações
func NewReviewService(reviews ReviewRepository, quotations QuotationRepository) *ReviewService {
	return &ReviewService{reviews: reviews, quotations: quotations}
}

// CreateReview registra a avaliação do dono da cotação
func (s *ReviewService) CreateReview(ctx context.Context, userID, quotationID string, rating int, comment *string) (*model.Review, error) {
	if comment != nil {
		trimmed := strings.TrimSpace(*comment)
		if trimmed == "" {
			comment = nil
		} else {
			comment = &trimmed
		}
	}
	if err := model.ValidateReview(rating, comment); err != nil {
		return nil, err
	}

	q, err := s.quotations.GetByID(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	if q.UserID != userID {
		return nil, model.ErrForbidden
	}

	review := &model.Review{
		ID:          uuid.NewString(),
		QuotationID: quotationID,
		Rating:      rating,
		Comment:     comment,
	}
	err = s.reviews.Create(ctx, review)
	logger.AuditQuotation(ctx, logger.AuditActionReviewCreate, quotationID, err, map[string]interface{}{
		"rating": rating,
	})
	if err != nil {
		if errors.Is(err, model.ErrReviewExists) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: gravar avaliação: %w", model.ErrPersistence, err)
	}

	return review, nil
}

// GetReview retorna a avaliação da cotação do usuário
func (s *ReviewService) GetReview(ctx context.Context, userID, quotationID string) (*model.Review, error) {
	q, err := s.quotations.GetByID(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	if q.UserID != userID {
		return nil, model.ErrNotFound
	}
	return s.reviews.GetByQuotationID(ctx, quotationID)
}
