package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cleberrangel/quotation-api/internal/model"
)

// ReviewRepository persiste as avaliações de cotações
type ReviewRepository struct {
	db *sql.DB
}

// NewReviewRepository cria o repositório de avaliações
func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create grava a avaliação; a constraint única garante uma por cotação
func (r *ReviewRepository) Create(ctx context.Context, review *model.Review) error {
	query := `
		INSERT INTO reviews (id, quotation_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query, review.ID, review.QuotationID, review.Rating, review.Comment).Scan(&review.CreatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return model.ErrReviewExists
		case isBadReference(err):
			return model.ErrNotFound
		}
		return fmt.Errorf("erro ao criar avaliação: %w", err)
	}
	return nil
}

// GetByQuotationID retorna a avaliação da cotação
func (r *ReviewRepository) GetByQuotationID(ctx context.Context, quotationID string) (*model.Review, error) {
	query := `
		SELECT id, quotation_id, rating, comment, created_at
		FROM reviews
		WHERE quotation_id = $1
	`

	review, err := scanReview(r.db.QueryRowContext(ctx, query, quotationID))
	if err != nil {
		if isBadReference(err) {
			return nil, model.ErrNotFound
		}
		return nil, notFound(err)
	}
	return review, nil
}

func scanReview(row rowScanner) (*model.Review, error) {
	var review model.Review
	var comment sql.NullString

	if err := row.Scan(&review.ID, &review.QuotationID, &review.Rating, &comment, &review.CreatedAt); err != nil {
		return nil, err
	}
	if comment.Valid {
		review.Comment = &comment.String
	}
	return &review, nil
}
