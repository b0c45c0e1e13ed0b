package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cleberrangel/quotation-api/internal/model"
)

// PlatformRepository lê o catálogo de plataformas
type PlatformRepository struct {
	db *sql.DB
}

// NewPlatformRepository cria o repositório de plataformas
func NewPlatformRepository(db *sql.DB) *PlatformRepository {
	return &PlatformRepository{db: db}
}

// ListPlatforms retorna todas as plataformas ordenadas por id
func (r *PlatformRepository) ListPlatforms(ctx context.Context) ([]model.Platform, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM platforms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("erro ao listar plataformas: %w", err)
	}
	defer rows.Close()

	platforms := []model.Platform{}
	for rows.Next() {
		var p model.Platform
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		platforms = append(platforms, p)
	}

	return platforms, rows.Err()
}
