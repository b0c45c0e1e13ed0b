package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cleberrangel/quotation-api/internal/model"
)

// UserRepository handles user data operations
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users
		WHERE email = $1
	`

	var user model.User
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	return &user, nil
}

// GetByID retrieves a user by id
func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user model.User
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if isBadReference(err) {
			return nil, model.ErrNotFound
		}
		return nil, notFound(err)
	}

	return &user, nil
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query, u.ID, u.Email, u.PasswordHash).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrEmailTaken
		}
		return fmt.Errorf("erro ao criar usuário: %w", err)
	}

	return nil
}

// SessionRepository persiste as sessões autenticadas
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository cria o repositório de sessões
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create grava uma nova sessão
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	query := `
		INSERT INTO sessions (token, user_id, user_agent, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query, s.Token, s.UserID, s.UserAgent, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("erro ao criar sessão: %w", err)
	}
	return nil
}

// Get retorna a sessão do token com o e-mail do usuário
func (r *SessionRepository) Get(ctx context.Context, token string) (*model.Session, error) {
	query := `
		SELECT s.token, s.user_id, u.email, COALESCE(s.user_agent, ''), s.created_at, s.expires_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1
	`

	var s model.Session
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&s.Token,
		&s.UserID,
		&s.Email,
		&s.UserAgent,
		&s.CreatedAt,
		&s.ExpiresAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// Delete remove a sessão
func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return model.ErrNotFound
	}

	return nil
}

// DeleteExpired remove as sessões vencidas até now
func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("erro ao remover sessões expiradas: %w", err)
	}
	return result.RowsAffected()
}
