package repository

import (
	"database/sql"
	"errors"

	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/lib/pq"
)

// Códigos do PostgreSQL usados no mapeamento de erros
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidTextRep      = "22P02"
)

// notFound converte sql.ErrNoRows em model.ErrNotFound
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	return err
}

func pgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

// isBadReference indica FK inexistente ou UUID malformado
func isBadReference(err error) bool {
	code := pgCode(err)
	return code == pgForeignKeyViolation || code == pgInvalidTextRep
}
