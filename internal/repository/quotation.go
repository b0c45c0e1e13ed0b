package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// QuotationRepository persiste cotações, plataformas vinculadas e tarefas.
// Cada método é uma escrita independente; a compensação fica com o serviço.
type QuotationRepository struct {
	db *sql.DB
}

// NewQuotationRepository cria um novo repositório de cotações
func NewQuotationRepository(db *sql.DB) *QuotationRepository {
	return &QuotationRepository{db: db}
}

// Ordenações aceitas, mapeadas para SQL fixo
var sortClauses = map[string]string{
	model.SortCreatedAtDesc: "created_at DESC, id",
	model.SortCreatedAtAsc:  "created_at ASC, id",
	model.SortBufferDesc:    "buffer DESC, created_at DESC",
	model.SortBufferAsc:     "buffer ASC, created_at DESC",
}

const quotationColumns = `id, user_id, estimation_type, scope, buffer, dynamic_attributes, created_at, updated_at`

// Create insere a linha da cotação
func (r *QuotationRepository) Create(ctx context.Context, q *model.Quotation) error {
	attrs, err := marshalAttributes(q.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO quotations (id, user_id, estimation_type, scope, buffer, dynamic_attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		q.ID, q.UserID, string(q.EstimationType), q.Scope, q.Buffer, attrs,
	).Scan(&q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("erro ao criar cotação: %w", err)
	}

	return nil
}

// Delete remove a cotação; plataformas, tarefas e avaliação caem em cascata
func (r *QuotationRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM quotations WHERE id = $1`, id)
	if err != nil {
		if isBadReference(err) {
			return model.ErrNotFound
		}
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

// LinkPlatforms vincula as plataformas em um único INSERT
func (r *QuotationRepository) LinkPlatforms(ctx context.Context, quotationID string, platformIDs []string) error {
	return insertPlatformLinks(ctx, r.db, quotationID, platformIDs)
}

// ReplacePlatforms troca o conjunto de plataformas em uma transação
func (r *QuotationRepository) ReplacePlatforms(ctx context.Context, quotationID string, platformIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM quotation_platforms WHERE quotation_id = $1`, quotationID); err != nil {
		return fmt.Errorf("erro ao remover plataformas: %w", err)
	}
	if err := insertPlatformLinks(ctx, tx, quotationID, platformIDs); err != nil {
		return err
	}

	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertPlatformLinks(ctx context.Context, db execer, quotationID string, platformIDs []string) error {
	if len(platformIDs) == 0 {
		return nil
	}

	values := make([]string, 0, len(platformIDs))
	args := make([]interface{}, 0, len(platformIDs)+1)
	args = append(args, quotationID)
	for i, id := range platformIDs {
		values = append(values, fmt.Sprintf("($1, $%d)", i+2))
		args = append(args, id)
	}

	query := `INSERT INTO quotation_platforms (quotation_id, platform_id) VALUES ` + strings.Join(values, ", ")
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("erro ao vincular plataformas: %w", err)
	}
	return nil
}

// CreateTasks insere as tarefas em um único INSERT, preservando a ordem
func (r *QuotationRepository) CreateTasks(ctx context.Context, quotationID string, tasks []model.TaskEstimate) ([]model.QuotationTask, error) {
	if len(tasks) == 0 {
		return []model.QuotationTask{}, nil
	}

	values := make([]string, 0, len(tasks))
	args := make([]interface{}, 0, len(tasks)*4+1)
	args = append(args, quotationID)
	out := make([]model.QuotationTask, len(tasks))
	for i, t := range tasks {
		n := len(args)
		values = append(values, fmt.Sprintf("($%d, $1, $%d, $%d, $%d)", n+1, n+2, n+3, n+4))
		id := uuid.NewString()
		args = append(args, id, t.Description, t.ManDays, i)

		days := t.ManDays
		out[i] = model.QuotationTask{ID: id, QuotationID: quotationID, Description: t.Description, ManDays: &days}
	}

	query := `
		INSERT INTO quotation_tasks (id, quotation_id, task_description, man_days, position)
		VALUES ` + strings.Join(values, ", ") + `
		RETURNING id, created_at
	`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("erro ao gravar tarefas: %w", err)
	}
	defer rows.Close()

	created := make(map[string]int, len(out))
	for i := range out {
		created[out[i].ID] = i
	}
	for rows.Next() {
		var id string
		var task model.QuotationTask
		if err := rows.Scan(&id, &task.CreatedAt); err != nil {
			return nil, err
		}
		if i, ok := created[id]; ok {
			out[i].CreatedAt = task.CreatedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao gravar tarefas: %w", err)
	}

	return out, nil
}

// GetByID carrega a cotação com plataformas, tarefas e avaliação
func (r *QuotationRepository) GetByID(ctx context.Context, id string) (*model.Quotation, error) {
	query := `SELECT ` + quotationColumns + ` FROM quotations WHERE id = $1`

	q, err := scanQuotation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if isBadReference(err) {
			return nil, model.ErrNotFound
		}
		return nil, notFound(err)
	}

	items := []model.Quotation{*q}
	if err := r.loadChildren(ctx, items); err != nil {
		return nil, err
	}
	return &items[0], nil
}

// ListByUser retorna uma página das cotações do usuário e o total filtrado
func (r *QuotationRepository) ListByUser(ctx context.Context, userID string, params model.ListParams) ([]model.Quotation, int, error) {
	order, ok := sortClauses[params.Sort]
	if !ok {
		order = sortClauses[model.SortCreatedAtDesc]
	}

	where := `WHERE user_id = $1`
	args := []interface{}{userID}
	if f := strings.TrimSpace(params.Filter); f != "" {
		where += ` AND scope ILIKE $2`
		args = append(args, "%"+escapeLike(f)+"%")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quotations `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("erro ao contar cotações: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM quotations %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		quotationColumns, where, order, len(args)+1, len(args)+2)
	args = append(args, params.Limit, params.Offset())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("erro ao listar cotações: %w", err)
	}
	defer rows.Close()

	items := []model.Quotation{}
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := r.loadChildren(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Update grava tipo, escopo e atributos
func (r *QuotationRepository) Update(ctx context.Context, q *model.Quotation) error {
	attrs, err := marshalAttributes(q.Attributes)
	if err != nil {
		return err
	}

	query := `
		UPDATE quotations
		SET estimation_type = $2, scope = $3, dynamic_attributes = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err = r.db.QueryRowContext(ctx, query, q.ID, string(q.EstimationType), q.Scope, attrs).Scan(&q.UpdatedAt)
	if err != nil {
		return notFound(err)
	}
	return nil
}

// UpdateTaskManDays altera os man-days de uma tarefa da cotação
func (r *QuotationRepository) UpdateTaskManDays(ctx context.Context, quotationID, taskID string, manDays float64) (*model.QuotationTask, error) {
	query := `
		UPDATE quotation_tasks
		SET man_days = $3
		WHERE id = $1 AND quotation_id = $2
		RETURNING id, quotation_id, task_description, man_days, created_at
	`

	task, err := scanTask(r.db.QueryRowContext(ctx, query, taskID, quotationID, manDays))
	if err != nil {
		if isBadReference(err) {
			return nil, model.ErrNotFound
		}
		return nil, notFound(err)
	}

	logger.Get(ctx).Debug().Str("task_id", taskID).Float64("man_days", manDays).Msg("Tarefa atualizada")
	return task, nil
}

// loadChildren preenche plataformas, tarefas e avaliação de uma página inteira
func (r *QuotationRepository) loadChildren(ctx context.Context, items []model.Quotation) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]string, len(items))
	index := make(map[string]int, len(items))
	for i := range items {
		ids[i] = items[i].ID
		index[items[i].ID] = i
		items[i].Platforms = []model.Platform{}
		items[i].Tasks = []model.QuotationTask{}
	}

	platformRows, err := r.db.QueryContext(ctx, `
		SELECT qp.quotation_id, p.id, p.name, p.created_at
		FROM quotation_platforms qp
		JOIN platforms p ON p.id = qp.platform_id
		WHERE qp.quotation_id = ANY($1)
		ORDER BY p.id
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("erro ao carregar plataformas: %w", err)
	}
	defer platformRows.Close()
	for platformRows.Next() {
		var qid string
		var p model.Platform
		if err := platformRows.Scan(&qid, &p.ID, &p.Name, &p.CreatedAt); err != nil {
			return err
		}
		i := index[qid]
		items[i].Platforms = append(items[i].Platforms, p)
	}
	if err := platformRows.Err(); err != nil {
		return err
	}

	taskRows, err := r.db.QueryContext(ctx, `
		SELECT id, quotation_id, task_description, man_days, created_at
		FROM quotation_tasks
		WHERE quotation_id = ANY($1)
		ORDER BY position, created_at
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("erro ao carregar tarefas: %w", err)
	}
	defer taskRows.Close()
	for taskRows.Next() {
		task, err := scanTask(taskRows)
		if err != nil {
			return err
		}
		i := index[task.QuotationID]
		items[i].Tasks = append(items[i].Tasks, *task)
	}
	if err := taskRows.Err(); err != nil {
		return err
	}

	reviewRows, err := r.db.QueryContext(ctx, `
		SELECT id, quotation_id, rating, comment, created_at
		FROM reviews
		WHERE quotation_id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("erro ao carregar avaliações: %w", err)
	}
	defer reviewRows.Close()
	for reviewRows.Next() {
		review, err := scanReview(reviewRows)
		if err != nil {
			return err
		}
		items[index[review.QuotationID]].Review = review
	}
	return reviewRows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuotation(row rowScanner) (*model.Quotation, error) {
	var q model.Quotation
	var estimationType string
	var attrs []byte

	if err := row.Scan(&q.ID, &q.UserID, &estimationType, &q.Scope, &q.Buffer, &attrs, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	q.EstimationType = model.EstimationType(estimationType)

	q.Attributes = map[string]interface{}{}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &q.Attributes); err != nil {
			return nil, fmt.Errorf("erro ao deserializar atributos: %w", err)
		}
	}
	return &q, nil
}

func scanTask(row rowScanner) (*model.QuotationTask, error) {
	var t model.QuotationTask
	var manDays sql.NullFloat64

	if err := row.Scan(&t.ID, &t.QuotationID, &t.Description, &manDays, &t.CreatedAt); err != nil {
		return nil, err
	}
	if manDays.Valid {
		v := manDays.Float64
		t.ManDays = &v
	}
	return &t, nil
}

func marshalAttributes(attrs map[string]interface{}) ([]byte, error) {
	if attrs == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("erro ao serializar atributos: %w", err)
	}
	return b, nil
}

// escapeLike escapa os curingas do ILIKE
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
