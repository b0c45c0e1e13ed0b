package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/metrics"
	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/cleberrangel/quotation-api/internal/websocket"
	"github.com/google/uuid"
)

// Analyzer produz a análise de um escopo de projeto
type Analyzer interface {
	Analyze(ctx context.Context, scope model.ProjectScope) (*model.ProjectAnalysis, error)
}

// QuotationRepository é o armazenamento das cotações e das tabelas dependentes.
// Cada operação é independente: não há transação entre tabelas.
type QuotationRepository interface {
	Create(ctx context.Context, q *model.Quotation) error
	Delete(ctx context.Context, id string) error
	LinkPlatforms(ctx context.Context, quotationID string, platformIDs []string) error
	ReplacePlatforms(ctx context.Context, quotationID string, platformIDs []string) error
	CreateTasks(ctx context.Context, quotationID string, tasks []model.TaskEstimate) ([]model.QuotationTask, error)
	GetByID(ctx context.Context, id string) (*model.Quotation, error)
	ListByUser(ctx context.Context, userID string, params model.ListParams) ([]model.Quotation, int, error)
	Update(ctx context.Context, q *model.Quotation) error
	UpdateTaskManDays(ctx context.Context, quotationID, taskID string, manDays float64) (*model.QuotationTask, error)
}

// PlatformCatalog lista as plataformas selecionáveis
type PlatformCatalog interface {
	ListPlatforms(ctx context.Context) ([]model.Platform, error)
}

// StatusNotifier recebe o andamento da criação de cotações
type StatusNotifier interface {
	SendQuotationStatus(userID string, update websocket.QuotationStatus)
}

// QuotationService orquestra a criação e a gestão de cotações
type QuotationService struct {
	estimator Analyzer
	repo      QuotationRepository
	platforms PlatformCatalog
	buffer    BufferPolicy
	notifier  StatusNotifier
}

// NewQuotationService cria o serviço. notifier pode ser nil.
func NewQuotationService(estimator Analyzer, repo QuotationRepository, platforms PlatformCatalog, buffer BufferPolicy, notifier StatusNotifier) *QuotationService {
	return &QuotationService{
		estimator: estimator,
		repo:      repo,
		platforms: platforms,
		buffer:    buffer,
		notifier:  notifier,
	}
}

// CreateQuotation estima o escopo e persiste a cotação com suas plataformas e tarefas.
//
// Falha no vínculo de plataformas apaga a cotação recém-criada. Falha ao gravar
// tarefas é tolerada: a cotação é devolvida sem tarefas.
func (s *QuotationService) CreateQuotation(ctx context.Context, userID string, scope model.ProjectScope) (*model.Quotation, error) {
	ctx = logger.WithOperationID(ctx, uuid.NewString())
	log := logger.Get(ctx)

	scope.Platforms = uniqueIDs(scope.Platforms)
	catalog, err := s.validateScope(ctx, scope)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			metrics.RecordQuotation(metrics.OutcomeValidationFailed)
		}
		return nil, err
	}

	s.notify(userID, websocket.QuotationStatus{Status: websocket.StatusEstimating, Message: "Estimando tarefas"})

	analysis, err := s.estimator.Analyze(ctx, scope)
	if err != nil {
		log.Error().Err(err).Msg("Falha na estimativa, nenhuma cotação criada")
		metrics.RecordQuotation(metrics.OutcomeEstimationFailed)
		s.notifyFailure(userID, "", err)
		return nil, err
	}

	buffer := s.buffer.Compute(analysis.Tasks)
	metrics.QuotationManDays.Observe(analysis.TotalManDays())

	s.notify(userID, websocket.QuotationStatus{
		Status:    websocket.StatusPersisting,
		TaskCount: len(analysis.Tasks),
		Message:   "Gravando cotação",
	})

	// From the first write on, the flow runs to completion or compensation.
	persistCtx := context.WithoutCancel(ctx)

	q := &model.Quotation{
		ID:             uuid.NewString(),
		UserID:         userID,
		EstimationType: scope.EstimationType,
		Scope:          scope.Scope,
		Buffer:         buffer,
		Attributes:     foldReasoning(scope.Attributes, analysis.Reasoning),
	}
	persistCtx = logger.WithQuotationID(persistCtx, q.ID)
	log = logger.Get(persistCtx)

	if err := s.repo.Create(persistCtx, q); err != nil {
		log.Error().Err(err).Msg("Erro ao inserir cotação")
		metrics.RecordQuotation(metrics.OutcomePersistenceFailed)
		err = fmt.Errorf("%w: inserir cotação: %w", model.ErrPersistence, err)
		s.notifyFailure(userID, "", err)
		return nil, err
	}

	if err := s.repo.LinkPlatforms(persistCtx, q.ID, scope.Platforms); err != nil {
		log.Error().Err(err).Strs("platforms", scope.Platforms).Msg("Erro ao vincular plataformas, desfazendo cotação")
		s.rollback(persistCtx, q.ID)
		metrics.RecordQuotation(metrics.OutcomeRolledBack)
		err = fmt.Errorf("%w: vincular plataformas: %w", model.ErrPersistence, err)
		s.notifyFailure(userID, "", err)
		return nil, err
	}
	q.Platforms = platformsByID(catalog, scope.Platforms)

	outcome := metrics.OutcomeCreated
	tasks, err := s.repo.CreateTasks(persistCtx, q.ID, analysis.Tasks)
	if err != nil {
		log.Warn().Err(err).Int("tasks", len(analysis.Tasks)).Msg("Erro ao gravar tarefas, cotação mantida sem tarefas")
		outcome = metrics.OutcomeTasksMissing
		tasks = []model.QuotationTask{}
	}
	q.Tasks = tasks

	result, err := s.repo.GetByID(persistCtx, q.ID)
	if err != nil {
		log.Warn().Err(err).Msg("Erro ao reler cotação, devolvendo versão montada em memória")
		result = q
	}
	if result.Tasks == nil {
		result.Tasks = []model.QuotationTask{}
	}

	metrics.RecordQuotation(outcome)
	logger.AuditQuotation(persistCtx, logger.AuditActionQuotationCreate, q.ID, nil, map[string]interface{}{
		"buffer":    result.Buffer,
		"tasks":     len(result.Tasks),
		"platforms": len(result.Platforms),
	})
	s.notify(userID, websocket.QuotationStatus{
		Status:      websocket.StatusCompleted,
		QuotationID: result.ID,
		TaskCount:   len(result.Tasks),
		Message:     "Cotação criada",
	})

	log.Info().
		Int("buffer", result.Buffer).
		Int("tasks", len(result.Tasks)).
		Msg("Cotação criada com sucesso")

	return result, nil
}

// rollback apaga a cotação; as linhas dependentes caem em cascata
func (s *QuotationService) rollback(ctx context.Context, quotationID string) {
	err := s.repo.Delete(ctx, quotationID)
	if err != nil {
		logger.Get(ctx).Error().Err(err).Msg("Erro ao desfazer cotação, registro órfão")
	}
	logger.AuditQuotation(ctx, logger.AuditActionQuotationRollback, quotationID, err, nil)
}

// GetQuotation retorna a cotação do usuário
func (s *QuotationService) GetQuotation(ctx context.Context, userID, id string) (*model.Quotation, error) {
	return s.loadOwned(ctx, userID, id)
}

// ListQuotations lista as cotações do usuário com paginação
func (s *QuotationService) ListQuotations(ctx context.Context, userID string, params model.ListParams) (*model.QuotationPage, error) {
	params, err := params.Normalize()
	if err != nil {
		return nil, err
	}

	items, total, err := s.repo.ListByUser(ctx, userID, params)
	if err != nil {
		return nil, fmt.Errorf("listar cotações: %w", err)
	}
	if items == nil {
		items = []model.Quotation{}
	}

	return &model.QuotationPage{
		Data:       items,
		Pagination: model.NewPagination(total, params),
	}, nil
}

// UpdateQuotation aplica uma atualização parcial. O buffer não é alterável e o
// raciocínio do modelo é mantido quando os atributos são substituídos.
func (s *QuotationService) UpdateQuotation(ctx context.Context, userID, id string, upd model.QuotationUpdate) (*model.Quotation, error) {
	if upd.Platforms != nil {
		upd.Platforms = uniqueIDs(upd.Platforms)
	}
	verr := &model.ValidationError{}
	collectValidation(verr, upd.Validate())
	if len(upd.Platforms) > 0 {
		if _, err := s.checkPlatforms(ctx, verr, upd.Platforms); err != nil {
			return nil, err
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	q, err := s.loadOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if upd.EstimationType != nil {
		q.EstimationType = *upd.EstimationType
	}
	if upd.Scope != nil {
		q.Scope = *upd.Scope
	}
	if upd.Attributes != nil {
		q.Attributes = foldReasoning(upd.Attributes, q.Reasoning())
	}

	if err := s.repo.Update(ctx, q); err != nil {
		return nil, fmt.Errorf("%w: atualizar cotação: %w", model.ErrPersistence, err)
	}
	if upd.Platforms != nil {
		if err := s.repo.ReplacePlatforms(ctx, q.ID, upd.Platforms); err != nil {
			return nil, fmt.Errorf("%w: substituir plataformas: %w", model.ErrPersistence, err)
		}
	}

	logger.AuditQuotation(ctx, logger.AuditActionQuotationUpdate, id, nil, nil)
	return s.repo.GetByID(ctx, id)
}

// DeleteQuotation remove a cotação do usuário
func (s *QuotationService) DeleteQuotation(ctx context.Context, userID, id string) error {
	if _, err := s.loadOwned(ctx, userID, id); err != nil {
		return err
	}

	err := s.repo.Delete(ctx, id)
	logger.AuditQuotation(ctx, logger.AuditActionQuotationDelete, id, err, nil)
	if err != nil {
		return fmt.Errorf("%w: remover cotação: %w", model.ErrPersistence, err)
	}
	return nil
}

// UpdateTask altera os man-days de uma tarefa da cotação
func (s *QuotationService) UpdateTask(ctx context.Context, userID, quotationID, taskID string, manDays float64) (*model.QuotationTask, error) {
	if manDays < 0 {
		return nil, model.NewValidationError("man_days", "man_days must not be negative")
	}
	if _, err := s.loadOwned(ctx, userID, quotationID); err != nil {
		return nil, err
	}

	task, err := s.repo.UpdateTaskManDays(ctx, quotationID, taskID, manDays)
	if err != nil {
		return nil, err
	}

	logger.AuditQuotation(ctx, logger.AuditActionTaskUpdate, quotationID, nil, map[string]interface{}{
		"task_id":  taskID,
		"man_days": manDays,
	})
	return task, nil
}

// ExportQuotation gera a planilha da cotação do usuário
func (s *QuotationService) ExportQuotation(ctx context.Context, userID, id string) (*bytes.Buffer, error) {
	q, err := s.loadOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	buf, err := NewExcelGenerator().Generate(q)
	logger.AuditQuotation(ctx, logger.AuditActionQuotationExport, id, err, nil)
	if err != nil {
		return nil, fmt.Errorf("gerar planilha: %w", err)
	}
	return buf, nil
}

// ListPlatforms retorna o catálogo de plataformas
func (s *QuotationService) ListPlatforms(ctx context.Context) ([]model.Platform, error) {
	return s.platforms.ListPlatforms(ctx)
}

func (s *QuotationService) loadOwned(ctx context.Context, userID, id string) (*model.Quotation, error) {
	q, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// Other users' quotations are reported as missing
	if q.UserID != userID {
		return nil, model.ErrNotFound
	}
	return q, nil
}

// validateScope valida o formato do escopo e confere as plataformas no catálogo,
// reunindo todas as violações
func (s *QuotationService) validateScope(ctx context.Context, scope model.ProjectScope) ([]model.Platform, error) {
	verr := &model.ValidationError{}
	collectValidation(verr, scope.Validate())

	var catalog []model.Platform
	if len(scope.Platforms) > 0 {
		var err error
		catalog, err = s.checkPlatforms(ctx, verr, scope.Platforms)
		if err != nil {
			return nil, err
		}
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return catalog, nil
}

func (s *QuotationService) checkPlatforms(ctx context.Context, verr *model.ValidationError, ids []string) ([]model.Platform, error) {
	catalog, err := s.platforms.ListPlatforms(ctx)
	if err != nil {
		return nil, fmt.Errorf("carregar catálogo de plataformas: %w", err)
	}

	known := make(map[string]bool, len(catalog))
	for _, p := range catalog {
		known[p.ID] = true
	}
	for _, id := range ids {
		if id != "" && !known[id] {
			verr.Add("platforms", fmt.Sprintf("unknown platform %q", id))
		}
	}
	return catalog, nil
}

func (s *QuotationService) notify(userID string, update websocket.QuotationStatus) {
	if s.notifier == nil {
		return
	}
	s.notifier.SendQuotationStatus(userID, update)
}

func (s *QuotationService) notifyFailure(userID, quotationID string, err error) {
	s.notify(userID, websocket.QuotationStatus{
		Status:      websocket.StatusFailed,
		QuotationID: quotationID,
		Code:        model.ErrorCode(err),
		Message:     err.Error(),
	})
}

// collectValidation junta as violações de err em verr
func collectValidation(verr *model.ValidationError, err error) {
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		verr.Errors = append(verr.Errors, ve.Errors...)
	}
}

// foldReasoning copia os atributos e acrescenta o raciocínio do modelo
func foldReasoning(attrs map[string]interface{}, reasoning string) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	if reasoning != "" {
		out[model.ReasoningAttribute] = reasoning
	}
	return out
}

// uniqueIDs remove ids repetidos mantendo a ordem
func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func platformsByID(catalog []model.Platform, ids []string) []model.Platform {
	byID := make(map[string]model.Platform, len(catalog))
	for _, p := range catalog {
		byID[p.ID] = p
	}
	out := make([]model.Platform, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		} else {
			out = append(out, model.Platform{ID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
