package handler

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/cleberrangel/quotation-api/internal/middleware"
	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// QuotationManager é o subconjunto do serviço de cotações usado pelo handler
type QuotationManager interface {
	CreateQuotation(ctx context.Context, userID string, scope model.ProjectScope) (*model.Quotation, error)
	GetQuotation(ctx context.Context, userID, id string) (*model.Quotation, error)
	ListQuotations(ctx context.Context, userID string, params model.ListParams) (*model.QuotationPage, error)
	UpdateQuotation(ctx context.Context, userID, id string, upd model.QuotationUpdate) (*model.Quotation, error)
	DeleteQuotation(ctx context.Context, userID, id string) error
	UpdateTask(ctx context.Context, userID, quotationID, taskID string, manDays float64) (*model.QuotationTask, error)
	ExportQuotation(ctx context.Context, userID, id string) (*bytes.Buffer, error)
}

// QuotationHandler handles quotation HTTP requests
type QuotationHandler struct {
	quotations QuotationManager
}

// NewQuotationHandler creates a new quotation handler
func NewQuotationHandler(quotations QuotationManager) *QuotationHandler {
	return &QuotationHandler{quotations: quotations}
}

// CreateQuotation estima o escopo e persiste a cotação
func (h *QuotationHandler) CreateQuotation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req model.CreateQuotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	req.Scope = middleware.SanitizeText(req.Scope)

	quotation, err := h.quotations.CreateQuotation(c.Request.Context(), userID, req.ToScope())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model.Response{
		Success: true,
		Data:    quotation,
		Message: "Cotação criada com sucesso",
	})
}

// ListQuotations lista as cotações do usuário com paginação
func (h *QuotationHandler) ListQuotations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params, err := parseListParams(c)
	if err != nil {
		respondError(c, err)
		return
	}

	page, err := h.quotations.ListQuotations(c.Request.Context(), userID, params)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// GetQuotation retorna a cotação com plataformas, tarefas e avaliação
func (h *QuotationHandler) GetQuotation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	quotation, err := h.quotations.GetQuotation(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.Response{Success: true, Data: quotation})
}

// UpdateQuotation aplica uma atualização parcial
func (h *QuotationHandler) UpdateQuotation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req model.UpdateQuotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.Scope != nil {
		scope := middleware.SanitizeText(*req.Scope)
		req.Scope = &scope
	}

	quotation, err := h.quotations.UpdateQuotation(c.Request.Context(), userID, c.Param("id"), req.ToUpdate())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.Response{
		Success: true,
		Data:    quotation,
		Message: "Cotação atualizada com sucesso",
	})
}

// DeleteQuotation remove a cotação e seus dependentes
func (h *QuotationHandler) DeleteQuotation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.quotations.DeleteQuotation(c.Request.Context(), userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.Response{
		Success: true,
		Message: "Cotação removida com sucesso",
	})
}

// UpdateTask altera os man-days de uma tarefa
func (h *QuotationHandler) UpdateTask(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req model.UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, model.NewValidationError("man_days", "man_days is required"))
		return
	}

	task, err := h.quotations.UpdateTask(c.Request.Context(), userID, c.Param("id"), c.Param("taskId"), *req.ManDays)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.Response{Success: true, Data: task})
}

// ExportQuotation devolve a planilha da cotação como anexo
func (h *QuotationHandler) ExportQuotation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	id := c.Param("id")
	buf, err := h.quotations.ExportQuotation(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}

	filename := middleware.SanitizeFilename("cotacao_"+id) + ".xlsx"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// parseListParams lê page, limit, sort e filter da query string
func parseListParams(c *gin.Context) (model.ListParams, error) {
	verr := &model.ValidationError{}
	params := model.ListParams{
		Sort:   c.Query("sort"),
		Filter: middleware.SanitizeText(c.Query("filter")),
	}

	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			verr.Add("page", "page must be an integer")
		}
		params.Page = page
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			verr.Add("limit", "limit must be an integer")
		}
		params.Limit = limit
	}

	return params, verr.OrNil()
}
