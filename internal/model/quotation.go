package model

import (
	"strings"
	"time"
)

// ReasoningAttribute é a chave onde o raciocínio do modelo é guardado nos atributos
const ReasoningAttribute = "ai_reasoning"

// Platform é uma plataforma alvo selecionável
type Platform struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// QuotationTask é uma tarefa persistida de uma cotação
type QuotationTask struct {
	ID          string    `json:"id"`
	QuotationID string    `json:"quotation_id"`
	Description string    `json:"task_description"`
	ManDays     *float64  `json:"man_days"`
	CreatedAt   time.Time `json:"created_at"`
}

// Review é a avaliação de uma cotação pelo dono
type Review struct {
	ID          string    `json:"id"`
	QuotationID string    `json:"quotation_id"`
	Rating      int       `json:"rating"`
	Comment     *string   `json:"comment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Quotation é a raiz do agregado persistido
type Quotation struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id"`
	EstimationType EstimationType         `json:"estimation_type"`
	Scope          string                 `json:"scope"`
	Buffer         int                    `json:"buffer"`
	Attributes     map[string]interface{} `json:"dynamic_attributes"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	Platforms      []Platform             `json:"platforms"`
	Tasks          []QuotationTask        `json:"tasks"`
	Review         *Review                `json:"review,omitempty"`
}

// PlatformIDs retorna os ids das plataformas vinculadas
func (q *Quotation) PlatformIDs() []string {
	ids := make([]string, 0, len(q.Platforms))
	for _, p := range q.Platforms {
		ids = append(ids, p.ID)
	}
	return ids
}

// TotalManDays soma os man-days das tarefas (tarefas sem valor contam zero)
func (q *Quotation) TotalManDays() float64 {
	var total float64
	for _, t := range q.Tasks {
		if t.ManDays != nil {
			total += *t.ManDays
		}
	}
	return total
}

// Reasoning retorna o raciocínio do modelo guardado nos atributos
func (q *Quotation) Reasoning() string {
	if q.Attributes == nil {
		return ""
	}
	if r, ok := q.Attributes[ReasoningAttribute].(string); ok {
		return r
	}
	return ""
}

// Sort orders accepted by quotation listing
const (
	SortCreatedAtDesc = "created_at:desc"
	SortCreatedAtAsc  = "created_at:asc"
	SortBufferDesc    = "buffer:desc"
	SortBufferAsc     = "buffer:asc"
)

// Paginação padrão
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// ListParams são os parâmetros de listagem de cotações
type ListParams struct {
	Page   int
	Limit  int
	Sort   string
	Filter string
}

// Normalize aplica defaults e valida os parâmetros
func (p ListParams) Normalize() (ListParams, error) {
	verr := &ValidationError{}

	if p.Page == 0 {
		p.Page = 1
	}
	if p.Page < 1 {
		verr.Add("page", "page must be at least 1")
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit < 1 || p.Limit > MaxPageLimit {
		verr.Add("limit", "limit must be between 1 and 100")
	}
	if p.Sort == "" {
		p.Sort = SortCreatedAtDesc
	}
	switch p.Sort {
	case SortCreatedAtDesc, SortCreatedAtAsc, SortBufferDesc, SortBufferAsc:
	default:
		verr.Add("sort", "unsupported sort order")
	}

	return p, verr.OrNil()
}

// Offset calcula o deslocamento da página
func (p ListParams) Offset() int {
	return (p.Page - 1) * p.Limit
}

// Pagination descreve a página retornada
type Pagination struct {
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
}

// NewPagination monta a paginação a partir do total de registros
func NewPagination(total int, p ListParams) Pagination {
	pages := 0
	if p.Limit > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Pagination{Total: total, TotalPages: pages, Page: p.Page, Limit: p.Limit}
}

// QuotationPage é uma página de cotações
type QuotationPage struct {
	Data       []Quotation `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// QuotationUpdate é uma atualização parcial de cotação
type QuotationUpdate struct {
	EstimationType *EstimationType
	Scope          *string
	Platforms      []string
	Attributes     map[string]interface{}
}

// Validate checks only the fields present in the update.
func (u QuotationUpdate) Validate() error {
	verr := &ValidationError{}

	if u.Scope != nil {
		if strings.TrimSpace(*u.Scope) == "" {
			verr.Add("scope", "scope is required")
		} else if len([]rune(*u.Scope)) > MaxScopeLength {
			verr.Add("scope", "scope must be at most 10000 characters")
		}
	}
	if u.Platforms != nil && len(u.Platforms) == 0 {
		verr.Add("platforms", "at least one platform is required")
	}
	for _, p := range u.Platforms {
		if strings.TrimSpace(p) == "" {
			verr.Add("platforms", "platform id must not be empty")
			break
		}
	}
	if u.EstimationType != nil && !u.EstimationType.Valid() {
		verr.Add("estimation_type", `estimation_type must be "Fixed Price" or "Time & Material"`)
	}

	return verr.OrNil()
}

// Limites de avaliação
const (
	MinRating        = 1
	MaxRating        = 5
	MaxCommentLength = 1000
)

// ValidateReview valida nota e comentário
func ValidateReview(rating int, comment *string) error {
	verr := &ValidationError{}
	if rating < MinRating || rating > MaxRating {
		verr.Add("rating", "rating must be an integer between 1 and 5")
	}
	if comment != nil && len([]rune(*comment)) > MaxCommentLength {
		verr.Add("comment", "comment must be at most 1000 characters")
	}
	return verr.OrNil()
}
