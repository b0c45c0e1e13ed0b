package model

// CreateQuotationRequest representa o payload de criação de cotação
type CreateQuotationRequest struct {
	EstimationType    EstimationType         `json:"estimation_type"`
	Scope             string                 `json:"scope"`
	Platforms         []string               `json:"platforms"`
	DynamicAttributes map[string]interface{} `json:"dynamic_attributes,omitempty"`
}

// ToScope converte o payload na entrada do orquestrador
func (r CreateQuotationRequest) ToScope() ProjectScope {
	return ProjectScope{
		Scope:          r.Scope,
		Platforms:      r.Platforms,
		EstimationType: r.EstimationType,
		Attributes:     r.DynamicAttributes,
	}
}

// UpdateQuotationRequest representa o payload de atualização parcial
type UpdateQuotationRequest struct {
	EstimationType    *EstimationType        `json:"estimation_type,omitempty"`
	Scope             *string                `json:"scope,omitempty"`
	Platforms         []string               `json:"platforms,omitempty"`
	DynamicAttributes map[string]interface{} `json:"dynamic_attributes,omitempty"`
}

// ToUpdate converte o payload em QuotationUpdate
func (r UpdateQuotationRequest) ToUpdate() QuotationUpdate {
	return QuotationUpdate{
		EstimationType: r.EstimationType,
		Scope:          r.Scope,
		Platforms:      r.Platforms,
		Attributes:     r.DynamicAttributes,
	}
}

// UpdateTaskRequest altera os man-days de uma tarefa
type UpdateTaskRequest struct {
	ManDays *float64 `json:"man_days" binding:"required"`
}

// CreateReviewRequest representa o payload de avaliação
type CreateReviewRequest struct {
	Rating  int     `json:"rating"`
	Comment *string `json:"comment,omitempty"`
}

// RegisterRequest representa o payload de cadastro
type RegisterRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// LoginRequest representa o payload de login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Response representa a resposta padrão da API
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrorResponse representa uma resposta de erro
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Code    string       `json:"code"`
	Details []FieldError `json:"details,omitempty"`
}
