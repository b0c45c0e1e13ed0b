package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig indica configuração inválida do dispatcher ou do provedor
	ErrConfig = errors.New("configuração inválida")

	// ErrValidation indica entrada do chamador malformada
	ErrValidation = errors.New("dados de entrada inválidos")

	// ErrQueueFull indica que a fila do dispatcher atingiu a capacidade máxima
	ErrQueueFull = errors.New("fila de requisições cheia")

	// ErrRateLimited indica que o provedor retornou 429
	ErrRateLimited = errors.New("rate limit excedido no provedor de estimativa")

	// ErrTransport indica falha de rede ou erro 5xx do provedor
	ErrTransport = errors.New("falha de comunicação com o provedor de estimativa")

	// ErrTimeout indica timeout na requisição ao provedor
	ErrTimeout = errors.New("timeout na requisição ao provedor de estimativa")

	// ErrInvalidPayload indica payload de requisição rejeitado (nunca é refeito)
	ErrInvalidPayload = errors.New("payload de requisição inválido")

	// ErrUnauthorized indica chave do provedor inválida ou sem permissão
	ErrUnauthorized = errors.New("chave do provedor de estimativa inválida")

	// ErrInvalidResponse indica resposta em formato desconhecido
	ErrInvalidResponse = errors.New("resposta inválida do provedor de estimativa")

	// ErrEstimationFailed indica que a estimativa não pôde ser obtida
	ErrEstimationFailed = errors.New("falha na estimativa do projeto")

	// ErrPersistence indica falha de escrita no banco
	ErrPersistence = errors.New("falha ao persistir cotação")

	// ErrNotFound indica recurso não encontrado
	ErrNotFound = errors.New("recurso não encontrado")

	// ErrForbidden indica acesso a recurso de outro usuário
	ErrForbidden = errors.New("acesso negado")

	// ErrReviewExists indica que a cotação já possui avaliação
	ErrReviewExists = errors.New("cotação já avaliada")

	// ErrEmailTaken indica e-mail já cadastrado
	ErrEmailTaken = errors.New("e-mail já cadastrado")

	// ErrInvalidCredentials indica e-mail ou senha incorretos
	ErrInvalidCredentials = errors.New("credenciais inválidas")
)

// FieldError descreve uma violação em um campo de entrada
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError agrega todas as violações encontradas em uma entrada
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// Add registra uma violação
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no violation was recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError cria um ValidationError com uma única violação
func NewValidationError(field, message string) *ValidationError {
	verr := &ValidationError{}
	verr.Add(field, message)
	return verr
}

// ConfigError descreve um parâmetro de configuração inválido
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrConfig.Error(), e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

// IsRetryable reports whether err is a transient provider failure.
// Payload and response-shape errors are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidPayload) || errors.Is(err, ErrInvalidResponse) {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrTimeout)
}

// ErrorCode retorna o código estável exposto na API e nas notificações
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrQueueFull):
		return "QUEUE_FULL"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrEstimationFailed):
		return "ESTIMATION_FAILED"
	case errors.Is(err, ErrPersistence):
		return "PERSISTENCE_ERROR"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrReviewExists):
		return "REVIEW_EXISTS"
	case errors.Is(err, ErrEmailTaken):
		return "EMAIL_TAKEN"
	case errors.Is(err, ErrInvalidCredentials):
		return "INVALID_CREDENTIALS"
	case errors.Is(err, ErrConfig):
		return "CONFIG_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
