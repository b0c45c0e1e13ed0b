package client

import (
	"math"
	"net/url"
	"time"

	"github.com/cleberrangel/quotation-api/internal/config"
	"github.com/cleberrangel/quotation-api/internal/model"
)

const (
	// DefaultTimeout timeout padrão por tentativa
	DefaultTimeout = 60 * time.Second

	// DefaultDeferDelay espera do pump quando o orçamento do minuto acaba
	DefaultDeferDelay = time.Second

	// budgetWindow janela do orçamento de requisições
	budgetWindow = time.Minute
)

// RetryPolicy define o backoff exponencial entre tentativas
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy retorna a política padrão: 3 tentativas, 1s inicial, 10s máximo, fator 2
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}
}

// Backoff returns the wait before the attempt following attempt (1-based):
// min(InitialDelay * BackoffFactor^(attempt-1), MaxDelay).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// RateLimit define a capacidade da fila e o orçamento por minuto
type RateLimit struct {
	RequestsPerMinute int
	MaxQueueSize      int
	DeferDelay        time.Duration
}

// DefaultRateLimit retorna 60 requisições por minuto e fila de 100
func DefaultRateLimit() RateLimit {
	return RateLimit{
		RequestsPerMinute: 60,
		MaxQueueSize:      100,
		DeferDelay:        DefaultDeferDelay,
	}
}

// Config reúne os parâmetros do provedor e do dispatcher
type Config struct {
	URL         string
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Timeout     time.Duration

	// Cabeçalhos de identificação da aplicação
	Referer string
	Title   string

	Retry     RetryPolicy
	RateLimit RateLimit
}

// FromAppConfig monta a configuração do cliente a partir da configuração da aplicação
func FromAppConfig(cfg *config.Config) Config {
	p := cfg.Provider
	return Config{
		URL:         p.URL,
		APIKey:      p.APIKey,
		Model:       p.Model,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		MaxTokens:   p.MaxTokens,
		Timeout:     p.Timeout,
		Referer:     p.Referer,
		Title:       p.Title,
		Retry: RetryPolicy{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			InitialDelay:  cfg.Retry.InitialDelay,
			MaxDelay:      cfg.Retry.MaxDelay,
			BackoffFactor: cfg.Retry.BackoffFactor,
		},
		RateLimit: RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			MaxQueueSize:      cfg.RateLimit.MaxQueueSize,
			DeferDelay:        cfg.RateLimit.DeferDelay,
		},
	}
}

// Validate checks every parameter and returns the first violation as a
// *model.ConfigError.
func (c Config) Validate() error {
	if err := c.validateEndpoint(); err != nil {
		return err
	}
	if c.Model == "" {
		return &model.ConfigError{Field: "model", Reason: "must not be empty"}
	}
	if err := validateModelParams(c.Temperature, c.TopP, c.MaxTokens); err != nil {
		return err
	}

	r := c.Retry
	if r.MaxAttempts < 1 {
		return &model.ConfigError{Field: "retry.max_attempts", Reason: "must be at least 1"}
	}
	if r.InitialDelay < 0 {
		return &model.ConfigError{Field: "retry.initial_delay", Reason: "must not be negative"}
	}
	if r.MaxDelay < r.InitialDelay {
		return &model.ConfigError{Field: "retry.max_delay", Reason: "must be >= initial_delay"}
	}
	if math.IsNaN(r.BackoffFactor) || r.BackoffFactor < 1 {
		return &model.ConfigError{Field: "retry.backoff_factor", Reason: "must be >= 1"}
	}

	l := c.RateLimit
	if l.RequestsPerMinute < 1 {
		return &model.ConfigError{Field: "rate_limit.requests_per_minute", Reason: "must be positive"}
	}
	if l.MaxQueueSize < 1 {
		return &model.ConfigError{Field: "rate_limit.max_queue_size", Reason: "must be positive"}
	}
	if l.DeferDelay < 0 {
		return &model.ConfigError{Field: "rate_limit.defer_delay", Reason: "must not be negative"}
	}

	return nil
}

func (c Config) validateEndpoint() error {
	if c.URL == "" {
		return &model.ConfigError{Field: "url", Reason: "must not be empty"}
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &model.ConfigError{Field: "url", Reason: "must be an absolute URL"}
	}
	if c.APIKey == "" {
		return &model.ConfigError{Field: "api_key", Reason: "must not be empty"}
	}
	return nil
}

func validateModelParams(temperature, topP float64, maxTokens int) error {
	if math.IsNaN(temperature) || temperature < 0 || temperature > 1 {
		return &model.ConfigError{Field: "temperature", Reason: "must be between 0 and 1"}
	}
	if math.IsNaN(topP) || topP < 0 || topP > 1 {
		return &model.ConfigError{Field: "top_p", Reason: "must be between 0 and 1"}
	}
	if maxTokens <= 0 {
		return &model.ConfigError{Field: "max_tokens", Reason: "must be positive"}
	}
	return nil
}
