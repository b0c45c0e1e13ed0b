package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config armazena as configurações da aplicação
type Config struct {
	Port        string
	GinMode     string
	LogLevel    string
	LogJSON     bool
	CORSOrigins []string

	Database  DatabaseConfig
	Provider  ProviderConfig
	Retry     RetryConfig
	RateLimit RateLimitConfig

	// BufferRatio é a fração do total de man-days usada como buffer
	BufferRatio float64

	SessionDuration time.Duration
	CookieSecure    bool

	// MetricsToken protege /metrics com Bearer quando definido
	MetricsToken string

	PlatformCacheTTL time.Duration

	// Limite de criação de cotações por usuário
	CreateRatePerMinute int
	CreateRateBurst     int
}

// DatabaseConfig contém a conexão com o PostgreSQL
type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// ProviderConfig contém os parâmetros do provedor de estimativa
type ProviderConfig struct {
	URL         string
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	Timeout     time.Duration
	Referer     string
	Title       string
}

// RetryConfig contém a política de retry do dispatcher
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// RateLimitConfig contém o orçamento de requisições do dispatcher
type RateLimitConfig struct {
	RequestsPerMinute int
	MaxQueueSize      int
	DeferDelay        time.Duration
}

// ErrMissingAPIKey indica que a chave do provedor não foi configurada
var ErrMissingAPIKey = errors.New("OPENROUTER_API_KEY não configurado")

// Load carrega as configurações do ambiente
func Load() (*Config, error) {
	// Tenta carregar .env de múltiplos locais
	_ = godotenv.Load()
	_ = godotenv.Load("../.env")

	p := &parser{}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogJSON:     p.bool("LOG_JSON", false),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),

		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     os.Getenv("DB_PASSWORD"),
			Name:         getEnv("DB_NAME", "quotations"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: p.int("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: p.int("DB_MAX_IDLE_CONNS", 10),
		},

		Provider: ProviderConfig{
			URL:         getEnv("OPENROUTER_API_URL", "https://openrouter.ai/api/v1/chat/completions"),
			APIKey:      os.Getenv("OPENROUTER_API_KEY"),
			Model:       getEnv("OPENROUTER_MODEL", "mistralai/mistral-7b-instruct"),
			Temperature: p.float("OPENROUTER_TEMPERATURE", 0.7),
			TopP:        p.float("OPENROUTER_TOP_P", 1),
			MaxTokens:   p.int("OPENROUTER_MAX_TOKENS", 2000),
			Timeout:     p.duration("OPENROUTER_TIMEOUT", 60*time.Second),
			Referer:     getEnv("OPENROUTER_REFERER", "http://localhost:3000"),
			Title:       getEnv("OPENROUTER_TITLE", "Quotation Estimator"),
		},

		Retry: RetryConfig{
			MaxAttempts:   p.int("RETRY_MAX_ATTEMPTS", 3),
			InitialDelay:  p.duration("RETRY_INITIAL_DELAY", time.Second),
			MaxDelay:      p.duration("RETRY_MAX_DELAY", 10*time.Second),
			BackoffFactor: p.float("RETRY_BACKOFF_FACTOR", 2),
		},

		RateLimit: RateLimitConfig{
			RequestsPerMinute: p.int("RATE_LIMIT_RPM", 60),
			MaxQueueSize:      p.int("RATE_LIMIT_QUEUE_SIZE", 100),
			DeferDelay:        p.duration("RATE_LIMIT_DEFER", time.Second),
		},

		BufferRatio: p.float("BUFFER_RATIO", 0.3),

		SessionDuration: p.duration("SESSION_DURATION", 24*time.Hour),
		CookieSecure:    p.bool("COOKIE_SECURE", false),

		MetricsToken:     os.Getenv("METRICS_TOKEN"),
		PlatformCacheTTL: p.duration("PLATFORM_CACHE_TTL", 10*time.Minute),

		CreateRatePerMinute: p.int("CREATE_RATE_PER_MINUTE", 10),
		CreateRateBurst:     p.int("CREATE_RATE_BURST", 3),
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}

	// Validações obrigatórias
	if cfg.Provider.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	if cfg.BufferRatio < 0 {
		return nil, fmt.Errorf("BUFFER_RATIO deve ser >= 0, recebido %v", cfg.BufferRatio)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser acumula erros de conversão para reportar todos de uma vez
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s inválido: %q não é um inteiro", key, raw))
		return fallback
	}
	return v
}

func (p *parser) float(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s inválido: %q não é um número", key, raw))
		return fallback
	}
	return v
}

func (p *parser) bool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s inválido: %q não é booleano", key, raw))
		return fallback
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s inválido: %q não é uma duração (ex: 1s, 500ms)", key, raw))
		return fallback
	}
	return v
}
