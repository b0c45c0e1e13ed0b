package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/metrics"
	"github.com/cleberrangel/quotation-api/internal/model"
)

// maxResponseBytes limita o corpo lido do provedor
const maxResponseBytes = 4 << 20

// Client é o cliente HTTP do provedor de estimativa (OpenRouter).
// Cada chamada a Send é uma única tentativa; retry e orçamento ficam no Dispatcher.
type Client struct {
	url        string
	apiKey     string
	referer    string
	title      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient cria um novo cliente do provedor
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validateEndpoint(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		referer: cfg.Referer,
		title:   cfg.Title,
		timeout: timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}, nil
}

// Send envia uma requisição ao provedor e normaliza a resposta.
// Erros são classificados pelos sentinelas de model: ErrRateLimited (429),
// ErrUnauthorized (401/403), ErrInvalidPayload (demais 4xx), ErrTransport
// (rede ou 5xx), ErrTimeout (prazo da tentativa) e ErrInvalidResponse.
func (c *Client) Send(ctx context.Context, req model.ProviderRequest) (*model.ProviderResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", model.ErrInvalidPayload, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("criar request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = c.classifyTransportError(ctx, attemptCtx, err)
		metrics.RecordProviderCall(outcomeOf(err), time.Since(start))
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		err = c.classifyTransportError(ctx, attemptCtx, err)
		metrics.RecordProviderCall(outcomeOf(err), time.Since(start))
		return nil, err
	}

	if err := statusError(resp.StatusCode, raw); err != nil {
		metrics.RecordProviderCall(outcomeOf(err), time.Since(start))
		logger.Get(ctx).Debug().
			Int("status", resp.StatusCode).
			Err(err).
			Msg("Provedor retornou erro")
		return nil, err
	}

	out, err := model.DecodeProviderResponse(raw)
	metrics.RecordProviderCall(outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	return out, nil
}

// classifyTransportError diferencia cancelamento do chamador, timeout da tentativa e falha de rede
func (c *Client) classifyTransportError(parent, attempt context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w após %s: %v", model.ErrTimeout, c.timeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", model.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", model.ErrTransport, err)
}

// statusError mapeia o status HTTP para os sentinelas
func statusError(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", model.ErrRateLimited, snippet(body))
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", model.ErrUnauthorized, status)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: status %d: %s", model.ErrInvalidPayload, status, snippet(body))
	default:
		return fmt.Errorf("%w: status %d: %s", model.ErrTransport, status, snippet(body))
	}
}

func snippet(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, model.ErrTimeout):
		return "timeout"
	case errors.Is(err, model.ErrTransport):
		return "transport"
	case errors.Is(err, model.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, model.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, model.ErrInvalidResponse):
		return "invalid_response"
	default:
		return "canceled"
	}
}
