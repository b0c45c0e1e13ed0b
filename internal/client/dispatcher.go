package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/metrics"
	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/google/uuid"
)

// Request states
const (
	StateQueued    = "queued"
	StateInFlight  = "in_flight"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// ErrDispatcherStopped indica que o dispatcher foi parado
var ErrDispatcherStopped = errors.New("dispatcher parado")

// Sender executa uma única tentativa contra o provedor
type Sender interface {
	Send(ctx context.Context, req model.ProviderRequest) (*model.ProviderResponse, error)
}

type modelParams struct {
	model       string
	temperature float64
	topP        float64
	maxTokens   int
}

type pendingRequest struct {
	id         string
	ctx        context.Context
	req        model.ProviderRequest
	enqueuedAt time.Time
	result     chan dispatchResult
}

type dispatchResult struct {
	resp *model.ProviderResponse
	err  error
}

// Dispatcher serializa as chamadas ao provedor: fila limitada, no máximo uma
// requisição em andamento, orçamento por minuto e retry com backoff exponencial.
type Dispatcher struct {
	sender Sender
	retry  RetryPolicy
	limit  RateLimit

	paramsMu sync.RWMutex
	params   modelParams

	queue chan *pendingRequest

	// Owned by the pump goroutine
	requestCount int
	windowStart  time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// Background processor control
	processorCtx    context.Context
	processorCancel context.CancelFunc
	processorWg     sync.WaitGroup
	startOnce       sync.Once

	// stateMu guards stopped; enqueue holds the read lock while pushing
	stateMu sync.RWMutex
	stopped bool
}

// NewDispatcher valida a configuração e cria o dispatcher. Nenhuma requisição
// é aceita com configuração inválida: o erro é um *model.ConfigError.
func NewDispatcher(cfg Config, sender Sender) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, &model.ConfigError{Field: "sender", Reason: "must not be nil"}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		sender: sender,
		retry:  cfg.Retry,
		limit:  cfg.RateLimit,
		params: modelParams{
			model:       cfg.Model,
			temperature: cfg.Temperature,
			topP:        cfg.TopP,
			maxTokens:   cfg.MaxTokens,
		},
		queue:           make(chan *pendingRequest, cfg.RateLimit.MaxQueueSize),
		now:             time.Now,
		sleep:           sleepContext,
		processorCtx:    ctx,
		processorCancel: cancel,
	}, nil
}

// SetModelConfig altera temperatura, top_p e max_tokens das próximas requisições
func (d *Dispatcher) SetModelConfig(temperature, topP float64, maxTokens int) error {
	if err := validateModelParams(temperature, topP, maxTokens); err != nil {
		return err
	}

	d.paramsMu.Lock()
	d.params.temperature = temperature
	d.params.topP = topP
	d.params.maxTokens = maxTokens
	d.paramsMu.Unlock()

	logger.Global().Info().
		Float64("temperature", temperature).
		Float64("top_p", topP).
		Int("max_tokens", maxTokens).
		Msg("Configuração do modelo atualizada")
	return nil
}

// Start inicia o pump da fila
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		logger.Global().Info().
			Int("requests_per_minute", d.limit.RequestsPerMinute).
			Int("max_queue_size", d.limit.MaxQueueSize).
			Int("max_attempts", d.retry.MaxAttempts).
			Msg("Iniciando dispatcher")

		d.processorWg.Add(1)
		go d.pump()
	})
}

// Stop para o pump. Requisições ainda na fila falham com context.Canceled;
// a requisição em andamento termina antes do retorno, salvo se ctx expirar.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stateMu.Lock()
	if !d.stopped {
		d.stopped = true
		logger.Global().Info().Msg("Parando dispatcher")
		d.processorCancel()
	}
	d.stateMu.Unlock()

	waitCh := make(chan struct{})
	go func() {
		d.processorWg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		// If the pump never started, fail anything still queued here.
		d.drain()
		logger.Global().Info().Msg("Dispatcher parado")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth retorna quantas requisições aguardam na fila
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// Capacity retorna a capacidade máxima da fila
func (d *Dispatcher) Capacity() int {
	return cap(d.queue)
}

// Submit enfileira a requisição e aguarda o resultado.
// Falha imediatamente com model.ErrQueueFull se a fila estiver cheia.
func (d *Dispatcher) Submit(ctx context.Context, req model.ProviderRequest) (*model.ProviderResponse, error) {
	result, err := d.enqueue(ctx, req)
	if err != nil {
		return nil, err
	}

	// Every accepted request gets a result, even across Stop.
	select {
	case r := <-result:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// enqueue coloca a requisição na fila sem bloquear
func (d *Dispatcher) enqueue(ctx context.Context, req model.ProviderRequest) (<-chan dispatchResult, error) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()

	if d.stopped {
		return nil, ErrDispatcherStopped
	}

	p := &pendingRequest{
		id:         uuid.New().String()[:8],
		ctx:        ctx,
		req:        d.applyModelParams(req),
		enqueuedAt: d.now(),
		result:     make(chan dispatchResult, 1),
	}

	select {
	case d.queue <- p:
	default:
		metrics.DispatcherRejected.Inc()
		logger.Get(ctx).Warn().
			Int("max_queue_size", d.limit.MaxQueueSize).
			Msg("Fila do dispatcher cheia, requisição rejeitada")
		return nil, model.ErrQueueFull
	}

	metrics.DispatcherQueueDepth.Set(float64(len(d.queue)))
	logger.Get(ctx).Debug().
		Str("dispatch_id", p.id).
		Str("state", StateQueued).
		Int("queue_depth", len(d.queue)).
		Msg("Requisição enfileirada")

	return p.result, nil
}

// applyModelParams preenche os parâmetros do modelo não informados na requisição
func (d *Dispatcher) applyModelParams(req model.ProviderRequest) model.ProviderRequest {
	d.paramsMu.RLock()
	params := d.params
	d.paramsMu.RUnlock()

	if req.Model == "" {
		req.Model = params.model
	}
	if req.Temperature == nil {
		t := params.temperature
		req.Temperature = &t
	}
	if req.TopP == nil {
		p := params.topP
		req.TopP = &p
	}
	if req.MaxTokens == nil {
		m := params.maxTokens
		req.MaxTokens = &m
	}
	return req
}

// pump is the background goroutine that processes queued requests one at a time
func (d *Dispatcher) pump() {
	defer d.processorWg.Done()

	log := logger.Global()
	log.Info().Msg("Dispatcher pump iniciado")

	for {
		select {
		case <-d.processorCtx.Done():
			d.drain()
			log.Info().Msg("Dispatcher pump parando")
			return
		case p := <-d.queue:
			metrics.DispatcherQueueDepth.Set(float64(len(d.queue)))
			d.process(p)
		}
	}
}

// drain falha todas as requisições restantes na fila
func (d *Dispatcher) drain() {
	for {
		select {
		case p := <-d.queue:
			p.result <- dispatchResult{err: context.Canceled}
		default:
			metrics.DispatcherQueueDepth.Set(0)
			return
		}
	}
}

// process executa uma requisição da cabeça da fila
func (d *Dispatcher) process(p *pendingRequest) {
	log := logger.Get(p.ctx).With().Str("dispatch_id", p.id).Logger()

	if err := p.ctx.Err(); err != nil {
		log.Debug().Err(err).Msg("Chamador desistiu antes do envio")
		p.result <- dispatchResult{err: err}
		return
	}

	if err := d.awaitBudget(p.ctx); err != nil {
		p.result <- dispatchResult{err: err}
		return
	}

	log.Debug().
		Str("state", StateInFlight).
		Dur("queued_for", d.now().Sub(p.enqueuedAt)).
		Msg("Requisição em andamento")

	resp, err := d.executeWithRetry(p.ctx, p.id, p.req)
	if err != nil {
		log.Warn().Str("state", StateFailed).Err(err).Msg("Requisição ao provedor falhou")
	} else {
		log.Debug().Str("state", StateCompleted).Msg("Requisição concluída")
	}

	p.result <- dispatchResult{resp: resp, err: err}
}

// awaitBudget bloqueia até haver orçamento na janela de um minuto.
// Com o orçamento esgotado, o pump adia DeferDelay e verifica de novo.
func (d *Dispatcher) awaitBudget(ctx context.Context) error {
	for {
		now := d.now()
		if d.windowStart.IsZero() || now.Sub(d.windowStart) >= budgetWindow {
			d.windowStart = now
			d.requestCount = 0
		}

		if d.requestCount < d.limit.RequestsPerMinute {
			d.requestCount++
			return nil
		}

		metrics.DispatcherBudgetDeferrals.Inc()
		logger.Get(ctx).Debug().
			Int("requests_in_window", d.requestCount).
			Dur("defer", d.limit.DeferDelay).
			Msg("Orçamento por minuto esgotado, adiando")

		if err := d.sleep(ctx, d.limit.DeferDelay); err != nil {
			return err
		}
		if err := d.processorCtx.Err(); err != nil {
			return err
		}
	}
}

// executeWithRetry executa a requisição com retry e backoff
func (d *Dispatcher) executeWithRetry(ctx context.Context, id string, req model.ProviderRequest) (*model.ProviderResponse, error) {
	// Payload inválido nunca é refeito
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var lastErr error

	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		resp, err := d.sender.Send(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Se é erro de contexto cancelado, não faz retry
		if ctx.Err() != nil {
			return nil, err
		}

		if !model.IsRetryable(err) {
			return nil, err
		}

		if attempt < d.retry.MaxAttempts {
			backoff := d.retry.Backoff(attempt)
			metrics.RecordRetry(outcomeOf(err))

			logger.Get(ctx).Warn().
				Str("dispatch_id", id).
				Int("attempt", attempt).
				Int("max_attempts", d.retry.MaxAttempts).
				Err(err).
				Dur("backoff", backoff).
				Msg("Tentativa falhou, aguardando retry")

			if err := d.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}
	}

	return nil, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
