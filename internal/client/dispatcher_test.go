package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// scriptedSender returns the scripted errors in order, then succeeds
type scriptedSender struct {
	mu       sync.Mutex
	errs     []error
	always   error
	calls    int
	requests []model.ProviderRequest

	inFlight    int32
	maxInFlight int32
	delay       time.Duration
}

func (s *scriptedSender) Send(ctx context.Context, req model.ProviderRequest) (*model.ProviderResponse, error) {
	cur := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&s.maxInFlight)
		if cur <= peak || atomic.CompareAndSwapInt32(&s.maxInFlight, peak, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.requests = append(s.requests, req)

	if s.always != nil {
		return nil, s.always
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &model.ProviderResponse{Result: req.Messages[len(req.Messages)-1].Content}, nil
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeClock advances only when the dispatcher sleeps
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

func testConfig() Config {
	return Config{
		URL:         "https://provider.test/api/v1/chat/completions",
		APIKey:      "sk-test",
		Model:       "test/model",
		Temperature: 0.7,
		TopP:        1,
		MaxTokens:   2000,
		Timeout:     time.Second,
		Retry:       DefaultRetryPolicy(),
		RateLimit:   DefaultRateLimit(),
	}
}

func newTestDispatcher(t *testing.T, cfg Config, sender Sender) (*Dispatcher, *fakeClock) {
	t.Helper()
	d, err := NewDispatcher(cfg, sender)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	clock := newFakeClock()
	d.now = clock.Now
	d.sleep = clock.Sleep
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d, clock
}

func userRequest(content string) model.ProviderRequest {
	return model.ProviderRequest{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "system prompt"},
			{Role: model.RoleUser, Content: content},
		},
	}
}

func TestNewDispatcher_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"temperature above 1", func(c *Config) { c.Temperature = 1.5 }, "temperature"},
		{"negative temperature", func(c *Config) { c.Temperature = -0.1 }, "temperature"},
		{"NaN temperature", func(c *Config) { c.Temperature = math.NaN() }, "temperature"},
		{"top_p above 1", func(c *Config) { c.TopP = 2 }, "top_p"},
		{"NaN top_p", func(c *Config) { c.TopP = math.NaN() }, "top_p"},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }, "max_tokens"},
		{"empty url", func(c *Config) { c.URL = "" }, "url"},
		{"relative url", func(c *Config) { c.URL = "/chat" }, "url"},
		{"empty key", func(c *Config) { c.APIKey = "" }, "api_key"},
		{"empty model", func(c *Config) { c.Model = "" }, "model"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"NaN backoff factor", func(c *Config) { c.Retry.BackoffFactor = math.NaN() }, "retry.backoff_factor"},
		{"zero queue", func(c *Config) { c.RateLimit.MaxQueueSize = 0 }, "rate_limit.max_queue_size"},
		{"zero rpm", func(c *Config) { c.RateLimit.RequestsPerMinute = 0 }, "rate_limit.requests_per_minute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			sender := &scriptedSender{}

			_, err := NewDispatcher(cfg, sender)
			if !errors.Is(err, model.ErrConfig) {
				t.Fatalf("error = %v, want ErrConfig", err)
			}
			var cerr *model.ConfigError
			if !errors.As(err, &cerr) || cerr.Field != tt.field {
				t.Errorf("ConfigError field = %v, want %s", cerr, tt.field)
			}
			if sender.callCount() != 0 {
				t.Error("no request should be attempted with invalid config")
			}
		})
	}
}

func TestNewDispatcher_BoundaryValuesAccepted(t *testing.T) {
	cfg := testConfig()
	cfg.Temperature = 0
	cfg.TopP = 1
	cfg.MaxTokens = 1

	if _, err := NewDispatcher(cfg, &scriptedSender{}); err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
}

func TestDispatcher_QueueFullFailsImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.MaxQueueSize = 3
	d, _ := newTestDispatcher(t, cfg, &scriptedSender{})

	// Pump not started: accepted requests stay queued.
	var pending []<-chan dispatchResult
	for i := 0; i < cfg.RateLimit.MaxQueueSize; i++ {
		ch, err := d.enqueue(context.Background(), userRequest(fmt.Sprintf("r%d", i)))
		if err != nil {
			t.Fatalf("enqueue %d error = %v", i, err)
		}
		pending = append(pending, ch)
	}

	start := time.Now()
	_, err := d.Submit(context.Background(), userRequest("overflow"))
	if !errors.Is(err, model.ErrQueueFull) {
		t.Fatalf("Submit() error = %v, want ErrQueueFull", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("queue-full rejection took %v, want immediate", elapsed)
	}
	if d.QueueDepth() != 3 || d.Capacity() != 3 {
		t.Errorf("depth/capacity = %d/%d, want 3/3", d.QueueDepth(), d.Capacity())
	}

	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	for i, ch := range pending {
		r := <-ch
		if !errors.Is(r.err, context.Canceled) {
			t.Errorf("pending %d error = %v, want context.Canceled", i, r.err)
		}
	}

	if _, err := d.Submit(context.Background(), userRequest("late")); !errors.Is(err, ErrDispatcherStopped) {
		t.Errorf("Submit after Stop error = %v, want ErrDispatcherStopped", err)
	}
}

func TestDispatcher_RetriesTransientErrorsWithBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.Retry = RetryPolicy{MaxAttempts: 4, InitialDelay: time.Second, MaxDelay: 3 * time.Second, BackoffFactor: 2}
	sender := &scriptedSender{always: fmt.Errorf("%w: status 502", model.ErrTransport)}
	d, clock := newTestDispatcher(t, cfg, sender)
	d.Start()

	_, err := d.Submit(context.Background(), userRequest("x"))
	if !errors.Is(err, model.ErrTransport) {
		t.Fatalf("Submit() error = %v, want ErrTransport", err)
	}
	if sender.callCount() != 4 {
		t.Errorf("calls = %d, want 4", sender.callCount())
	}

	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	got := clock.Sleeps()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDispatcher_RateLimitErrorAfterExhaustingRetries(t *testing.T) {
	cfg := testConfig()
	sender := &scriptedSender{always: fmt.Errorf("%w: slow down", model.ErrRateLimited)}
	d, _ := newTestDispatcher(t, cfg, sender)
	d.Start()

	_, err := d.Submit(context.Background(), userRequest("x"))
	if !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("Submit() error = %v, want ErrRateLimited", err)
	}
	if sender.callCount() != cfg.Retry.MaxAttempts {
		t.Errorf("calls = %d, want %d", sender.callCount(), cfg.Retry.MaxAttempts)
	}
}

func TestDispatcher_RecoversAfterTransientFailures(t *testing.T) {
	sender := &scriptedSender{errs: []error{model.ErrTimeout, model.ErrRateLimited}}
	d, _ := newTestDispatcher(t, testConfig(), sender)
	d.Start()

	resp, err := d.Submit(context.Background(), userRequest("hello"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if resp.Result != "hello" {
		t.Errorf("Result = %q, want hello", resp.Result)
	}
	if sender.callCount() != 3 {
		t.Errorf("calls = %d, want 3", sender.callCount())
	}
}

func TestDispatcher_NonRetryableErrors(t *testing.T) {
	tests := []struct {
		name      string
		req       model.ProviderRequest
		sendErr   error
		wantErr   error
		wantCalls int
	}{
		{"no messages", model.ProviderRequest{}, nil, model.ErrInvalidPayload, 0},
		{"bad role", model.ProviderRequest{Messages: []model.Message{{Role: "tool", Content: "x"}}}, nil, model.ErrInvalidPayload, 0},
		{"rejected payload", userRequest("x"), fmt.Errorf("%w: status 400", model.ErrInvalidPayload), model.ErrInvalidPayload, 1},
		{"unknown response shape", userRequest("x"), model.ErrInvalidResponse, model.ErrInvalidResponse, 1},
		{"unauthorized", userRequest("x"), model.ErrUnauthorized, model.ErrUnauthorized, 1},
		{"unclassified", userRequest("x"), errors.New("boom"), nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &scriptedSender{always: tt.sendErr}
			d, clock := newTestDispatcher(t, testConfig(), sender)
			d.Start()

			_, err := d.Submit(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if sender.callCount() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", sender.callCount(), tt.wantCalls)
			}
			if len(clock.Sleeps()) != 0 {
				t.Errorf("unexpected backoff sleeps %v", clock.Sleeps())
			}
		})
	}
}

func TestDispatcher_DefersWhenBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.RequestsPerMinute = 2
	sender := &scriptedSender{}
	d, clock := newTestDispatcher(t, cfg, sender)
	d.Start()

	for i := 0; i < 3; i++ {
		if _, err := d.Submit(context.Background(), userRequest(fmt.Sprintf("r%d", i))); err != nil {
			t.Fatalf("Submit %d error = %v", i, err)
		}
	}

	// The third request waits one DeferDelay at a time until the window rolls over.
	sleeps := clock.Sleeps()
	if len(sleeps) != 60 {
		t.Fatalf("deferrals = %d, want 60", len(sleeps))
	}
	for _, s := range sleeps {
		if s != DefaultDeferDelay {
			t.Fatalf("deferral = %v, want %v", s, DefaultDeferDelay)
		}
	}
	if sender.callCount() != 3 {
		t.Errorf("calls = %d, want 3", sender.callCount())
	}
}

func TestDispatcher_SingleInFlightFIFO(t *testing.T) {
	sender := &scriptedSender{delay: 5 * time.Millisecond}
	d, _ := newTestDispatcher(t, testConfig(), sender)

	const n = 8
	var results []<-chan dispatchResult
	for i := 0; i < n; i++ {
		ch, err := d.enqueue(context.Background(), userRequest(fmt.Sprintf("r%d", i)))
		if err != nil {
			t.Fatalf("enqueue error = %v", err)
		}
		results = append(results, ch)
	}
	d.Start()

	for i, ch := range results {
		r := <-ch
		if r.err != nil {
			t.Fatalf("request %d error = %v", i, r.err)
		}
		if want := fmt.Sprintf("r%d", i); r.resp.Result != want {
			t.Errorf("result %d = %q, want %q", i, r.resp.Result, want)
		}
	}

	if got := atomic.LoadInt32(&sender.maxInFlight); got != 1 {
		t.Errorf("max in-flight = %d, want 1", got)
	}
}

func TestDispatcher_ConcurrentSubmitters(t *testing.T) {
	sender := &scriptedSender{delay: time.Millisecond}
	d, _ := newTestDispatcher(t, testConfig(), sender)
	d.Start()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := d.Submit(context.Background(), userRequest(fmt.Sprintf("c%d", i))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Submit error = %v", err)
	}
	if got := atomic.LoadInt32(&sender.maxInFlight); got != 1 {
		t.Errorf("max in-flight = %d, want 1", got)
	}
}

func TestDispatcher_AppliesModelParams(t *testing.T) {
	sender := &scriptedSender{}
	d, _ := newTestDispatcher(t, testConfig(), sender)
	d.Start()

	if err := d.SetModelConfig(0.2, 0.9, 512); err != nil {
		t.Fatalf("SetModelConfig() error = %v", err)
	}
	if _, err := d.Submit(context.Background(), userRequest("x")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	req := sender.requests[0]
	if req.Model != "test/model" || *req.Temperature != 0.2 || *req.TopP != 0.9 || *req.MaxTokens != 512 {
		t.Errorf("unexpected params: model=%s temperature=%v top_p=%v max_tokens=%v",
			req.Model, *req.Temperature, *req.TopP, *req.MaxTokens)
	}

	if err := d.SetModelConfig(1.1, 0.9, 512); !errors.Is(err, model.ErrConfig) {
		t.Errorf("SetModelConfig(1.1) error = %v, want ErrConfig", err)
	}
	if err := d.SetModelConfig(math.NaN(), 0.9, 512); !errors.Is(err, model.ErrConfig) {
		t.Errorf("SetModelConfig(NaN) error = %v, want ErrConfig", err)
	}
}

func TestDispatcher_CallerCancellation(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig(), &scriptedSender{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Pump not started, so the request waits in the queue until the caller gives up.
	if _, err := d.Submit(ctx, userRequest("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit() error = %v, want context.Canceled", err)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

// Backoff delays never decrease and never exceed MaxDelay.
func TestRetryPolicy_BackoffProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("backoff is non-decreasing and capped", prop.ForAll(
		func(initialMs int, factor float64, maxMs int, attempts int) bool {
			p := RetryPolicy{
				MaxAttempts:   attempts,
				InitialDelay:  time.Duration(initialMs) * time.Millisecond,
				MaxDelay:      time.Duration(initialMs+maxMs) * time.Millisecond,
				BackoffFactor: factor,
			}
			prev := time.Duration(0)
			for a := 1; a <= attempts; a++ {
				d := p.Backoff(a)
				if d < prev || d > p.MaxDelay {
					return false
				}
				prev = d
			}
			return true
		},
		gen.IntRange(0, 5000),
		gen.Float64Range(1, 5),
		gen.IntRange(0, 60000),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}

// A transient failure is retried MaxAttempts-1 times before surfacing.
func TestDispatcher_RetryCountProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("sender is called exactly MaxAttempts times", prop.ForAll(
		func(attempts int) bool {
			cfg := testConfig()
			cfg.Retry.MaxAttempts = attempts
			sender := &scriptedSender{always: model.ErrTransport}
			d, err := NewDispatcher(cfg, sender)
			if err != nil {
				return false
			}
			clock := newFakeClock()
			d.now = clock.Now
			d.sleep = clock.Sleep
			d.Start()
			defer d.Stop(context.Background())

			_, err = d.Submit(context.Background(), userRequest("x"))
			return errors.Is(err, model.ErrTransport) &&
				sender.callCount() == attempts &&
				len(clock.Sleeps()) == attempts-1
		},
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
