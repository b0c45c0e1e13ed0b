// Package integration exercita o fluxo completo da API contra um PostgreSQL
// real e um provedor de estimativa simulado: cadastro, login, criação de
// cotação pelo dispatcher, notificações WebSocket, edição, exportação,
// avaliação e exclusão.
package integration

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cleberrangel/quotation-api/internal/cache"
	"github.com/cleberrangel/quotation-api/internal/client"
	"github.com/cleberrangel/quotation-api/internal/database"
	"github.com/cleberrangel/quotation-api/internal/handler"
	"github.com/cleberrangel/quotation-api/internal/httpserver"
	"github.com/cleberrangel/quotation-api/internal/middleware"
	"github.com/cleberrangel/quotation-api/internal/migration"
	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/cleberrangel/quotation-api/internal/repository"
	"github.com/cleberrangel/quotation-api/internal/service"
	"github.com/cleberrangel/quotation-api/internal/websocket"
	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
)

const providerAnalysis = `{"tasks":[{"description":"Autenticação","man_days":3},{"description":"Checkout","man_days":4}],"reasoning":"fluxo de compra completo"}`

// TestContext holds all dependencies for integration tests
type TestContext struct {
	DB            *sql.DB
	Server        *httptest.Server
	WSHub         *websocket.Hub
	Dispatcher    *client.Dispatcher
	ProviderCalls *atomic.Int32
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// setupTestContext creates a complete test environment with all services initialized
func setupTestContext(t *testing.T) *TestContext {
	t.Helper()
	ctx := context.Background()

	dbConfig := database.Config{
		Host:     getEnvOrDefault("TEST_DB_HOST", "127.0.0.1"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "5432"),
		User:     getEnvOrDefault("TEST_DB_USER", "postgres"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "postgres"),
		DBName:   fmt.Sprintf("test_integration_%d", time.Now().UnixNano()),
		SSLMode:  "disable",
	}

	adminConfig := dbConfig
	adminConfig.DBName = "postgres"

	adminDB, err := database.Connect(ctx, adminConfig)
	if err != nil {
		t.Skipf("Skipping test: could not connect to PostgreSQL: %v", err)
	}
	_, err = adminDB.Exec(fmt.Sprintf("CREATE DATABASE %s", dbConfig.DBName))
	adminDB.Close()
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	testDB, err := database.Connect(ctx, dbConfig)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := migration.NewMigrator(testDB).Run(ctx); err != nil {
		testDB.Close()
		t.Fatalf("Failed to run migrations: %v", err)
	}

	// Provedor simulado
	var calls atomic.Int32
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		content, _ := json.Marshal(providerAnalysis)
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%s}}],"model":"test/model"}`, content)
	}))

	clientCfg := client.Config{
		URL:         provider.URL,
		APIKey:      "sk-test",
		Model:       "test/model",
		Temperature: 0.7,
		TopP:        1,
		MaxTokens:   2000,
		Timeout:     5 * time.Second,
		Retry:       client.DefaultRetryPolicy(),
		RateLimit:   client.DefaultRateLimit(),
	}
	providerClient, err := client.NewClient(clientCfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	dispatcher, err := client.NewDispatcher(clientCfg, providerClient)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	dispatcher.Start()

	wsHub := websocket.NewHub()
	go wsHub.Run()

	quotationRepo := repository.NewQuotationRepository(testDB)
	platforms := cache.NewPlatformCatalog(repository.NewPlatformRepository(testDB), time.Minute)

	quotationService := service.NewQuotationService(
		service.NewEstimationService(dispatcher),
		quotationRepo,
		platforms,
		service.NewBufferPolicy(0.3),
		wsHub,
	)
	reviewService := service.NewReviewService(repository.NewReviewRepository(testDB), quotationRepo)
	authService := service.NewAuthService(
		repository.NewUserRepository(testDB),
		repository.NewSessionRepository(testDB),
		time.Hour,
	)
	sessionAuth := middleware.NewSessionAuth(middleware.SessionConfig{SessionDuration: time.Hour}, authService)

	gin.SetMode(gin.TestMode)
	router := httpserver.NewRouter(httpserver.Handlers{
		Quotation:     handler.NewQuotationHandler(quotationService),
		Platform:      handler.NewPlatformHandler(platforms),
		Review:        handler.NewReviewHandler(reviewService),
		Auth:          handler.NewAuthHandler(authService, sessionAuth),
		WebSocket:     handler.NewWebSocketHandler(wsHub),
		Health:        handler.NewHealthHandler(testDB, dispatcher, wsHub, "test"),
		Session:       sessionAuth,
		Sessions:      authService,
		CreateLimiter: middleware.NewUserRateLimiter(600, 100),
	}, httpserver.Options{})
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		dispatcher.Stop(stopCtx)
		wsHub.Stop()
		platforms.Stop()
		provider.Close()
		testDB.Close()
		adminDB, _ := database.Connect(context.Background(), adminConfig)
		if adminDB != nil {
			adminDB.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbConfig.DBName))
			adminDB.Close()
		}
	})

	return &TestContext{
		DB:            testDB,
		Server:        server,
		WSHub:         wsHub,
		Dispatcher:    dispatcher,
		ProviderCalls: &calls,
	}
}

// apiClient é um cliente HTTP com cookie jar próprio (um usuário)
type apiClient struct {
	t    *testing.T
	base string
	http *http.Client
}

func newAPIClient(t *testing.T, tc *TestContext) *apiClient {
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &apiClient{t: t, base: tc.Server.URL, http: &http.Client{Jar: jar, Timeout: 10 * time.Second}}
}

func (a *apiClient) do(method, path string, body interface{}) (int, []byte, http.Header) {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			a.t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.base+path, reader)
	if err != nil {
		a.t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.http.Do(req)
	if err != nil {
		a.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, resp.Header
}

func (a *apiClient) mustStatus(want int, method, path string, body interface{}) []byte {
	a.t.Helper()
	status, data, _ := a.do(method, path, body)
	if status != want {
		a.t.Fatalf("%s %s status = %d, want %d: %s", method, path, status, want, data)
	}
	return data
}

func (a *apiClient) signUp(email string) {
	a.t.Helper()
	a.mustStatus(http.StatusCreated, http.MethodPost, "/api/auth/register", model.RegisterRequest{
		Email: email, Password: "s3nh4-forte", ConfirmPassword: "s3nh4-forte",
	})
	a.mustStatus(http.StatusOK, http.MethodPost, "/api/auth/login", model.LoginRequest{
		Email: email, Password: "s3nh4-forte",
	})
}

func (a *apiClient) sessionCookie() *http.Cookie {
	for _, c := range a.http.Jar.Cookies(mustURL(a.t, a.base)) {
		if c.Name == "session_id" {
			return c
		}
	}
	a.t.Fatal("session cookie not found")
	return nil
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func decodeData(t *testing.T, raw []byte, out interface{}) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("invalid body %s: %v", raw, err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("invalid data %s: %v", envelope.Data, err)
	}
}

func TestQuotationLifecycle(t *testing.T) {
	tc := setupTestContext(t)
	owner := newAPIClient(t, tc)
	owner.signUp("dona@example.com")

	// Plataformas semeadas pela migração
	var platforms []model.Platform
	decodeData(t, owner.mustStatus(http.StatusOK, http.MethodGet, "/api/v1/platforms", nil), &platforms)
	if len(platforms) != 5 {
		t.Fatalf("platforms = %d, want 5", len(platforms))
	}

	// Criação passando pelo dispatcher
	var created model.Quotation
	decodeData(t, owner.mustStatus(http.StatusCreated, http.MethodPost, "/api/v1/quotations", model.CreateQuotationRequest{
		EstimationType: model.EstimationFixedPrice,
		Scope:          "Aplicativo de delivery com checkout",
		Platforms:      []string{"ios", "web", "ios"},
	}), &created)

	if created.Buffer != 3 {
		t.Errorf("buffer = %d, want ceil(7 * 0.3) = 3", created.Buffer)
	}
	if len(created.Tasks) != 2 || len(created.Platforms) != 2 {
		t.Fatalf("unexpected aggregate: %d tasks, %d platforms", len(created.Tasks), len(created.Platforms))
	}
	if created.Reasoning() != "fluxo de compra completo" {
		t.Errorf("reasoning = %q", created.Reasoning())
	}
	if tc.ProviderCalls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", tc.ProviderCalls.Load())
	}

	base := "/api/v1/quotations/" + created.ID

	// Listagem com filtro
	var page model.QuotationPage
	if err := json.Unmarshal(owner.mustStatus(http.StatusOK, http.MethodGet, "/api/v1/quotations?filter=DELIVERY", nil), &page); err != nil {
		t.Fatal(err)
	}
	if page.Pagination.Total != 1 || len(page.Data) != 1 || page.Data[0].ID != created.ID {
		t.Errorf("unexpected page: %+v", page.Pagination)
	}

	// Edição de tarefa
	var task model.QuotationTask
	decodeData(t, owner.mustStatus(http.StatusOK, http.MethodPatch, base+"/tasks/"+created.Tasks[0].ID, map[string]float64{"man_days": 5.5}), &task)
	if task.ManDays == nil || *task.ManDays != 5.5 {
		t.Errorf("man_days = %v, want 5.5", task.ManDays)
	}

	// Atualização parcial preserva o raciocínio
	var updated model.Quotation
	decodeData(t, owner.mustStatus(http.StatusOK, http.MethodPut, base, map[string]interface{}{
		"platforms":          []string{"android"},
		"dynamic_attributes": map[string]interface{}{"prazo": "3 meses"},
	}), &updated)
	if len(updated.Platforms) != 1 || updated.Platforms[0].ID != "android" {
		t.Errorf("platforms = %+v", updated.Platforms)
	}
	if updated.Reasoning() != "fluxo de compra completo" || updated.Attributes["prazo"] != "3 meses" {
		t.Errorf("attributes = %v", updated.Attributes)
	}

	// Exportação
	status, body, header := owner.do(http.MethodGet, base+"/export", nil)
	if status != http.StatusOK || !bytes.HasPrefix(body, []byte("PK")) {
		t.Fatalf("export status = %d", status)
	}
	if !strings.Contains(header.Get("Content-Disposition"), ".xlsx") {
		t.Errorf("Content-Disposition = %q", header.Get("Content-Disposition"))
	}

	// Avaliação única
	owner.mustStatus(http.StatusCreated, http.MethodPost, base+"/review", map[string]interface{}{"rating": 5, "comment": "ótimo"})
	owner.mustStatus(http.StatusConflict, http.MethodPost, base+"/review", map[string]interface{}{"rating": 4})

	var review model.Review
	decodeData(t, owner.mustStatus(http.StatusOK, http.MethodGet, base+"/review", nil), &review)
	if review.Rating != 5 {
		t.Errorf("rating = %d, want 5", review.Rating)
	}

	// Outro usuário não enxerga a cotação
	other := newAPIClient(t, tc)
	other.signUp("outro@example.com")
	other.mustStatus(http.StatusNotFound, http.MethodGet, base, nil)
	other.mustStatus(http.StatusNotFound, http.MethodDelete, base, nil)

	// Exclusão em cascata
	owner.mustStatus(http.StatusOK, http.MethodDelete, base, nil)
	owner.mustStatus(http.StatusNotFound, http.MethodGet, base, nil)

	var remaining int
	if err := tc.DB.QueryRow(`SELECT COUNT(*) FROM quotation_tasks`).Scan(&remaining); err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Errorf("tasks left after delete = %d", remaining)
	}
}

func TestCreateQuotationValidationRejectedBeforeProvider(t *testing.T) {
	tc := setupTestContext(t)
	owner := newAPIClient(t, tc)
	owner.signUp("val@example.com")

	status, body, _ := owner.do(http.MethodPost, "/api/v1/quotations", map[string]interface{}{
		"estimation_type": "Hourly",
		"scope":           "",
		"platforms":       []string{"smartwatch"},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", status, body)
	}

	var resp model.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	fields := map[string]bool{}
	for _, d := range resp.Details {
		fields[d.Field] = true
	}
	for _, f := range []string{"scope", "estimation_type"} {
		if !fields[f] {
			t.Errorf("missing violation for %s: %+v", f, resp.Details)
		}
	}
	if tc.ProviderCalls.Load() != 0 {
		t.Errorf("provider should not be called, got %d calls", tc.ProviderCalls.Load())
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	tc := setupTestContext(t)
	anon := newAPIClient(t, tc)

	anon.mustStatus(http.StatusUnauthorized, http.MethodGet, "/api/v1/quotations", nil)
	anon.mustStatus(http.StatusUnauthorized, http.MethodGet, "/api/auth/me", nil)
	anon.mustStatus(http.StatusOK, http.MethodGet, "/health/live", nil)
	anon.mustStatus(http.StatusOK, http.MethodGet, "/health/ready", nil)
}

func TestMalformedQuotationIDIsNotFound(t *testing.T) {
	tc := setupTestContext(t)
	owner := newAPIClient(t, tc)
	owner.signUp("ids@example.com")

	owner.mustStatus(http.StatusNotFound, http.MethodGet, "/api/v1/quotations/not-a-uuid", nil)
}

func TestWebSocketReceivesCreationStatus(t *testing.T) {
	tc := setupTestContext(t)
	owner := newAPIClient(t, tc)
	owner.signUp("ws@example.com")

	wsURL := "ws" + strings.TrimPrefix(tc.Server.URL, "http") + "/ws"
	header := http.Header{}
	header.Add("Cookie", owner.sessionCookie().String())

	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// welcome
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("welcome: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for tc.WSHub.GetConnectionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	var created model.Quotation
	decodeData(t, owner.mustStatus(http.StatusCreated, http.MethodPost, "/api/v1/quotations", model.CreateQuotationRequest{
		EstimationType: model.EstimationTimeAndMaterial,
		Scope:          "Portal interno",
		Platforms:      []string{"web"},
	}), &created)

	var statuses []string
	for len(statuses) < 3 {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read status: %v (got %v)", err, statuses)
		}
		var msg websocket.QuotationStatus
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "quotation_status" {
			continue
		}
		statuses = append(statuses, msg.Status)
		if msg.Status == websocket.StatusCompleted && msg.QuotationID != created.ID {
			t.Errorf("completed for %q, want %q", msg.QuotationID, created.ID)
		}
	}

	want := []string{websocket.StatusEstimating, websocket.StatusPersisting, websocket.StatusCompleted}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", statuses, want)
		}
	}
}

func TestWebSocketRequiresSession(t *testing.T) {
	tc := setupTestContext(t)

	wsURL := "ws" + strings.TrimPrefix(tc.Server.URL, "http") + "/ws?session_id=bogus"
	_, resp, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial should fail without a valid session")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("handshake response = %v, want 401", resp)
	}
}
