package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cleberrangel/quotation-api/internal/middleware"
	"github.com/cleberrangel/quotation-api/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestClient(hub *Hub, userID string) *Client {
	return &Client{
		UserID:      userID,
		Email:       userID + "@example.com",
		Send:        make(chan []byte, 16),
		Hub:         hub,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}
}

// drainWelcomeMessage drains the welcome message sent during client registration
func drainWelcomeMessage(t *testing.T, client *Client) {
	t.Helper()
	select {
	case data := <-client.Send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "connection" {
			t.Fatalf("expected welcome message, got %s", data)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("welcome message not sent")
	}
}

func receiveStatus(client *Client) (QuotationStatus, bool) {
	select {
	case data := <-client.Send:
		var status QuotationStatus
		if err := json.Unmarshal(data, &status); err != nil {
			return QuotationStatus{}, false
		}
		return status, true
	case <-time.After(100 * time.Millisecond):
		return QuotationStatus{}, false
	}
}

func TestSendQuotationStatus(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "user-1")
	hub.registerClient(client)
	drainWelcomeMessage(t, client)

	hub.SendQuotationStatus("user-1", QuotationStatus{
		Status:      StatusCompleted,
		QuotationID: "q-1",
		TaskCount:   3,
	})

	status, ok := receiveStatus(client)
	if !ok {
		t.Fatal("status not delivered")
	}
	if status.Type != "quotation_status" {
		t.Errorf("Type = %q, want quotation_status", status.Type)
	}
	if status.Status != StatusCompleted || status.QuotationID != "q-1" || status.TaskCount != 3 {
		t.Errorf("unexpected payload: %+v", status)
	}
	if status.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestSendQuotationStatusWithoutConnections(t *testing.T) {
	hub := NewHub()
	// Usuário sem conexões: o envio é descartado sem erro
	hub.SendQuotationStatus("nobody", QuotationStatus{Status: StatusFailed, Code: "QUEUE_FULL"})

	if hub.GetConnectionCount() != 0 {
		t.Errorf("connection count = %d, want 0", hub.GetConnectionCount())
	}
}

func TestStatusDeliveredOnlyToOwner(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("status reaches every connection of the owner and nobody else", prop.ForAll(
		func(ownerConns, otherConns int) bool {
			hub := NewHub()

			owners := make([]*Client, ownerConns)
			for i := range owners {
				owners[i] = newTestClient(hub, "owner")
				hub.registerClient(owners[i])
				<-owners[i].Send
			}
			others := make([]*Client, otherConns)
			for i := range others {
				others[i] = newTestClient(hub, "other")
				hub.registerClient(others[i])
				<-others[i].Send
			}

			hub.SendQuotationStatus("owner", QuotationStatus{Status: StatusEstimating})

			for _, c := range owners {
				status, ok := receiveStatus(c)
				if !ok || status.Status != StatusEstimating {
					return false
				}
			}
			for _, c := range others {
				select {
				case <-c.Send:
					return false
				default:
				}
			}
			return true
		},
		gen.IntRange(1, 4),
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub()
	client := &Client{UserID: "slow", Send: make(chan []byte, 1), Hub: hub}
	// O welcome ocupa o único slot do buffer
	hub.registerClient(client)

	hub.SendQuotationStatus("slow", QuotationStatus{Status: StatusEstimating})

	if hub.GetUserConnectionCount("slow") != 0 {
		t.Errorf("slow client should be unregistered, got %d connections", hub.GetUserConnectionCount("slow"))
	}
	// O canal foi fechado após o welcome
	<-client.Send
	if _, open := <-client.Send; open {
		t.Error("send channel should be closed")
	}
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "user1")
	hub.registerClient(client)
	drainWelcomeMessage(t, client)

	client.handleMessage([]byte(`{"type":"ping"}`))

	select {
	case data := <-client.Send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "pong" {
			t.Fatalf("expected pong, got %s", data)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("pong not sent")
	}
}

func TestPingAfterUnregisterIsIgnored(t *testing.T) {
	hub := NewHub()
	client := newTestClient(hub, "user1")
	hub.registerClient(client)
	hub.unregisterClient(client)

	// Send já está fechado; a resposta não pode ser enfileirada
	client.handleMessage([]byte(`{"type":"ping"}`))

	<-client.Send
	if _, open := <-client.Send; open {
		t.Error("send channel should stay closed")
	}
}

func TestPingToFullClientDropsIt(t *testing.T) {
	hub := NewHub()
	client := &Client{UserID: "slow", Send: make(chan []byte, 1), Hub: hub}
	hub.registerClient(client)

	client.handleMessage([]byte(`{"type":"ping"}`))

	if hub.GetUserConnectionCount("slow") != 0 {
		t.Errorf("slow client should be unregistered, got %d connections", hub.GetUserConnectionCount("slow"))
	}
}

func TestWebSocketConnectionManagement(t *testing.T) {
	hub := NewHub()

	if hub.GetConnectionCount() != 0 {
		t.Errorf("Initial connection count should be 0, got %d", hub.GetConnectionCount())
	}

	client1 := newTestClient(hub, "user1")
	client2 := newTestClient(hub, "user1") // Same user, different connection
	client3 := newTestClient(hub, "user2")

	hub.registerClient(client1)
	hub.registerClient(client2)
	hub.registerClient(client3)

	if hub.GetConnectionCount() != 3 {
		t.Errorf("Total connection count should be 3, got %d", hub.GetConnectionCount())
	}
	if hub.GetUserConnectionCount("user1") != 2 {
		t.Errorf("User1 connection count should be 2, got %d", hub.GetUserConnectionCount("user1"))
	}

	hub.unregisterClient(client1)
	if hub.GetUserConnectionCount("user1") != 1 {
		t.Errorf("User1 connection count should be 1 after unregistering, got %d", hub.GetUserConnectionCount("user1"))
	}

	// Unregister twice is a no-op
	hub.unregisterClient(client1)
	hub.unregisterClient(client2)
	if hub.GetUserConnectionCount("user1") != 0 {
		t.Errorf("User1 connection count should be 0, got %d", hub.GetUserConnectionCount("user1"))
	}
	if hub.GetConnectionCount() != 1 {
		t.Errorf("Total connection count should be 1, got %d", hub.GetConnectionCount())
	}
}

func TestConcurrentRegistrationThroughRun(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	const n = 20
	clients := make([]*Client, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		clients[i] = newTestClient(hub, fmt.Sprintf("user-%d", i%5))
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			hub.register <- c
		}(clients[i])
	}
	wg.Wait()

	deadline := time.Now().Add(time.Second)
	for hub.GetConnectionCount() != n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.GetConnectionCount() != n {
		t.Fatalf("connection count = %d, want %d", hub.GetConnectionCount(), n)
	}

	hub.Stop()
	deadline = time.Now().Add(time.Second)
	for hub.GetConnectionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.GetConnectionCount() != 0 {
		t.Errorf("connections should be closed after Stop, got %d", hub.GetConnectionCount())
	}

	// Stop é idempotente
	hub.Stop()
}

type stubResolver struct {
	sessions map[string]*model.Session
	err      error
}

func (r *stubResolver) ResolveSession(_ context.Context, token string) (*model.Session, error) {
	if r.err != nil {
		return nil, r.err
	}
	s, ok := r.sessions[token]
	if !ok {
		return nil, model.ErrNotFound
	}
	return s, nil
}

func TestAuthMiddleware(t *testing.T) {
	resolver := &stubResolver{sessions: map[string]*model.Session{
		"good": {Token: "good", UserID: "user-1", Email: "a@example.com"},
	}}

	tests := []struct {
		name     string
		cookie   string
		query    string
		resolver *stubResolver
		want     int
		wantCode string
	}{
		{name: "cookie", cookie: "good", resolver: resolver, want: http.StatusOK},
		{name: "query fallback", query: "good", resolver: resolver, want: http.StatusOK},
		{name: "missing", resolver: resolver, want: http.StatusUnauthorized, wantCode: "SESSION_NOT_FOUND"},
		{name: "unknown token", cookie: "bad", resolver: resolver, want: http.StatusUnauthorized, wantCode: "SESSION_INVALID"},
		{name: "store failure", cookie: "good", resolver: &stubResolver{err: fmt.Errorf("db down")}, want: http.StatusInternalServerError, wantCode: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/ws", AuthMiddleware(tt.resolver, "session_id"), func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{
					"user_id": c.GetString(middleware.ContextUserID),
					"email":   c.GetString(middleware.ContextEmail),
				})
			})

			target := "/ws"
			if tt.query != "" {
				target += "?" + SessionQueryParam + "=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "session_id", Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if tt.wantCode != "" && body["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", body["code"], tt.wantCode)
			}
			if tt.want == http.StatusOK && body["user_id"] != "user-1" {
				t.Errorf("user_id = %v, want user-1", body["user_id"])
			}
		})
	}
}
