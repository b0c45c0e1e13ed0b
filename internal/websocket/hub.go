package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Quotation creation statuses pushed to the owner
const (
	StatusEstimating = "estimating"
	StatusPersisting = "persisting"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Hub maintains the set of active clients per user
type Hub struct {
	// Registered clients by user ID
	clients map[string]map[*Client]bool

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	done chan struct{}

	// Mutex for thread-safe operations
	mutex sync.RWMutex

	// Logger
	logger *zerolog.Logger
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	Send chan []byte

	// User identification
	UserID string
	Email  string

	// Hub reference
	Hub *Hub

	// Connection metadata
	ConnectedAt time.Time
	LastPing    time.Time
}

// QuotationStatus is the progress message of a quotation creation
type QuotationStatus struct {
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	QuotationID string    `json:"quotation_id,omitempty"`
	TaskCount   int       `json:"task_count,omitempty"`
	Code        string    `json:"code,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Message represents a generic WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin is enforced by the CORS configuration of the API
		return true
	},
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.Global(),
	}
}

// Run starts the hub's main loop until Stop is called
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop encerra o loop e fecha todas as conexões
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// registerClient registers a new client
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.clients[client.UserID] == nil {
		h.clients[client.UserID] = make(map[*Client]bool)
	}
	h.clients[client.UserID][client] = true

	metrics.WSConnections.Inc()

	h.logger.Info().
		Str("user_id", client.UserID).
		Str("email", client.Email).
		Int("user_connections", len(h.clients[client.UserID])).
		Msg("WebSocket client registered")

	welcome, _ := json.Marshal(Message{
		Type:      "connection",
		Data:      map[string]string{"status": "connected"},
		Timestamp: time.Now(),
	})
	h.deliverLocked(client, welcome)
}

// reply envia uma resposta direta ao cliente, se ele ainda estiver registrado
func (h *Hub) reply(client *Client, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", client.UserID).Msg("Erro ao serializar resposta WebSocket")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.clients[client.UserID][client] {
		return
	}
	h.deliverLocked(client, data)
}

// deliverLocked enfileira data no cliente; buffer cheio desconecta o cliente.
// Exige h.mutex.
func (h *Hub) deliverLocked(client *Client, data []byte) {
	select {
	case client.Send <- data:
		metrics.WSMessagesOut.Inc()
	default:
		h.logger.Warn().
			Str("user_id", client.UserID).
			Msg("Buffer do cliente WebSocket cheio, encerrando conexão")
		h.removeLocked(client.UserID, client)
	}
}

// unregisterClient unregisters a client
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.removeLocked(client.UserID, client)
}

// removeLocked fecha o canal do cliente; exige h.mutex
func (h *Hub) removeLocked(userID string, client *Client) {
	clients, ok := h.clients[userID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	close(client.Send)
	metrics.WSConnections.Dec()

	// Remove user entry if no more clients
	if len(clients) == 0 {
		delete(h.clients, userID)
	}

	h.logger.Info().
		Str("user_id", userID).
		Int("remaining_connections", len(clients)).
		Msg("WebSocket client unregistered")
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for userID, clients := range h.clients {
		for client := range clients {
			h.removeLocked(userID, client)
		}
	}
}

// SendToUser sends a message to all connections of a specific user
func (h *Hub) SendToUser(userID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to marshal message for user")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients, exists := h.clients[userID]
	if !exists {
		h.logger.Debug().
			Str("user_id", userID).
			Msg("No WebSocket connections found for user")
		return
	}

	for client := range clients {
		h.deliverLocked(client, data)
	}
}

// SendQuotationStatus envia o andamento da criação de uma cotação ao dono
func (h *Hub) SendQuotationStatus(userID string, update QuotationStatus) {
	update.Type = "quotation_status"
	update.Timestamp = time.Now()

	h.SendToUser(userID, update)
}

// GetConnectionCount returns the total number of active connections
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}

// GetUserConnectionCount returns the number of connections for a specific user
func (h *Hub) GetUserConnectionCount(userID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if clients, exists := h.clients[userID]; exists {
		return len(clients)
	}
	return 0
}
