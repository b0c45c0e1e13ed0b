package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// clientBufferSize comporta os status de várias cotações simultâneas do mesmo usuário
const clientBufferSize = 64

// ServeWS promove a requisição autenticada a WebSocket e registra o cliente no hub
func (h *Hub) ServeWS(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Usuário não autenticado",
			"code":    "USER_NOT_AUTHENTICATED",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Erro ao abrir conexão WebSocket")
		return
	}

	logger.AuditWebSocket(c.Request.Context(), logger.AuditActionWSConnect, userID, c.ClientIP(), nil)

	now := time.Now()
	client := &Client{
		conn:        conn,
		Send:        make(chan []byte, clientBufferSize),
		UserID:      userID,
		Email:       c.GetString("email"),
		Hub:         h,
		ConnectedAt: now,
		LastPing:    now,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump consome as mensagens do navegador até a conexão cair e então
// devolve o cliente ao hub. É o único leitor da conexão.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		logger.AuditWebSocket(context.Background(), logger.AuditActionWSDisconnect, c.UserID, c.conn.RemoteAddr().String(), map[string]interface{}{
			"duration_seconds": int64(time.Since(c.ConnectedAt).Seconds()),
		})
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.LastPing = time.Now()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn().Err(err).Str("user_id", c.UserID).Msg("Conexão WebSocket encerrada inesperadamente")
			}
			return
		}
		c.handleMessage(data)
	}
}

// writePump é o único escritor da conexão. Agrupa os status pendentes em um
// frame e mantém o ping periódico.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Canal fechado pelo hub
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeBatch(data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeBatch escreve a mensagem e as que já estiverem na fila, separadas por '\n'
func (c *Client) writeBatch(first []byte) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(first)
	for pending := len(c.Send); pending > 0; pending-- {
		w.Write([]byte{'\n'})
		w.Write(<-c.Send)
	}
	return w.Close()
}

// handleMessage responde ao ping da aplicação; demais tipos são ignorados
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.Hub.logger.Debug().Err(err).Str("user_id", c.UserID).Msg("Mensagem WebSocket inválida ignorada")
		return
	}

	if msg.Type != "ping" {
		c.Hub.logger.Debug().Str("user_id", c.UserID).Str("message_type", msg.Type).Msg("Tipo de mensagem WebSocket desconhecido")
		return
	}
	c.Hub.reply(c, Message{Type: "pong", Timestamp: time.Now()})
}
