package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/couchparty/backend/internal/session"
	"github.com/couchparty/backend/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// EventHandler receives decoded connection and application events. Implemented
// by session.Coordinator.
type EventHandler interface {
	Join(connID, name, pfp string)
	Leave(connID string)
	ChatMessage(connID, text string)
	SetVideo(connID, video string)
	HostSync(connID string, data json.RawMessage)
	RequestSync(connID string)
}

// Client represents a single WebSocket connection.
type Client struct {
	ID      string
	hub     *Hub
	handler EventHandler
	conn    *websocket.Conn
	send    chan WSMessage
	logger  *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, handler EventHandler, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:      uuid.New().String(),
			hub:     hub,
			handler: handler,
			conn:    conn,
			send:    make(chan WSMessage, 256),
			logger:  logger,
		}
		logger.Info("client connected", zap.String("conn_id", client.ID), zap.String("remote", c.ClientIP()))
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		// Unregister first: pending reconciliation calls addressed to this
		// connection must fail before the roster changes hands.
		c.hub.Unregister(c)
		c.handler.Leave(c.ID)
		_ = c.conn.Close()
		c.logger.Info("client disconnected", zap.String("conn_id", c.ID))
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		metrics.EventsTotal.WithLabelValues(msg.Event).Inc()

		switch msg.Event {
		case session.EventJoinRoom:
			var payload struct {
				Name string `json:"name"`
				Pfp  string `json:"pfp"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				c.logger.Debug("malformed join_room payload", zap.String("conn_id", c.ID), zap.Error(err))
				continue
			}
			c.handler.Join(c.ID, payload.Name, payload.Pfp)
		case session.EventSendMessage:
			var text string
			if err := json.Unmarshal(msg.Data, &text); err != nil {
				continue
			}
			c.handler.ChatMessage(c.ID, text)
		case session.EventHostSetVideo:
			var video string
			if err := json.Unmarshal(msg.Data, &video); err != nil {
				continue
			}
			c.handler.SetVideo(c.ID, video)
		case session.EventHostSync:
			c.handler.HostSync(c.ID, msg.Data)
		case session.EventRequestSync:
			// Suspends on the host call; must not block this read loop.
			go c.handler.RequestSync(c.ID)
		case session.EventHostTime:
			var reply struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(msg.Data, &reply); err != nil || reply.ID == "" {
				continue
			}
			c.hub.Resolve(c.ID, reply.ID, msg.Data)
		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) trySend(msg WSMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		// buffer full, skip
		return false
	}
}
