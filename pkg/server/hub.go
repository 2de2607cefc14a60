package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dorianinnovations/numina-collective/pkg/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header = non-browser client (curl, test tools)
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// wsClient wraps a connection with a write mutex. gorilla/websocket allows
// at most one concurrent writer per connection, and writes come from both
// the hub loop and the per-connection ping sender.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// write sends one frame under the connection's write lock.
func (c *wsClient) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
	return c.conn.WriteMessage(messageType, data)
}

// InsightsHub fans out real-time insight updates to connected WebSocket
// clients. New clients receive the most recent payload immediately on
// connect so the stream never starts empty.
type InsightsHub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte

	// Last successfully broadcast payload, replayed to new clients.
	lastPayload []byte

	mu sync.RWMutex
}

// NewInsightsHub creates a new WebSocket hub
func NewInsightsHub() *InsightsHub {
	return &InsightsHub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient, config.WSChannelBuffer),
		unregister: make(chan *wsClient, config.WSChannelBuffer),
		broadcast:  make(chan []byte, config.WSBroadcastBuffer),
	}
}

// Run starts the hub's main loop
func (h *InsightsHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.conn.Close()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			replay := h.lastPayload
			h.mu.Unlock()
			log.Printf("WebSocket client connected (total: %d)", count)

			// Replay the latest insight so the client has data before
			// the next broadcast tick.
			if replay != nil {
				if err := client.write(websocket.TextMessage, replay); err != nil {
					h.unregister <- client
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected (total: %d)", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			h.lastPayload = message
			h.mu.Unlock()

			h.mu.RLock()
			// Collect failed connections to unregister after releasing lock
			var failed []*wsClient
			for client := range h.clients {
				if err := client.write(websocket.TextMessage, message); err != nil {
					log.Printf("WebSocket write error: %v", err)
					failed = append(failed, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range failed {
				h.unregister <- client
			}
		}
	}
}

// Broadcast queues a message for all connected clients. The message is
// dropped when the channel is saturated rather than blocking the caller.
func (h *InsightsHub) Broadcast(data interface{}) error {
	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
		return nil
	default:
		log.Printf("Broadcast channel full, dropping insight update")
		return nil
	}
}

// HasClients returns true if there are any connected WebSocket clients
func (h *InsightsHub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HandleWebSocket upgrades the connection and parks it on the hub until
// the client disconnects.
func (h *Handler) HandleWebSocket(hub *InsightsHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		client := &wsClient{conn: conn}
		hub.register <- client

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Ping sender keeps the connection alive across idle periods
		go func() {
			ticker := time.NewTicker(config.WSPingInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := client.write(websocket.PingMessage, nil); err != nil {
						return
					}
				}
			}
		}()

		defer func() {
			cancel()
			hub.unregister <- client
		}()

		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
			return nil
		})

		// Read loop handles control frames and detects connection close
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("WebSocket error: %v", err)
				}
				break
			}
		}
	}
}
