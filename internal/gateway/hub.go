package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"webpilot/internal/domain"
	"webpilot/internal/metrics"
)

// chatFrame is the gateway-to-client wire envelope.
type chatFrame struct {
	Kind      domain.Kind `json:"kind"`
	Content   string      `json:"content"`
	Sender    string      `json:"sender,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func frame(kind domain.Kind, content, sender string) chatFrame {
	return chatFrame{
		Kind:      kind,
		Content:   content,
		Sender:    sender,
		Timestamp: time.Now().Format(domain.TimestampLayout),
	}
}

// client is one connected chat client.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(f chatFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks connected clients and fans frames out to them.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]bool
}

func newHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[*client]bool)}
}

func (h *Hub) add(conn *websocket.Conn) *client {
	cl := &client{conn: conn}
	h.mu.Lock()
	h.clients[cl] = true
	h.mu.Unlock()
	metrics.ConnectedClients.Inc()
	return cl
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	if h.clients[cl] {
		delete(h.clients, cl)
		metrics.ConnectedClients.Dec()
	}
	h.mu.Unlock()
	cl.conn.Close()
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends f to every connected client.
func (h *Hub) Broadcast(f chatFrame) {
	h.broadcastExcept(nil, f)
}

// broadcastExcept sends f to every client but skip. User echoes use this so
// the sender, which already appended its own message, does not see a copy.
func (h *Hub) broadcastExcept(skip *client, f chatFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for cl := range h.clients {
		if cl == skip {
			continue
		}
		if err := cl.send(f); err != nil {
			h.logger.Debug("broadcast write failed", "err", err)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		cl.conn.Close()
		delete(h.clients, cl)
		metrics.ConnectedClients.Dec()
	}
}
