package mockserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/pixelsort/taskwatch/internals/schemas"
)

const sendBuffer = 32

type hub struct {
	mu       sync.Mutex
	clients  map[*wsClient]struct{}
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("Websocket client connected", "remote", r.RemoteAddr)

	go client.writeLoop()
	h.readLoop(client)
}

func (h *hub) readLoop(client *wsClient) {
	defer h.remove(client)
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg schemas.WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == schemas.WSMessagePing {
			h.enqueue(client, schemas.WSMessage{Type: schemas.WSMessagePong})
		}
	}
}

func (c *wsClient) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (h *hub) remove(client *wsClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

func (h *hub) enqueue(client *wsClient, msg schemas.WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode websocket message", "error", err)
		return
	}
	select {
	case client.send <- payload:
	default:
		h.logger.Warn("Dropping slow websocket client")
		go h.remove(client)
	}
}

func (h *hub) broadcast(messageType schemas.WSMessageType, data any) {
	msg, err := schemas.NewWSMessage(messageType, data)
	if err != nil {
		h.logger.Error("Failed to encode websocket message", "error", err)
		return
	}
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()
	for _, client := range clients {
		h.enqueue(client, msg)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// dropAll closes every connection without a close frame.
func (h *hub) dropAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()
	for _, client := range clients {
		client.close()
	}
}
