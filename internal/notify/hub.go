package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/haven-health/keepsake/internal/observability/logging"
)

const (
	// clientBuffer is the per-client send queue; a client that falls
	// this far behind is disconnected rather than allowed to stall the
	// hub.
	clientBuffer = 256

	// writeTimeout bounds a single frame write.
	writeTimeout = 10 * time.Second
)

// Hub manages websocket connections and broadcasts events to all of
// them. It also implements http.Handler for the connection upgrade.
type Hub struct {
	allowedOrigins map[string]bool
	originPatterns []string

	clients    map[clientInterface]bool
	broadcast  chan Event
	register   chan clientInterface
	unregister chan clientInterface
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// clientInterface allows for both real connections and mock clients.
type clientInterface interface {
	getSendChannel() chan []byte
	close()
}

// client is one websocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *client) getSendChannel() chan []byte {
	return c.send
}

func (c *client) close() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// NewHub creates a hub that accepts upgrades from the given origins.
// With no origins only same-host requests are accepted.
func NewHub(allowedOrigins ...string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Hub{
		allowedOrigins: origins,
		originPatterns: allowedOrigins,
		clients:        make(map[clientInterface]bool),
		broadcast:      make(chan Event, clientBuffer),
		register:       make(chan clientInterface),
		unregister:     make(chan clientInterface),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			logging.Infof("Event client connected (total: %d)", count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.getSendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			logging.Infof("Event client disconnected (total: %d)", count)

		case evt := <-h.broadcast:
			data, err := json.Marshal(evt)
			if err != nil {
				logging.Errorf("Failed to marshal event %s: %v", evt.Kind, err)
				continue
			}
			// Full lock: slow clients are removed inline.
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.getSendChannel() <- data:
				default:
					close(c.getSendChannel())
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	for c := range h.clients {
		close(c.getSendChannel())
		c.close()
	}
	h.clients = make(map[clientInterface]bool)
	h.mu.Unlock()
}

// Broadcast queues an event for delivery to all connected clients.
// Never blocks; the event is dropped with a warning when the hub is
// saturated.
func (h *Hub) Broadcast(evt Event) {
	select {
	case h.broadcast <- evt:
	default:
		logging.Warnf("Event broadcast queue full, dropping %s", evt.Kind)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c clientInterface) {
	h.register <- c
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c clientInterface) {
	h.unregister <- c
}

// ServeHTTP upgrades the request to a websocket and attaches it to the
// hub. Mount it wherever the surrounding service routes events.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && len(h.allowedOrigins) > 0 {
		if !h.allowedOrigins[origin] {
			http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		logging.Errorf("Websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}
	h.Register(c)

	go c.writePump()
	go c.readPump()
}

func (c *client) writePump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			logging.Warnf("Websocket write failed: %v", err)
			return
		}
	}
}

// readPump drains inbound frames to detect disconnection; clients have
// nothing to say to the hub yet.
func (c *client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}

// MockClient is a test double that captures broadcast frames.
type MockClient struct {
	SendChan chan []byte
}

func (m *MockClient) getSendChannel() chan []byte {
	return m.SendChan
}

func (m *MockClient) close() {}
