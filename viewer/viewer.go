// Package viewer bridges snapshot events to websocket clients for the live
// fleet view.
package viewer

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fleetsim/fleetsim/bus"
	"github.com/fleetsim/fleetsim/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The viewer is a local dev surface; accept any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// clientQueueDepth bounds the per-client send buffer. A slow client drops
// frames rather than stalling the bus consumer.
const clientQueueDepth = 64

// Hub fans snapshot.tick and run.completed frames out to connected clients.
type Hub struct {
	bus  bus.Bus
	port int

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub builds a viewer hub on the given port.
func NewHub(b bus.Bus, port int) *Hub {
	return &Hub{
		bus:     b,
		port:    port,
		clients: make(map[*client]struct{}),
	}
}

// Run consumes snapshot frames and serves websocket clients until the HTTP
// server fails or the bus channel closes.
func (h *Hub) Run(ctx context.Context) error {
	deliveries, err := h.bus.Consume("viewer", []string{
		events.KeySnapshotTick, events.KeyRunCompleted,
	})
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	go h.pump(ctx, deliveries)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	logrus.Infof("viewer listening on :%d", h.port)
	return http.ListenAndServe(fmt.Sprintf(":%d", h.port), mux)
}

func (h *Hub) pump(ctx context.Context, deliveries <-chan bus.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			h.broadcast(delivery.Body)
		}
	}
}

func (h *Hub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			// Client is not keeping up; drop this frame for it.
		}
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("websocket upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientQueueDepth)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	logrus.Infof("viewer client connected (%d total)", count)

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	for frame := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			break
		}
	}
	c.conn.Close()
}

// readLoop discards client messages and tears the client down on disconnect.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	logrus.Infof("viewer client disconnected (%d total)", count)
}
