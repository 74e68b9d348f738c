// Package realtime pushes committed change events to the websocket
// connections of the users they concern.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/robertarktes/parking-bookings/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	user uuid.UUID
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub tracks open connections per user. A client whose buffer is full is
// dropped so one slow reader never holds up delivery to the others.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*client]struct{}
	logger  observability.Logger
}

func NewHub(logger observability.Logger) *Hub {
	return &Hub{clients: map[uuid.UUID]map[*client]struct{}{}, logger: logger}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.user] == nil {
		h.clients[c.user] = map[*client]struct{}{}
	}
	h.clients[c.user][c] = struct{}{}
	observability.RealtimeConnections.Inc()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.user]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.user)
	}
	c.close()
	observability.RealtimeConnections.Dec()
}

// Connections reports how many sockets user has open.
func (h *Hub) Connections(user uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[user])
}

// Publish queues e on every connection of every recipient and returns how
// many connections took it.
func (h *Hub) Publish(e domain.Event) int {
	msg, err := json.Marshal(e)
	if err != nil {
		h.logger.WithError(err).WithField("event_id", e.ID.String()).Error("marshal realtime event")
		return 0
	}

	delivered := 0
	var slow []*client
	h.mu.RLock()
	for _, user := range e.Recipients {
		for c := range h.clients[user] {
			select {
			case c.send <- msg:
				delivered++
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		observability.RealtimeDropped.Inc()
		h.logger.WithField("user_id", c.user.String()).Warn("dropping slow websocket client")
		h.unregister(c)
	}
	return delivered
}

// Consume feeds broker deliveries into the hub until ctx ends or the
// delivery channel closes. Undecodable messages are dropped, not requeued.
func (h *Hub) Consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			var e domain.Event
			if err := json.Unmarshal(d.Body, &e); err != nil {
				h.logger.WithError(err).WithField("message_id", d.MessageId).Warn("discarding malformed event")
				_ = d.Nack(false, false)
				continue
			}
			h.Publish(e)
			_ = d.Ack(false)
		}
	}
}

// Serve upgrades the request and streams events for user until the client
// goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, user uuid.UUID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &client{user: user, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
