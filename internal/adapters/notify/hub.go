// Package notify fans room messages out to websocket subscribers. It backs
// the in-memory store's delivery path; with the remote room service the
// service's own data channel carries messages instead.
package notify

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const sendBuffer = 32

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *conn) trySend(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.ws.Close()
}

type subscriber struct {
	identity string
	conn     *conn
}

// Hub routes delivered messages to the websocket connections subscribed to
// each room.
type Hub struct {
	mu    sync.Mutex
	rooms map[string][]*subscriber
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string][]*subscriber)}
}

// Deliver implements the store sink: fan payload out to room subscribers,
// narrowed to identities when given. Slow consumers are dropped rather than
// allowed to stall delivery.
func (h *Hub) Deliver(room string, payload []byte, to []string) {
	h.mu.Lock()
	subs := make([]*subscriber, len(h.rooms[room]))
	copy(subs, h.rooms[room])
	h.mu.Unlock()

	for _, sub := range subs {
		if len(to) > 0 && !contains(to, sub.identity) {
			continue
		}
		if err := sub.conn.trySend(payload); err != nil {
			log.Warn().Err(err).Str("module", "notify").Str("room", room).
				Str("identity", sub.identity).Msg("dropping subscriber")
			h.unsubscribe(room, sub)
			sub.conn.close()
		}
	}
}

// HandleSubscribe upgrades the request and streams the room's messages until
// the client disconnects. Identity and room come from the authenticated
// session placed on the gin context by the auth middleware.
func (h *Hub) HandleSubscribe(c *gin.Context) {
	identity := c.GetString("identity")
	room := c.GetString("room")
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "notify").Msg("ws upgrade")
		return
	}
	sub := &subscriber{
		identity: identity,
		conn:     &conn{ws: ws, send: make(chan []byte, sendBuffer)},
	}
	h.mu.Lock()
	h.rooms[room] = append(h.rooms[room], sub)
	h.mu.Unlock()
	log.Info().Str("module", "notify").Str("room", room).
		Str("identity", identity).Msg("subscriber connected")

	go h.writePump(sub)
	h.readPump(room, sub)
}

func (h *Hub) writePump(sub *subscriber) {
	for payload := range sub.conn.send {
		if err := sub.conn.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			return
		}
		if err := sub.conn.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// readPump discards inbound frames; the channel is one-way. Returning on
// read error is how disconnects are noticed.
func (h *Hub) readPump(room string, sub *subscriber) {
	defer func() {
		h.unsubscribe(room, sub)
		sub.conn.close()
		log.Info().Str("module", "notify").Str("room", room).
			Str("identity", sub.identity).Msg("subscriber disconnected")
	}()
	for {
		if _, _, err := sub.conn.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) unsubscribe(room string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.rooms[room]
	for i, s := range subs {
		if s == sub {
			h.rooms[room] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
