// Package ws is the state-broadcast WebSocket hub: every client that
// connects to /ws/state gets the current account snapshot, then a fresh
// one every time a mutating HTTP call changes it. Structured like the
// teacher's ws.Hub (register/unregister/broadcast channels feeding a
// single dispatch goroutine), generalized from market ticks to account
// snapshots.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/kizxyz/hl-paper-mode/internal/logging"
	"github.com/kizxyz/hl-paper-mode/internal/metrics"
	"github.com/kizxyz/hl-paper-mode/internal/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var log = logging.For("ws")

// client is a single connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans account-state snapshots out to every connected client. A single
// goroutine owns clients, so register/unregister/broadcast never race.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	mu         sync.RWMutex

	// redisPub, if non-nil, republishes every broadcast onto a shared
	// channel so other instances of this service (behind the same load
	// balancer) stay in sync — grounded on the teacher's
	// wscluster.PubSubManager, here reduced to a single fan-out channel
	// since this simulator has one account, not a cluster of rooms.
	redisPub *redis.Client
	channel  string
}

// New constructs a Hub. redisClient may be nil to run single-instance.
func New(redisClient *redis.Client, channel string) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		redisPub:   redisClient,
		channel:    channel,
	}
	go h.run()
	if redisClient != nil {
		go h.subscribeRemote()
	}
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			metrics.WSConnections.Inc()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			metrics.WSConnections.Dec()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// client too slow to keep up, drop it rather than block the hub.
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) subscribeRemote() {
	ctx := context.Background()
	sub := h.redisPub.Subscribe(ctx, h.channel)
	defer sub.Close()

	for msg := range sub.Channel() {
		select {
		case h.broadcast <- []byte(msg.Payload):
		default:
		}
	}
}

// Broadcast pushes a fresh account snapshot to every connected client, and
// to every other instance listening on the shared Redis channel.
func (h *Hub) Broadcast(state *types.AccountState) {
	data, err := json.Marshal(state)
	if err != nil {
		log.Error().Err(err).Msg("marshal snapshot for broadcast")
		return
	}

	select {
	case h.broadcast <- data:
	default:
		log.Warn().Msg("broadcast channel full, dropping snapshot")
	}

	if h.redisPub != nil {
		if err := h.redisPub.Publish(context.Background(), h.channel, data).Err(); err != nil {
			log.Warn().Err(err).Msg("publish snapshot to redis")
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket, sends the current
// snapshot, registers the client with the hub, and blocks until the
// client disconnects. initial is called once to fetch the snapshot to
// send immediately on connect.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, initial func() *types.AccountState) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.register <- c

	if snap := initial(); snap != nil {
		if data, err := json.Marshal(snap); err == nil {
			select {
			case c.send <- data:
			default:
			}
		}
	}

	go c.writePump()
	c.readPump(h)
}

// readPump discards client messages (this hub is send-only) and detects
// disconnects by read error, same as the teacher's ws.Client loop.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
