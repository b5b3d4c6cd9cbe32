// Package wsfanout is the Control Plane's real-time push channel. It keeps
// no state of its own beyond the set of connected clients: every message it
// broadcasts originates from the event bus, so a client joining late only
// misses events emitted before it connected, never anything durable.
package wsfanout

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/reaatech/funcdock/internal/events"
	"github.com/reaatech/funcdock/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	clientSendBuf  = 256
	fanoutChanSize = 256
)

// Message is the envelope written to every connected client.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub tracks connected Control Plane clients and broadcasts lifecycle and
// log events published on the bus.
type Hub struct {
	bus        *events.Bus
	upgrader   websocket.Upgrader
	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	mu      sync.RWMutex
	clients map[*client]bool

	subs []events.Subscription
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub subscribed to the platform's lifecycle topics; log
// topics are added per function with SubscribeFunctionLogs. Call Run in its own goroutine to start the broadcast loop.
func New(bus *events.Bus) *Hub {
	h := &Hub{
		bus:        bus,
		broadcast:  make(chan []byte, fanoutChanSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	for _, topic := range []string{
		events.TopicFunctionLoaded,
		events.TopicFunctionUnloaded,
		events.TopicFunctionUpdated,
		events.TopicFunctionDeployed,
		events.TopicFunctionDeleted,
	} {
		topic := topic
		h.subs = append(h.subs, bus.Subscribe(topic, func(t string, data interface{}) {
			h.publish(t, data)
		}))
	}

	return h
}

// SubscribeFunctionLogs starts forwarding log lines for functionName as
// "log:new" messages. Log topics are per-function rather than wildcarded
// on the bus, so each function needs its own call; nothing in the Control
// Plane or cmd/funcdock calls it, so by default no log lines are pushed.
func (h *Hub) SubscribeFunctionLogs(functionName string) events.Subscription {
	return h.bus.Subscribe(events.LogTopic(functionName), func(t string, data interface{}) {
		h.publish("log:new", data)
	})
}

func (h *Hub) publish(eventType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: eventType, Data: data})
	if err != nil {
		logger.HTTP().Warn().Err(err).Str("event", eventType).Msg("failed to marshal fan-out message")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		logger.HTTP().Warn().Str("event", eventType).Msg("fan-out broadcast buffer full, dropping message")
	}
}

// Close unsubscribes the Hub from the bus. Connected clients are left to
// disconnect on their own read/write errors.
func (h *Hub) Close() {
	for _, sub := range h.subs {
		h.bus.Unsubscribe(sub)
	}
}

// Run starts the Hub's registration/broadcast loop. It blocks until done is
// closed.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			var stuck []*client
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					stuck = append(stuck, c)
				}
			}
			h.mu.RUnlock()

			if len(stuck) > 0 {
				h.mu.Lock()
				for _, c := range stuck {
					if _, ok := h.clients[c]; ok {
						close(c.send)
						delete(h.clients, c)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a WebSocket connection and registers it
// with the Hub. Authorization is the caller's responsibility (the Control
// Plane mounts this behind its bearer-token middleware, which also accepts
// the token as a query parameter for this exact handshake).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendBuf)}
	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// readPump only drains the connection to detect client-initiated close;
// this channel is push-only from the platform's side.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
