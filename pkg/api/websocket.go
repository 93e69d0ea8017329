package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// Hub tracks WebSocket subscribers and fans execution reports out to them.
type Hub struct {
	logger *zap.SugaredLogger

	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}

	mu sync.RWMutex
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
	}
}

// Run processes (un)registrations until ctx is done, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Infow("ws_client_connected", "client", c.id, "total", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Infow("ws_client_disconnected", "client", c.id, "total", n)
		}
	}
}

// BroadcastToChannel sends data to every client subscribed to channel. Slow
// clients miss the message rather than stall the caller.
func (h *Hub) BroadcastToChannel(channel string, data any) {
	message, err := json.Marshal(data)
	if err != nil {
		h.logger.Errorw("ws_marshal_failed", "channel", channel, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.IsSubscribed(channel) {
			continue
		}
		select {
		case c.send <- message:
		default:
			h.logger.Warnw("ws_client_lagging", "client", c.id, "channel", channel)
		}
	}
}

func (h *Hub) subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.IsSubscribed(channel) {
			n++
		}
	}
	return n
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subsMu        sync.RWMutex
	subscriptions map[string]bool
}

func (c *wsClient) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *wsClient) setSubscribed(channel string, on bool) {
	c.subsMu.Lock()
	if on {
		c.subscriptions[channel] = true
	} else {
		delete(c.subscriptions, channel)
	}
	c.subsMu.Unlock()
}

// readPump applies subscribe/unsubscribe requests until the peer goes away.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnw("ws_read_failed", "client", c.id, "err", err)
			}
			return
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.logger.Warnw("ws_bad_request", "client", c.id, "err", err)
			continue
		}
		switch req.Op {
		case "subscribe", "unsubscribe":
			for _, ch := range req.Channels {
				c.setSubscribed(ch, req.Op == "subscribe")
			}
			c.hub.logger.Debugw("ws_"+req.Op, "client", c.id, "channels", req.Channels)
		default:
			c.hub.logger.Warnw("ws_unknown_op", "client", c.id, "op", req.Op)
		}
	}
}

// writePump writes one JSON document per frame and pings the peer.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
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

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("ws_upgrade_failed", "err", err)
		return
	}

	c := &wsClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
