// Package realtime pushes committed pool and booking events to live
// subscribers over WebSockets, across instances through Redis pub/sub, and
// to the lifecycle topic in Kafka.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/metrics"
	"github.com/shiva/unipool/internal/model"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 512
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Mobile clients send no Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one WebSocket connection listening on one channel.
type client struct {
	channel string
	conn    *websocket.Conn
	send    chan []byte
}

// Hub fans events out to the WebSocket clients of this instance, keyed by
// event channel ("pool:<id>", "booking:<id>"). Slow clients whose buffer
// fills up are disconnected rather than allowed to block delivery.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*client]struct{}
	log      *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{channels: make(map[string]map[*client]struct{}), log: log}
}

// Publish delivers evt to this instance's subscribers.
func (h *Hub) Publish(_ context.Context, evt model.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("realtime: encode event: %w", err)
	}
	h.Deliver(evt.Channel(), payload)
	return nil
}

// Deliver sends an encoded event to every subscriber of channel.
func (h *Hub) Deliver(channel string, payload []byte) {
	h.mu.RLock()
	var slow []*client
	for c := range h.channels[channel] {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("dropping slow websocket subscriber", zap.String("channel", channel))
		h.unsubscribe(c)
	}
}

// Subscribers returns how many clients listen on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// ServeWS upgrades the request and streams channel's events until the
// client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{channel: channel, conn: conn, send: make(chan []byte, sendBuffer)}
	h.subscribe(c)

	go c.writePump()
	c.readPump()
	h.unsubscribe(c)
}

func (h *Hub) subscribe(c *client) {
	h.mu.Lock()
	subs, ok := h.channels[c.channel]
	if !ok {
		subs = make(map[*client]struct{})
		h.channels[c.channel] = subs
	}
	subs[c] = struct{}{}
	h.mu.Unlock()

	metrics.WSClients.Inc()
	h.log.Debug("websocket subscribed", zap.String("channel", c.channel))
}

// unsubscribe is safe to call more than once per client.
func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	subs, ok := h.channels[c.channel]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := subs[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.channels, c.channel)
	}
	close(c.send)
	h.mu.Unlock()

	metrics.WSClients.Dec()
	h.log.Debug("websocket unsubscribed", zap.String("channel", c.channel))
}

// readPump only services control frames; subscribers never send data.
func (c *client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
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

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
