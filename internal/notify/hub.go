// Package notify keeps a WebSocket channel to every open page. It is how the worker
// broadcasts data updates, claims pages on activation and navigates them.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fr4nk3nst1ner/offlineboard/internal/metrics"
	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
)

// ErrHubClosed is returned by Broadcast after Close
var ErrHubClosed = errors.New("notification hub closed")

// MessageHandler receives control messages sent by pages
type MessageHandler func(ctx context.Context, msg models.ControlMessage)

// Hub tracks the pages holding a notification channel and fans messages out to them.
// Delivery is best effort: a page whose buffer is full is disconnected, nothing is
// queued for pages that are not connected.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	closed   bool
	onMsg    MessageHandler
	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewHub creates an empty hub. m may be nil.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger,
		metrics: m,
	}
}

// OnMessage sets the handler for inbound page messages
func (h *Hub) OnMessage(fn MessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMsg = fn
}

// ServeHTTP upgrades the request to a WebSocket and serves the page until it leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(h, conn, uuid.NewString())
	if !h.register(c) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	h.logger.Debug("page connected", "client", c.id)

	go c.writePump()
	c.readPump(context.WithoutCancel(r.Context()))
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.Pages(len(h.clients))
	return true
}

// unregister drops c and closes its send channel exactly once
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.Pages(len(h.clients))
}

func (h *Hub) handler() MessageHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onMsg
}

// Broadcast sends n to every connected page without waiting for delivery
func (h *Hub) Broadcast(ctx context.Context, n models.ClientNotification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	for c := range h.clients {
		h.sendLocked(c, data)
	}
	return nil
}

func (h *Hub) sendLocked(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		h.logger.Debug("dropping slow page", "client", c.id)
		h.removeLocked(c)
		return false
	}
}

// Claim marks every connected page as controlled by the active worker and tells it so
func (h *Hub) Claim(ctx context.Context) error {
	data, err := json.Marshal(models.ClientNotification{
		Type:      models.MessageClaimed,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.controlled = true
		h.sendLocked(c, data)
	}
	return nil
}

// OpenWindow focuses the most recently connected page and navigates it to url. It
// reports false when no page is connected.
func (h *Hub) OpenWindow(ctx context.Context, url string) (bool, error) {
	data, err := json.Marshal(models.ClientNotification{
		Type:      models.MessageNavigate,
		Timestamp: time.Now().UnixMilli(),
		URL:       url,
	})
	if err != nil {
		return false, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	var newest *Client
	for c := range h.clients {
		if newest == nil || c.connectedAt.After(newest.connectedAt) {
			newest = c
		}
	}
	if newest == nil {
		return false, nil
	}
	return h.sendLocked(newest, data), nil
}

// Count returns the number of connected pages
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Controlled returns the number of connected pages claimed by the worker
func (h *Hub) Controlled() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.controlled {
			n++
		}
	}
	return n
}

// Close disconnects every page and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}
