// Package notify streams sync engine events to connected UI clients over websockets.
package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pos-offline-sync/internal/models"
	"pos-offline-sync/internal/utils"
)

// Event types
const (
	EventNetworkOnline      = "network.online"
	EventNetworkOffline     = "network.offline"
	EventSyncStarted        = "sync.started"
	EventSyncCompleted      = "sync.completed"
	EventSyncFailed         = "sync.failed"
	EventSaleQueued         = "sale.queued"
	EventSaleSynced         = "sale.synced"
	EventSaleNeedsAttention = "sale.needs_attention"
	EventStockAdjustFailed  = "stock.adjust_failed"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The local API is reached from the terminal's own UI, served from any local origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope wraps every message sent to clients
type Envelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans events out to every connected client. A client whose buffer is
// full is dropped rather than slowing the sync engine down.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client

	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	stopOnce   sync.Once
}

func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		logger:     utils.OrDefault(logger),
		clients:    make(map[string]*client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Event client connected", "client_id", c.id, "total", total)

		case c := <-h.unregister:
			h.drop(c)

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, id)
					h.logger.Warn("Dropped slow event client", "client_id", id)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
		h.logger.Info("Event client disconnected", "client_id", c.id, "total", len(h.clients))
	}
}

// Stop disconnects every client and stops the hub
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event for every client. It never blocks; events are
// dropped when the hub is backed up or stopped.
func (h *Hub) Broadcast(eventType string, data map[string]interface{}) {
	bytes, err := json.Marshal(Envelope{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal event", "type", eventType, "error", err)
		return
	}

	select {
	case <-h.done:
	case h.broadcast <- bytes:
	default:
		h.logger.Warn("Event buffer full, dropping event", "type", eventType)
	}
}

// ServeWS upgrades the request and streams events until the client leaves
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade event stream", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		hub:  h,
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only drains control frames; clients do not send commands
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("Event client read error", "client_id", c.id, "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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

// SaleQueued announces a sale recorded at the terminal
func (h *Hub) SaleQueued(sale models.QueuedSale) {
	h.Broadcast(EventSaleQueued, map[string]interface{}{
		"sale_id":      sale.ID,
		"total_amount": sale.TotalAmount,
	})
}

// SaleSynced implements sales.Observer
func (h *Hub) SaleSynced(sale models.QueuedSale, created models.CreateSaleResponse) {
	h.Broadcast(EventSaleSynced, map[string]interface{}{
		"sale_id":     sale.ID,
		"remote_id":   created.ID,
		"sale_number": created.SaleNumber,
	})
}

// SaleFailed implements sales.Observer. Only sales that stopped retrying are announced.
func (h *Hub) SaleFailed(sale models.QueuedSale, err error) {
	if sale.SyncStatus != models.SyncFailed {
		return
	}
	h.Broadcast(EventSaleNeedsAttention, map[string]interface{}{
		"sale_id":     sale.ID,
		"retry_count": sale.RetryCount,
		"error":       err.Error(),
		"error_kind":  sale.LastErrorKind,
	})
}

// StockAdjustFailed implements sales.Observer
func (h *Hub) StockAdjustFailed(sale models.QueuedSale, productID string, err error) {
	h.Broadcast(EventStockAdjustFailed, map[string]interface{}{
		"sale_id":    sale.ID,
		"product_id": productID,
		"error":      err.Error(),
	})
}

// SyncStarted implements syncer.Listener
func (h *Hub) SyncStarted(trigger string) {
	h.Broadcast(EventSyncStarted, map[string]interface{}{
		"trigger": trigger,
	})
}

// SyncFinished implements syncer.Listener. A catalog failure is reported as
// sync.failed; the sale summary is always included.
func (h *Hub) SyncFinished(run models.SyncRun) {
	data := map[string]interface{}{
		"trigger":         run.Trigger,
		"products_synced": run.ProductsSynced,
		"synced":          run.Sales.Synced,
		"failed":          run.Sales.Failed,
		"total_pending":   run.Sales.TotalPending,
		"duration":        run.Duration,
	}
	if run.CatalogError != "" {
		data["error"] = run.CatalogError
		h.Broadcast(EventSyncFailed, data)
		return
	}
	h.Broadcast(EventSyncCompleted, data)
}

// NetworkChanged implements syncer.Listener
func (h *Hub) NetworkChanged(online bool) {
	if online {
		h.Broadcast(EventNetworkOnline, map[string]interface{}{"online": true})
		return
	}
	h.Broadcast(EventNetworkOffline, map[string]interface{}{"online": false})
}
