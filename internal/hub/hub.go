// v0
// internal/hub/hub.go
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nrgchamp/telemetry/internal/metrics"
	"nrgchamp/telemetry/internal/models"
)

// Event names carried in the envelope type field.
const (
	EventInitialData   = "ReceiveInitialData"
	EventBatchReadings = "ReceiveBatchReadings"
	EventStatistics    = "ReceiveStatistics"
	EventAnomaly       = "ReceiveAnomaly"
)

const (
	DefaultCatchUp      = 1000
	DefaultQueueSize    = 64
	DefaultWriteTimeout = 10 * time.Second

	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxInboundSz = 4096
)

// ErrClosed is returned when a subscriber arrives after Close.
var ErrClosed = errors.New("hub closed")

// Envelope is the JSON frame pushed to subscribers.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Source provides the catch-up payload for new subscribers.
type Source interface {
	GetRecentReadings(limit int) []models.Reading
	GetStatistics() models.Statistics
}

// Config tunes the hub. Zero values select the defaults.
type Config struct {
	CatchUp        int
	QueueSize      int
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

type client struct {
	id        uuid.UUID
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

// Hub pushes readings, statistics and alerts to websocket subscribers. Each
// subscriber owns a bounded queue; one that falls behind is disconnected
// instead of stalling the publisher.
type Hub struct {
	src          Source
	cfg          Config
	upgrader     websocket.Upgrader
	log          *slog.Logger
	metrics      *metrics.Metrics
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[uuid.UUID]*client
	closed  bool
}

// New builds a hub that serves catch-up data from src.
func New(src Source, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Hub, error) {
	if src == nil {
		return nil, errors.New("hub source must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CatchUp < 0 {
		cfg.CatchUp = 0
	} else if cfg.CatchUp == 0 {
		cfg.CatchUp = DefaultCatchUp
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	h := &Hub{
		src:          src,
		cfg:          cfg,
		log:          logger.With(slog.String("component", "hub")),
		metrics:      m,
		writeTimeout: cfg.WriteTimeout,
		clients:      make(map[uuid.UUID]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h, nil
}

// originChecker allows every origin when the list is empty or contains "*".
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Type: event, Data: data})
}

// ServeHTTP upgrades the request, registers the subscriber, sends the
// catch-up payload and then serves the subscriber until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("hub_upgrade_failed", slog.String("remote", r.RemoteAddr), slog.Any("err", err))
		return
	}

	c := &client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, h.cfg.QueueSize),
		done: make(chan struct{}),
	}

	// Registered before the catch-up read: an event published meanwhile is
	// queued for c and may repeat a reading, but none is lost.
	if err := h.register(c); err != nil {
		c.close(websocket.CloseGoingAway, "shutting down")
		return
	}

	initial, stats, err := h.catchUp()
	if err != nil {
		h.log.Error("hub_catchup_encode_failed", slog.Any("err", err))
		h.remove(c, websocket.CloseInternalServerErr, "catch-up failed")
		return
	}
	h.log.Info("hub_client_connected", slog.String("client_id", c.id.String()), slog.String("remote", r.RemoteAddr))

	go h.writePump(c, initial, stats)
	h.readPump(c)
}

// catchUp encodes the recent readings followed by the current statistics.
func (h *Hub) catchUp() ([]byte, []byte, error) {
	initial, err := encode(EventInitialData, h.src.GetRecentReadings(h.cfg.CatchUp))
	if err != nil {
		return nil, nil, err
	}
	stats, err := encode(EventStatistics, h.src.GetStatistics())
	if err != nil {
		return nil, nil, err
	}
	return initial, stats, nil
}

func (h *Hub) register(c *client) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetSubscribers(n)
	return nil
}

// remove unregisters c and closes its connection. It is safe to call more than once.
func (h *Hub) remove(c *client, code int, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	c.close(code, reason)
	if ok {
		h.metrics.SetSubscribers(n)
		h.log.Info("hub_client_disconnected", slog.String("client_id", c.id.String()), slog.String("reason", reason))
	}
}

// readPump drains inbound frames so control messages are processed. The hub
// does not accept client messages.
func (h *Hub) readPump(c *client) {
	defer h.remove(c, websocket.CloseNormalClosure, "disconnected")

	c.conn.SetReadLimit(maxInboundSz)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Debug("hub_read_err", slog.String("client_id", c.id.String()), slog.Any("err", err))
			}
			return
		}
	}
}

// writePump writes the catch-up frames first and then whatever was queued
// for c, so broadcasts that raced the catch-up arrive after it.
func (h *Hub) writePump(c *client, first ...[]byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for _, msg := range first {
		_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Debug("hub_write_err", slog.String("client_id", c.id.String()), slog.Any("err", err))
			h.remove(c, websocket.CloseAbnormalClosure, "write_failed")
			return
		}
	}

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug("hub_write_err", slog.String("client_id", c.id.String()), slog.Any("err", err))
				h.remove(c, websocket.CloseAbnormalClosure, "write_failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c, websocket.CloseAbnormalClosure, "ping_failed")
				return
			}
		}
	}
}

func (h *Hub) broadcast(event string, payload any) error {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return nil
	}
	h.mu.RUnlock()

	msg, err := encode(event, payload)
	if err != nil {
		return err
	}

	var slow []*client
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.metrics.SubscriberDropped()
		h.log.Warn("hub_slow_subscriber_dropped", slog.String("client_id", c.id.String()), slog.String("event", event))
		h.remove(c, websocket.ClosePolicyViolation, "slow_subscriber")
	}
	return nil
}

// PublishReadings pushes a ReceiveBatchReadings event to every subscriber.
func (h *Hub) PublishReadings(_ context.Context, readings []models.Reading) error {
	return h.broadcast(EventBatchReadings, readings)
}

// PublishStatistics pushes a ReceiveStatistics event to every subscriber.
func (h *Hub) PublishStatistics(_ context.Context, stats models.Statistics) error {
	return h.broadcast(EventStatistics, stats)
}

// PublishAnomaly pushes a ReceiveAnomaly event to every subscriber.
func (h *Hub) PublishAnomaly(_ context.Context, alert models.AnomalyAlert) error {
	return h.broadcast(EventAnomaly, alert)
}

// Count reports the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c, websocket.CloseGoingAway, "shutting down")
	}
	h.log.Info("hub_closed", slog.Int("clients", len(clients)))
	return nil
}
