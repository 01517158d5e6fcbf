// Package realtime serves the /socket endpoint: authenticated WebSocket
// connections grouped into per-video rooms, fed from the event bus.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/video-collab/internal/platform/analytics"
	"github.com/example/video-collab/internal/platform/api"
	"github.com/example/video-collab/internal/platform/auth"
	"github.com/example/video-collab/pkg/commentsync/model"
	"github.com/example/video-collab/services/comments/internal/events"
	"github.com/example/video-collab/services/comments/internal/idempotency"
)

// Config holds configuration for the Hub.
type Config struct {
	// PingInterval is how often to send ping messages to clients.
	PingInterval time.Duration
	// WriteTimeout is the timeout for writing to a client.
	WriteTimeout time.Duration
	// ReadTimeout is how long a connection may stay silent, pongs included.
	ReadTimeout time.Duration
	// MaxMessageSize is the maximum size of a message from a client.
	MaxMessageSize int64
	// SendBufferSize is the size of the send buffer per client.
	SendBufferSize int
	// MaxRoomsPerConn caps simultaneous room memberships.
	MaxRoomsPerConn int
	// AllowedOrigins restricts browser origins; empty or "*" allows all.
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		PingInterval:    25 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		MaxMessageSize:  4096,
		SendBufferSize:  64,
		MaxRoomsPerConn: 32,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.MaxRoomsPerConn <= 0 {
		c.MaxRoomsPerConn = d.MaxRoomsPerConn
	}
	return c
}

var (
	errAlreadyClosed = errors.New("connection closed")
	errTooManyRooms  = errors.New("too many rooms joined")
)

// Hub tracks connections and rooms. Room events arrive through the bus so
// every instance serves its own members.
type Hub struct {
	cfg       Config
	bus       events.Bus
	dedup     idempotency.Store
	log       *zap.Logger
	metrics   *Metrics
	analytics *analytics.Publisher
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}
}

type Option func(*Hub)

func WithConfig(cfg Config) Option {
	return func(h *Hub) { h.cfg = cfg }
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func WithAnalytics(p *analytics.Publisher) Option {
	return func(h *Hub) { h.analytics = p }
}

// NewHub creates a hub. dedup may be nil.
func NewHub(bus events.Bus, dedup idempotency.Store, opts ...Option) *Hub {
	h := &Hub{
		cfg:     DefaultConfig(),
		bus:     bus,
		dedup:   dedup,
		log:     zap.NewNop(),
		clients: make(map[*client]struct{}),
		rooms:   make(map[string]map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.cfg = h.cfg.withDefaults()
	h.log = h.log.With(zap.String("component", "realtime_hub"))
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Listen subscribes the hub to the bus until ctx ends.
func (h *Hub) Listen(ctx context.Context) error {
	return h.bus.Subscribe(ctx, h.deliver)
}

// Run listens until ctx ends, then closes every connection so clients
// reconnect elsewhere.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.Listen(ctx); err != nil {
		return err
	}
	h.log.Info("realtime hub started")
	<-ctx.Done()
	h.closeAll()
	h.log.Info("realtime hub stopped")
	return nil
}

// ServeHTTP upgrades an authenticated request. Mount behind auth.RequireUser.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		api.Unauthorized(w, "UNAUTHORIZED", "Authentication required", "")
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:    uuid.NewString(),
		hub:   h,
		ws:    ws,
		user:  ident,
		ctx:   r.Context(),
		send:  make(chan []byte, h.cfg.SendBufferSize),
		rooms: make(map[string]struct{}),
	}
	h.register(c)
	go c.writePump()
	c.readPump()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 || slices.Contains(h.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, origin)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.connOpened()
	h.log.Debug("client connected",
		zap.String("conn_id", c.id),
		zap.String("user_id", c.user.UserID),
		zap.Int("clients", n))
}

// unregister removes c from every room and closes its send buffer. Safe to
// call more than once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true
	delete(h.clients, c)
	for vid := range c.rooms {
		h.removeFromRoomLocked(c, vid)
	}
	close(c.send)
	rooms := len(h.rooms)
	h.mu.Unlock()

	h.metrics.connClosed()
	h.metrics.roomCount(rooms)
	h.log.Debug("client disconnected", zap.String("conn_id", c.id))
}

func (h *Hub) join(c *client, videoID string) error {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return errAlreadyClosed
	}
	if _, ok := c.rooms[videoID]; ok {
		h.mu.Unlock()
		return nil
	}
	if len(c.rooms) >= h.cfg.MaxRoomsPerConn {
		h.mu.Unlock()
		return errTooManyRooms
	}
	room, ok := h.rooms[videoID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[videoID] = room
	}
	room[c] = struct{}{}
	c.rooms[videoID] = struct{}{}
	rooms := len(h.rooms)
	h.mu.Unlock()

	h.metrics.joined()
	h.metrics.roomCount(rooms)
	h.analytics.Publish(analytics.SubjectRoomJoined, "room_joined", c.user.UserID, videoID, nil)
	h.log.Debug("joined room", zap.String("conn_id", c.id), zap.String("video_id", videoID))
	return nil
}

func (h *Hub) leave(c *client, videoID string) {
	h.mu.Lock()
	h.removeFromRoomLocked(c, videoID)
	rooms := len(h.rooms)
	h.mu.Unlock()
	h.metrics.roomCount(rooms)
}

func (h *Hub) removeFromRoomLocked(c *client, videoID string) {
	delete(c.rooms, videoID)
	if room, ok := h.rooms[videoID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, videoID)
		}
	}
}

func (h *Hub) member(c *client, videoID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[videoID]
	return ok
}

// deliver fans a bus event out to the room. Members whose buffer is full
// are disconnected; their client reconnects and refetches.
func (h *Hub) deliver(ctx context.Context, e events.Event) {
	if h.dedup != nil {
		dup, err := h.dedup.Check(ctx, e.ID)
		switch {
		case err != nil:
			h.log.Warn("dedup check failed, delivering anyway", zap.String("event_id", e.ID), zap.Error(err))
		case dup:
			h.metrics.duplicate()
			return
		}
	}

	frame, err := json.Marshal(model.Envelope{Event: e.Name, Data: e.Data})
	if err != nil {
		h.log.Error("encode frame", zap.String("event", e.Name), zap.Error(err))
		return
	}

	var slow []*client
	n := 0
	h.mu.RLock()
	for c := range h.rooms[e.VideoID] {
		if c.id == e.Origin {
			continue
		}
		select {
		case c.send <- frame:
			n++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	h.metrics.deliveredN(e.Name, n)
	for _, c := range slow {
		h.metrics.slowConsumer()
		h.log.Warn("send buffer full, closing connection",
			zap.String("conn_id", c.id), zap.String("video_id", e.VideoID))
		h.unregister(c)
	}
}

// sendTo queues a frame for a single connection.
func (h *Hub) sendTo(c *client, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.unregister(c)
	}
}

// Stats reports open connections and non-empty rooms.
func (h *Hub) Stats() (clients, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.rooms)
}

// RoomSize reports the members of one room on this instance.
func (h *Hub) RoomSize(videoID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[videoID])
}
