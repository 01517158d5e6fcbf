// Package socket is the push channel to the comments service: one
// auto-reconnecting WebSocket per Client, video rooms, and typed event
// callbacks.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/video-collab/pkg/commentsync/model"
)

// State is the lifecycle of the connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateFailed is terminal until the next Connect: the reconnect budget
	// ran out.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNotConnected       = errors.New("socket not connected")
	ErrAttemptsExhausted  = errors.New("reconnect attempts exhausted")
	errSendBufferOverflow = errors.New("send buffer full")
)

// Options configures a Client.
type Options struct {
	// URL of the WebSocket endpoint, e.g. ws://localhost:5000/socket.
	URL string
	// Token is sent as a Bearer credential when set.
	Token string
	// Cookies are sent with the handshake (cookie-based sessions).
	Cookies []*http.Cookie
	// Jar, when set, supplies cookies for the handshake.
	Jar http.CookieJar

	ConnectTimeout       time.Duration // default 20s
	MaxReconnectAttempts int           // default 5
	ReconnectDelay       time.Duration // default 1s, fixed

	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	SendBufferSize int

	Logger *zap.Logger
}

func (o *Options) withDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 20 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * o.PingInterval
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 64
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Client is one logical connection to the push channel. Handlers and room
// membership belong to the Client and survive reconnects.
type Client struct {
	opts   Options
	log    *zap.Logger
	dialer *websocket.Dialer

	mu       sync.Mutex
	state    State
	attempts int
	lastErr  error
	conn     *connection
	gen      uint64
	stop     context.CancelFunc
	loopDone chan struct{}
	changed  chan struct{}
	pending  []string
	rooms    map[string]struct{}

	hmu       sync.RWMutex
	onAdded   []func(model.Comment)
	onUpdated []func(model.Comment)
	onDeleted []func(string)
	onReact   []func(model.ReactionUpdate)
	onTyping  []func(model.Typing)
	onState   []func(State)
}

// New returns a disconnected Client.
func New(opts Options) *Client {
	opts.withDefaults()
	return &Client{
		opts: opts,
		log:  opts.Logger.With(zap.String("component", "commentsync_socket")),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.ConnectTimeout,
			Jar:              opts.Jar,
		},
		changed: make(chan struct{}),
		rooms:   make(map[string]struct{}),
	}
}

// Connect starts the connection loop. It is a no-op while connected or while
// an attempt is already running.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectLocked()
}

func (c *Client) connectLocked() {
	if c.stop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.gen++
	c.stop = cancel
	c.loopDone = make(chan struct{})
	c.attempts = 0
	c.lastErr = nil
	go c.run(ctx, c.gen, c.loopDone)
}

// Disconnect tears the connection down and stops reconnecting. Safe to call
// when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	stop, done := c.stop, c.loopDone
	c.stop = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	c.setState(StateDisconnected, nil)
}

// JoinVideoRoom subscribes to a video's events. While not connected the
// request is queued (once per video) and a connection attempt is started.
func (c *Client) JoinVideoRoom(videoID string) {
	if videoID == "" {
		return
	}
	c.mu.Lock()
	conn := c.conn
	if c.state != StateConnected || conn == nil {
		c.addPendingLocked(videoID)
		c.connectLocked()
		c.mu.Unlock()
		return
	}
	// A room is recorded before its frame is queued. If the connection
	// drops first, detach moves it back to pending and the next one rejoins.
	c.rooms[videoID] = struct{}{}
	c.mu.Unlock()

	c.sendJoins(conn, videoID)
}

// LeaveVideoRoom unsubscribes from a video. It only emits when connected.
func (c *Client) LeaveVideoRoom(videoID string) {
	c.mu.Lock()
	delete(c.rooms, videoID)
	for i, id := range c.pending {
		if id == videoID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return
	}
	if err := conn.enqueue(model.EventLeaveRoom, model.RoomRequest{VideoID: videoID}, true); err != nil {
		c.log.Debug("leave not sent", zap.String("video_id", videoID), zap.Error(err))
	}
}

// EmitTyping tells the other members of a room that this user is (not)
// typing. Dropped when not connected.
func (c *Client) EmitTyping(videoID string, isTyping bool) {
	c.mu.Lock()
	conn, connected := c.conn, c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return
	}
	if err := conn.enqueue(model.EventTyping, model.TypingRequest{VideoID: videoID, IsTyping: isTyping}, false); err != nil {
		c.log.Debug("typing dropped", zap.String("video_id", videoID), zap.Error(err))
	}
}

// WaitForConnection reports whether the client is connected, or becomes
// connected before timeout or ctx expire. It returns false as soon as the
// client reaches StateFailed.
func (c *Client) WaitForConnection(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		st, changed := c.state, c.changed
		c.mu.Unlock()

		switch st {
		case StateConnected:
			return true
		case StateFailed:
			return false
		}
		select {
		case <-changed:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (c *Client) IsConnected() bool { return c.State() == StateConnected }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempts is the number of failed dials since the last successful
// connection.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Err is the last connection error, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// PendingJoins returns the rooms waiting for the next connection.
func (c *Client) PendingJoins() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.pending...)
}

func (c *Client) OnCommentAdded(fn func(model.Comment)) {
	c.hmu.Lock()
	c.onAdded = append(c.onAdded, fn)
	c.hmu.Unlock()
}

func (c *Client) OnCommentUpdated(fn func(model.Comment)) {
	c.hmu.Lock()
	c.onUpdated = append(c.onUpdated, fn)
	c.hmu.Unlock()
}

// OnCommentDeleted handlers receive the deleted comment id.
func (c *Client) OnCommentDeleted(fn func(commentID string)) {
	c.hmu.Lock()
	c.onDeleted = append(c.onDeleted, fn)
	c.hmu.Unlock()
}

func (c *Client) OnReactionUpdated(fn func(model.ReactionUpdate)) {
	c.hmu.Lock()
	c.onReact = append(c.onReact, fn)
	c.hmu.Unlock()
}

func (c *Client) OnUserTyping(fn func(model.Typing)) {
	c.hmu.Lock()
	c.onTyping = append(c.onTyping, fn)
	c.hmu.Unlock()
}

// OnStateChange handlers run after every state transition.
func (c *Client) OnStateChange(fn func(State)) {
	c.hmu.Lock()
	c.onState = append(c.onState, fn)
	c.hmu.Unlock()
}

func (c *Client) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	for {
		c.setState(StateConnecting, nil)
		ws, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			c.attempts++
			attempts := c.attempts
			c.lastErr = err
			c.mu.Unlock()

			c.log.Warn("connect failed",
				zap.String("url", c.opts.URL),
				zap.Int("attempt", attempts),
				zap.Error(err))

			if attempts > c.opts.MaxReconnectAttempts {
				c.fail(gen, fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, attempts, err))
				return
			}
			if !sleep(ctx, c.opts.ReconnectDelay) {
				return
			}
			continue
		}

		conn := newConnection(ws, c.opts.SendBufferSize)
		c.attach(conn)
		err = c.serve(ctx, conn)
		c.detach(conn)
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("connection dropped", zap.Error(err))
		c.setState(StateDisconnected, err)
		if !sleep(ctx, c.opts.ReconnectDelay) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	ws, resp, err := c.dialer.DialContext(dctx, c.opts.URL, c.handshakeHeader())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	return ws, nil
}

func (c *Client) handshakeHeader() http.Header {
	h := http.Header{}
	if c.opts.Token != "" {
		h.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if len(c.opts.Cookies) > 0 {
		r := &http.Request{Header: http.Header{}}
		for _, ck := range c.opts.Cookies {
			r.AddCookie(ck)
		}
		h.Set("Cookie", r.Header.Get("Cookie"))
	}
	return h
}

// attach makes conn current and moves the pending joins into rooms in one
// critical section, so each queued room is joined exactly once. The frames
// are queued after c.mu is released since enqueue may wait on a full buffer.
func (c *Client) attach(conn *connection) {
	go conn.writePump(c.opts.PingInterval, c.opts.WriteTimeout)

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.lastErr = nil
	pending := c.pending
	c.pending = nil
	for _, videoID := range pending {
		c.rooms[videoID] = struct{}{}
	}
	changed := c.setStateLocked(StateConnected, nil)
	c.mu.Unlock()

	c.sendJoins(conn, pending...)
	c.log.Info("connected", zap.String("url", c.opts.URL), zap.Int("rooms", len(pending)))
	if changed {
		c.notify(StateConnected)
	}
}

// sendJoins queues join frames on conn. It must not be called with c.mu held.
// A failed send means conn is closing, and detach requeues its rooms.
func (c *Client) sendJoins(conn *connection, videoIDs ...string) {
	for _, videoID := range videoIDs {
		c.mu.Lock()
		_, joined := c.rooms[videoID]
		c.mu.Unlock()
		if !joined {
			continue
		}
		if err := conn.enqueue(model.EventJoinRoom, model.RoomRequest{VideoID: videoID}, true); err != nil {
			c.log.Warn("join not sent", zap.String("video_id", videoID), zap.Error(err))
			return
		}
	}
}

// detach drops conn and moves its rooms back to pending so the next
// connection rejoins them.
func (c *Client) detach(conn *connection) {
	conn.close()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	for videoID := range c.rooms {
		c.addPendingLocked(videoID)
	}
	clear(c.rooms)
}

func (c *Client) serve(ctx context.Context, conn *connection) error {
	stop := context.AfterFunc(ctx, func() { conn.shutdown(c.opts.WriteTimeout) })
	defer stop()

	ws := conn.ws
	_ = ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Debug("bad frame", zap.Error(err))
		return
	}

	c.hmu.RLock()
	onAdded, onUpdated, onDeleted := c.onAdded, c.onUpdated, c.onDeleted
	onReact, onTyping := c.onReact, c.onTyping
	c.hmu.RUnlock()

	switch env.Event {
	case model.EventCommentAdded, model.EventCommentUpdated:
		var cm model.Comment
		if err := json.Unmarshal(env.Data, &cm); err != nil {
			c.log.Debug("bad payload", zap.String("event", env.Event), zap.Error(err))
			return
		}
		handlers := onAdded
		if env.Event == model.EventCommentUpdated {
			handlers = onUpdated
		}
		for _, fn := range handlers {
			fn(cm.Clone())
		}
	case model.EventCommentDeleted:
		id, err := decodeCommentID(env.Data)
		if err != nil {
			c.log.Debug("bad payload", zap.String("event", env.Event), zap.Error(err))
			return
		}
		for _, fn := range onDeleted {
			fn(id)
		}
	case model.EventReactionUpdated:
		var ru model.ReactionUpdate
		if err := json.Unmarshal(env.Data, &ru); err != nil {
			c.log.Debug("bad payload", zap.String("event", env.Event), zap.Error(err))
			return
		}
		for _, fn := range onReact {
			fn(model.ReactionUpdate{CommentID: ru.CommentID, VideoID: ru.VideoID, Reactions: append([]model.Reaction(nil), ru.Reactions...)})
		}
	case model.EventUserTyping:
		var ty model.Typing
		if err := json.Unmarshal(env.Data, &ty); err != nil {
			c.log.Debug("bad payload", zap.String("event", env.Event), zap.Error(err))
			return
		}
		for _, fn := range onTyping {
			fn(ty)
		}
	default:
		c.log.Debug("unhandled event", zap.String("event", env.Event))
	}
}

// decodeCommentID accepts a bare id string or an object carrying the id.
func decodeCommentID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var obj struct {
		CommentID string `json:"commentId"`
		ID        string `json:"_id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", err
	}
	if obj.CommentID != "" {
		return obj.CommentID, nil
	}
	if obj.ID != "" {
		return obj.ID, nil
	}
	return "", errors.New("missing comment id")
}

func (c *Client) fail(gen uint64, err error) {
	c.mu.Lock()
	if c.gen == gen {
		c.stop = nil
	}
	c.lastErr = err
	c.mu.Unlock()
	c.log.Error("giving up on push channel", zap.Error(err))
	c.setState(StateFailed, err)
}

func (c *Client) setState(s State, err error) {
	c.mu.Lock()
	changed := c.setStateLocked(s, err)
	c.mu.Unlock()
	if changed {
		c.notify(s)
	}
}

func (c *Client) setStateLocked(s State, err error) bool {
	if err != nil {
		c.lastErr = err
	}
	if c.state == s {
		return false
	}
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
	return true
}

func (c *Client) notify(s State) {
	c.hmu.RLock()
	handlers := c.onState
	c.hmu.RUnlock()
	for _, fn := range handlers {
		fn(s)
	}
}

func (c *Client) addPendingLocked(videoID string) {
	for _, id := range c.pending {
		if id == videoID {
			return
		}
	}
	c.pending = append(c.pending, videoID)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
