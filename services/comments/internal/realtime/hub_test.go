package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/video-collab/internal/platform/auth"
	"github.com/example/video-collab/pkg/commentsync/model"
	"github.com/example/video-collab/pkg/commentsync/socket"
	"github.com/example/video-collab/services/comments/internal/events"
	"github.com/example/video-collab/services/comments/internal/idempotency"
)

type harness struct {
	hub *Hub
	bus *events.LocalBus
	srv *httptest.Server
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	bus := events.NewLocalBus()
	dedup, err := idempotency.NewStore(nil, "", time.Minute, false)
	if err != nil {
		t.Fatalf("dedup: %v", err)
	}
	h := NewHub(bus, dedup, WithConfig(cfg))
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.Listen(ctx); err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.URL.Query().Get("uid")
		if uid == "" {
			h.ServeHTTP(w, r)
			return
		}
		ctx := auth.WithIdentity(r.Context(), auth.Identity{UserID: uid, Name: "Name " + uid})
		h.ServeHTTP(w, r.WithContext(ctx))
	}))
	t.Cleanup(func() {
		cancel()
		h.closeAll()
		srv.Close()
	})
	return &harness{hub: h, bus: bus, srv: srv}
}

func (hs *harness) url(uid string) string {
	return "ws" + strings.TrimPrefix(hs.srv.URL, "http") + "/socket?uid=" + uid
}

func (hs *harness) dial(t *testing.T, uid string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(hs.url(uid), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (hs *harness) publish(t *testing.T, name, videoID string, data any) events.Event {
	t.Helper()
	e, err := events.New(name, videoID, data)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if err := hs.bus.Publish(context.Background(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return e
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	env, err := model.NewEnvelope(event, data)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if err := ws.WriteJSON(env); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, ws *websocket.Conn) model.Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env model.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func expectNothing(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var env model.Envelope
	if err := ws.ReadJSON(&env); err == nil {
		t.Fatalf("expected no frame, got %s %s", env.Event, env.Data)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_JoinAndDeliver(t *testing.T) {
	hs := newHarness(t, Config{})
	ws := hs.dial(t, "u-1")
	send(t, ws, model.EventJoinRoom, model.RoomRequest{VideoID: "vid-1"})
	eventually(t, "join", func() bool { return hs.hub.RoomSize("vid-1") == 1 })

	hs.publish(t, model.EventCommentAdded, "vid-1", model.Comment{ID: "c-1", Content: "hi", Author: &model.Author{ID: "u-2"}})
	hs.publish(t, model.EventCommentAdded, "vid-2", model.Comment{ID: "c-2"})

	env := read(t, ws)
	if env.Event != model.EventCommentAdded {
		t.Fatalf("expected comment-added, got %q", env.Event)
	}
	var c model.Comment
	if err := json.Unmarshal(env.Data, &c); err != nil || c.ID != "c-1" {
		t.Fatalf("unexpected payload %s (%v)", env.Data, err)
	}
	expectNothing(t, ws)
}

func TestHub_TypingExcludesSender(t *testing.T) {
	hs := newHarness(t, Config{})
	a := hs.dial(t, "a")
	b := hs.dial(t, "b")
	send(t, a, model.EventJoinRoom, model.RoomRequest{VideoID: "vid-1"})
	send(t, b, model.EventJoinRoom, model.RoomRequest{VideoID: "vid-1"})
	eventually(t, "joins", func() bool { return hs.hub.RoomSize("vid-1") == 2 })

	send(t, a, model.EventTyping, model.TypingRequest{VideoID: "vid-1", IsTyping: true})

	env := read(t, b)
	if env.Event != model.EventUserTyping {
		t.Fatalf("expected user-typing, got %q", env.Event)
	}
	var ty model.Typing
	if err := json.Unmarshal(env.Data, &ty); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ty.UserID != "a" || ty.UserName != "Name a" || !ty.IsTyping {
		t.Fatalf("unexpected typing payload %+v", ty)
	}
	expectNothing(t, a)
}

func TestHub_TypingRequiresMembership(t *testing.T) {
	hs := newHarness(t, Config{})
	member := hs.dial(t, "m")
	outsider := hs.dial(t, "o")
	send(t, member, model.EventJoinRoom, model.RoomRequest{VideoID: "vid-1"})
	eventually(t, "join", func() bool { return hs.hub.RoomSize("vid-1") == 1 })

	send(t, outsider, model.EventTyping, model.TypingRequest{VideoID: "vid-1", IsTyping: true})
	expectNothing(t, member)
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	hs := newHarness(t, Config{})
	ws := hs.dial(t, "u-1")
	send(t, ws, model.EventJoinRoom, model.RoomRequest{VideoID: "vid-1"})
	eventually(t, "join", func() bool { return hs.hub.RoomSize("vid-1") == 1 })
	send(t, ws, model.EventLeaveRoom, model.RoomRequest{VideoID: "vid-1"})
	eventually(t, "leave", func() bool { return hs.hub.RoomSize("vid-1") == 0 })

	hs.publish(t, model.EventCommentDeleted, "vid-1", "c-1")
	expectNothing(t, ws)
	if _, rooms := hs.hub.Stats(); rooms != 0 {
		t.Fatalf("expected empty room removed, have %d rooms", rooms)
	}
}

func TestHub_DuplicateEventDeliveredOnce(t *testing.T) {
	hs := newHarness(t, Config{})
	ws := hs.dial(t, "u-1")
	send(t, ws, model.EventJoinRoom, model.RoomRequest{VideoID: "vid-1"})
	eventually(t, "join", func() bool { return hs.hub.RoomSize("vid-1") == 1 })

	e := hs.publish(t, model.EventCommentDeleted, "vid-1", "c-1")
	if err := hs.bus.Publish(context.Background(), e); err != nil {
		t.Fatalf("republish: %v", err)
	}

	if env := read(t, ws); env.Event != model.EventCommentDeleted {
		t.Fatalf("expected comment-deleted, got %q", env.Event)
	}
	expectNothing(t, ws)
}

func TestHub_JoinWithoutVideoID(t *testing.T) {
	hs := newHarness(t, Config{})
	ws := hs.dial(t, "u-1")
	send(t, ws, model.EventJoinRoom, model.RoomRequest{})

	env := read(t, ws)
	if env.Event != "error" {
		t.Fatalf("expected error frame, got %q", env.Event)
	}
	var body model.ErrorResponse
	_ = json.Unmarshal(env.Data, &body)
	if !strings.Contains(body.Message, "videoId") {
		t.Fatalf("unexpected error message %q", body.Message)
	}
}

func TestHub_RoomLimit(t *testing.T) {
	hs := newHarness(t, Config{MaxRoomsPerConn: 1})
	ws := hs.dial(t, "u-1")
	send(t, ws, model.EventJoinRoom, model.RoomRequest{VideoID: "vid-1"})
	send(t, ws, model.EventJoinRoom, model.RoomRequest{VideoID: "vid-2"})

	if env := read(t, ws); env.Event != "error" {
		t.Fatalf("expected error frame, got %q", env.Event)
	}
	if hs.hub.RoomSize("vid-2") != 0 {
		t.Fatal("expected second room to be refused")
	}
}

func TestHub_RequiresIdentity(t *testing.T) {
	hs := newHarness(t, Config{})
	_, resp, err := websocket.DefaultDialer.Dial(hs.url(""), nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestHub_SlowConsumerDisconnected(t *testing.T) {
	h := NewHub(events.NewLocalBus(), nil, WithConfig(Config{SendBufferSize: 1}))
	c := &client{id: "slow", hub: h, send: make(chan []byte, 1), rooms: make(map[string]struct{})}
	h.register(c)
	if err := h.join(c, "vid-1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	for i := range 2 {
		e, _ := events.New(model.EventCommentDeleted, "vid-1", i)
		h.deliver(context.Background(), e)
	}

	if clients, rooms := h.Stats(); clients != 0 || rooms != 0 {
		t.Fatalf("expected slow client removed, have %d clients %d rooms", clients, rooms)
	}
	if _, ok := <-c.send; !ok {
		t.Fatal("expected the first frame to stay queued")
	}
	if _, ok := <-c.send; ok {
		t.Fatal("expected send buffer closed")
	}
}

func TestHub_RunClosesConnectionsOnShutdown(t *testing.T) {
	hs := newHarness(t, Config{})
	ws := hs.dial(t, "u-1")
	eventually(t, "register", func() bool { c, _ := hs.hub.Stats(); return c == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hs.hub.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestHub_WithSocketClient(t *testing.T) {
	hs := newHarness(t, Config{})
	sc := socket.New(socket.Options{URL: hs.url("u-1"), ReconnectDelay: 10 * time.Millisecond})
	t.Cleanup(sc.Disconnect)

	added := make(chan model.Comment, 1)
	sc.OnCommentAdded(func(c model.Comment) { added <- c })
	sc.JoinVideoRoom("vid-1")
	eventually(t, "join", func() bool { return hs.hub.RoomSize("vid-1") == 1 })

	hs.publish(t, model.EventCommentAdded, "vid-1", model.Comment{ID: "c-9", Content: "live", Author: &model.Author{ID: "u-2"}})
	select {
	case c := <-added:
		if c.ID != "c-9" {
			t.Fatalf("unexpected comment %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("comment-added not received")
	}
}
