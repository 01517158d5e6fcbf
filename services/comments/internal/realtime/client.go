package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/video-collab/internal/platform/auth"
	"github.com/example/video-collab/pkg/commentsync/model"
	"github.com/example/video-collab/services/comments/internal/events"
)

const maxVideoIDLen = 128

// client is one WebSocket connection. rooms and closed are guarded by
// hub.mu.
type client struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	user auth.Identity
	ctx  context.Context
	send chan []byte

	rooms  map[string]struct{}
	closed bool
}

func (c *client) readPump() {
	cfg := c.hub.cfg
	defer func() {
		c.hub.unregister(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("websocket read error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		c.handle(data)
	}
}

func (c *client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) handle(data []byte) {
	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.replyError("malformed message")
		return
	}

	switch env.Event {
	case model.EventJoinRoom:
		var req model.RoomRequest
		if !c.decode(env, &req) || !c.checkVideo(env.Event, req.VideoID) {
			return
		}
		if err := c.hub.join(c, req.VideoID); err != nil {
			c.replyError(err.Error())
		}
	case model.EventLeaveRoom:
		var req model.RoomRequest
		if !c.decode(env, &req) || !c.checkVideo(env.Event, req.VideoID) {
			return
		}
		c.hub.leave(c, req.VideoID)
	case model.EventTyping:
		var req model.TypingRequest
		if !c.decode(env, &req) || !c.checkVideo(env.Event, req.VideoID) {
			return
		}
		c.typing(req)
	default:
		c.hub.log.Debug("ignoring unknown event", zap.String("conn_id", c.id), zap.String("event", env.Event))
	}
}

func (c *client) decode(env model.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.replyError("malformed " + env.Event + " payload")
		return false
	}
	return true
}

func (c *client) checkVideo(event, videoID string) bool {
	if strings.TrimSpace(videoID) == "" || len(videoID) > maxVideoIDLen {
		c.replyError(event + " requires a videoId")
		return false
	}
	return true
}

// typing relays the indicator to the other members of a room the sender
// has joined.
func (c *client) typing(req model.TypingRequest) {
	if !c.hub.member(c, req.VideoID) {
		return
	}
	name := c.user.Name
	if name == "" {
		name = c.user.Email
	}
	e, err := events.New(model.EventUserTyping, req.VideoID, model.Typing{
		UserID:   c.user.UserID,
		UserName: name,
		IsTyping: req.IsTyping,
	})
	if err != nil {
		return
	}
	e.Origin = c.id

	ctx, cancel := context.WithTimeout(c.ctx, c.hub.cfg.WriteTimeout)
	defer cancel()
	if err := c.hub.bus.Publish(ctx, e); err != nil {
		c.hub.log.Warn("publish typing failed", zap.String("video_id", req.VideoID), zap.Error(err))
	}
}

func (c *client) replyError(msg string) {
	env, err := model.NewEnvelope("error", model.ErrorResponse{Message: msg})
	if err != nil {
		return
	}
	frame, _ := json.Marshal(env)
	c.hub.sendTo(c, frame)
}
