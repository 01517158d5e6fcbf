// Package analytics publishes fire-and-forget activity events on NATS for
// the reporting pipeline. Delivery is best effort.
package analytics

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	SubjectCommentPosted  = "analytics.comments.posted"
	SubjectCommentEdited  = "analytics.comments.edited"
	SubjectCommentDeleted = "analytics.comments.deleted"
	SubjectCommentReacted = "analytics.comments.reacted"
	SubjectRoomJoined     = "analytics.realtime.room_joined"
)

type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	UserID     string         `json:"user_id,omitempty"`
	VideoID    string         `json:"video_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher is safe to use as a nil pointer; it then drops everything.
type Publisher struct {
	nc  Conn
	log *zap.Logger
}

// New returns a Publisher on nc. Pass nc=nil to get a no-op stub.
func New(nc Conn, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{nc: nc, log: log}
}

// Publish sends an event. Failures are logged as warnings and never
// surface to the caller.
func (p *Publisher) Publish(subject, eventName, userID, videoID string, props map[string]any) {
	if p == nil || p.nc == nil {
		return
	}
	ev := Event{
		EventID:    uuid.NewString(),
		EventName:  eventName,
		UserID:     userID,
		VideoID:    videoID,
		OccurredAt: time.Now().UTC(),
		Properties: props,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("analytics: marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn("analytics: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
