// Package events carries room events between service instances. Handlers
// publish after a mutation commits; every instance subscribes and delivers
// to its own WebSocket rooms.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is one room broadcast. Data is the payload clients receive under
// Name.
type Event struct {
	ID      string `json:"event_id"`
	Name    string `json:"event"`
	VideoID string `json:"video_id"`
	// Origin is the socket connection that caused the event; it is not
	// echoed back to that connection.
	Origin     string          `json:"origin,omitempty"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurred_at"`
}

var ErrClosed = errors.New("events: bus closed")

// New builds an event with a fresh id.
func New(name, videoID string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Name:       name,
		VideoID:    videoID,
		Data:       raw,
		OccurredAt: time.Now().UTC(),
	}, nil
}

func (e Event) validate() error {
	if e.ID == "" || e.Name == "" || e.VideoID == "" {
		return errors.New("event requires id, name and video id")
	}
	return nil
}

// Handler consumes delivered events. It must not block for long.
type Handler func(ctx context.Context, e Event)

// Bus publishes events to every subscriber, across instances for the
// networked implementations.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	// Subscribe registers h until ctx ends.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

func decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	return e, e.validate()
}
