package model

import (
	"encoding/json"
)

// Push channel event names.
const (
	EventCommentAdded    = "comment-added"
	EventCommentUpdated  = "comment-updated"
	EventCommentDeleted  = "comment-deleted"
	EventReactionUpdated = "reaction-updated"
	EventUserTyping      = "user-typing"

	EventJoinRoom  = "join-video-room"
	EventLeaveRoom = "leave-video-room"
	EventTyping    = "typing"
)

// Envelope frames every message on the push channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope for event.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// ReactionUpdate is the reaction-updated payload.
type ReactionUpdate struct {
	CommentID string     `json:"commentId"`
	VideoID   string     `json:"videoId,omitempty"`
	Reactions []Reaction `json:"reactions"`
}

// Typing is the user-typing payload delivered to other room members.
type Typing struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// RoomRequest is sent to join or leave a video room.
type RoomRequest struct {
	VideoID string `json:"videoId"`
}

// TypingRequest is sent by a client composing a comment.
type TypingRequest struct {
	VideoID  string `json:"videoId"`
	IsTyping bool   `json:"isTyping"`
}

// ListResponse is the body of GET /comments/{videoId}.
type ListResponse struct {
	Comments   []Comment  `json:"comments"`
	Pagination Pagination `json:"pagination"`
}

// CommentResponse wraps a single comment returned by a mutation.
type CommentResponse struct {
	Comment *Comment `json:"comment"`
}

// CreateCommentRequest is the body of POST /comments/{videoId}.
type CreateCommentRequest struct {
	Content   string   `json:"content" validate:"required,max=5000"`
	Timestamp *float64 `json:"timestamp,omitempty" validate:"omitempty,gte=0"`
	ParentID  string   `json:"parentId,omitempty"`
}

// UpdateCommentRequest is the body of PUT /comments/{commentId}.
type UpdateCommentRequest struct {
	Content string `json:"content" validate:"required,max=5000"`
}

// ReactionRequest is the body of POST /comments/{commentId}/reaction.
type ReactionRequest struct {
	Type ReactionType `json:"type" validate:"required,oneof=like dislike heart laugh"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
