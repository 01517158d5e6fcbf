package commentsync

import (
	"errors"

	"github.com/example/video-collab/pkg/commentsync/api"
)

// Op names a Store operation; each has its own error slot.
type Op string

const (
	OpFetch    Op = "fetch"
	OpLoadMore Op = "load_more"
	OpAdd      Op = "add"
	OpUpdate   Op = "update"
	OpDelete   Op = "delete"
	OpReaction Op = "reaction"
)

var fallbackMessages = map[Op]string{
	OpFetch:    "Failed to fetch comments",
	OpLoadMore: "Failed to load more comments",
	OpAdd:      "Failed to add comment",
	OpUpdate:   "Failed to update comment",
	OpDelete:   "Failed to delete comment",
	OpReaction: "Failed to toggle reaction",
}

// ErrInvalidResponse is wrapped when the server returns a comment missing
// its id, content or author.
var ErrInvalidResponse = errors.New("invalid comment structure received from server")

// Error is what every failed Store operation records and returns. Message
// is user-facing: the server's message when it sent one, otherwise a
// per-operation fallback.
type Error struct {
	Op      Op
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

func newError(op Op, err error) *Error {
	msg := fallbackMessages[op]
	var apiErr *api.Error
	switch {
	case errors.As(err, &apiErr) && apiErr.Message != "":
		msg = apiErr.Message
	case errors.Is(err, ErrInvalidResponse):
		msg = "Invalid comment structure received from server"
	}
	return &Error{Op: op, Message: msg, Err: err}
}
