// Package store persists comments, their replies and reactions.
package store

import (
	"context"
	"errors"

	"github.com/example/video-collab/pkg/commentsync/model"
)

var (
	ErrNotFound  = errors.New("comment not found")
	ErrForbidden = errors.New("comment not owned by user")
	// ErrInvalidParent rejects replies whose parent is missing, belongs to
	// another video, or is itself a reply.
	ErrInvalidParent = errors.New("invalid parent comment")
)

// CommentStore defines the contract for comment persistence. Top-level
// comments are listed in creation order; replies are attached to their
// parent in creation order.
type CommentStore interface {
	Create(ctx context.Context, c model.Comment) (model.Comment, error)
	List(ctx context.Context, videoID string, page, limit int) ([]model.Comment, model.Pagination, error)
	Get(ctx context.Context, commentID string) (model.Comment, error)
	// Update edits the content. Only the author may edit.
	Update(ctx context.Context, commentID, userID, content string) (model.Comment, error)
	// Delete removes a comment and its replies and returns what was removed.
	// An empty userID skips the author check (moderation).
	Delete(ctx context.Context, commentID, userID string) (model.Comment, error)
	// ToggleReaction removes the user's reaction when it has type t and
	// otherwise sets it to t.
	ToggleReaction(ctx context.Context, commentID, userID string, t model.ReactionType) (model.Comment, error)
	Ping(ctx context.Context) error
}

const maxPageSize = 100

var errAuthorRequired = errors.New("comment author is required")

func checkNew(c model.Comment) error {
	if c.Author == nil || c.Author.ID == "" {
		return errAuthorRequired
	}
	return nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > maxPageSize {
		limit = model.DefaultPageSize
	}
	return page, limit
}
