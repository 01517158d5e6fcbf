package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/video-collab/pkg/commentsync/model"
)

// InMemoryCommentStore is a development-only in-memory implementation.
type InMemoryCommentStore struct {
	mu       sync.RWMutex
	comments map[string]model.Comment // id -> comment, Replies unset
	roots    map[string][]string      // videoID -> top-level ids
	replies  map[string][]string      // parentID -> reply ids
	now      func() time.Time
}

func NewInMemoryCommentStore() *InMemoryCommentStore {
	return &InMemoryCommentStore{
		comments: make(map[string]model.Comment),
		roots:    make(map[string][]string),
		replies:  make(map[string][]string),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryCommentStore) Create(_ context.Context, c model.Comment) (model.Comment, error) {
	if err := checkNew(c); err != nil {
		return model.Comment{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ParentID != "" {
		p, ok := s.comments[c.ParentID]
		if !ok || p.VideoID != c.VideoID || p.IsReply() {
			return model.Comment{}, ErrInvalidParent
		}
	}

	c.ID = uuid.NewString()
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	c.Mentions = model.ExtractMentions(c.Content)
	c.Reactions = []model.Reaction{}
	c.IsEdited = false
	c.EditedAt = nil
	c.Replies = nil
	s.comments[c.ID] = c.Clone()
	if c.ParentID != "" {
		s.replies[c.ParentID] = append(s.replies[c.ParentID], c.ID)
	} else {
		s.roots[c.VideoID] = append(s.roots[c.VideoID], c.ID)
	}
	return s.viewLocked(c.ID), nil
}

func (s *InMemoryCommentStore) List(_ context.Context, videoID string, page, limit int) ([]model.Comment, model.Pagination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page, limit = normalizePage(page, limit)
	ids := s.roots[videoID]
	p := model.NewPagination(page, limit, len(ids))

	out := []model.Comment{}
	start := p.Offset()
	if start >= len(ids) {
		return out, p, nil
	}
	end := min(start+limit, len(ids))
	for _, id := range ids[start:end] {
		out = append(out, s.viewLocked(id))
	}
	return out, p, nil
}

func (s *InMemoryCommentStore) Get(_ context.Context, commentID string) (model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.comments[commentID]; !ok {
		return model.Comment{}, ErrNotFound
	}
	return s.viewLocked(commentID), nil
}

func (s *InMemoryCommentStore) Update(_ context.Context, commentID, userID, content string) (model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.ownedLocked(commentID, userID)
	if err != nil {
		return model.Comment{}, err
	}
	now := s.now()
	c.Content = content
	c.Mentions = model.ExtractMentions(content)
	c.IsEdited = true
	c.EditedAt = &now
	c.UpdatedAt = now
	s.comments[commentID] = c
	return s.viewLocked(commentID), nil
}

func (s *InMemoryCommentStore) Delete(_ context.Context, commentID, userID string) (model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.ownedLocked(commentID, userID)
	if err != nil {
		return model.Comment{}, err
	}
	removed := s.viewLocked(commentID)

	for _, rid := range s.replies[commentID] {
		delete(s.comments, rid)
	}
	delete(s.replies, commentID)
	delete(s.comments, commentID)
	if c.ParentID != "" {
		s.replies[c.ParentID] = without(s.replies[c.ParentID], commentID)
	} else {
		s.roots[c.VideoID] = without(s.roots[c.VideoID], commentID)
	}
	return removed, nil
}

func (s *InMemoryCommentStore) ToggleReaction(_ context.Context, commentID, userID string, t model.ReactionType) (model.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.comments[commentID]
	if !ok {
		return model.Comment{}, ErrNotFound
	}
	c.Reactions = model.ToggleReaction(c.Reactions, userID, t)
	s.comments[commentID] = c
	return s.viewLocked(commentID), nil
}

func (s *InMemoryCommentStore) Ping(context.Context) error { return nil }

func (s *InMemoryCommentStore) ownedLocked(commentID, userID string) (model.Comment, error) {
	c, ok := s.comments[commentID]
	if !ok {
		return model.Comment{}, ErrNotFound
	}
	if userID != "" && c.Author.ID != userID {
		return model.Comment{}, ErrForbidden
	}
	return c, nil
}

// viewLocked returns a deep copy with replies attached for top-level ids.
func (s *InMemoryCommentStore) viewLocked(id string) model.Comment {
	c := s.comments[id].Clone()
	if c.IsReply() {
		return c
	}
	c.Replies = make([]model.Comment, 0, len(s.replies[id]))
	for _, rid := range s.replies[id] {
		c.Replies = append(c.Replies, s.comments[rid].Clone())
	}
	return c
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
