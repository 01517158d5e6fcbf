package commentsync

import (
	"go.uber.org/zap"

	"github.com/example/video-collab/pkg/commentsync/model"
)

// EventSource delivers push events. *socket.Client implements it.
type EventSource interface {
	OnCommentAdded(func(model.Comment))
	OnCommentUpdated(func(model.Comment))
	OnCommentDeleted(func(commentID string))
	OnReactionUpdated(func(model.ReactionUpdate))
}

// Bind applies src's events to the cache through the same primitives local
// mutations use. Binding the same source twice is a no-op; src must be
// comparable (a pointer in practice).
func (s *Store) Bind(src EventSource) {
	s.bindMu.Lock()
	if _, ok := s.bound[src]; ok {
		s.bindMu.Unlock()
		return
	}
	s.bound[src] = struct{}{}
	s.bindMu.Unlock()

	src.OnCommentAdded(s.applyAdded)
	src.OnCommentUpdated(s.applyUpdated)
	src.OnCommentDeleted(s.applyDeleted)
	src.OnReactionUpdated(s.applyReactions)
}

func (s *Store) applyAdded(cm model.Comment) {
	if err := s.checkComment(&cm); err != nil {
		s.log.Debug("ignoring malformed comment-added", zap.Error(err))
		return
	}
	s.mu.Lock()
	if !s.forCurrentVideoLocked(cm.VideoID) {
		s.mu.Unlock()
		return
	}
	inserted := s.cache.Insert(cm)
	s.mu.Unlock()

	if !inserted {
		s.log.Debug("comment-added not applied",
			zap.String("comment_id", cm.ID),
			zap.String("parent_id", cm.ParentID))
		return
	}
	s.changed()
}

func (s *Store) applyUpdated(cm model.Comment) {
	if err := s.checkComment(&cm); err != nil {
		s.log.Debug("ignoring malformed comment-updated", zap.Error(err))
		return
	}
	s.mu.Lock()
	ok := s.forCurrentVideoLocked(cm.VideoID) && s.cache.Replace(cm)
	s.mu.Unlock()
	if ok {
		s.changed()
	}
}

func (s *Store) applyDeleted(commentID string) {
	s.mu.Lock()
	ok := s.cache.Remove(commentID)
	s.mu.Unlock()
	if ok {
		s.changed()
	}
}

func (s *Store) applyReactions(ru model.ReactionUpdate) {
	s.mu.Lock()
	ok := s.forCurrentVideoLocked(ru.VideoID) && s.cache.SetReactions(ru.CommentID, ru.Reactions)
	s.mu.Unlock()
	if ok {
		s.changed()
	}
}

// forCurrentVideoLocked accepts events without a video id; they are matched
// by comment id alone.
func (s *Store) forCurrentVideoLocked(videoID string) bool {
	cur := s.cache.VideoID()
	if cur == "" {
		return false
	}
	return videoID == "" || videoID == cur
}
