// Package commentsync keeps one video's comments in sync with the comments
// service: paginated loading, mutations confirmed by the server, and live
// updates from the push channel merged into the same cache.
package commentsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/example/video-collab/pkg/commentsync/api"
	"github.com/example/video-collab/pkg/commentsync/cache"
	"github.com/example/video-collab/pkg/commentsync/model"
)

// Remote is the REST surface the Store needs. *api.Client implements it.
type Remote interface {
	ListComments(ctx context.Context, videoID string, page, limit int) (*model.ListResponse, error)
	CreateComment(ctx context.Context, videoID string, req model.CreateCommentRequest) (*model.Comment, error)
	UpdateComment(ctx context.Context, commentID, content string) (*model.Comment, error)
	DeleteComment(ctx context.Context, commentID string) error
	ToggleReaction(ctx context.Context, commentID string, t model.ReactionType) (*model.Comment, error)
}

// Store is the comment state of one video context. Create one per consumer;
// it is safe for concurrent use.
type Store struct {
	remote   Remote
	log      *zap.Logger
	validate *validator.Validate
	pageSize int
	queue    *entityQueue

	mu          sync.Mutex
	cache       *cache.Cache
	epoch       uint64
	loading     int
	loadingMore int
	err         error
	opErrs      map[Op]error
	onChange    []func()

	bindMu sync.Mutex
	bound  map[EventSource]struct{}
}

// Option customizes a Store.
type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithPageSize overrides the page size (default 50).
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func NewStore(remote Remote, opts ...Option) *Store {
	s := &Store{
		remote:   remote,
		log:      zap.NewNop(),
		validate: validator.New(),
		pageSize: model.DefaultPageSize,
		queue:    newEntityQueue(),
		cache:    cache.New(),
		opErrs:   make(map[Op]error),
		bound:    make(map[EventSource]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(zap.String("component", "comment_store"))
	return s
}

// FetchComments loads one page. Page 1 replaces the cache and switches the
// store to videoID; later pages are appended.
func (s *Store) FetchComments(ctx context.Context, videoID string, page int) error {
	if page < 1 {
		page = 1
	}
	s.mu.Lock()
	if page == 1 {
		s.epoch++
	}
	epoch := s.epoch
	s.loading++
	s.clearErrLocked(OpFetch)
	s.mu.Unlock()

	s.log.Debug("fetching comments", zap.String("video_id", videoID), zap.Int("page", page))
	resp, err := s.remote.ListComments(ctx, videoID, page, s.pageSize)

	s.mu.Lock()
	s.loading--
	if err != nil {
		if errors.Is(err, api.ErrCanceled) || epoch != s.epoch {
			s.mu.Unlock()
			return err
		}
		e := s.recordLocked(OpFetch, err)
		if page == 1 {
			s.cache.Reset(videoID, nil, nil)
		}
		s.mu.Unlock()
		s.log.Warn("fetch comments failed", zap.String("video_id", videoID), zap.Int("page", page), zap.Error(err))
		s.changed()
		return e
	}
	if epoch != s.epoch || (page > 1 && s.cache.VideoID() != videoID) {
		s.mu.Unlock()
		s.log.Debug("discarding stale page", zap.String("video_id", videoID), zap.Int("page", page))
		return nil
	}
	if page == 1 {
		p := resp.Pagination
		s.cache.Reset(videoID, resp.Comments, &p)
	} else {
		s.cache.Append(resp.Comments, resp.Pagination)
	}
	total := s.cache.Len()
	s.mu.Unlock()

	s.log.Debug("comments loaded",
		zap.String("video_id", videoID),
		zap.Int("page", page),
		zap.Int("received", len(resp.Comments)),
		zap.Int("loaded", total))
	s.changed()
	return nil
}

// LoadMoreComments fetches the page after the cursor. It does nothing when
// no further page exists or while a first-page load is running.
func (s *Store) LoadMoreComments(ctx context.Context, videoID string) error {
	s.mu.Lock()
	p, ok := s.cache.Pagination()
	if !ok || !p.HasMore || s.loading > 0 || s.cache.VideoID() != videoID {
		s.mu.Unlock()
		return nil
	}
	epoch := s.epoch
	next := p.Page + 1
	s.loadingMore++
	s.clearErrLocked(OpLoadMore)
	s.mu.Unlock()

	s.log.Debug("loading more comments", zap.String("video_id", videoID), zap.Int("page", next))
	resp, err := s.remote.ListComments(ctx, videoID, next, s.pageSize)

	s.mu.Lock()
	s.loadingMore--
	if err != nil {
		if errors.Is(err, api.ErrCanceled) || epoch != s.epoch {
			s.mu.Unlock()
			return err
		}
		e := s.recordLocked(OpLoadMore, err)
		s.mu.Unlock()
		s.log.Warn("load more failed", zap.String("video_id", videoID), zap.Int("page", next), zap.Error(err))
		s.changed()
		return e
	}
	if epoch != s.epoch || s.cache.VideoID() != videoID {
		s.mu.Unlock()
		return nil
	}
	added := s.cache.Append(resp.Comments, resp.Pagination)
	s.mu.Unlock()

	s.log.Debug("appended page", zap.Int("page", next), zap.Int("added", added))
	s.changed()
	return nil
}

// RefreshComments reloads from page 1.
func (s *Store) RefreshComments(ctx context.Context, videoID string) error {
	return s.FetchComments(ctx, videoID, 1)
}

// AddComment posts a comment, or a reply when parentID is set, and inserts
// the server's copy. A reply whose parent is not loaded is not shown until
// the next refresh.
func (s *Store) AddComment(ctx context.Context, videoID, content string, timestamp *float64, parentID string) (*model.Comment, error) {
	s.mu.Lock()
	s.clearErrLocked(OpAdd)
	s.mu.Unlock()

	req := model.CreateCommentRequest{
		Content:   strings.TrimSpace(content),
		Timestamp: timestamp,
		ParentID:  parentID,
	}
	created, err := s.remote.CreateComment(ctx, videoID, req)
	if err == nil {
		err = s.checkComment(created)
	}
	if err != nil {
		return nil, s.fail(OpAdd, err)
	}

	cm := created.Clone()
	s.mu.Lock()
	inserted := false
	if s.cache.VideoID() == videoID {
		if parentID != "" {
			inserted = s.cache.InsertReply(parentID, cm)
		} else {
			inserted = s.cache.InsertTopLevel(cm)
		}
	}
	s.mu.Unlock()

	if parentID != "" && !inserted {
		s.log.Debug("reply not shown, parent not loaded",
			zap.String("comment_id", cm.ID), zap.String("parent_id", parentID))
	}
	s.changed()
	return &cm, nil
}

// UpdateComment edits a comment and replaces it in place with the server's
// copy.
func (s *Store) UpdateComment(ctx context.Context, commentID, content string) (*model.Comment, error) {
	return s.mutate(ctx, OpUpdate, commentID, func(ctx context.Context) (*model.Comment, error) {
		return s.remote.UpdateComment(ctx, commentID, strings.TrimSpace(content))
	})
}

// ToggleReaction toggles the caller's reaction and applies the reaction
// set the server returns.
func (s *Store) ToggleReaction(ctx context.Context, commentID string, t model.ReactionType) (*model.Comment, error) {
	return s.mutate(ctx, OpReaction, commentID, func(ctx context.Context) (*model.Comment, error) {
		return s.remote.ToggleReaction(ctx, commentID, t)
	})
}

// DeleteComment deletes a comment, top-level or reply.
func (s *Store) DeleteComment(ctx context.Context, commentID string) error {
	release, err := s.queue.acquire(ctx, commentID)
	if err != nil {
		return s.fail(OpDelete, err)
	}
	defer release()

	s.mu.Lock()
	s.clearErrLocked(OpDelete)
	s.mu.Unlock()

	if err := s.remote.DeleteComment(ctx, commentID); err != nil {
		return s.fail(OpDelete, err)
	}

	s.mu.Lock()
	s.cache.Remove(commentID)
	s.mu.Unlock()
	s.changed()
	return nil
}

func (s *Store) mutate(ctx context.Context, op Op, commentID string, call func(context.Context) (*model.Comment, error)) (*model.Comment, error) {
	release, err := s.queue.acquire(ctx, commentID)
	if err != nil {
		return nil, s.fail(op, err)
	}
	defer release()

	s.mu.Lock()
	s.clearErrLocked(op)
	s.mu.Unlock()

	updated, err := call(ctx)
	if err == nil {
		err = s.checkComment(updated)
	}
	if err != nil {
		return nil, s.fail(op, err)
	}

	cm := updated.Clone()
	s.mu.Lock()
	s.cache.Replace(cm)
	s.mu.Unlock()
	s.changed()
	return &cm, nil
}

// checkComment rejects server copies missing the fields the cache relies on.
func (s *Store) checkComment(cm *model.Comment) error {
	if cm == nil {
		return fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}
	if err := s.validate.Struct(cm); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func (s *Store) fail(op Op, err error) error {
	s.mu.Lock()
	e := s.recordLocked(op, err)
	s.mu.Unlock()
	s.log.Warn("comment operation failed", zap.String("op", string(op)), zap.Error(err))
	s.changed()
	return e
}

func (s *Store) recordLocked(op Op, err error) *Error {
	e := newError(op, err)
	s.err = e
	s.opErrs[op] = e
	return e
}

func (s *Store) clearErrLocked(op Op) {
	s.err = nil
	delete(s.opErrs, op)
}

// ClearError resets the latest error and every per-operation slot.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.err = nil
	clear(s.opErrs)
	s.mu.Unlock()
	s.changed()
}

// OnChange registers fn to run after every state change.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Store) changed() {
	s.mu.Lock()
	fns := s.onChange
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Comments returns a snapshot of the loaded comments in display order.
func (s *Store) Comments() []model.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Snapshot()
}

// Find returns a copy of a loaded comment or reply.
func (s *Store) Find(id string) (model.Comment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Find(id)
}

func (s *Store) VideoID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.VideoID()
}

func (s *Store) Pagination() (model.Pagination, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Pagination()
}

func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading > 0
}

func (s *Store) IsLoadingMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingMore > 0
}

// Err is the most recent error of any operation, or nil.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OpErr is the last error of op, or nil once op succeeds or is retried.
func (s *Store) OpErr(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opErrs[op]
}
