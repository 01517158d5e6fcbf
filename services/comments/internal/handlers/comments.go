package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/example/video-collab/internal/platform/analytics"
	"github.com/example/video-collab/internal/platform/api"
	"github.com/example/video-collab/internal/platform/auth"
	"github.com/example/video-collab/internal/platform/httpserver"
	"github.com/example/video-collab/pkg/commentsync/model"
	"github.com/example/video-collab/services/comments/internal/events"
	"github.com/example/video-collab/services/comments/internal/store"
)

const maxBodyBytes = 1 << 20

// Deps are shared by every comment handler. Bus and Analytics may be nil.
type Deps struct {
	Store     store.CommentStore
	Bus       events.Bus
	Analytics *analytics.Publisher
	Log       *zap.Logger
	Validate  *validator.Validate
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Validate == nil {
		d.Validate = NewValidator()
	}
	return d
}

// NewValidator reports field errors under their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type messageResponse struct {
	Message string `json:"message"`
}

// ListComments handles GET /api/comments/{videoId}
func ListComments(d Deps) http.HandlerFunc {
	d = d.withDefaults()
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		videoID := strings.TrimSpace(chi.URLParam(r, "videoId"))
		if videoID == "" {
			api.BadRequest(w, "MISSING_ID", "videoId is required", rid, nil)
			return
		}

		page := queryInt(r, "page", 1)
		limit := queryInt(r, "limit", model.DefaultPageSize)

		comments, p, err := d.Store.List(r.Context(), videoID, page, limit)
		if err != nil {
			d.Log.Error("list comments", zap.String("video_id", videoID), zap.Error(err))
			api.Internal(w, rid)
			return
		}
		if comments == nil {
			comments = []model.Comment{}
		}
		api.WriteJSON(w, http.StatusOK, model.ListResponse{Comments: comments, Pagination: p})
	}
}

// CreateComment handles POST /api/comments/{videoId}
func CreateComment(d Deps) http.HandlerFunc {
	d = d.withDefaults()
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		id, ok := identity(w, r)
		if !ok {
			return
		}
		videoID := strings.TrimSpace(chi.URLParam(r, "videoId"))
		if videoID == "" {
			api.BadRequest(w, "MISSING_ID", "videoId is required", rid, nil)
			return
		}

		var req model.CreateCommentRequest
		if !decode(w, r, &req) {
			return
		}
		req.Content = strings.TrimSpace(req.Content)
		req.ParentID = strings.TrimSpace(req.ParentID)
		if !d.valid(w, rid, req) {
			return
		}

		created, err := d.Store.Create(r.Context(), model.Comment{
			VideoID:   videoID,
			Author:    &model.Author{ID: id.UserID, Name: id.Name, Email: id.Email},
			Content:   req.Content,
			Timestamp: req.Timestamp,
			ParentID:  req.ParentID,
		})
		if err != nil {
			d.storeError(w, rid, err)
			return
		}

		d.publish(r.Context(), model.EventCommentAdded, videoID, created)
		d.Analytics.Publish(analytics.SubjectCommentPosted, "comment_posted", id.UserID, videoID, map[string]any{
			"comment_id": created.ID,
			"is_reply":   created.IsReply(),
			"mentions":   len(created.Mentions),
		})
		api.WriteJSON(w, http.StatusCreated, model.CommentResponse{Comment: &created})
	}
}

// UpdateComment handles PUT /api/comments/{commentId}
func UpdateComment(d Deps) http.HandlerFunc {
	d = d.withDefaults()
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		id, ok := identity(w, r)
		if !ok {
			return
		}
		commentID, ok := commentParam(w, r)
		if !ok {
			return
		}

		var req model.UpdateCommentRequest
		if !decode(w, r, &req) {
			return
		}
		req.Content = strings.TrimSpace(req.Content)
		if !d.valid(w, rid, req) {
			return
		}

		updated, err := d.Store.Update(r.Context(), commentID, id.UserID, req.Content)
		if err != nil {
			d.storeError(w, rid, err)
			return
		}

		d.publish(r.Context(), model.EventCommentUpdated, updated.VideoID, updated)
		d.Analytics.Publish(analytics.SubjectCommentEdited, "comment_edited", id.UserID, updated.VideoID, map[string]any{
			"comment_id": updated.ID,
		})
		api.WriteJSON(w, http.StatusOK, model.CommentResponse{Comment: &updated})
	}
}

// DeleteComment handles DELETE /api/comments/{commentId}
func DeleteComment(d Deps) http.HandlerFunc {
	return deleteComment(d.withDefaults(), false)
}

// ModerateComment handles DELETE /api/moderation/comments/{commentId}. It
// skips the author check and must sit behind auth.RequireModerator.
func ModerateComment(d Deps) http.HandlerFunc {
	return deleteComment(d.withDefaults(), true)
}

func deleteComment(d Deps, moderated bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		id, ok := identity(w, r)
		if !ok {
			return
		}
		commentID, ok := commentParam(w, r)
		if !ok {
			return
		}

		owner := id.UserID
		if moderated {
			owner = ""
		}
		removed, err := d.Store.Delete(r.Context(), commentID, owner)
		if err != nil {
			d.storeError(w, rid, err)
			return
		}

		d.publish(r.Context(), model.EventCommentDeleted, removed.VideoID, removed.ID)
		d.Analytics.Publish(analytics.SubjectCommentDeleted, "comment_deleted", id.UserID, removed.VideoID, map[string]any{
			"comment_id": removed.ID,
			"replies":    len(removed.Replies),
			"moderated":  moderated,
		})
		api.WriteJSON(w, http.StatusOK, messageResponse{Message: "Comment deleted successfully"})
	}
}

// ToggleReaction handles POST /api/comments/{commentId}/reaction
func ToggleReaction(d Deps) http.HandlerFunc {
	d = d.withDefaults()
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		id, ok := identity(w, r)
		if !ok {
			return
		}
		commentID, ok := commentParam(w, r)
		if !ok {
			return
		}

		var req model.ReactionRequest
		if !decode(w, r, &req) {
			return
		}
		if !d.valid(w, rid, req) {
			return
		}

		updated, err := d.Store.ToggleReaction(r.Context(), commentID, id.UserID, req.Type)
		if err != nil {
			d.storeError(w, rid, err)
			return
		}

		d.publish(r.Context(), model.EventReactionUpdated, updated.VideoID, model.ReactionUpdate{
			CommentID: updated.ID,
			VideoID:   updated.VideoID,
			Reactions: updated.Reactions,
		})
		d.publish(r.Context(), model.EventCommentUpdated, updated.VideoID, updated)
		current, _ := updated.ReactionOf(id.UserID)
		d.Analytics.Publish(analytics.SubjectCommentReacted, "comment_reacted", id.UserID, updated.VideoID, map[string]any{
			"comment_id": updated.ID,
			"type":       string(req.Type),
			"active":     current == req.Type,
		})
		api.WriteJSON(w, http.StatusOK, model.CommentResponse{Comment: &updated})
	}
}

func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok || id.UserID == "" {
		api.Unauthorized(w, "UNAUTHORIZED", "Authentication required", httpserver.RequestIDFromContext(r.Context()))
		return auth.Identity{}, false
	}
	return id, true
}

func commentParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	commentID := strings.TrimSpace(chi.URLParam(r, "commentId"))
	if commentID == "" {
		api.BadRequest(w, "MISSING_ID", "commentId is required", httpserver.RequestIDFromContext(r.Context()), nil)
		return "", false
	}
	return commentID, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", httpserver.RequestIDFromContext(r.Context()), nil)
		return false
	}
	return true
}

func (d Deps) valid(w http.ResponseWriter, rid string, v any) bool {
	err := d.Validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		api.BadRequest(w, "VALIDATION_FAILED", err.Error(), rid, nil)
		return false
	}
	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	api.BadRequest(w, "VALIDATION_FAILED", validationMessage(verrs[0]), rid, details)
	return false
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}

func (d Deps) storeError(w http.ResponseWriter, rid string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", "Comment not found", rid)
	case errors.Is(err, store.ErrForbidden):
		api.Forbidden(w, "FORBIDDEN", "Not authorized", rid)
	case errors.Is(err, store.ErrInvalidParent):
		api.BadRequest(w, "INVALID_PARENT", "Replies must target a top-level comment of the same video", rid, nil)
	default:
		d.Log.Error("comment store", zap.Error(err))
		api.Internal(w, rid)
	}
}

// publish fans an event out to the video's room. Failures are logged; the
// write has already been committed.
func (d Deps) publish(ctx context.Context, name, videoID string, data any) {
	if d.Bus == nil {
		return
	}
	e, err := events.New(name, videoID, data)
	if err == nil {
		err = d.Bus.Publish(context.WithoutCancel(ctx), e)
	}
	if err != nil {
		d.Log.Warn("publish room event",
			zap.String("event", name),
			zap.String("video_id", videoID),
			zap.Error(err))
	}
}
