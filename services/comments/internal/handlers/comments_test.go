package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/example/video-collab/internal/platform/auth"
	"github.com/example/video-collab/pkg/commentsync/model"
	"github.com/example/video-collab/services/comments/internal/events"
	"github.com/example/video-collab/services/comments/internal/store"
)

// setupReq builds a request with chi URL params and an optional identity in
// context.
func setupReq(method, url string, body string, params map[string]string, userID string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if userID != "" {
		ctx = auth.WithIdentity(ctx, auth.Identity{UserID: userID, Name: "Name " + userID, Email: userID + "@example.com"})
	}
	return req.WithContext(ctx)
}

// recorder captures every event published on the bus.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (rec *recorder) handle(_ context.Context, e events.Event) {
	rec.mu.Lock()
	rec.events = append(rec.events, e)
	rec.mu.Unlock()
}

func (rec *recorder) names() []string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]string, 0, len(rec.events))
	for _, e := range rec.events {
		out = append(out, e.Name)
	}
	return out
}

func (rec *recorder) last() events.Event {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.events[len(rec.events)-1]
}

func newDeps(t *testing.T) (Deps, *store.InMemoryCommentStore, *recorder) {
	t.Helper()
	cs := store.NewInMemoryCommentStore()
	bus := events.NewLocalBus()
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := bus.Subscribe(ctx, rec.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return Deps{Store: cs, Bus: bus}, cs, rec
}

func seed(t *testing.T, cs store.CommentStore, videoID, userID, content, parentID string) model.Comment {
	t.Helper()
	c, err := cs.Create(context.Background(), model.Comment{
		VideoID:  videoID,
		Author:   &model.Author{ID: userID},
		Content:  content,
		ParentID: parentID,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return c
}

func decodeComment(t *testing.T, rr *httptest.ResponseRecorder) model.Comment {
	t.Helper()
	var resp model.CommentResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Comment == nil {
		t.Fatal("expected comment in response")
	}
	return *resp.Comment
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()
	var body model.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestCreateComment(t *testing.T) {
	d, _, rec := newDeps(t)
	handler := CreateComment(d)

	req := setupReq(http.MethodPost, "/api/comments/vid-1", `{"content":"  nice cut @maria  ","timestamp":83.5}`,
		map[string]string{"videoId": "vid-1"}, "user-a")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	c := decodeComment(t, rr)
	if c.Content != "nice cut @maria" {
		t.Fatalf("expected trimmed content, got %q", c.Content)
	}
	if c.Author == nil || c.Author.ID != "user-a" || c.Author.Name != "Name user-a" {
		t.Fatalf("expected author from identity, got %+v", c.Author)
	}
	if c.Timestamp == nil || *c.Timestamp != 83.5 {
		t.Fatalf("expected timestamp 83.5, got %v", c.Timestamp)
	}
	if len(c.Mentions) != 1 || c.Mentions[0] != "maria" {
		t.Fatalf("expected mention maria, got %v", c.Mentions)
	}

	e := rec.last()
	if e.Name != model.EventCommentAdded || e.VideoID != "vid-1" {
		t.Fatalf("expected comment-added for vid-1, got %s/%s", e.Name, e.VideoID)
	}
}

func TestCreateComment_Unauthorized(t *testing.T) {
	d, _, rec := newDeps(t)
	req := setupReq(http.MethodPost, "/api/comments/vid-1", `{"content":"hello"}`,
		map[string]string{"videoId": "vid-1"}, "")
	rr := httptest.NewRecorder()
	CreateComment(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if len(rec.names()) != 0 {
		t.Fatal("expected no event")
	}
}

func TestCreateComment_EmptyContent(t *testing.T) {
	d, _, _ := newDeps(t)
	req := setupReq(http.MethodPost, "/api/comments/vid-1", `{"content":"   "}`,
		map[string]string{"videoId": "vid-1"}, "user-a")
	rr := httptest.NewRecorder()
	CreateComment(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	body := decodeError(t, rr)
	if body.Code != "VALIDATION_FAILED" || body.Message != "content is required" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestCreateComment_NegativeTimestamp(t *testing.T) {
	d, _, _ := newDeps(t)
	req := setupReq(http.MethodPost, "/api/comments/vid-1", `{"content":"hi","timestamp":-1}`,
		map[string]string{"videoId": "vid-1"}, "user-a")
	rr := httptest.NewRecorder()
	CreateComment(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreateComment_InvalidJSON(t *testing.T) {
	d, _, _ := newDeps(t)
	req := setupReq(http.MethodPost, "/api/comments/vid-1", `{"content":`,
		map[string]string{"videoId": "vid-1"}, "user-a")
	rr := httptest.NewRecorder()
	CreateComment(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body := decodeError(t, rr); body.Code != "INVALID_JSON" {
		t.Fatalf("expected INVALID_JSON, got %q", body.Code)
	}
}

func TestCreateComment_ReplyToReply(t *testing.T) {
	d, cs, _ := newDeps(t)
	root := seed(t, cs, "vid-1", "user-a", "root", "")
	reply := seed(t, cs, "vid-1", "user-b", "reply", root.ID)

	req := setupReq(http.MethodPost, "/api/comments/vid-1", `{"content":"nested","parentId":"`+reply.ID+`"}`,
		map[string]string{"videoId": "vid-1"}, "user-c")
	rr := httptest.NewRecorder()
	CreateComment(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body := decodeError(t, rr); body.Code != "INVALID_PARENT" {
		t.Fatalf("expected INVALID_PARENT, got %q", body.Code)
	}
}

func TestListComments(t *testing.T) {
	d, cs, _ := newDeps(t)
	first := seed(t, cs, "vid-1", "user-a", "one", "")
	seed(t, cs, "vid-1", "user-a", "two", "")
	third := seed(t, cs, "vid-1", "user-a", "three", "")
	seed(t, cs, "vid-1", "user-b", "reply", first.ID)
	seed(t, cs, "vid-2", "user-a", "elsewhere", "")

	req := setupReq(http.MethodGet, "/api/comments/vid-1?page=2&limit=2", "",
		map[string]string{"videoId": "vid-1"}, "")
	rr := httptest.NewRecorder()
	ListComments(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp model.ListResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Comments) != 1 || resp.Comments[0].ID != third.ID {
		t.Fatalf("expected third comment only, got %+v", resp.Comments)
	}
	p := resp.Pagination
	if p.Page != 2 || p.Limit != 2 || p.Total != 3 || p.Pages != 2 || p.HasMore {
		t.Fatalf("unexpected pagination %+v", p)
	}
}

func TestListComments_EmptyVideo(t *testing.T) {
	d, _, _ := newDeps(t)
	req := setupReq(http.MethodGet, "/api/comments/vid-9?page=abc", "",
		map[string]string{"videoId": "vid-9"}, "")
	rr := httptest.NewRecorder()
	ListComments(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte(`"comments":[]`)) {
		t.Fatalf("expected empty array, got %s", rr.Body.String())
	}
}

func TestUpdateComment(t *testing.T) {
	d, cs, rec := newDeps(t)
	c := seed(t, cs, "vid-1", "user-a", "draft", "")

	req := setupReq(http.MethodPut, "/api/comments/"+c.ID, `{"content":"final"}`,
		map[string]string{"commentId": c.ID}, "user-a")
	rr := httptest.NewRecorder()
	UpdateComment(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	got := decodeComment(t, rr)
	if got.Content != "final" || !got.IsEdited || got.EditedAt == nil {
		t.Fatalf("expected edited comment, got %+v", got)
	}
	if e := rec.last(); e.Name != model.EventCommentUpdated || e.VideoID != "vid-1" {
		t.Fatalf("expected comment-updated, got %s", e.Name)
	}
}

func TestUpdateComment_NotAuthor(t *testing.T) {
	d, cs, rec := newDeps(t)
	c := seed(t, cs, "vid-1", "user-a", "mine", "")

	req := setupReq(http.MethodPut, "/api/comments/"+c.ID, `{"content":"hijack"}`,
		map[string]string{"commentId": c.ID}, "user-b")
	rr := httptest.NewRecorder()
	UpdateComment(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if body := decodeError(t, rr); body.Message != "Not authorized" {
		t.Fatalf("expected 'Not authorized', got %q", body.Message)
	}
	if len(rec.names()) != 0 {
		t.Fatal("expected no event")
	}
}

func TestDeleteComment(t *testing.T) {
	d, cs, rec := newDeps(t)
	c := seed(t, cs, "vid-1", "user-a", "bye", "")

	req := setupReq(http.MethodDelete, "/api/comments/"+c.ID, "",
		map[string]string{"commentId": c.ID}, "user-a")
	rr := httptest.NewRecorder()
	DeleteComment(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	e := rec.last()
	if e.Name != model.EventCommentDeleted {
		t.Fatalf("expected comment-deleted, got %s", e.Name)
	}
	var id string
	if err := json.Unmarshal(e.Data, &id); err != nil || id != c.ID {
		t.Fatalf("expected payload %q, got %s", c.ID, e.Data)
	}
	if _, err := cs.Get(context.Background(), c.ID); err != store.ErrNotFound {
		t.Fatalf("expected comment gone, got %v", err)
	}
}

func TestDeleteComment_NotFound(t *testing.T) {
	d, _, _ := newDeps(t)
	req := setupReq(http.MethodDelete, "/api/comments/missing", "",
		map[string]string{"commentId": "missing"}, "user-a")
	rr := httptest.NewRecorder()
	DeleteComment(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestModerateComment(t *testing.T) {
	d, cs, rec := newDeps(t)
	c := seed(t, cs, "vid-1", "user-a", "spam", "")

	req := setupReq(http.MethodDelete, "/api/moderation/comments/"+c.ID, "",
		map[string]string{"commentId": c.ID}, "mod-1")
	rr := httptest.NewRecorder()
	ModerateComment(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if e := rec.last(); e.Name != model.EventCommentDeleted {
		t.Fatalf("expected comment-deleted, got %s", e.Name)
	}
}

func TestToggleReaction(t *testing.T) {
	d, cs, rec := newDeps(t)
	c := seed(t, cs, "vid-1", "user-a", "funny", "")

	req := setupReq(http.MethodPost, "/api/comments/"+c.ID+"/reaction", `{"type":"laugh"}`,
		map[string]string{"commentId": c.ID}, "user-b")
	rr := httptest.NewRecorder()
	ToggleReaction(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	got := decodeComment(t, rr)
	if rt, ok := got.ReactionOf("user-b"); !ok || rt != model.ReactionLaugh {
		t.Fatalf("expected laugh from user-b, got %+v", got.Reactions)
	}

	names := rec.names()
	if len(names) != 2 || names[0] != model.EventReactionUpdated || names[1] != model.EventCommentUpdated {
		t.Fatalf("expected reaction-updated then comment-updated, got %v", names)
	}
	var ru model.ReactionUpdate
	rec.mu.Lock()
	_ = json.Unmarshal(rec.events[0].Data, &ru)
	rec.mu.Unlock()
	if ru.CommentID != c.ID || ru.VideoID != "vid-1" || len(ru.Reactions) != 1 {
		t.Fatalf("unexpected reaction payload %+v", ru)
	}
}

func TestToggleReaction_InvalidType(t *testing.T) {
	d, cs, _ := newDeps(t)
	c := seed(t, cs, "vid-1", "user-a", "hmm", "")

	req := setupReq(http.MethodPost, "/api/comments/"+c.ID+"/reaction", `{"type":"angry"}`,
		map[string]string{"commentId": c.ID}, "user-b")
	rr := httptest.NewRecorder()
	ToggleReaction(d).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body := decodeError(t, rr); body.Message != "type must be one of: like dislike heart laugh" {
		t.Fatalf("unexpected message %q", body.Message)
	}
}

func TestMutationWithoutBus(t *testing.T) {
	cs := store.NewInMemoryCommentStore()
	req := setupReq(http.MethodPost, "/api/comments/vid-1", `{"content":"quiet"}`,
		map[string]string{"videoId": "vid-1"}, "user-a")
	rr := httptest.NewRecorder()
	CreateComment(Deps{Store: cs}).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
}
