// Package api is the REST client for the comments service.
//
// Every call runs under a per-request timeout that resolves to ErrTimeout.
// Calls carrying an abort key (operation + entity id) cancel any earlier
// call still in flight for the same key; the superseded call resolves to
// ErrCanceled.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/example/video-collab/pkg/commentsync/model"
)

// DefaultTimeout bounds every request that does not set its own.
const DefaultTimeout = 15 * time.Second

var (
	// ErrTimeout is returned when a request exceeds its timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrCanceled is returned when a newer request with the same abort key
	// replaced this one, or when Abort was called for its key.
	ErrCanceled = errors.New("request canceled")
)

// Error is a non-2xx response. Message is the server's "message" field and
// may be empty.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("HTTP error! status: %d", e.Status)
}

// Options configures a Client.
type Options struct {
	// BaseURL is the API root, e.g. http://localhost:5000/api.
	BaseURL string
	// Token is sent as a Bearer credential when set.
	Token string
	// Cookies are attached to every request (cookie-based sessions).
	Cookies []*http.Cookie
	// Timeout per request (default 15s).
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the comments REST API.
type Client struct {
	rc      *resty.Client
	timeout time.Duration
	log     *zap.Logger

	mu       sync.Mutex
	seq      uint64
	inflight map[string]inflightRequest
}

type inflightRequest struct {
	id     uint64
	cancel context.CancelCauseFunc
}

// New builds a Client from opts.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "video-collab-commentsync/1.0")
	if opts.Token != "" {
		rc.SetAuthToken(opts.Token)
	}
	if len(opts.Cookies) > 0 {
		rc.SetCookies(opts.Cookies)
	}

	return &Client{
		rc:       rc,
		timeout:  opts.Timeout,
		log:      opts.Logger.With(zap.String("component", "commentsync_api")),
		inflight: make(map[string]inflightRequest),
	}
}

// Abort keys.
const (
	OpList     = "list"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpReaction = "reaction"
)

// Key builds the abort key for an operation on an entity.
func Key(op, id string) string {
	return op + ":" + id
}

// Abort cancels the in-flight request registered under key, if any.
func (c *Client) Abort(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.inflight[key]; ok {
		cur.cancel(ErrCanceled)
		delete(c.inflight, key)
	}
}

// ListComments fetches one page of top-level comments with replies attached.
func (c *Client) ListComments(ctx context.Context, videoID string, page, limit int) (*model.ListResponse, error) {
	if strings.TrimSpace(videoID) == "" {
		return nil, errors.New("videoID is required")
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = model.DefaultPageSize
	}

	var out model.ListResponse
	err := c.do(ctx, Key(OpList, videoID), func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParams(map[string]string{
			"page":  strconv.Itoa(page),
			"limit": strconv.Itoa(limit),
		}).SetResult(&out).Get("/comments/" + url.PathEscape(videoID))
	})
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	if out.Comments == nil {
		out.Comments = []model.Comment{}
	}
	return &out, nil
}

// CreateComment posts a new comment or reply. Creations are never
// superseded by one another.
func (c *Client) CreateComment(ctx context.Context, videoID string, req model.CreateCommentRequest) (*model.Comment, error) {
	if strings.TrimSpace(videoID) == "" {
		return nil, errors.New("videoID is required")
	}
	var out model.CommentResponse
	err := c.do(ctx, "", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(req).SetResult(&out).Post("/comments/" + url.PathEscape(videoID))
	})
	if err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return out.Comment, nil
}

// UpdateComment edits the content of a comment.
func (c *Client) UpdateComment(ctx context.Context, commentID, content string) (*model.Comment, error) {
	var out model.CommentResponse
	err := c.do(ctx, Key(OpUpdate, commentID), func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(model.UpdateCommentRequest{Content: content}).
			SetResult(&out).
			Put("/comments/" + url.PathEscape(commentID))
	})
	if err != nil {
		return nil, fmt.Errorf("update comment: %w", err)
	}
	return out.Comment, nil
}

// DeleteComment removes a comment and, for top-level comments, its replies.
func (c *Client) DeleteComment(ctx context.Context, commentID string) error {
	err := c.do(ctx, Key(OpDelete, commentID), func(r *resty.Request) (*resty.Response, error) {
		return r.Delete("/comments/" + url.PathEscape(commentID))
	})
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// ToggleReaction toggles the caller's reaction and returns the comment as
// the server now stores it.
func (c *Client) ToggleReaction(ctx context.Context, commentID string, t model.ReactionType) (*model.Comment, error) {
	var out model.CommentResponse
	err := c.do(ctx, Key(OpReaction, commentID), func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(model.ReactionRequest{Type: t}).
			SetResult(&out).
			Post("/comments/" + url.PathEscape(commentID) + "/reaction")
	})
	if err != nil {
		return nil, fmt.Errorf("toggle reaction: %w", err)
	}
	return out.Comment, nil
}

func (c *Client) do(parent context.Context, key string, send func(*resty.Request) (*resty.Response, error)) error {
	ctx, done := c.begin(parent, key)
	defer done()

	var errBody model.ErrorResponse
	req := c.rc.R().
		SetContext(ctx).
		SetError(&errBody).
		ForceContentType("application/json")

	start := time.Now()
	resp, err := send(req)
	if err != nil {
		if ctx.Err() != nil {
			cause := context.Cause(ctx)
			c.log.Debug("request aborted", zap.String("key", key), zap.Error(cause))
			return cause
		}
		c.log.Warn("request failed", zap.String("key", key), zap.Error(err))
		return err
	}

	c.log.Debug("request done",
		zap.String("method", resp.Request.Method),
		zap.String("url", resp.Request.URL),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("took", time.Since(start)))

	if resp.IsError() || resp.StatusCode() >= http.StatusMultipleChoices {
		return &Error{Status: resp.StatusCode(), Code: errBody.Code, Message: errBody.Message}
	}
	return nil
}

// begin derives the request context: a timeout, plus a cancel registered
// under key so a later request for the same key can supersede it.
func (c *Client) begin(parent context.Context, key string) (context.Context, func()) {
	tctx, cancelTimeout := context.WithTimeoutCause(parent, c.timeout, ErrTimeout)
	ctx, cancel := context.WithCancelCause(tctx)
	if key == "" {
		return ctx, func() {
			cancel(nil)
			cancelTimeout()
		}
	}

	c.mu.Lock()
	if prev, ok := c.inflight[key]; ok {
		prev.cancel(ErrCanceled)
	}
	c.seq++
	id := c.seq
	c.inflight[key] = inflightRequest{id: id, cancel: cancel}
	c.mu.Unlock()

	return ctx, func() {
		c.mu.Lock()
		if cur, ok := c.inflight[key]; ok && cur.id == id {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
		cancel(nil)
		cancelTimeout()
	}
}
