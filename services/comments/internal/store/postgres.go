package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/video-collab/pkg/commentsync/model"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Schema creates the tables the store needs. Reactions are keyed by
// (comment, user) so an author holds at most one per comment.
const Schema = `
CREATE TABLE IF NOT EXISTS comments (
	id            text PRIMARY KEY DEFAULT gen_random_uuid()::text,
	video_id      text NOT NULL,
	author_id     text NOT NULL,
	author_name   text NOT NULL DEFAULT '',
	author_email  text NOT NULL DEFAULT '',
	author_avatar text NOT NULL DEFAULT '',
	content       text NOT NULL,
	timestamp_sec double precision,
	parent_id     text REFERENCES comments(id) ON DELETE CASCADE,
	mentions      text[] NOT NULL DEFAULT '{}',
	is_edited     boolean NOT NULL DEFAULT false,
	edited_at     timestamptz,
	created_at    timestamptz NOT NULL DEFAULT now(),
	updated_at    timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS comments_video_roots_idx ON comments (video_id, created_at, id) WHERE parent_id IS NULL;
CREATE INDEX IF NOT EXISTS comments_parent_idx ON comments (parent_id, created_at);
CREATE TABLE IF NOT EXISTS comment_reactions (
	comment_id text NOT NULL REFERENCES comments(id) ON DELETE CASCADE,
	user_id    text NOT NULL,
	type       text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (comment_id, user_id)
);`

const commentColumns = `id, video_id, author_id, author_name, author_email, author_avatar,
	content, timestamp_sec, parent_id, mentions, is_edited, edited_at, created_at, updated_at`

// PostgresCommentStore persists comments in Postgres.
type PostgresCommentStore struct {
	db DB
}

// NewPostgresCommentStore creates a store backed by Postgres.
func NewPostgresCommentStore(db DB) *PostgresCommentStore {
	return &PostgresCommentStore{db: db}
}

// Migrate applies Schema. It is idempotent.
func (s *PostgresCommentStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate comments schema: %w", err)
	}
	return nil
}

func (s *PostgresCommentStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresCommentStore) Create(ctx context.Context, c model.Comment) (model.Comment, error) {
	if err := checkNew(c); err != nil {
		return model.Comment{}, err
	}
	var parentID *string
	if c.ParentID != "" {
		var videoID string
		var grandParent *string
		err := s.db.QueryRow(ctx, `SELECT video_id, parent_id FROM comments WHERE id = $1`, c.ParentID).
			Scan(&videoID, &grandParent)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Comment{}, ErrInvalidParent
		}
		if err != nil {
			return model.Comment{}, err
		}
		if videoID != c.VideoID || grandParent != nil {
			return model.Comment{}, ErrInvalidParent
		}
		parentID = &c.ParentID
	}

	q := `INSERT INTO comments (video_id, author_id, author_name, author_email, author_avatar,
	                            content, timestamp_sec, parent_id, mentions)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	      RETURNING ` + commentColumns
	out, err := scanComment(s.db.QueryRow(ctx, q,
		c.VideoID, c.Author.ID, c.Author.Name, c.Author.Email, c.Author.Avatar,
		c.Content, c.Timestamp, parentID, model.ExtractMentions(c.Content)))
	if err != nil {
		return model.Comment{}, err
	}
	out.Reactions = []model.Reaction{}
	if !out.IsReply() {
		out.Replies = []model.Comment{}
	}
	return out, nil
}

func (s *PostgresCommentStore) List(ctx context.Context, videoID string, page, limit int) ([]model.Comment, model.Pagination, error) {
	page, limit = normalizePage(page, limit)

	var total int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM comments WHERE video_id = $1 AND parent_id IS NULL`, videoID).Scan(&total)
	if err != nil {
		return nil, model.Pagination{}, err
	}
	p := model.NewPagination(page, limit, total)
	if p.Offset() >= total {
		return []model.Comment{}, p, nil
	}

	roots, err := s.queryComments(ctx,
		`SELECT `+commentColumns+`
		 FROM comments
		 WHERE video_id = $1 AND parent_id IS NULL
		 ORDER BY created_at ASC, id ASC
		 LIMIT $2 OFFSET $3`, videoID, limit, p.Offset())
	if err != nil {
		return nil, model.Pagination{}, err
	}
	if err := s.attach(ctx, roots); err != nil {
		return nil, model.Pagination{}, err
	}
	return roots, p, nil
}

func (s *PostgresCommentStore) Get(ctx context.Context, commentID string) (model.Comment, error) {
	c, err := scanComment(s.db.QueryRow(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = $1`, commentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Comment{}, ErrNotFound
	}
	if err != nil {
		return model.Comment{}, err
	}
	one := []model.Comment{c}
	if err := s.attach(ctx, one); err != nil {
		return model.Comment{}, err
	}
	return one[0], nil
}

func (s *PostgresCommentStore) Update(ctx context.Context, commentID, userID, content string) (model.Comment, error) {
	if err := s.checkOwner(ctx, commentID, userID); err != nil {
		return model.Comment{}, err
	}
	const q = `UPDATE comments
	           SET content = $1, mentions = $2, is_edited = true, edited_at = now(), updated_at = now()
	           WHERE id = $3`
	tag, err := s.db.Exec(ctx, q, content, model.ExtractMentions(content), commentID)
	if err != nil {
		return model.Comment{}, err
	}
	if tag.RowsAffected() == 0 {
		return model.Comment{}, ErrNotFound
	}
	return s.Get(ctx, commentID)
}

func (s *PostgresCommentStore) Delete(ctx context.Context, commentID, userID string) (model.Comment, error) {
	removed, err := s.Get(ctx, commentID)
	if err != nil {
		return model.Comment{}, err
	}
	if userID != "" && removed.Author.ID != userID {
		return model.Comment{}, ErrForbidden
	}
	// Replies and reactions go with the row (ON DELETE CASCADE).
	tag, err := s.db.Exec(ctx, `DELETE FROM comments WHERE id = $1`, commentID)
	if err != nil {
		return model.Comment{}, err
	}
	if tag.RowsAffected() == 0 {
		return model.Comment{}, ErrNotFound
	}
	return removed, nil
}

func (s *PostgresCommentStore) ToggleReaction(ctx context.Context, commentID, userID string, t model.ReactionType) (model.Comment, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.Comment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM comments WHERE id = $1)`, commentID).Scan(&exists)
	if err != nil {
		return model.Comment{}, err
	}
	if !exists {
		return model.Comment{}, ErrNotFound
	}

	var current string
	err = tx.QueryRow(ctx,
		`SELECT type FROM comment_reactions WHERE comment_id = $1 AND user_id = $2 FOR UPDATE`,
		commentID, userID).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx,
			`INSERT INTO comment_reactions (comment_id, user_id, type) VALUES ($1, $2, $3)`,
			commentID, userID, string(t))
	case err != nil:
		return model.Comment{}, err
	case current == string(t):
		_, err = tx.Exec(ctx,
			`DELETE FROM comment_reactions WHERE comment_id = $1 AND user_id = $2`,
			commentID, userID)
	default:
		_, err = tx.Exec(ctx,
			`UPDATE comment_reactions SET type = $1, created_at = now() WHERE comment_id = $2 AND user_id = $3`,
			string(t), commentID, userID)
	}
	if err != nil {
		return model.Comment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Comment{}, err
	}
	return s.Get(ctx, commentID)
}

func (s *PostgresCommentStore) checkOwner(ctx context.Context, commentID, userID string) error {
	var authorID string
	err := s.db.QueryRow(ctx, `SELECT author_id FROM comments WHERE id = $1`, commentID).Scan(&authorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if authorID != userID {
		return ErrForbidden
	}
	return nil
}

// attach loads replies for the top-level comments in cs and reactions for
// every comment involved.
func (s *PostgresCommentStore) attach(ctx context.Context, cs []model.Comment) error {
	var rootIDs []string
	for _, c := range cs {
		if !c.IsReply() {
			rootIDs = append(rootIDs, c.ID)
		}
	}

	var replies []model.Comment
	if len(rootIDs) > 0 {
		var err error
		replies, err = s.queryComments(ctx,
			`SELECT `+commentColumns+`
			 FROM comments
			 WHERE parent_id = ANY($1)
			 ORDER BY created_at ASC, id ASC`, rootIDs)
		if err != nil {
			return err
		}
	}

	ids := make([]string, 0, len(cs)+len(replies))
	for _, c := range cs {
		ids = append(ids, c.ID)
	}
	for _, r := range replies {
		ids = append(ids, r.ID)
	}
	reactions, err := s.queryReactions(ctx, ids)
	if err != nil {
		return err
	}

	byParent := make(map[string][]model.Comment, len(rootIDs))
	for _, r := range replies {
		r.Reactions = reactionsOf(reactions, r.ID)
		byParent[r.ParentID] = append(byParent[r.ParentID], r)
	}
	for i := range cs {
		cs[i].Reactions = reactionsOf(reactions, cs[i].ID)
		if !cs[i].IsReply() {
			cs[i].Replies = byParent[cs[i].ID]
			if cs[i].Replies == nil {
				cs[i].Replies = []model.Comment{}
			}
		}
	}
	return nil
}

func (s *PostgresCommentStore) queryReactions(ctx context.Context, ids []string) (map[string][]model.Reaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT comment_id, user_id, type FROM comment_reactions
		 WHERE comment_id = ANY($1)
		 ORDER BY created_at ASC`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]model.Reaction)
	for rows.Next() {
		var commentID, userID, typ string
		if err := rows.Scan(&commentID, &userID, &typ); err != nil {
			return nil, err
		}
		out[commentID] = append(out[commentID], model.Reaction{UserID: userID, Type: model.ReactionType(typ)})
	}
	return out, rows.Err()
}

func (s *PostgresCommentStore) queryComments(ctx context.Context, q string, args ...any) ([]model.Comment, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanComment(row pgx.Row) (model.Comment, error) {
	var (
		c        model.Comment
		a        model.Author
		parentID *string
		editedAt *time.Time
	)
	err := row.Scan(&c.ID, &c.VideoID, &a.ID, &a.Name, &a.Email, &a.Avatar,
		&c.Content, &c.Timestamp, &parentID, &c.Mentions, &c.IsEdited, &editedAt,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.Comment{}, err
	}
	c.Author = &a
	if parentID != nil {
		c.ParentID = *parentID
	}
	c.EditedAt = editedAt
	if c.Mentions == nil {
		c.Mentions = []string{}
	}
	return c, nil
}

func reactionsOf(m map[string][]model.Reaction, id string) []model.Reaction {
	if r := m[id]; r != nil {
		return r
	}
	return []model.Reaction{}
}
