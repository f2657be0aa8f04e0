package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"postline/cmd/internal/pgschema"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL. The pool is owned by the
// caller.
type PostgresStore struct {
	pool     *pgxpool.Pool
	posts    string
	comments string
}

// NewPostgresStore constructs a PostgresStore in schema ("" means the
// default schema).
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("content: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = pgschema.DefaultSchema
	}
	if !pgschema.ValidIdent(schema) {
		return nil, fmt.Errorf("content: invalid schema identifier")
	}
	return &PostgresStore{
		pool:     pool,
		posts:    pgschema.Ident(schema, "posts"),
		comments: pgschema.Ident(schema, "comments"),
	}, nil
}

var _ Store = (*PostgresStore)(nil)

const (
	postColumns    = `id, title, body, sender, created_at, updated_at`
	commentColumns = `id, post_id, body, sender, created_at, updated_at`
)

func scanPost(row pgx.Row) (Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.Title, &p.Body, &p.Sender, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanComment(row pgx.Row) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.PostID, &c.Body, &c.Sender, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *PostgresStore) CreatePost(ctx context.Context, p Post) (Post, error) {
	if err := validatePost("content.CreatePost", p); err != nil {
		return Post{}, err
	}
	now := nowOr(p.CreatedAt)

	return scanPost(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.posts+` (id, title, body, sender, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 RETURNING `+postColumns,
		NewID(now), strings.TrimSpace(p.Title), p.Body, p.Sender, now,
	))
}

func (s *PostgresStore) GetPost(ctx context.Context, id string) (Post, error) {
	p, err := scanPost(s.pool.QueryRow(ctx,
		`SELECT `+postColumns+` FROM `+s.posts+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Post{}, notFound("content.GetPost", "post")
	}
	return p, err
}

func (s *PostgresStore) ListPosts(ctx context.Context, sender string) ([]Post, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if sender == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+postColumns+` FROM `+s.posts+` ORDER BY created_at DESC, id DESC`)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+postColumns+` FROM `+s.posts+` WHERE sender = $1 ORDER BY created_at DESC, id DESC`, sender)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdatePost(ctx context.Context, id string, upd PostUpdate) (Post, error) {
	const op = "content.UpdatePost"

	var title *string
	if upd.Title != nil {
		t := strings.TrimSpace(*upd.Title)
		if t == "" {
			return Post{}, invalid(op, "title must not be blank")
		}
		title = &t
	}

	p, err := scanPost(s.pool.QueryRow(ctx,
		`UPDATE `+s.posts+`
		    SET title      = COALESCE($2, title),
		        body       = COALESCE($3, body),
		        updated_at = $4
		  WHERE id = $1
		  RETURNING `+postColumns,
		id, title, upd.Body, nowOr(upd.Now),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Post{}, notFound(op, "post")
	}
	return p, err
}

func (s *PostgresStore) CreateComment(ctx context.Context, c Comment) (Comment, error) {
	const op = "content.CreateComment"

	if err := validateComment(op, c); err != nil {
		return Comment{}, err
	}
	now := nowOr(c.CreatedAt)

	out, err := scanComment(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.comments+` (id, post_id, body, sender, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 RETURNING `+commentColumns,
		NewID(now), c.PostID, c.Body, c.Sender, now,
	))
	if isForeignKeyViolation(err) {
		return Comment{}, notFound(op, "post")
	}
	return out, err
}

func (s *PostgresStore) GetComment(ctx context.Context, id string) (Comment, error) {
	c, err := scanComment(s.pool.QueryRow(ctx,
		`SELECT `+commentColumns+` FROM `+s.comments+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Comment{}, notFound("content.GetComment", "comment")
	}
	return c, err
}

func (s *PostgresStore) ListComments(ctx context.Context, postID string) ([]Comment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+commentColumns+` FROM `+s.comments+` WHERE post_id = $1 ORDER BY created_at DESC, id DESC`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Comment, 0)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateComment(ctx context.Context, id, body string, now time.Time) (Comment, error) {
	const op = "content.UpdateComment"

	if strings.TrimSpace(body) == "" {
		return Comment{}, invalid(op, "body is required")
	}
	c, err := scanComment(s.pool.QueryRow(ctx,
		`UPDATE `+s.comments+` SET body = $2, updated_at = $3 WHERE id = $1 RETURNING `+commentColumns,
		id, body, nowOr(now),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Comment{}, notFound(op, "comment")
	}
	return c, err
}

func (s *PostgresStore) DeleteComment(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.comments+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("content.DeleteComment", "comment")
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
