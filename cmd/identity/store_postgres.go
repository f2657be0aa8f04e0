package identity

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

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store never closes it.
// ReplaceRefreshTokens is a single conditional UPDATE on (id, version), so a
// rotation either commits the whole new list or nothing.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	users  string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the Postgres schema (default "postline").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgschema.ValidIdent(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pgschema.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	st.users = pgschema.Ident(st.schema, "users")
	return st, nil
}

var _ Store = (*PostgresStore)(nil)

const userColumns = `id, username, email, email_norm, password_hash, refresh_tokens, version, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.EmailNorm,
		&u.PasswordHash,
		&u.RefreshTokens,
		&u.Version,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	if u.RefreshTokens == nil {
		u.RefreshTokens = []string{}
	}
	return u, nil
}

func (s *PostgresStore) Create(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.Create"

	if err := validateCreate(op, in); err != nil {
		return User{}, err
	}
	now := nowOr(in.Now)

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.users+` (id, username, email, email_norm, password_hash, refresh_tokens, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, '{}', 1, $6, $6)
		 RETURNING `+userColumns,
		NewID(now),
		strings.TrimSpace(in.Username),
		strings.TrimSpace(in.Email),
		NormalizeEmail(in.Email),
		in.PasswordHash,
		now,
	)
	u, err := scanUser(row)
	if err != nil {
		if field, ok := classifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.users+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: "identity.FindByID", Resource: "user"}
	}
	return u, err
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.users+` WHERE email_norm = $1`, NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: "identity.FindByEmail", Resource: "user"}
	}
	return u, err
}

func (s *PostgresStore) List(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM `+s.users+` ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (User, error) {
	const op = "identity.UpdateProfile"

	if err := validateUpdate(op, upd); err != nil {
		return User{}, err
	}

	var email, emailNorm, username *string
	if upd.Email != nil {
		e := strings.TrimSpace(*upd.Email)
		n := NormalizeEmail(*upd.Email)
		email, emailNorm = &e, &n
	}
	if upd.Username != nil {
		n := strings.TrimSpace(*upd.Username)
		username = &n
	}

	u, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE `+s.users+`
		    SET username       = COALESCE($2, username),
		        email          = COALESCE($3, email),
		        email_norm     = COALESCE($4, email_norm),
		        password_hash  = COALESCE($5, password_hash),
		        refresh_tokens = CASE WHEN $5::text IS NULL THEN refresh_tokens ELSE '{}' END,
		        version        = version + 1,
		        updated_at     = $6
		  WHERE id = $1
		  RETURNING `+userColumns,
		id, username, email, emailNorm, upd.PasswordHash, nowOr(upd.Now),
	))
	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, pgx.ErrNoRows):
		return User{}, NotFoundError{Op: op, Resource: "user"}
	default:
		if field, ok := classifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
}

func (s *PostgresStore) RehashPassword(ctx context.Context, id, oldHash, newHash string, now time.Time) (User, error) {
	const op = "identity.RehashPassword"

	if newHash == "" {
		return User{}, invalid(op, "password hash is required")
	}

	u, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE `+s.users+`
		    SET password_hash = $3,
		        version       = version + 1,
		        updated_at    = $4
		  WHERE id = $1 AND password_hash = $2
		  RETURNING `+userColumns,
		id, oldHash, newHash, nowOr(now),
	))
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return User{}, err
	}
	return User{}, s.missOrConflict(ctx, op, id)
}

func (s *PostgresStore) ReplaceRefreshTokens(ctx context.Context, id string, expectedVersion int64, tokens []string, now time.Time) (User, error) {
	const op = "identity.ReplaceRefreshTokens"

	u, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE `+s.users+`
		    SET refresh_tokens = $3,
		        version        = version + 1,
		        updated_at     = $4
		  WHERE id = $1 AND version = $2
		  RETURNING `+userColumns,
		id, expectedVersion, dedupe(tokens), nowOr(now),
	))
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return User{}, err
	}

	return User{}, s.missOrConflict(ctx, op, id)
}

// missOrConflict explains a conditional UPDATE that touched zero rows:
// either the user is gone or the record moved on.
func (s *PostgresStore) missOrConflict(ctx context.Context, op, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.users+` WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return versionConflict(op)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.users+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: "identity.Delete", Resource: "user"}
	}
	return nil
}

func classifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}
	c := strings.ToLower(pgErr.ConstraintName)
	switch {
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}
