package identity

import (
	"context"
	"slices"
	"time"
)

// User is the persisted account record.
// PasswordHash and RefreshTokens never leave the server.
type User struct {
	ID        string
	Username  string
	Email     string
	EmailNorm string

	PasswordHash string

	// RefreshTokens holds fingerprints of the currently valid refresh tokens,
	// oldest first, without duplicates.
	RefreshTokens []string

	// Version increases with every write and guards ReplaceRefreshTokens.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRefreshToken reports whether fingerprint is in the valid set.
func (u User) HasRefreshToken(fingerprint string) bool {
	return slices.Contains(u.RefreshTokens, fingerprint)
}

func (u User) clone() User {
	u.RefreshTokens = slices.Clone(u.RefreshTokens)
	if u.RefreshTokens == nil {
		u.RefreshTokens = []string{}
	}
	return u
}

// CreateUserInput describes a new account. PasswordHash is already hashed.
type CreateUserInput struct {
	Username     string
	Email        string
	PasswordHash string
	Now          time.Time
}

// ProfileUpdate lists the fields to change; nil means unchanged.
// Setting PasswordHash also clears RefreshTokens in the same write.
type ProfileUpdate struct {
	Username     *string
	Email        *string
	PasswordHash *string
	Now          time.Time
}

// Store is the credential persistence boundary.
type Store interface {
	// Create inserts a user with an empty refresh token list.
	// Returns ConflictError{Field: "email"} when the normalized email exists.
	Create(ctx context.Context, in CreateUserInput) (User, error)

	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context) ([]User, error)

	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (User, error)

	// RehashPassword swaps oldHash for newHash without touching the refresh
	// token list. It fails with ErrVersionConflict when the stored hash is no
	// longer oldHash.
	RehashPassword(ctx context.Context, id, oldHash, newHash string, now time.Time) (User, error)

	// ReplaceRefreshTokens overwrites the refresh token list if the stored
	// version still equals expectedVersion, and returns the new record.
	// A lost race returns an error matching ErrVersionConflict.
	ReplaceRefreshTokens(ctx context.Context, id string, expectedVersion int64, tokens []string, now time.Time) (User, error)

	Delete(ctx context.Context, id string) error
}

func dedupe(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
