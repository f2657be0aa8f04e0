package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.Create"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if err := validateCreate(op, in); err != nil {
		return User{}, err
	}

	now := nowOr(in.Now)
	u := User{
		ID:            NewID(now),
		Username:      strings.TrimSpace(in.Username),
		Email:         strings.TrimSpace(in.Email),
		EmailNorm:     NormalizeEmail(in.Email),
		PasswordHash:  in.PasswordHash,
		RefreshTokens: []string{},
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[u.EmailNorm]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}
	s.byID[u.ID] = u
	s.byEmail[u.EmailNorm] = u.ID

	return u.clone(), nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: "identity.FindByID", Resource: "user"}
	}
	return u.clone(), nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, NotFoundError{Op: "identity.FindByEmail", Resource: "user"}
	}
	return s.byID[id].clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u.clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (User, error) {
	const op = "identity.UpdateProfile"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if err := validateUpdate(op, upd); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}

	if upd.Email != nil {
		norm := NormalizeEmail(*upd.Email)
		if owner, taken := s.byEmail[norm]; taken && owner != id {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
		delete(s.byEmail, u.EmailNorm)
		u.Email = strings.TrimSpace(*upd.Email)
		u.EmailNorm = norm
		s.byEmail[norm] = id
	}
	if upd.Username != nil {
		u.Username = strings.TrimSpace(*upd.Username)
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
		u.RefreshTokens = []string{}
	}

	u.Version++
	u.UpdatedAt = nowOr(upd.Now)
	s.byID[id] = u

	return u.clone(), nil
}

func (s *MemoryStore) RehashPassword(ctx context.Context, id, oldHash, newHash string, now time.Time) (User, error) {
	const op = "identity.RehashPassword"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if newHash == "" {
		return User{}, invalid(op, "password hash is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if u.PasswordHash != oldHash {
		return User{}, versionConflict(op)
	}

	u.PasswordHash = newHash
	u.Version++
	u.UpdatedAt = nowOr(now)
	s.byID[id] = u

	return u.clone(), nil
}

func (s *MemoryStore) ReplaceRefreshTokens(ctx context.Context, id string, expectedVersion int64, tokens []string, now time.Time) (User, error) {
	const op = "identity.ReplaceRefreshTokens"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if u.Version != expectedVersion {
		return User{}, versionConflict(op)
	}

	u.RefreshTokens = dedupe(tokens)
	u.Version++
	u.UpdatedAt = nowOr(now)
	s.byID[id] = u

	return u.clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return NotFoundError{Op: "identity.Delete", Resource: "user"}
	}
	delete(s.byEmail, u.EmailNorm)
	delete(s.byID, id)
	return nil
}

func validateCreate(op string, in CreateUserInput) error {
	switch {
	case strings.TrimSpace(in.Username) == "":
		return invalid(op, "username is required")
	case NormalizeEmail(in.Email) == "":
		return invalid(op, "email is required")
	case in.PasswordHash == "":
		return invalid(op, "password hash is required")
	}
	return nil
}

func validateUpdate(op string, upd ProfileUpdate) error {
	if upd.Username != nil && strings.TrimSpace(*upd.Username) == "" {
		return invalid(op, "username must not be blank")
	}
	if upd.Email != nil && NormalizeEmail(*upd.Email) == "" {
		return invalid(op, "email must not be blank")
	}
	if upd.PasswordHash != nil && *upd.PasswordHash == "" {
		return invalid(op, "password hash must not be blank")
	}
	return nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
