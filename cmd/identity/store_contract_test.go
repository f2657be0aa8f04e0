package identity

import (
	"context"
	"sync"
	"testing"
	"time"
)

// storeContract exercises behavior every Store implementation must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("create and find", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		u, err := s.Create(ctx, CreateUserInput{Username: "alice", Email: " Alice@Example.com ", PasswordHash: "h"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if len(u.RefreshTokens) != 0 || u.Version != 1 {
			t.Fatalf("fresh user state mismatch: %+v", u)
		}
		if !ValidID(u.ID) {
			t.Fatalf("expected ULID id, got %q", u.ID)
		}

		byEmail, err := s.FindByEmail(ctx, "alice@example.COM")
		if err != nil {
			t.Fatalf("find by email: %v", err)
		}
		if byEmail.ID != u.ID || byEmail.Email != "Alice@Example.com" {
			t.Fatalf("find by email mismatch: %+v", byEmail)
		}

		byID, err := s.FindByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("find by id: %v", err)
		}
		if byID.PasswordHash != "h" {
			t.Fatalf("password hash mismatch")
		}
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if _, err := s.Create(ctx, CreateUserInput{Username: "a", Email: "dup@example.com", PasswordHash: "h"}); err != nil {
			t.Fatalf("create: %v", err)
		}
		_, err := s.Create(ctx, CreateUserInput{Username: "b", Email: "DUP@example.com", PasswordHash: "h"})
		if !IsConflict(err) {
			t.Fatalf("expected conflict, got %v", err)
		}
	})

	t.Run("missing fields are invalid input", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(context.Background(), CreateUserInput{Username: "a", Email: "  ", PasswordHash: "h"})
		if !IsInvalidInput(err) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		missing := NewID(time.Now())

		if _, err := s.FindByID(ctx, missing); !IsNotFound(err) {
			t.Fatalf("FindByID: expected not found, got %v", err)
		}
		if _, err := s.FindByEmail(ctx, "nobody@example.com"); !IsNotFound(err) {
			t.Fatalf("FindByEmail: expected not found, got %v", err)
		}
		if err := s.Delete(ctx, missing); !IsNotFound(err) {
			t.Fatalf("Delete: expected not found, got %v", err)
		}
		if _, err := s.ReplaceRefreshTokens(ctx, missing, 1, nil, time.Now()); !IsNotFound(err) {
			t.Fatalf("ReplaceRefreshTokens: expected not found, got %v", err)
		}
	})

	t.Run("replace refresh tokens is compare and swap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		u, err := s.Create(ctx, CreateUserInput{Username: "a", Email: "cas@example.com", PasswordHash: "h"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		u2, err := s.ReplaceRefreshTokens(ctx, u.ID, u.Version, []string{"t1", "t2", "t1"}, time.Now())
		if err != nil {
			t.Fatalf("replace: %v", err)
		}
		if u2.Version != u.Version+1 {
			t.Fatalf("version not bumped: %d", u2.Version)
		}
		if len(u2.RefreshTokens) != 2 || u2.RefreshTokens[0] != "t1" || u2.RefreshTokens[1] != "t2" {
			t.Fatalf("tokens mismatch: %v", u2.RefreshTokens)
		}

		// Stale version must lose.
		if _, err := s.ReplaceRefreshTokens(ctx, u.ID, u.Version, []string{"t3"}, time.Now()); !IsVersionConflict(err) {
			t.Fatalf("expected version conflict, got %v", err)
		}

		got, err := s.FindByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if !got.HasRefreshToken("t2") || got.HasRefreshToken("t3") {
			t.Fatalf("stale write leaked: %v", got.RefreshTokens)
		}
	})

	t.Run("concurrent writers on one version: exactly one wins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		u, err := s.Create(ctx, CreateUserInput{Username: "a", Email: "race@example.com", PasswordHash: "h"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		const n = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.ReplaceRefreshTokens(ctx, u.ID, u.Version, []string{string(rune('a' + i))}, time.Now())
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else if !IsVersionConflict(err) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
	})

	t.Run("password change clears refresh tokens", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		u, err := s.Create(ctx, CreateUserInput{Username: "a", Email: "pw@example.com", PasswordHash: "h1"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		u, err = s.ReplaceRefreshTokens(ctx, u.ID, u.Version, []string{"t1"}, time.Now())
		if err != nil {
			t.Fatalf("replace: %v", err)
		}

		name := "renamed"
		u2, err := s.UpdateProfile(ctx, u.ID, ProfileUpdate{Username: &name})
		if err != nil {
			t.Fatalf("rename: %v", err)
		}
		if u2.Username != "renamed" || !u2.HasRefreshToken("t1") {
			t.Fatalf("rename must keep tokens: %+v", u2)
		}

		hash := "h2"
		u3, err := s.UpdateProfile(ctx, u.ID, ProfileUpdate{PasswordHash: &hash})
		if err != nil {
			t.Fatalf("password: %v", err)
		}
		if u3.PasswordHash != "h2" || len(u3.RefreshTokens) != 0 {
			t.Fatalf("password change must clear tokens: %+v", u3)
		}
		if u3.Version <= u2.Version {
			t.Fatalf("version not bumped")
		}
	})

	t.Run("rehash keeps refresh tokens and checks the old hash", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		u, err := s.Create(ctx, CreateUserInput{Username: "a", Email: "rehash@example.com", PasswordHash: "legacy"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		u, err = s.ReplaceRefreshTokens(ctx, u.ID, u.Version, []string{"t1"}, time.Now())
		if err != nil {
			t.Fatalf("replace: %v", err)
		}

		got, err := s.RehashPassword(ctx, u.ID, "legacy", "modern", time.Now())
		if err != nil {
			t.Fatalf("rehash: %v", err)
		}
		if got.PasswordHash != "modern" || got.Version != u.Version+1 {
			t.Fatalf("rehash state mismatch: %+v", got)
		}
		if len(got.RefreshTokens) != 1 || got.RefreshTokens[0] != "t1" {
			t.Fatalf("rehash touched refresh tokens: %v", got.RefreshTokens)
		}

		if _, err := s.RehashPassword(ctx, u.ID, "legacy", "other", time.Now()); !IsVersionConflict(err) {
			t.Fatalf("stale old hash: expected version conflict, got %v", err)
		}
		if _, err := s.RehashPassword(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", "legacy", "modern", time.Now()); !IsNotFound(err) {
			t.Fatalf("missing user: expected not found, got %v", err)
		}
	})

	t.Run("email change respects uniqueness", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if _, err := s.Create(ctx, CreateUserInput{Username: "a", Email: "one@example.com", PasswordHash: "h"}); err != nil {
			t.Fatalf("create: %v", err)
		}
		b, err := s.Create(ctx, CreateUserInput{Username: "b", Email: "two@example.com", PasswordHash: "h"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		taken := "ONE@example.com"
		if _, err := s.UpdateProfile(ctx, b.ID, ProfileUpdate{Email: &taken}); !IsConflict(err) {
			t.Fatalf("expected conflict, got %v", err)
		}

		fresh := "three@example.com"
		if _, err := s.UpdateProfile(ctx, b.ID, ProfileUpdate{Email: &fresh}); err != nil {
			t.Fatalf("update email: %v", err)
		}
		if _, err := s.FindByEmail(ctx, "two@example.com"); !IsNotFound(err) {
			t.Fatalf("old email should be free, got %v", err)
		}
	})

	t.Run("list and delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		base := time.Now().UTC().Truncate(time.Millisecond)
		a, err := s.Create(ctx, CreateUserInput{Username: "a", Email: "a@example.com", PasswordHash: "h", Now: base})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		b, err := s.Create(ctx, CreateUserInput{Username: "b", Email: "b@example.com", PasswordHash: "h", Now: base.Add(time.Second)})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		all, err := s.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 2 || all[0].ID != a.ID || all[1].ID != b.ID {
			t.Fatalf("list order mismatch: %+v", all)
		}

		if err := s.Delete(ctx, a.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := s.FindByEmail(ctx, "a@example.com"); !IsNotFound(err) {
			t.Fatalf("deleted user still found: %v", err)
		}
	})
}
