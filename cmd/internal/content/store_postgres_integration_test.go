package content

import (
	"testing"

	"postline/cmd/internal/pgtest"
)

// Integration tests are opt-in and require POSTLINE_DATABASE_URL.

func TestPostgresStore_Contract(t *testing.T) {
	pool := pgtest.Pool(t)

	storeContract(t, func(t *testing.T) Store {
		s, err := NewPostgresStore(pool, pgtest.Schema(t, pool))
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		return s
	})
}

func TestNewPostgresStore_Rejects(t *testing.T) {
	if _, err := NewPostgresStore(nil, ""); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}
