// Package pgschema owns the PostgreSQL schema shared by the identity and
// content stores, and the identifier helpers both use.
package pgschema

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultSchema is used when no schema is configured.
const DefaultSchema = "postline"

//go:embed schema.sql
var schemaSQL string

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ValidIdent reports whether s is a plain PostgreSQL identifier.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// Ident quotes a schema-qualified identifier: "schema"."name".
func Ident(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// SQL renders the schema DDL for schema.
func SQL(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if !ValidIdent(schema) {
		return "", fmt.Errorf("pgschema: invalid schema identifier %q", schema)
	}
	return strings.ReplaceAll(schemaSQL, "{{schema}}", pgx.Identifier{schema}.Sanitize()), nil
}

// Apply creates the schema and its tables. It is idempotent.
func Apply(ctx context.Context, db Execer, schema string) error {
	ddl, err := SQL(schema)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("pgschema: apply %s: %w", schema, err)
	}
	return nil
}
