package pgschema

import (
	"strings"
	"testing"
)

func TestSQL_QuotesSchema(t *testing.T) {
	t.Parallel()

	ddl, err := SQL("postline_test")
	if err != nil {
		t.Fatalf("SQL: %v", err)
	}
	if strings.Contains(ddl, "{{schema}}") {
		t.Fatalf("placeholder left in DDL")
	}
	if !strings.Contains(ddl, `"postline_test".users`) {
		t.Fatalf("expected quoted schema in DDL")
	}
}

func TestSQL_RejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "1abc", `x"; DROP TABLE users; --`, "with space"} {
		if _, err := SQL(in); err == nil {
			t.Fatalf("SQL(%q): expected error", in)
		}
	}
}

func TestIdent(t *testing.T) {
	t.Parallel()

	if got := Ident("postline", "users"); got != `"postline"."users"` {
		t.Fatalf("Ident=%s", got)
	}
}
