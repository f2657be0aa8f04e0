package authapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"postline/cmd/internal/httpjson"
	"postline/cmd/internal/logutil"
	"postline/cmd/security/token"
)

type subjectKey struct{}

// SubjectFromContext returns the user id the Gate attached to the request.
func SubjectFromContext(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(subjectKey{}).(string)
	return sub, ok && sub != ""
}

// WithSubject attaches a user id to ctx.
func WithSubject(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, subjectKey{}, userID)
}

// Gate admits requests that carry a valid access token. It never touches
// the store.
type Gate struct {
	codec *token.Codec
	now   func() time.Time
}

// NewGate builds a Gate on top of codec.
func NewGate(codec *token.Codec) *Gate {
	return &Gate{codec: codec, now: time.Now}
}

// Protect requires "Authorization: Bearer <access token>".
func (g *Gate) Protect(next http.Handler) http.Handler {
	return g.protect(next, false)
}

// ProtectStream is Protect that also accepts ?access_token= for clients
// (browsers opening a WebSocket) that cannot set headers.
func (g *Gate) ProtectStream(next http.Handler) http.Handler {
	return g.protect(next, true)
}

func (g *Gate) protect(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok && allowQuery {
			tok = strings.TrimSpace(r.URL.Query().Get("access_token"))
			ok = tok != ""
		}
		if !ok {
			httpjson.WriteError(w, http.StatusUnauthorized, httpjson.CodeUnauthenticated, "Access Denied")
			return
		}

		claims, err := g.codec.VerifyAccess(tok, g.now())
		if err != nil {
			logutil.FromContext(r.Context()).Debug().Err(err).Msg("auth.gate.reject")
			httpjson.WriteError(w, http.StatusForbidden, httpjson.CodeForbidden, "Invalid Token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), claims.Subject)))
	})
}

// bearerToken extracts the token from an Authorization header value. The
// scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, tok, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	if tok == "" || strings.ContainsAny(tok, " \t") {
		return "", false
	}
	return tok, true
}
