package authapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"

	"postline/cmd/identity"
	"postline/cmd/internal/auth/session"
	"postline/cmd/security/password"
)

const (
	testAccessSecret  = "api-access-secret-0123456789abcdef"
	testRefreshSecret = "api-refresh-secret-fedcba9876543210"
)

type testEnv struct {
	router   *httprouter.Router
	sessions *session.Service
	gate     *Gate
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	cfg := session.DefaultConfig()
	cfg.AccessSecret = testAccessSecret
	cfg.RefreshSecret = testRefreshSecret

	hasher := password.DefaultConfig()
	hasher.Params.MemoryKiB = 8 * 1024
	hasher.Params.Iterations = 1
	hasher.Params.Parallelism = 1

	svc, err := session.NewService(cfg, identity.NewMemoryStore(), hasher)
	if err != nil {
		t.Fatalf("session.NewService: %v", err)
	}
	h, err := NewHandler(Config{}, svc)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	gate := NewGate(svc.Codec())
	router := httprouter.New()
	h.Routes(router, gate)
	return testEnv{router: router, sessions: svc, gate: gate}
}

// doJSON sends body as JSON and decodes the response into a generic map.
func doJSON(t *testing.T, h http.Handler, method, path string, body any, bearer string) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec.Code, out
}

type loggedIn struct {
	ID           string
	AccessToken  string
	RefreshToken string
}

func (e testEnv) registerAndLogin(t *testing.T, username, email, pw string) loggedIn {
	t.Helper()

	status, _ := doJSON(t, e.router, http.MethodPost, "/auth/register", registerRequest{Username: username, Email: email, Password: pw}, "")
	if status != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", status)
	}
	return e.login(t, email, pw)
}

func (e testEnv) login(t *testing.T, email, pw string) loggedIn {
	t.Helper()

	status, body := doJSON(t, e.router, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: pw}, "")
	if status != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%v)", status, body)
	}
	return loggedIn{
		ID:           body["id"].(string),
		AccessToken:  body["accessToken"].(string),
		RefreshToken: body["refreshToken"].(string),
	}
}
