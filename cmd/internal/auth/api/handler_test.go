package authapi

import (
	"net/http"
	"sync"
	"testing"

	"github.com/steinfletcher/apitest"
	jsonpath "github.com/steinfletcher/apitest-jsonpath"
)

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	apitest.New().
		Handler(env.router).
		Post("/auth/register").
		JSON(`{"username":"alice","email":"alice@example.com","password":"hunter2"}`).
		Expect(t).
		Status(http.StatusCreated).
		Assert(jsonpath.Present("$.id")).
		Assert(jsonpath.Equal("$.username", "alice")).
		Assert(jsonpath.Equal("$.email", "alice@example.com")).
		Assert(jsonpath.NotPresent("$.password")).
		Assert(jsonpath.NotPresent("$.refreshTokens")).
		End()

	apitest.New().
		Handler(env.router).
		Post("/auth/register").
		JSON(`{"username":"alice2","email":"ALICE@example.com","password":"hunter2"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal("$.error.message", "User already exists")).
		End()

	apitest.New().
		Handler(env.router).
		Post("/auth/register").
		JSON(`{"username":"bob","password":"hunter2"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal("$.error.message", "Username, email, and password are required")).
		End()

	apitest.New().
		Handler(env.router).
		Post("/auth/register").
		Body(`{"username":`).
		Header("Content-Type", "application/json").
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal("$.error.code", "invalid_json")).
		End()
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.registerAndLogin(t, "alice", "alice@example.com", "hunter2")

	apitest.New().
		Handler(env.router).
		Post("/auth/login").
		JSON(`{"email":"alice@example.com","password":"hunter2"}`).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Present("$.accessToken")).
		Assert(jsonpath.Present("$.refreshToken")).
		Assert(jsonpath.Present("$.id")).
		End()

	for _, body := range []string{
		`{"email":"alice@example.com","password":"wrong"}`,
		`{"email":"nobody@example.com","password":"hunter2"}`,
		`{"email":"alice@example.com"}`,
	} {
		apitest.New().
			Handler(env.router).
			Post("/auth/login").
			JSON(body).
			Expect(t).
			Status(http.StatusBadRequest).
			Assert(jsonpath.Equal("$.error.message", "Invalid email or password")).
			End()
	}
}

func TestRefresh_StatusMapping(t *testing.T) {
	env := newTestEnv(t)
	s := env.registerAndLogin(t, "alice", "alice@example.com", "hunter2")

	apitest.New().
		Handler(env.router).
		Post("/auth/refresh").
		JSON(`{}`).
		Expect(t).
		Status(http.StatusUnauthorized).
		Assert(jsonpath.Equal("$.error.message", "Refresh Token Required")).
		End()

	apitest.New().
		Handler(env.router).
		Post("/auth/refresh").
		Expect(t).
		Status(http.StatusUnauthorized).
		Assert(jsonpath.Equal("$.error.code", "missing_token")).
		End()

	apitest.New().
		Handler(env.router).
		Post("/auth/refresh").
		JSON(`{"refreshToken":"garbage"}`).
		Expect(t).
		Status(http.StatusForbidden).
		Assert(jsonpath.Equal("$.error.message", "Invalid Refresh Token")).
		End()

	apitest.New().
		Handler(env.router).
		Post("/auth/refresh").
		JSON(map[string]string{"refreshToken": s.RefreshToken}).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Present("$.accessToken")).
		Assert(jsonpath.Present("$.refreshToken")).
		End()
}

// Register, login, refresh(t1), refresh(t1) again: the replay fails and the
// token handed out by the first refresh is revoked with it.
func TestRefresh_ReplayRevokesRotatedToken(t *testing.T) {
	env := newTestEnv(t)
	s := env.registerAndLogin(t, "alice", "alice@example.com", "hunter2")

	status, first := doJSON(t, env.router, http.MethodPost, "/auth/refresh", tokenRequest{RefreshToken: s.RefreshToken}, "")
	if status != http.StatusOK {
		t.Fatalf("first refresh: expected 200, got %d", status)
	}
	t2 := first["refreshToken"].(string)

	status, _ = doJSON(t, env.router, http.MethodPost, "/auth/refresh", tokenRequest{RefreshToken: s.RefreshToken}, "")
	if status != http.StatusForbidden {
		t.Fatalf("replay: expected 403, got %d", status)
	}

	status, _ = doJSON(t, env.router, http.MethodPost, "/auth/refresh", tokenRequest{RefreshToken: t2}, "")
	if status != http.StatusForbidden {
		t.Fatalf("rotated token after replay: expected 403, got %d", status)
	}
}

func TestRefresh_ConcurrentRequests(t *testing.T) {
	env := newTestEnv(t)
	s := env.registerAndLogin(t, "alice", "alice@example.com", "hunter2")

	const n = 6
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[int]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _ := doJSON(t, env.router, http.MethodPost, "/auth/refresh", tokenRequest{RefreshToken: s.RefreshToken}, "")
			mu.Lock()
			codes[status]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if codes[http.StatusOK] != 1 || codes[http.StatusForbidden] != n-1 {
		t.Fatalf("expected one 200 and %d 403, got %v", n-1, codes)
	}
}

func TestRefresh_DeletedUserIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	s := env.registerAndLogin(t, "alice", "alice@example.com", "hunter2")

	apitest.New().
		Handler(env.router).
		Delete("/users/"+s.ID).
		Header("Authorization", "Bearer "+s.AccessToken).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.message", "User deleted successfully")).
		End()

	apitest.New().
		Handler(env.router).
		Post("/auth/refresh").
		JSON(map[string]string{"refreshToken": s.RefreshToken}).
		Expect(t).
		Status(http.StatusForbidden).
		Assert(jsonpath.Equal("$.error.message", "User not found")).
		End()
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	s := env.registerAndLogin(t, "alice", "alice@example.com", "hunter2")

	for _, tok := range []string{s.RefreshToken, s.RefreshToken, "never-issued"} {
		apitest.New().
			Handler(env.router).
			Post("/auth/logout").
			JSON(map[string]string{"refreshToken": tok}).
			Expect(t).
			Status(http.StatusOK).
			Assert(jsonpath.Present("$.message")).
			End()
	}

	apitest.New().
		Handler(env.router).
		Post("/auth/logout").
		JSON(`{}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal("$.error.message", "Refresh Token Required")).
		End()

	apitest.New().
		Handler(env.router).
		Post("/auth/logout").
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal("$.error.code", "missing_token")).
		End()

	status, _ := doJSON(t, env.router, http.MethodPost, "/auth/refresh", tokenRequest{RefreshToken: s.RefreshToken}, "")
	if status != http.StatusForbidden {
		t.Fatalf("refresh after logout: expected 403, got %d", status)
	}
}

func TestUsers_RequireAccessToken(t *testing.T) {
	env := newTestEnv(t)
	s := env.registerAndLogin(t, "alice", "alice@example.com", "hunter2")

	apitest.New().
		Handler(env.router).
		Get("/users").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()

	// A refresh token is not an access token.
	apitest.New().
		Handler(env.router).
		Get("/users").
		Header("Authorization", "Bearer "+s.RefreshToken).
		Expect(t).
		Status(http.StatusForbidden).
		End()

	apitest.New().
		Handler(env.router).
		Get("/users").
		Header("Authorization", "Bearer "+s.AccessToken).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Len("$", 1)).
		Assert(jsonpath.Equal("$[0].email", "alice@example.com")).
		End()
}

func TestUsers_GetAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	alice := env.registerAndLogin(t, "alice", "alice@example.com", "hunter2")
	bob := env.registerAndLogin(t, "bob", "bob@example.com", "hunter2")

	apitest.New().
		Handler(env.router).
		Get("/users/"+bob.ID).
		Header("Authorization", "Bearer "+alice.AccessToken).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.username", "bob")).
		End()

	apitest.New().
		Handler(env.router).
		Get("/users/not-an-id").
		Header("Authorization", "Bearer "+alice.AccessToken).
		Expect(t).
		Status(http.StatusBadRequest).
		End()

	apitest.New().
		Handler(env.router).
		Get("/users/01HZZZZZZZZZZZZZZZZZZZZZZZ").
		Header("Authorization", "Bearer "+alice.AccessToken).
		Expect(t).
		Status(http.StatusNotFound).
		Assert(jsonpath.Equal("$.error.message", "User not found")).
		End()

	apitest.New().
		Handler(env.router).
		Put("/users/"+bob.ID).
		Header("Authorization", "Bearer "+alice.AccessToken).
		JSON(`{"username":"mallory"}`).
		Expect(t).
		Status(http.StatusForbidden).
		End()

	apitest.New().
		Handler(env.router).
		Put("/users/"+alice.ID).
		Header("Authorization", "Bearer "+alice.AccessToken).
		JSON(`{"email":"bob@example.com"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal("$.error.message", "User already exists")).
		End()

	apitest.New().
		Handler(env.router).
		Put("/users/"+alice.ID).
		Header("Authorization", "Bearer "+alice.AccessToken).
		JSON(`{"username":"alicia"}`).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.username", "alicia")).
		Assert(jsonpath.Equal("$.email", "alice@example.com")).
		End()
}

func TestUsers_PasswordChangeRevokesSessions(t *testing.T) {
	env := newTestEnv(t)
	s := env.registerAndLogin(t, "alice", "alice@example.com", "hunter2")

	apitest.New().
		Handler(env.router).
		Put("/users/"+s.ID).
		Header("Authorization", "Bearer "+s.AccessToken).
		JSON(`{"password":"correct-horse"}`).
		Expect(t).
		Status(http.StatusOK).
		End()

	status, _ := doJSON(t, env.router, http.MethodPost, "/auth/refresh", tokenRequest{RefreshToken: s.RefreshToken}, "")
	if status != http.StatusForbidden {
		t.Fatalf("refresh after password change: expected 403, got %d", status)
	}
	env.login(t, "alice@example.com", "correct-horse")
}

func TestLogoutAll_RevokesEverySession(t *testing.T) {
	env := newTestEnv(t)
	first := env.registerAndLogin(t, "alice", "alice@example.com", "hunter2")
	second := env.login(t, "alice@example.com", "hunter2")

	apitest.New().
		Handler(env.router).
		Post("/auth/logout-all").
		Expect(t).
		Status(http.StatusUnauthorized).
		End()

	apitest.New().
		Handler(env.router).
		Post("/auth/logout-all").
		Header("Authorization", "Bearer "+first.AccessToken).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.message", "Logged out of all sessions")).
		End()

	for _, tok := range []string{first.RefreshToken, second.RefreshToken} {
		status, _ := doJSON(t, env.router, http.MethodPost, "/auth/refresh", tokenRequest{RefreshToken: tok}, "")
		if status != http.StatusForbidden {
			t.Fatalf("refresh after logout-all: expected 403, got %d", status)
		}
	}
	env.login(t, "alice@example.com", "hunter2")
}
