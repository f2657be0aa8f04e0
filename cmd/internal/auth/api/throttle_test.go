package authapi

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/steinfletcher/apitest"
	jsonpath "github.com/steinfletcher/apitest-jsonpath"
	"github.com/stretchr/testify/require"
)

func TestEvaluateWindowThrottle(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	failures := []time.Time{
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-6 * time.Minute),
	}

	blocked, retry := evaluateWindowThrottle(now, failures, 2, 5*time.Minute)
	if !blocked {
		t.Fatalf("expected window throttle to block")
	}
	if retry != 3*time.Minute {
		t.Fatalf("expected retry=3m, got %v", retry)
	}

	blocked, retry = evaluateWindowThrottle(now, failures, 3, 5*time.Minute)
	if blocked || retry != 0 {
		t.Fatalf("expected window throttle to allow, got blocked=%v retry=%v", blocked, retry)
	}
}

func TestEvaluateProgressiveLockout(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	tiers := []LockoutTier{
		{Threshold: 20, Duration: 2 * time.Hour},
		{Threshold: 10, Duration: 30 * time.Minute},
		{Threshold: 5, Duration: 5 * time.Minute},
	}
	ago := func(d ...time.Duration) []time.Time {
		out := make([]time.Time, 0, len(d))
		for _, x := range d {
			out = append(out, now.Add(-x))
		}
		return out
	}

	t.Run("short tier", func(t *testing.T) {
		blocked, retry := evaluateProgressiveLockout(now, ago(30*time.Second, time.Minute, 2*time.Minute, 3*time.Minute, 4*time.Minute), tiers)
		if !blocked || retry != 4*time.Minute+30*time.Second {
			t.Fatalf("blocked=%v retry=%v", blocked, retry)
		}
	})

	t.Run("clears after duration", func(t *testing.T) {
		blocked, retry := evaluateProgressiveLockout(now, ago(6*time.Minute, 7*time.Minute, 8*time.Minute, 9*time.Minute, 10*time.Minute), tiers[2:])
		if blocked || retry != 0 {
			t.Fatalf("blocked=%v retry=%v", blocked, retry)
		}
	})

	t.Run("severe tier wins", func(t *testing.T) {
		failures := make([]time.Time, 0, 20)
		for i := 0; i < 20; i++ {
			failures = append(failures, now.Add(-time.Duration(i+1)*time.Minute))
		}
		blocked, retry := evaluateProgressiveLockout(now, failures, tiers)
		if !blocked {
			t.Fatalf("expected severe-tier lockout")
		}
		if want := failures[0].Add(2 * time.Hour).Sub(now); retry != want {
			t.Fatalf("retry=%v want %v", retry, want)
		}
	})

	t.Run("below every threshold", func(t *testing.T) {
		if blocked, _ := evaluateProgressiveLockout(now, ago(time.Minute), tiers); blocked {
			t.Fatalf("single failure must not lock")
		}
	})
}

func TestNewLoginThrottle_DisabledByZeroConfig(t *testing.T) {
	t.Parallel()

	if newLoginThrottle(Config{}) != nil {
		t.Fatalf("zero config should disable throttling")
	}
	var th *loginThrottle
	if blocked, _ := th.check("1.2.3.4", "a@example.com", time.Now()); blocked {
		t.Fatalf("nil throttle must allow")
	}
	th.fail("1.2.3.4", "a@example.com", time.Now())
	th.succeed("a@example.com")
}

func TestLoginThrottle_SuccessClearsAccountFailures(t *testing.T) {
	t.Parallel()

	now := time.Now()
	th := newLoginThrottle(Config{LockoutTiers: []LockoutTier{{Threshold: 2, Duration: time.Minute}}})
	th.fail("", "a@example.com", now)
	th.fail("", "a@example.com", now)

	blocked, _ := th.check("", "a@example.com", now)
	require.True(t, blocked)

	th.succeed("a@example.com")
	blocked, _ = th.check("", "a@example.com", now)
	require.False(t, blocked)
}

func TestLoginThrottle_BoundedWhenFull(t *testing.T) {
	th := newLoginThrottle(Config{LockoutTiers: []LockoutTier{{Threshold: 5, Duration: time.Hour}}})
	th.maxKeys = 10
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		th.fail("", fmt.Sprintf("user%d@example.com", i), now.Add(time.Duration(i)*time.Second))
	}
	require.Equal(t, 10, th.size())

	// Every key is still live, so the sweep frees nothing and the oldest
	// key makes room.
	later := now.Add(20 * time.Second)
	th.fail("", "new@example.com", later)
	require.Equal(t, 10, th.size())
	require.NotContains(t, th.byEmail, "user0@example.com")
	require.Contains(t, th.byEmail, "new@example.com")
	require.Equal(t, later, th.lastSweep)

	// Within the sweep interval only eviction runs.
	th.fail("", "newer@example.com", later.Add(time.Second))
	require.Equal(t, 10, th.size())
	require.NotContains(t, th.byEmail, "user1@example.com")
	require.Equal(t, later, th.lastSweep)
}

func TestLogin_ThrottledAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	env.registerAndLogin(t, "alice", "alice@example.com", "hunter2")

	h, err := NewHandler(Config{LockoutTiers: []LockoutTier{{Threshold: 3, Duration: time.Minute}}}, env.sessions)
	require.NoError(t, err)
	router := httprouter.New()
	h.Routes(router, env.gate)

	for i := 0; i < 3; i++ {
		apitest.New().
			Handler(router).
			Post("/auth/login").
			JSON(`{"email":"alice@example.com","password":"wrong"}`).
			Expect(t).
			Status(http.StatusBadRequest).
			End()
	}

	// Even the right password is refused while the lockout runs.
	apitest.New().
		Handler(router).
		Post("/auth/login").
		JSON(`{"email":"ALICE@example.com","password":"hunter2"}`).
		Expect(t).
		Status(http.StatusTooManyRequests).
		Header("Retry-After", "60").
		Assert(jsonpath.Equal("$.error.code", "rate_limited")).
		End()
}
