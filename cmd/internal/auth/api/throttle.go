package authapi

import (
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"postline/cmd/identity"
	"postline/cmd/internal/httpjson"
)

const (
	// maxThrottleKeys bounds the tracker. Past it idle keys are swept (at
	// most once per throttleSweepInterval) and, if the tracker is still
	// full, the least recently failed keys are evicted in a batch.
	maxThrottleKeys       = 100_000
	throttleSweepInterval = time.Minute
)

// loginThrottle remembers recent failed logins per client IP and per email.
// State is process-local.
type loginThrottle struct {
	ipMax      int
	ipWindow   time.Duration
	userWindow time.Duration
	tiers      []LockoutTier

	mu        sync.Mutex
	maxKeys   int
	lastSweep time.Time
	byIP      map[string][]time.Time
	byEmail   map[string][]time.Time
}

func newLoginThrottle(cfg Config) *loginThrottle {
	var tiers []LockoutTier
	for _, t := range cfg.LockoutTiers {
		if t.Threshold > 0 && t.Duration > 0 {
			tiers = append(tiers, t)
		}
	}
	if cfg.LoginIPMax <= 0 && len(tiers) == 0 {
		return nil
	}
	userWindow := cfg.LoginUserWindow
	if userWindow <= 0 {
		userWindow = time.Hour
	}
	return &loginThrottle{
		ipMax:      cfg.LoginIPMax,
		ipWindow:   cfg.LoginIPWindow,
		userWindow: userWindow,
		tiers:      tiers,
		maxKeys:    maxThrottleKeys,
		byIP:       make(map[string][]time.Time),
		byEmail:    make(map[string][]time.Time),
	}
}

// check reports whether a login attempt must be refused and for how long.
func (t *loginThrottle) check(ip, email string, now time.Time) (bool, time.Duration) {
	if t == nil {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if ip != "" && t.ipMax > 0 {
		if blocked, retry := evaluateWindowThrottle(now, t.byIP[ip], t.ipMax, t.ipWindow); blocked {
			return true, retry
		}
	}
	if email != "" && len(t.tiers) > 0 {
		recent := since(t.byEmail[email], now.Add(-t.userWindow))
		return evaluateProgressiveLockout(now, recent, t.tiers)
	}
	return false, 0
}

func (t *loginThrottle) fail(ip, email string, now time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.makeRoom(now)
	if ip != "" {
		t.byIP[ip] = prepend(since(t.byIP[ip], now.Add(-t.ipWindow)), now)
	}
	if email != "" {
		t.byEmail[email] = prepend(since(t.byEmail[email], now.Add(-t.horizon())), now)
	}
}

// succeed forgets the account's failures; the IP history is kept.
func (t *loginThrottle) succeed(email string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.byEmail, email)
	t.mu.Unlock()
}

func (t *loginThrottle) horizon() time.Duration {
	h := t.userWindow
	for _, tier := range t.tiers {
		if tier.Duration > h {
			h = tier.Duration
		}
	}
	return h
}

func (t *loginThrottle) size() int { return len(t.byIP) + len(t.byEmail) }

func (t *loginThrottle) makeRoom(now time.Time) {
	if t.size() < t.maxKeys {
		return
	}
	if now.Sub(t.lastSweep) >= throttleSweepInterval {
		t.lastSweep = now
		t.sweep(now)
	}
	if t.size() >= t.maxKeys {
		t.evictOldest(max(t.maxKeys/10, 1))
	}
}

// evictOldest drops the n keys whose latest failure is the oldest.
func (t *loginThrottle) evictOldest(n int) {
	type entry struct {
		m      map[string][]time.Time
		key    string
		newest time.Time
	}
	entries := make([]entry, 0, t.size())
	for _, m := range []map[string][]time.Time{t.byIP, t.byEmail} {
		for k, v := range m {
			var newest time.Time
			if len(v) > 0 {
				newest = v[0]
			}
			entries = append(entries, entry{m: m, key: k, newest: newest})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].newest.Before(entries[j].newest) })
	for _, e := range entries[:min(n, len(entries))] {
		delete(e.m, e.key)
	}
}

func (t *loginThrottle) sweep(now time.Time) {
	for k, v := range t.byIP {
		if len(since(v, now.Add(-t.ipWindow))) == 0 {
			delete(t.byIP, k)
		}
	}
	for k, v := range t.byEmail {
		if len(since(v, now.Add(-t.horizon()))) == 0 {
			delete(t.byEmail, k)
		}
	}
}

// evaluateWindowThrottle blocks once limit failures fall inside window. The
// retry delay lasts until the oldest of them leaves the window.
// failures are newest first.
func evaluateWindowThrottle(now time.Time, failures []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return false, 0
	}
	recent := since(failures, now.Add(-window))
	if len(recent) < limit {
		return false, 0
	}
	oldest := recent[len(recent)-1]
	return true, oldest.Add(window).Sub(now)
}

// evaluateProgressiveLockout applies the longest active lockout among the
// tiers whose threshold is reached. A lockout runs from the newest failure.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []LockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	newest := failures[0]
	var until time.Time
	for _, tier := range tiers {
		if tier.Threshold <= 0 || len(failures) < tier.Threshold {
			continue
		}
		if end := newest.Add(tier.Duration); end.After(until) {
			until = end
		}
	}
	if !until.After(now) {
		return false, 0
	}
	return true, until.Sub(now)
}

// since returns the prefix of newest-first times that are after cut.
func since(times []time.Time, cut time.Time) []time.Time {
	for i, ts := range times {
		if !ts.After(cut) {
			return times[:i]
		}
	}
	return times
}

func prepend(times []time.Time, ts time.Time) []time.Time {
	out := make([]time.Time, 0, len(times)+1)
	out = append(out, ts)
	return append(out, times...)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func throttleKey(email string) string { return identity.NormalizeEmail(email) }

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	httpjson.WriteError(w, http.StatusTooManyRequests, "rate_limited", "Too many login attempts")
}
