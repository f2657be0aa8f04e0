package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"postline/cmd/identity"
	"postline/cmd/internal/logutil"
	"postline/cmd/security/password"
	"postline/cmd/security/token"
)

// Hasher hashes and verifies passwords. password.Config satisfies it.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(encodedHash, plain string) (bool, error)
}

// Service implements the session operations on top of a credential store.
type Service struct {
	cfg    Config
	store  identity.Store
	codec  *token.Codec
	hasher Hasher
	fp     token.Fingerprinter
	locks  *Locker

	notify Notifier
	obs    Observer
	now    func() time.Time

	dummyHash string
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithNotifier routes session events to n.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notify = n
		}
	}
}

// WithObserver reports auth outcomes to o.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.obs = o
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFingerprinter sets how refresh tokens are stored (default SHA-256).
func WithFingerprinter(fp token.Fingerprinter) Option {
	return func(s *Service) { s.fp = fp }
}

// NewService wires a Service. It fails with ErrConfig when secrets or
// lifetimes are unusable.
func NewService(cfg Config, store identity.Store, hasher Hasher, opts ...Option) (*Service, error) {
	if store == nil || hasher == nil {
		return nil, errors.New("session: nil store or hasher")
	}
	if cfg.CASRetries <= 0 {
		cfg.CASRetries = DefaultConfig().CASRetries
	}

	codec, err := token.NewCodec(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	s := &Service{
		cfg:    cfg,
		store:  store,
		codec:  codec,
		hasher: hasher,
		fp:     token.NewFingerprinter(nil),
		locks:  NewLocker(),
		notify: nopNotifier{},
		obs:    nopObserver{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	// Dummy hash for timing-resistant login checks.
	if h, err := hasher.Hash("dummy-password-for-timing-only"); err == nil {
		s.dummyHash = h
	}

	return s, nil
}

// Codec exposes the token codec so the Auth Gate can verify access tokens.
func (s *Service) Codec() *token.Codec { return s.codec }

// Account is the public view of a user.
type Account struct {
	ID       string
	Username string
	Email    string
}

func toAccount(u identity.User) Account {
	return Account{ID: u.ID, Username: u.Username, Email: u.Email}
}

// Pair is a freshly issued access + refresh token pair.
type Pair struct {
	UserID           string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register creates an account with no sessions.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Account, error) {
	log := logutil.FromContext(ctx)

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	switch {
	case username == "":
		return Account{}, ValidationError{Field: "username"}
	case email == "":
		return Account{}, ValidationError{Field: "email"}
	case in.Password == "":
		return Account{}, ValidationError{Field: "password"}
	}

	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		s.obs.AuthEvent("register", "duplicate")
		return Account{}, ErrDuplicateUser
	} else if !identity.IsNotFound(err) {
		return Account{}, err
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return Account{}, err
	}

	u, err := s.store.Create(ctx, identity.CreateUserInput{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Now:          s.now(),
	})
	switch {
	case identity.IsConflict(err):
		s.obs.AuthEvent("register", "duplicate")
		return Account{}, ErrDuplicateUser
	case identity.IsInvalidInput(err):
		return Account{}, fmt.Errorf("%w: %v", ErrValidation, err)
	case err != nil:
		log.Error().Err(err).Msg("auth.register.create.fail")
		return Account{}, err
	}

	s.obs.AuthEvent("register", "success")
	log.Info().Str("user_id", u.ID).Msg("auth.register.ok")
	return toAccount(u), nil
}

// Login checks credentials and opens a new session.
func (s *Service) Login(ctx context.Context, email, plain string) (Pair, error) {
	log := logutil.FromContext(ctx)

	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if !identity.IsNotFound(err) {
			return Pair{}, err
		}
		if s.dummyHash != "" {
			_, _ = s.hasher.Verify(s.dummyHash, plain)
		}
		s.obs.AuthEvent("login", "fail")
		log.Info().Str("reason", "not_found").Msg("auth.login.fail")
		return Pair{}, ErrInvalidCredentials
	}

	ok, err := s.hasher.Verify(u.PasswordHash, plain)
	if err != nil || !ok {
		s.obs.AuthEvent("login", "fail")
		ev := log.Info().Str("reason", "bad_password").Str("user_id", u.ID)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("auth.login.fail")
		return Pair{}, ErrInvalidCredentials
	}
	if pc, isCfg := s.hasher.(password.Config); isCfg && pc.NeedsRehash(u.PasswordHash) {
		s.upgradeHash(ctx, u, plain)
	}

	pair, fingerprint, err := s.issuePair(u.ID)
	if err != nil {
		return Pair{}, err
	}

	_, err = s.mutateTokens(ctx, u.ID, func(cur identity.User) ([]string, error) {
		return append(slices.Clone(cur.RefreshTokens), fingerprint), nil
	})
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			// Deleted between lookup and write.
			return Pair{}, ErrInvalidCredentials
		}
		log.Error().Err(err).Str("user_id", u.ID).Msg("auth.login.persist.fail")
		return Pair{}, err
	}

	s.obs.AuthEvent("login", "success")
	log.Info().Str("user_id", u.ID).Msg("auth.login.ok")
	return pair, nil
}

// Logout removes refreshToken from its owner's list. Apart from a missing
// token it always succeeds, whether or not the token was ever valid.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	log := logutil.FromContext(ctx)

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return ErrMissingToken
	}

	claims, err := s.codec.VerifyRefresh(refreshToken, s.now())
	if err != nil {
		s.obs.AuthEvent("logout", "unknown_token")
		log.Debug().Err(err).Msg("auth.logout.unverified")
		return nil
	}

	fingerprint := s.fp.Of(refreshToken)
	_, err = s.mutateTokens(ctx, claims.Subject, func(cur identity.User) ([]string, error) {
		if !cur.HasRefreshToken(fingerprint) {
			return nil, nil
		}
		return without(cur.RefreshTokens, fingerprint), nil
	})
	switch {
	case err == nil:
		s.obs.AuthEvent("logout", "success")
	case errors.Is(err, identity.ErrNotFound):
		s.obs.AuthEvent("logout", "unknown_user")
	default:
		s.obs.AuthEvent("logout", "error")
		log.Error().Err(err).Str("user_id", claims.Subject).Msg("auth.logout.persist.fail")
	}
	return nil
}

// Refresh rotates refreshToken into a new pair.
//
// Security model:
//   - The token must verify against the refresh secret.
//   - The token must be listed for its subject. A verified but unlisted
//     token is reuse: the whole list is cleared before failing.
//   - Rotation removes the presented token and appends the new one in a
//     single compare-and-swap write, so at most one caller wins per token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Pair, error) {
	log := logutil.FromContext(ctx)

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Pair{}, ErrMissingToken
	}

	claims, err := s.codec.VerifyRefresh(refreshToken, s.now())
	if err != nil {
		s.obs.AuthEvent("refresh", "invalid")
		log.Info().Err(err).Msg("auth.refresh.unverified")
		return Pair{}, ErrInvalidRefreshToken
	}

	userID := claims.Subject
	presented := s.fp.Of(refreshToken)

	pair, next, err := s.issuePair(userID)
	if err != nil {
		return Pair{}, err
	}

	var wiped int
	_, err = s.mutateTokens(ctx, userID, func(cur identity.User) ([]string, error) {
		if !cur.HasRefreshToken(presented) {
			wiped = len(cur.RefreshTokens)
			if wiped == 0 {
				return nil, errReuse
			}
			return []string{}, errReuse
		}
		return append(without(cur.RefreshTokens, presented), next), nil
	})
	switch {
	case err == nil:
		s.obs.AuthEvent("refresh", "success")
		log.Info().Str("user_id", userID).Msg("auth.refresh.ok")
		return pair, nil
	case errors.Is(err, errReuse):
		s.obs.AuthEvent("refresh", "reuse")
		log.Warn().Str("user_id", userID).Int("revoked", wiped).Msg("auth.refresh.reuse_detected")
		if wiped > 0 {
			s.notify.Publish(ctx, Event{Kind: EventSessionsRevoked, UserID: userID, Reason: ReasonReuseDetected})
		}
		return Pair{}, ErrInvalidRefreshToken
	case errors.Is(err, identity.ErrNotFound):
		s.obs.AuthEvent("refresh", "user_not_found")
		log.Info().Str("user_id", userID).Msg("auth.refresh.user_not_found")
		return Pair{}, ErrUserNotFound
	default:
		s.obs.AuthEvent("refresh", "error")
		log.Error().Err(err).Str("user_id", userID).Msg("auth.refresh.persist.fail")
		return Pair{}, err
	}
}

// RevokeAll clears every refresh token of userID.
func (s *Service) RevokeAll(ctx context.Context, userID, reason string) error {
	var had int
	_, err := s.mutateTokens(ctx, userID, func(cur identity.User) ([]string, error) {
		had = len(cur.RefreshTokens)
		if had == 0 {
			return nil, nil
		}
		return []string{}, nil
	})
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if had > 0 {
		s.notify.Publish(ctx, Event{Kind: EventSessionsRevoked, UserID: userID, Reason: reason})
	}
	logutil.FromContext(ctx).Info().Str("user_id", userID).Str("reason", reason).Int("revoked", had).Msg("auth.revoke_all.ok")
	return nil
}

// upgradeHash re-encodes a hash made by a retired algorithm with the
// configured one. Sessions are kept; a failure only skips the upgrade.
func (s *Service) upgradeHash(ctx context.Context, u identity.User, plain string) {
	log := logutil.FromContext(ctx)

	hash, err := s.hasher.Hash(plain)
	if err != nil {
		log.Warn().Err(err).Str("user_id", u.ID).Msg("auth.login.rehash.fail")
		return
	}

	unlock, err := s.locks.Lock(ctx, u.ID)
	if err != nil {
		return
	}
	_, err = s.store.RehashPassword(ctx, u.ID, u.PasswordHash, hash, s.now())
	unlock()
	if err != nil {
		log.Warn().Err(err).Str("user_id", u.ID).Msg("auth.login.rehash.fail")
		return
	}
	log.Info().Str("user_id", u.ID).Msg("auth.login.rehashed")
}

// issuePair signs a new pair and returns the refresh token's fingerprint.
func (s *Service) issuePair(userID string) (Pair, string, error) {
	now := s.now()

	access, accessExp, err := s.codec.IssueAccess(userID, now)
	if err != nil {
		return Pair{}, "", err
	}
	refresh, refreshExp, err := s.codec.IssueRefresh(userID, now)
	if err != nil {
		return Pair{}, "", err
	}

	return Pair{
		UserID:           userID,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, s.fp.Of(refresh), nil
}

// tokenEdit decides the next refresh token list for the current record.
// A nil list means "no write". A non-nil outcome is returned to the caller
// after the write (if any) has landed.
type tokenEdit func(cur identity.User) (next []string, outcome error)

// mutateTokens runs edit against the freshest record until its
// compare-and-swap write lands, holding the per-user lock throughout.
func (s *Service) mutateTokens(ctx context.Context, userID string, edit tokenEdit) (identity.User, error) {
	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return identity.User{}, err
	}
	defer unlock()

	for attempt := 0; attempt < s.cfg.CASRetries; attempt++ {
		cur, err := s.store.FindByID(ctx, userID)
		if err != nil {
			return identity.User{}, err
		}

		next, outcome := edit(cur)
		if next == nil {
			return cur, outcome
		}

		updated, err := s.store.ReplaceRefreshTokens(ctx, userID, cur.Version, next, s.now())
		if identity.IsVersionConflict(err) {
			logutil.FromContext(ctx).Debug().Str("user_id", userID).Int("attempt", attempt).Msg("auth.tokens.cas_retry")
			continue
		}
		if err != nil {
			return identity.User{}, err
		}
		return updated, outcome
	}
	return identity.User{}, ErrContention
}

func (s *Service) hashPassword(plain string) (string, error) {
	hash, err := s.hasher.Hash(plain)
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return "", ValidationError{Field: "password", Reason: "is too short"}
	case errors.Is(err, password.ErrPasswordTooLong):
		return "", ValidationError{Field: "password", Reason: "is too long"}
	}
	return hash, err
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}
