package session

import (
	"context"
	"strings"

	"postline/cmd/identity"
	"postline/cmd/internal/logutil"
)

// AccountUpdate lists profile fields to change; nil means unchanged.
type AccountUpdate struct {
	Username *string
	Email    *string
	Password *string
}

// Account returns the public view of one user.
func (s *Service) Account(ctx context.Context, id string) (Account, error) {
	u, err := s.store.FindByID(ctx, id)
	if err != nil {
		if identity.IsNotFound(err) {
			return Account{}, ErrUserNotFound
		}
		return Account{}, err
	}
	return toAccount(u), nil
}

// Accounts returns the public view of every user, oldest first.
func (s *Service) Accounts(ctx context.Context) ([]Account, error) {
	users, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(users))
	for _, u := range users {
		out = append(out, toAccount(u))
	}
	return out, nil
}

// UpdateAccount edits a profile. A new password is hashed and revokes every
// session of the user in the same write.
func (s *Service) UpdateAccount(ctx context.Context, id string, in AccountUpdate) (Account, error) {
	upd := identity.ProfileUpdate{Now: s.now()}

	if in.Username != nil {
		if strings.TrimSpace(*in.Username) == "" {
			return Account{}, ValidationError{Field: "username", Reason: "must not be blank"}
		}
		upd.Username = in.Username
	}
	if in.Email != nil {
		if strings.TrimSpace(*in.Email) == "" {
			return Account{}, ValidationError{Field: "email", Reason: "must not be blank"}
		}
		upd.Email = in.Email
	}
	if in.Password != nil {
		if *in.Password == "" {
			return Account{}, ValidationError{Field: "password", Reason: "must not be blank"}
		}
		hash, err := s.hashPassword(*in.Password)
		if err != nil {
			return Account{}, err
		}
		upd.PasswordHash = &hash
	}

	// The profile write bumps the version, so it shares the per-user lock
	// with token mutations.
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return Account{}, err
	}
	before, err := s.store.FindByID(ctx, id)
	if err != nil {
		unlock()
		if identity.IsNotFound(err) {
			return Account{}, ErrUserNotFound
		}
		return Account{}, err
	}
	u, err := s.store.UpdateProfile(ctx, id, upd)
	unlock()

	switch {
	case identity.IsNotFound(err):
		return Account{}, ErrUserNotFound
	case identity.IsConflict(err):
		return Account{}, ErrDuplicateUser
	case identity.IsInvalidInput(err):
		return Account{}, ValidationError{Field: "profile", Reason: "is invalid"}
	case err != nil:
		return Account{}, err
	}

	if upd.PasswordHash != nil {
		s.obs.AuthEvent("password_change", "success")
		if len(before.RefreshTokens) > 0 {
			s.notify.Publish(ctx, Event{Kind: EventSessionsRevoked, UserID: id, Reason: ReasonPasswordChanged})
		}
		logutil.FromContext(ctx).Info().Str("user_id", id).Int("revoked", len(before.RefreshTokens)).Msg("auth.password_change.ok")
	}
	return toAccount(u), nil
}

// DeleteAccount removes the user; its tokens die with the record.
func (s *Service) DeleteAccount(ctx context.Context, id string) error {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	err = s.store.Delete(ctx, id)
	unlock()

	if err != nil {
		if identity.IsNotFound(err) {
			return ErrUserNotFound
		}
		return err
	}

	s.notify.Publish(ctx, Event{Kind: EventSessionsRevoked, UserID: id, Reason: ReasonUserDeleted})
	logutil.FromContext(ctx).Info().Str("user_id", id).Msg("auth.account.deleted")
	return nil
}
