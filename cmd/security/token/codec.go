package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Claims is the verified content of a token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Codec issues and verifies access and refresh tokens.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte

	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewCodec constructs a Codec. Both secrets are required.
func NewCodec(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*Codec, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, ErrSecretMissing
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token: ttl must be positive")
	}
	return &Codec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}, nil
}

// IssueAccess signs a short-lived access token for userID.
func (c *Codec) IssueAccess(userID string, now time.Time) (string, time.Time, error) {
	return issue(c.accessSecret, userID, now, c.accessTTL)
}

// IssueRefresh signs a long-lived refresh token for userID.
func (c *Codec) IssueRefresh(userID string, now time.Time) (string, time.Time, error) {
	return issue(c.refreshSecret, userID, now, c.refreshTTL)
}

// VerifyAccess verifies tok against the access secret.
func (c *Codec) VerifyAccess(tok string, now time.Time) (Claims, error) {
	return Verify(tok, c.accessSecret, now)
}

// VerifyRefresh verifies tok against the refresh secret.
func (c *Codec) VerifyRefresh(tok string, now time.Time) (Claims, error) {
	return Verify(tok, c.refreshSecret, now)
}

func issue(secret []byte, userID string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, errors.New("token: empty subject")
	}

	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, algorithm and expiry of tok at instant now.
// Failures are ErrExpired or ErrInvalidSignature.
func Verify(tok string, secret []byte, now time.Time) (Claims, error) {
	var rc jwt.RegisteredClaims

	parsed, err := jwt.ParseWithClaims(tok, &rc,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidSignature
			}
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		// Expiry is only reported once the signature checked out.
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrInvalidSignature
	}
	if !parsed.Valid || strings.TrimSpace(rc.Subject) == "" || rc.ExpiresAt == nil {
		return Claims{}, ErrInvalidSignature
	}

	return Claims{Subject: rc.Subject, ExpiresAt: rc.ExpiresAt.Time}, nil
}
