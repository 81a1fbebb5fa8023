// Package access decides whether a delivery poll is admitted to a bundle.
//
// Rules apply in a fixed order: revocation, then expiry, then the password
// requirement. A password that was verified earlier in the same session is
// carried by a signed session token so pollers need not resend it.
package access

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"parcel/internal/bundle"
	"parcel/internal/config"
	"parcel/internal/services"
)

// Outcome is the Gate's admission result.
type Outcome string

const (
	Granted      Outcome = "granted"
	NotFound     Outcome = "not_found"
	Revoked      Outcome = "revoked"
	Expired      Outcome = "expired"
	AccessDenied Outcome = "access_denied"
)

// sessionAudience scopes session tokens to bundle delivery.
const sessionAudience = "parcel-delivery"

// maxPasswordBytes is bcrypt's input limit.
const maxPasswordBytes = 72

// Attempt carries the credentials supplied with one poll.
type Attempt struct {
	Password     string
	SessionToken string
}

// Decision is the Gate's verdict. SessionToken is set only when a password
// was verified by this evaluation.
type Decision struct {
	Outcome          Outcome
	SessionToken     string
	SessionExpiresAt time.Time
}

// Options configures a Gate.
type Options struct {
	BcryptCost    int
	SessionSecret string
	SessionTTL    time.Duration
	Now           func() time.Time
}

// Gate evaluates access attempts. It never returns errors.
type Gate struct {
	cost      int
	secret    []byte
	ttl       time.Duration
	now       func() time.Time
	dummyHash []byte
}

// NewGate constructs a Gate. An empty session secret is replaced by random
// bytes, so session tokens do not survive a restart.
func NewGate(opts Options) (*Gate, error) {
	cost := opts.BcryptCost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	secret := []byte(opts.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	filler := make([]byte, 16)
	if _, err := rand.Read(filler); err != nil {
		return nil, fmt.Errorf("generate dummy password: %w", err)
	}
	dummy, err := bcrypt.GenerateFromPassword(filler, cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &Gate{cost: cost, secret: secret, ttl: ttl, now: now, dummyHash: dummy}, nil
}

// FromConfig builds a Gate from the access section.
func FromConfig(cfg *config.Config) (*Gate, error) {
	return NewGate(Options{
		BcryptCost:    cfg.Access.BcryptCost,
		SessionSecret: cfg.Access.SessionSecret,
		SessionTTL:    cfg.SessionTTL(),
	})
}

// HashPassword returns the bcrypt hash stored on a gated bundle.
func (g *Gate) HashPassword(password string) (string, error) {
	if password == "" {
		return "", services.Wrap(services.ErrValidation, "access", "hash password", "password is empty", nil)
	}
	if len(password) > maxPasswordBytes {
		return "", services.Wrap(services.ErrValidation, "access", "hash password",
			fmt.Sprintf("password exceeds %d bytes", maxPasswordBytes), nil)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), g.cost)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "access", "hash password", "", err)
	}
	return string(hashed), nil
}

// Evaluate applies the admission rules to req. A nil req means the id did
// not resolve. NotFound and AccessDenied both cost one bcrypt comparison so
// their timing does not reveal whether a bundle exists.
func (g *Gate) Evaluate(req *bundle.Request, attempt Attempt) Decision {
	now := g.now()
	switch {
	case req == nil:
		g.burn(attempt.Password)
		return Decision{Outcome: NotFound}
	case req.IsRevoked():
		return Decision{Outcome: Revoked}
	case req.IsExpired(now):
		return Decision{Outcome: Expired}
	case !req.RequiresPassword():
		return Decision{Outcome: Granted}
	}

	if attempt.SessionToken != "" && g.validSession(attempt.SessionToken, req.ID, now) {
		return Decision{Outcome: Granted}
	}
	if attempt.Password == "" {
		g.burn("")
		return Decision{Outcome: AccessDenied}
	}
	if err := g.verify(req.PasswordHash, attempt.Password); err != nil {
		return Decision{Outcome: AccessDenied}
	}

	expires := now.Add(g.ttl)
	if req.ExpiresAt != nil && req.ExpiresAt.Before(expires) {
		expires = *req.ExpiresAt
	}
	token, err := g.issueSession(req.ID, now, expires)
	if err != nil {
		// Verified without a token; the caller must resend the password next poll.
		return Decision{Outcome: Granted}
	}
	return Decision{Outcome: Granted, SessionToken: token, SessionExpiresAt: expires}
}

// verify compares in constant time. Failures are validation errors.
func (g *Gate) verify(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return services.Wrap(services.ErrValidation, "access", "verify password", "password mismatch", nil)
		}
		return services.Wrap(services.ErrValidation, "access", "verify password", "", err)
	}
	return nil
}

// burn spends one comparison against the dummy hash.
func (g *Gate) burn(password string) {
	_ = bcrypt.CompareHashAndPassword(g.dummyHash, []byte(password))
}

func (g *Gate) issueSession(bundleID string, now, expires time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   bundleID,
		Audience:  jwt.ClaimStrings{sessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

func (g *Gate) validSession(token, bundleID string, now time.Time) bool {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return g.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(sessionAudience),
		jwt.WithSubject(bundleID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	return err == nil
}
