package access_test

import (
	"errors"
	"testing"
	"time"

	"parcel/internal/access"
	"parcel/internal/bundle"
	"parcel/internal/services"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newGate(t *testing.T, c *clock) *access.Gate {
	t.Helper()

	gate, err := access.NewGate(access.Options{
		BcryptCost:    4,
		SessionSecret: "unit-test-secret",
		SessionTTL:    30 * time.Minute,
		Now:           c.Now,
	})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return gate
}

func gatedRequest(t *testing.T, gate *access.Gate, id, password string) *bundle.Request {
	t.Helper()

	hash, err := gate.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return &bundle.Request{ID: id, Status: bundle.StatusReady, PasswordHash: hash}
}

func TestEvaluatePrecedence(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	gate := newGate(t, c)
	past := c.now.Add(-time.Second)
	future := c.now.Add(time.Hour)
	revokedAt := c.now.Add(-time.Minute)

	gated := gatedRequest(t, gate, "gated", "hunter2")

	revokedAndExpired := *gated
	revokedAndExpired.RevokedAt = &revokedAt
	revokedAndExpired.ExpiresAt = &past

	expired := *gated
	expired.ExpiresAt = &past

	open := &bundle.Request{ID: "open", Status: bundle.StatusChunking, ExpiresAt: &future}

	cases := []struct {
		name    string
		req     *bundle.Request
		attempt access.Attempt
		want    access.Outcome
	}{
		{"missing bundle", nil, access.Attempt{}, access.NotFound},
		{"missing bundle with password", nil, access.Attempt{Password: "hunter2"}, access.NotFound},
		{"revoked wins over expired", &revokedAndExpired, access.Attempt{Password: "hunter2"}, access.Revoked},
		{"expired wins over password", &expired, access.Attempt{Password: "hunter2"}, access.Expired},
		{"gated without password", gated, access.Attempt{}, access.AccessDenied},
		{"gated with wrong password", gated, access.Attempt{Password: "nope"}, access.AccessDenied},
		{"gated with correct password", gated, access.Attempt{Password: "hunter2"}, access.Granted},
		{"ungated", open, access.Attempt{}, access.Granted},
		{"ungated ignores password", open, access.Attempt{Password: "anything"}, access.Granted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := gate.Evaluate(tc.req, tc.attempt)
			if got.Outcome != tc.want {
				t.Fatalf("got %s, want %s", got.Outcome, tc.want)
			}
			if got.Outcome != access.Granted && got.SessionToken != "" {
				t.Fatal("session token issued without admission")
			}
		})
	}
}

func TestSessionTokenCarriesVerification(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	gate := newGate(t, c)
	req := gatedRequest(t, gate, "bundle-a", "correct horse")
	other := gatedRequest(t, gate, "bundle-b", "correct horse")

	verified := gate.Evaluate(req, access.Attempt{Password: "correct horse"})
	if verified.Outcome != access.Granted || verified.SessionToken == "" {
		t.Fatalf("expected granted with session token, got %+v", verified)
	}
	if !verified.SessionExpiresAt.Equal(c.now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected session expiry %s", verified.SessionExpiresAt)
	}

	again := gate.Evaluate(req, access.Attempt{SessionToken: verified.SessionToken})
	if again.Outcome != access.Granted {
		t.Fatalf("expected session to grant access, got %s", again.Outcome)
	}
	if again.SessionToken != "" {
		t.Fatal("session reuse should not mint a new token")
	}

	if got := gate.Evaluate(other, access.Attempt{SessionToken: verified.SessionToken}); got.Outcome != access.AccessDenied {
		t.Fatalf("token must not unlock another bundle, got %s", got.Outcome)
	}
	if got := gate.Evaluate(req, access.Attempt{SessionToken: "garbage"}); got.Outcome != access.AccessDenied {
		t.Fatalf("garbage token must be denied, got %s", got.Outcome)
	}

	c.now = c.now.Add(31 * time.Minute)
	if got := gate.Evaluate(req, access.Attempt{SessionToken: verified.SessionToken}); got.Outcome != access.AccessDenied {
		t.Fatalf("expired session must be denied, got %s", got.Outcome)
	}
}

func TestSessionExpiryCappedByBundleExpiry(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	gate := newGate(t, c)
	req := gatedRequest(t, gate, "short", "pw")
	soon := c.now.Add(5 * time.Minute)
	req.ExpiresAt = &soon

	got := gate.Evaluate(req, access.Attempt{Password: "pw"})
	if !got.SessionExpiresAt.Equal(soon) {
		t.Fatalf("expected session capped at bundle expiry %s, got %s", soon, got.SessionExpiresAt)
	}
}

func TestSessionTokenRejectedByOtherSecret(t *testing.T) {
	c := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	gate := newGate(t, c)
	req := gatedRequest(t, gate, "bundle", "pw")
	token := gate.Evaluate(req, access.Attempt{Password: "pw"}).SessionToken

	otherGate, err := access.NewGate(access.Options{BcryptCost: 4, SessionSecret: "different", Now: c.Now})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	if got := otherGate.Evaluate(req, access.Attempt{SessionToken: token}); got.Outcome != access.AccessDenied {
		t.Fatalf("token signed with another secret must be denied, got %s", got.Outcome)
	}
}

func TestHashPasswordValidation(t *testing.T) {
	gate := newGate(t, &clock{now: time.Now()})
	if _, err := gate.HashPassword(""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty password, got %v", err)
	}
	long := make([]byte, 73)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := gate.HashPassword(string(long)); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for long password, got %v", err)
	}
}
