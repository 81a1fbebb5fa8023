package revocation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"parcel/internal/revocation"
	"parcel/internal/testsupport"
)

func TestStoreCheckerCancelsRevokedFailedAndExpired(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	checker := revocation.NewStoreChecker(store, nil)

	active := testsupport.NewBundle(t, store, 2)
	if cancelled, err := checker.Cancelled(ctx, active.ID); err != nil || cancelled {
		t.Fatalf("active bundle: cancelled=%v err=%v", cancelled, err)
	}

	revoked := testsupport.NewBundle(t, store, 2)
	if _, err := store.Revoke(ctx, revoked.ID, "test"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	failed := testsupport.NewBundle(t, store, 2)
	if _, err := store.MarkFailed(ctx, failed.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	expired := testsupport.NewBundle(t, store, 2, testsupport.WithExpiry(time.Now().Add(-time.Second)))

	for name, id := range map[string]string{"revoked": revoked.ID, "failed": failed.ID, "expired": expired.ID, "missing": "nope"} {
		cancelled, err := checker.Cancelled(ctx, id)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !cancelled {
			t.Fatalf("%s bundle should cancel workers", name)
		}
	}
}

type staticChecker struct {
	cancelled bool
	err       error
}

func (s staticChecker) Cancelled(context.Context, string) (bool, error) {
	return s.cancelled, s.err
}

func TestAnyCombinesCheckers(t *testing.T) {
	boom := errors.New("redis down")
	ctx := context.Background()

	cancelled, err := revocation.Any(staticChecker{err: boom}, staticChecker{cancelled: true}).Cancelled(ctx, "x")
	if err != nil || !cancelled {
		t.Fatalf("expected cancellation to win over errors, got %v %v", cancelled, err)
	}
	cancelled, err = revocation.Any(staticChecker{}, staticChecker{err: boom}, nil).Cancelled(ctx, "x")
	if cancelled || !errors.Is(err, boom) {
		t.Fatalf("expected error without cancellation, got %v %v", cancelled, err)
	}
	cancelled, err = revocation.Any().Cancelled(ctx, "x")
	if cancelled || err != nil {
		t.Fatalf("empty Any should never cancel, got %v %v", cancelled, err)
	}
}

type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]time.Duration
}

func (f *fakeRedis) Set(ctx context.Context, key string, _ any, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func TestRedisSignalPublishAndCheck(t *testing.T) {
	fake := &fakeRedis{keys: map[string]time.Duration{}}
	signal := revocation.NewRedisSignal(fake, "parcel:revoked:", time.Hour)
	ctx := context.Background()

	if cancelled, err := signal.Cancelled(ctx, "b1"); err != nil || cancelled {
		t.Fatalf("unexpected state before publish: %v %v", cancelled, err)
	}
	if err := signal.Publish(ctx, "b1"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ttl, ok := fake.keys["parcel:revoked:b1"]; !ok || ttl != time.Hour {
		t.Fatalf("expected prefixed key with ttl, got %v", fake.keys)
	}
	if cancelled, err := signal.Cancelled(ctx, "b1"); err != nil || !cancelled {
		t.Fatalf("expected cancellation after publish: %v %v", cancelled, err)
	}
	if err := signal.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := signal.Close(); err != nil {
		t.Fatalf("Close on wrapped client: %v", err)
	}
}
