package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"parcel/internal/bundle"
	"parcel/internal/config"
)

// MustOpenStore opens a bundle.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *bundle.Store {
	t.Helper()

	store, err := bundle.Open(cfg)
	if err != nil {
		t.Fatalf("bundle.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// BundleOption adjusts the request built by NewBundle.
type BundleOption func(*bundle.NewRequest)

// WithExpiry sets ExpiresAt on the new bundle.
func WithExpiry(at time.Time) BundleOption {
	return func(r *bundle.NewRequest) {
		r.ExpiresAt = &at
	}
}

// WithPasswordHash gates the new bundle behind a password hash.
func WithPasswordHash(hash string) BundleOption {
	return func(r *bundle.NewRequest) {
		r.PasswordHash = hash
	}
}

// NewBundle creates a pending bundle with one asset per chunk.
func NewBundle(t testing.TB, store *bundle.Store, chunks int, opts ...BundleOption) *bundle.Request {
	t.Helper()

	req := bundle.NewRequest{Label: fmt.Sprintf("test bundle (%d chunks)", chunks)}
	for i := 0; i < chunks; i++ {
		id := fmt.Sprintf("asset-%02d.bin", i)
		req.AssetIDs = append(req.AssetIDs, id)
		req.Chunks = append(req.Chunks, bundle.ChunkPlan{Index: i, AssetIDs: []string{id}, Bytes: 1})
	}
	for _, opt := range opts {
		opt(&req)
	}
	created, err := store.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return created
}

// MustGet fetches a bundle that the test expects to exist.
func MustGet(t testing.TB, store *bundle.Store, id string) *bundle.Request {
	t.Helper()

	req, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if req == nil {
		t.Fatalf("bundle %s not found", id)
	}
	return req
}
