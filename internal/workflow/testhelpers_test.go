package workflow_test

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"gocloud.dev/blob"

	"parcel/internal/archive"
	"parcel/internal/assets"
	"parcel/internal/bundle"
	"parcel/internal/config"
	"parcel/internal/notifications"
	"parcel/internal/progress"
	"parcel/internal/retry"
	"parcel/internal/revocation"
	"parcel/internal/testsupport"
	"parcel/internal/worker"
	"parcel/internal/workflow"
)

type published struct {
	event   notifications.Event
	payload notifications.Payload
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{event: event, payload: payload})
	return nil
}

func (r *recordingNotifier) byEvent(event notifications.Event) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, p := range r.events {
		if p.event == event {
			out = append(out, p)
		}
	}
	return out
}

type countingAssets struct {
	assets.Store
	mu     sync.Mutex
	opened map[string]int
	onOpen func(id string)
}

func (c *countingAssets) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if c.onOpen != nil {
		c.onOpen(id)
	}
	c.mu.Lock()
	c.opened[id]++
	c.mu.Unlock()
	return c.Store.Open(ctx, id)
}

func (c *countingAssets) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened[id]
}

type harness struct {
	cfg      *config.Config
	store    *bundle.Store
	assets   *blob.Bucket
	staging  *blob.Bucket
	archiver *archive.Archiver
	counting *countingAssets
	notifier *recordingNotifier
	deps     workflow.Dependencies
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	assetBucket := testsupport.MemBucket(t)
	staging := testsupport.MemBucket(t)
	archiver := archive.New(staging, testsupport.MemBucket(t))
	counting := &countingAssets{Store: assets.NewBlobStore(assetBucket), opened: map[string]int{}}
	notifier := &recordingNotifier{}

	pool := worker.New(counting, archiver, progress.NewAggregator(store, nil),
		revocation.NewStoreChecker(store, nil),
		worker.Options{Size: cfg.Workers.PoolSize, Policy: retry.FromConfig(cfg)},
	)
	return &harness{
		cfg:      cfg,
		store:    store,
		assets:   assetBucket,
		staging:  staging,
		archiver: archiver,
		counting: counting,
		notifier: notifier,
		deps: workflow.Dependencies{
			Store:    store,
			Pool:     pool,
			Archiver: archiver,
			Notifier: notifier,
		},
	}
}

func (h *harness) manager(opts ...workflow.ManagerOption) *workflow.Manager {
	opts = append([]workflow.ManagerOption{
		workflow.WithPollInterval(10 * time.Millisecond),
		workflow.WithErrorRetryInterval(10 * time.Millisecond),
	}, opts...)
	return workflow.NewManager(h.cfg, h.deps, opts...)
}

// newBundle stores assets asset-00.bin.. and a pending bundle with one asset per chunk.
func (h *harness) newBundle(t *testing.T, chunks int, opts ...testsupport.BundleOption) *bundle.Request {
	t.Helper()

	req := testsupport.NewBundle(t, h.store, chunks, opts...)
	for _, id := range req.AssetIDs {
		testsupport.PutAsset(t, h.assets, id, 128)
	}
	return req
}

func (h *harness) stagedKeys(t *testing.T) []string {
	t.Helper()

	var keys []string
	iter := h.staging.List(&blob.ListOptions{})
	for {
		obj, err := iter.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return keys
		}
		if err != nil {
			t.Fatalf("list staging: %v", err)
		}
		keys = append(keys, obj.Key)
	}
}

func (h *harness) archiveEntries(t *testing.T, location string) []string {
	t.Helper()

	r, err := h.archiver.Open(context.Background(), location)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer r.Close()
	gz, err := gzip.NewReader(r)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names
		}
		if err != nil {
			t.Fatalf("tar next: %v", err)
		}
		names = append(names, hdr.Name)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
