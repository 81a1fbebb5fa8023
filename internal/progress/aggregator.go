// Package progress applies chunk events to bundles and derives the advisory
// progress figures shown to pollers: percentage, stall state, and ETA.
package progress

import (
	"context"
	"log/slog"
	"sync"

	"parcel/internal/bundle"
	"parcel/internal/logging"
	"parcel/internal/services"
)

// EventStore is the persistence the aggregator writes through.
type EventStore interface {
	ApplyChunkEvent(ctx context.Context, id string, event bundle.ChunkEvent) (bundle.ApplyResult, error)
}

// Aggregator is the single writer of chunk counters for each bundle. Events
// for one bundle are applied one at a time; different bundles do not contend.
type Aggregator struct {
	store  EventStore
	locks  *keyedMutex
	logger *slog.Logger
}

// NewAggregator constructs an Aggregator over store.
func NewAggregator(store EventStore, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		locks:  newKeyedMutex(),
		logger: logging.NewComponentLogger(logger, "progress"),
	}
}

// Apply settles one chunk event. Replays and late events return Applied=false.
func (a *Aggregator) Apply(ctx context.Context, bundleID string, event bundle.ChunkEvent) (bundle.ApplyResult, error) {
	unlock := a.locks.lock(bundleID)
	defer unlock()

	result, err := a.store.ApplyChunkEvent(ctx, bundleID, event)
	if err != nil {
		return result, err
	}
	logger := logging.WithContext(services.WithChunkIndex(services.WithBundleID(ctx, bundleID), event.Index), a.logger)
	if !result.Applied {
		logger.Debug("chunk event ignored", logging.String("outcome", string(event.Outcome)))
		return result, nil
	}
	if req := result.Request; req != nil {
		logger.Info("chunk event applied",
			logging.String("outcome", string(event.Outcome)),
			logging.Int("completed_chunks", req.CompletedChunks),
			logging.Int("total_chunks", req.TotalChunks),
			logging.Float64("percent", Percentage(req)),
			logging.String("status", string(req.Status)),
		)
	}
	return result, nil
}

// Deliver implements the worker sink.
func (a *Aggregator) Deliver(ctx context.Context, bundleID string, event bundle.ChunkEvent) error {
	_, err := a.Apply(ctx, bundleID, event)
	return err
}

// keyedMutex hands out one mutex per key. Entries are reference counted and
// dropped once no goroutine holds or waits on them.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
