package progress_test

import (
	"context"
	"sync"
	"testing"

	"parcel/internal/bundle"
	"parcel/internal/logging"
	"parcel/internal/progress"
	"parcel/internal/testsupport"
)

func TestAggregatorDeduplicatesConcurrentReplays(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	agg := progress.NewAggregator(store, logging.NewNop())
	ctx := context.Background()

	first := testsupport.NewBundle(t, store, 4)
	second := testsupport.NewBundle(t, store, 3)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for replay := 0; replay < 3; replay++ {
		for _, target := range []*bundle.Request{first, second} {
			for index := target.TotalChunks - 1; index >= 0; index-- {
				wg.Add(1)
				go func(id string, index int) {
					defer wg.Done()
					event := bundle.ChunkEvent{Index: index, Outcome: bundle.OutcomeCompleted, BytesWritten: 8, Attempt: 1}
					if err := agg.Deliver(ctx, id, event); err != nil {
						errs <- err
					}
				}(target.ID, index)
			}
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Deliver: %v", err)
	}

	for _, target := range []*bundle.Request{first, second} {
		got := testsupport.MustGet(t, store, target.ID)
		if got.CompletedChunks != target.TotalChunks || got.FailedChunks != 0 {
			t.Fatalf("bundle %s: unexpected counters %d/%d failed %d", got.ID, got.CompletedChunks, got.TotalChunks, got.FailedChunks)
		}
		if got.Status != bundle.StatusAssembling {
			t.Fatalf("bundle %s: expected assembling, got %s", got.ID, got.Status)
		}
	}
}

func TestAggregatorReportsReplayAsNotApplied(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	agg := progress.NewAggregator(store, nil)
	ctx := context.Background()

	req := testsupport.NewBundle(t, store, 2)
	event := bundle.ChunkEvent{Index: 1, Outcome: bundle.OutcomeCompleted, BytesWritten: 1, Attempt: 1}

	res, err := agg.Apply(ctx, req.ID, event)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Applied || res.Request.CompletedChunks != 1 {
		t.Fatalf("expected first delivery applied, got %+v", res)
	}
	res, err = agg.Apply(ctx, req.ID, event)
	if err != nil {
		t.Fatalf("Apply replay: %v", err)
	}
	if res.Applied {
		t.Fatal("replay must not apply")
	}
	if got := testsupport.MustGet(t, store, req.ID); got.CompletedChunks != 1 {
		t.Fatalf("replay changed counters: %d", got.CompletedChunks)
	}
}
