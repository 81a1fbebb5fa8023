// Package worker runs chunk assembly for bundles on a bounded pool.
//
// The pool size is a process-wide bound shared by every bundle. Each chunk
// fetches its assets, streams them into a staged archive segment, and reports
// exactly one terminal event to the Sink. Failures never cross the pool
// boundary as errors: a chunk that exhausts its retries becomes a failed event.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"parcel/internal/archive"
	"parcel/internal/assets"
	"parcel/internal/bundle"
	"parcel/internal/logging"
	"parcel/internal/retry"
	"parcel/internal/services"
)

// errCancelled marks an attempt abandoned because the bundle was cancelled.
var errCancelled = errors.New("bundle cancelled")

// Sink receives chunk events. Delivery is at least once.
type Sink interface {
	Deliver(ctx context.Context, bundleID string, event bundle.ChunkEvent) error
}

// CancelChecker reports whether a bundle's remaining work should be abandoned.
type CancelChecker interface {
	Cancelled(ctx context.Context, bundleID string) (bool, error)
}

// Options configures a Pool.
type Options struct {
	Size         int
	ChunkTimeout time.Duration
	Policy       retry.Policy
	Logger       *slog.Logger
}

// Pool executes chunks with a global concurrency bound.
type Pool struct {
	assets       assets.Store
	archiver     *archive.Archiver
	sink         Sink
	checker      CancelChecker
	policy       retry.Policy
	chunkTimeout time.Duration
	sem          *semaphore.Weighted
	logger       *slog.Logger
}

// RunReport summarizes one Run.
type RunReport struct {
	Completed int
	Failed    int
	Cancelled bool
}

// New constructs a Pool. A nil checker never cancels.
func New(store assets.Store, archiver *archive.Archiver, sink Sink, checker CancelChecker, opts Options) *Pool {
	size := opts.Size
	if size <= 0 {
		size = 1
	}
	return &Pool{
		assets:       store,
		archiver:     archiver,
		sink:         sink,
		checker:      checker,
		policy:       opts.Policy,
		chunkTimeout: opts.ChunkTimeout,
		sem:          semaphore.NewWeighted(int64(size)),
		logger:       logging.NewComponentLogger(opts.Logger, "worker"),
	}
}

type runState struct {
	mu        sync.Mutex
	report    RunReport
	stopped   bool
	cancelled bool
}

func (s *runState) stop(cancelled bool) {
	s.mu.Lock()
	s.stopped = true
	if cancelled {
		s.cancelled = true
	}
	s.mu.Unlock()
}

func (s *runState) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *runState) record(outcome bundle.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch outcome {
	case bundle.OutcomeCompleted:
		s.report.Completed++
	case bundle.OutcomeFailed:
		s.report.Failed++
	}
}

// Run executes chunks for one bundle and blocks until every started chunk has
// settled. It stops scheduling after a permanent chunk failure or once the
// bundle is cancelled. The returned error is non-nil only when events could
// not be delivered or ctx ended.
func (p *Pool) Run(ctx context.Context, bundleID string, chunks []bundle.Chunk) (RunReport, error) {
	ctx = services.WithBundleID(ctx, bundleID)
	logger := logging.WithContext(ctx, p.logger)
	state := &runState{}

	g, gctx := errgroup.WithContext(ctx)
	for _, chunk := range chunks {
		if state.isStopped() {
			break
		}
		if err := p.sem.Acquire(gctx, 1); err != nil {
			break
		}
		if state.isStopped() {
			p.sem.Release(1)
			break
		}
		if p.cancelled(gctx, bundleID, logger) {
			p.sem.Release(1)
			state.stop(true)
			break
		}
		g.Go(func() error {
			defer p.sem.Release(1)
			return p.runChunk(gctx, bundleID, chunk, state)
		})
	}
	err := g.Wait()

	state.mu.Lock()
	report := state.report
	report.Cancelled = state.cancelled
	state.mu.Unlock()

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return report, err
	}
	// Chunks already in flight never reach another boundary check.
	if !report.Cancelled && report.Failed == 0 && p.cancelled(ctx, bundleID, logger) {
		report.Cancelled = true
	}

	if report.Cancelled || report.Failed > 0 {
		if relErr := p.archiver.Release(ctx, bundleID); relErr != nil {
			logging.WarnWithContext(logger, "release staged segments failed", "staging_release_failed",
				logging.Error(relErr),
				logging.String(logging.FieldErrorHint, "run parcel check and inspect the staging bucket"),
				logging.String(logging.FieldImpact, "orphaned segments remain until the next startup cleanup"),
			)
		} else {
			logger.Info("released staged segments",
				logging.Bool("cancelled", report.Cancelled),
				logging.Int("failed_chunks", report.Failed),
			)
		}
	}
	return report, nil
}

func (p *Pool) cancelled(ctx context.Context, bundleID string, logger *slog.Logger) bool {
	if p.checker == nil {
		return false
	}
	cancelled, err := p.checker.Cancelled(ctx, bundleID)
	if err != nil {
		// Keep working; the sweep and the next boundary check catch real cancellation.
		logging.WarnWithContext(logger, "cancellation check failed", "cancel_check_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check bundle database and redis connectivity"),
			logging.String(logging.FieldImpact, "revocation may be observed one chunk later"),
		)
		return false
	}
	if cancelled {
		logger.Info("bundle cancelled; abandoning remaining chunks")
	}
	return cancelled
}

func (p *Pool) runChunk(ctx context.Context, bundleID string, chunk bundle.Chunk, state *runState) error {
	ctx = services.WithChunkIndex(ctx, chunk.Index)
	logger := logging.WithContext(ctx, p.logger)
	started := time.Now()

	var written int64
	attempts, err := p.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			if p.cancelled(ctx, bundleID, logger) {
				return errCancelled
			}
			logger.Info("retrying chunk", logging.Int("attempt", attempt))
		}
		n, err := p.assemble(ctx, bundleID, chunk)
		if err != nil {
			return err
		}
		written = n
		return nil
	})

	switch {
	case errors.Is(err, errCancelled):
		state.stop(true)
		return nil
	case err != nil && ctx.Err() != nil:
		// Shutdown; the chunk stays pending and is picked up on resume.
		return nil
	}

	event := bundle.ChunkEvent{Index: chunk.Index, Attempt: attempts}
	if err != nil {
		details := services.Details(err)
		event.Outcome = bundle.OutcomeFailed
		event.Reason = details.Message
		state.stop(false)
		logger.Error("chunk failed permanently",
			logging.Int("attempts", attempts),
			logging.String("error_kind", details.Kind),
			logging.Error(err),
			logging.String(logging.FieldEventType, "chunk_failed"),
			logging.String(logging.FieldErrorHint, "inspect the asset bucket for the listed asset"),
		)
	} else {
		event.Outcome = bundle.OutcomeCompleted
		event.BytesWritten = written
		logger.Info("chunk completed",
			logging.Int("assets", len(chunk.AssetIDs)),
			logging.Int64("bytes_written", written),
			logging.Int("attempts", attempts),
			logging.Duration("elapsed", time.Since(started)),
		)
	}

	if err := p.deliver(ctx, bundleID, event); err != nil {
		return fmt.Errorf("deliver chunk %d event: %w", chunk.Index, err)
	}
	state.record(event.Outcome)
	return nil
}

// assemble performs one attempt: a fresh segment with every asset of the chunk.
func (p *Pool) assemble(ctx context.Context, bundleID string, chunk bundle.Chunk) (int64, error) {
	if p.chunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.chunkTimeout)
		defer cancel()
	}

	segment, err := p.archiver.CreateSegment(ctx, bundleID, chunk.Index)
	if err != nil {
		return 0, timeoutAware(ctx, err)
	}
	for _, id := range chunk.AssetIDs {
		if err := p.appendAsset(ctx, segment, id); err != nil {
			segment.Abort()
			return 0, timeoutAware(ctx, err)
		}
	}
	n, err := segment.Commit()
	if err != nil {
		return 0, timeoutAware(ctx, err)
	}
	return n, nil
}

func (p *Pool) appendAsset(ctx context.Context, segment *archive.SegmentWriter, id string) error {
	info, err := p.assets.Stat(ctx, id)
	if err != nil {
		return err
	}
	body, err := p.assets.Open(ctx, id)
	if err != nil {
		return err
	}
	defer body.Close()
	return segment.AddEntry(id, info.Size, info.ModTime, body)
}

func timeoutAware(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "worker", "assemble chunk", "attempt timed out", err)
	}
	return err
}

// deliver hands an event to the sink, retrying while the store is unavailable.
func (p *Pool) deliver(ctx context.Context, bundleID string, event bundle.ChunkEvent) error {
	_, err := p.policy.Do(ctx, func(ctx context.Context, _ int) error {
		return p.sink.Deliver(ctx, bundleID, event)
	})
	return err
}
