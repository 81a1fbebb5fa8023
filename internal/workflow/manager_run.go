package workflow

import (
	"context"
	"errors"
	"time"

	"parcel/internal/bundle"
	"parcel/internal/logging"
	"parcel/internal/services"
)

var dispatchStatuses = []bundle.Status{
	bundle.StatusPending,
	bundle.StatusChunking,
	bundle.StatusAssembling,
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.store == nil || m.pool == nil || m.archiver == nil {
		m.mu.Unlock()
		return errors.New("workflow dependencies not configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.dispatch(runCtx)
	return nil
}

// Stop terminates background processing and waits for in-flight bundles to
// reach a chunk boundary.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Wake asks the dispatcher to look for work without waiting for the next poll.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) dispatch(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case m.slots <- struct{}{}:
		}

		req, err := m.store.NextForStatuses(ctx, m.claimedSnapshot(), dispatchStatuses...)
		if err != nil {
			<-m.slots
			m.handleNextError(ctx, err)
			continue
		}
		if req == nil {
			<-m.slots
			m.waitForWork(ctx)
			continue
		}

		id := req.ID
		m.claim(id)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer func() {
				m.release(id)
				<-m.slots
			}()
			m.runBundle(ctx, id)
		}()
	}
}

func (m *Manager) runBundle(ctx context.Context, bundleID string) {
	err := m.Process(ctx, bundleID)
	if err == nil {
		return
	}
	logger := logging.WithContext(services.WithBundleID(ctx, bundleID), m.logger)
	if ctx.Err() != nil {
		logger.Info("bundle interrupted by shutdown; pending chunks resume on restart")
		return
	}
	m.setLastError(err)
	logging.WarnWithContext(logger, "bundle processing interrupted; will retry", "bundle_retry_scheduled",
		logging.Error(err),
		logging.String("error_kind", services.Kind(err)),
		logging.Duration("retry_in", m.errorInterval),
		logging.String(logging.FieldErrorHint, "check bucket and database connectivity"),
		logging.String(logging.FieldImpact, "bundle stays in its processing status until the retry"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.errorInterval):
	}
}

func (m *Manager) handleNextError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	m.setLastError(err)
	logging.ErrorWithContext(m.logger, "failed to fetch next bundle", "bundle_fetch_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check bundle database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.errorInterval):
	}
}

func (m *Manager) waitForWork(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-m.wake:
	case <-time.After(m.pollInterval):
	}
}

func (m *Manager) claim(id string) {
	m.mu.Lock()
	m.claimed[id] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.claimed, id)
	m.mu.Unlock()
}

func (m *Manager) claimedSnapshot() map[string]struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]struct{}, len(m.claimed))
	for id := range m.claimed {
		out[id] = struct{}{}
	}
	return out
}
