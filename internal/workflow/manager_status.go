package workflow

import (
	"context"
	"sort"

	"parcel/internal/bundle"
	"parcel/internal/logging"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running       bool
	ActiveBundles []string
	LastError     string
	LastBundleID  string
	BundleStats   map[bundle.Status]int
	Health        []ComponentHealth
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastBundle := m.lastBundle
	active := make([]string, 0, len(m.claimed))
	for id := range m.claimed {
		active = append(active, id)
	}
	m.mu.RUnlock()
	sort.Strings(active)

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read bundle stats", logging.Error(err))
	}

	summary := StatusSummary{
		Running:       running,
		ActiveBundles: active,
		LastBundleID:  lastBundle,
		BundleStats:   stats,
		Health:        m.checkHealth(ctx),
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastBundle(id string) {
	m.mu.Lock()
	m.lastBundle = id
	m.mu.Unlock()
}
