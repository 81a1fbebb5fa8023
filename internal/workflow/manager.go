package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"parcel/internal/archive"
	"parcel/internal/bundle"
	"parcel/internal/config"
	"parcel/internal/logging"
	"parcel/internal/notifications"
	"parcel/internal/retry"
	"parcel/internal/worker"
)

// Dependencies are the collaborators a Manager drives.
type Dependencies struct {
	Store    *bundle.Store
	Pool     *worker.Pool
	Archiver *archive.Archiver
	Notifier notifications.Service
	Logger   *slog.Logger
}

// Manager coordinates bundle processing.
type Manager struct {
	cfg           *config.Config
	store         *bundle.Store
	pool          *worker.Pool
	archiver      *archive.Archiver
	publisher     publisher
	logger        *slog.Logger
	pollInterval  time.Duration
	errorInterval time.Duration
	finalize      retry.Policy
	now           func() time.Time
	health        []namedCheck

	slots chan struct{}
	wake  chan struct{}

	mu         sync.RWMutex
	running    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	lastErr    error
	lastBundle string
	claimed    map[string]struct{}
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithPollInterval overrides workflow.queue_poll_interval.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithErrorRetryInterval overrides workflow.error_retry_interval.
func WithErrorRetryInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.errorInterval = d
		}
	}
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, deps Dependencies, opts ...ManagerOption) *Manager {
	logger := logging.NewComponentLogger(deps.Logger, "workflow")
	concurrent := cfg.Workers.MaxConcurrentBundles
	if concurrent <= 0 {
		concurrent = 1
	}
	m := &Manager{
		cfg:           cfg,
		store:         deps.Store,
		pool:          deps.Pool,
		archiver:      deps.Archiver,
		publisher:     publisher{notifier: deps.Notifier, logger: logger},
		logger:        logger,
		pollInterval:  secondsOr(cfg.Workflow.QueuePollInterval, time.Second),
		errorInterval: secondsOr(cfg.Workflow.ErrorRetryInterval, time.Second),
		finalize:      retry.FromConfig(cfg),
		now:           time.Now,
		slots:         make(chan struct{}, concurrent),
		wake:          make(chan struct{}, 1),
		claimed:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
