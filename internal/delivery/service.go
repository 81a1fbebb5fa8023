package delivery

import (
	"context"
	"errors"
	"time"

	"parcel/internal/access"
	"parcel/internal/bundle"
	"parcel/internal/services"
)

// BundleReader is the read side of the bundle store.
type BundleReader interface {
	Get(ctx context.Context, id string) (*bundle.Request, error)
}

// Service answers polls: read the bundle, ask the gate, project.
type Service struct {
	store BundleReader
	gate  *access.Gate
	opts  Options
	now   func() time.Time
}

// NewService constructs a Service. A nil now uses time.Now.
func NewService(store BundleReader, gate *access.Gate, opts Options, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, gate: gate, opts: opts, now: now}
}

// Poll is safe to repeat at any interval. The only error it returns is a
// retryable services.ErrUnavailable when the store cannot be read.
func (s *Service) Poll(ctx context.Context, bundleID string, attempt access.Attempt) (Snapshot, error) {
	var req *bundle.Request
	if bundleID != "" {
		var err error
		req, err = s.store.Get(ctx, bundleID)
		if err != nil {
			if errors.Is(err, services.ErrUnavailable) {
				return Snapshot{}, err
			}
			return Snapshot{}, services.Wrap(services.ErrUnavailable, "delivery", "poll", "read bundle", err)
		}
	}
	decision := s.gate.Evaluate(req, attempt)
	return Project(req, decision, s.now(), s.opts), nil
}

// Options returns the projection settings.
func (s *Service) Options() Options {
	return s.opts
}
