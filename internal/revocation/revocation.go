// Package revocation tells in-flight workers that a bundle's remaining work
// should be abandoned. Workers poll a Checker at chunk boundaries.
package revocation

import (
	"context"
	"errors"
	"time"

	"parcel/internal/bundle"
)

// Checker reports whether a bundle has been cancelled.
type Checker interface {
	Cancelled(ctx context.Context, bundleID string) (bool, error)
}

// Publisher broadcasts a revocation to other processes.
type Publisher interface {
	Publish(ctx context.Context, bundleID string) error
}

// BundleReader is the read side of the bundle store.
type BundleReader interface {
	Get(ctx context.Context, id string) (*bundle.Request, error)
}

// StoreChecker reads cancellation from the bundle record: revoked, failed
// (for example by the timeout sweep), expired, or missing bundles cancel.
type StoreChecker struct {
	store BundleReader
	now   func() time.Time
}

// NewStoreChecker constructs a StoreChecker. A nil now uses time.Now.
func NewStoreChecker(store BundleReader, now func() time.Time) *StoreChecker {
	if now == nil {
		now = time.Now
	}
	return &StoreChecker{store: store, now: now}
}

// Cancelled implements Checker.
func (c *StoreChecker) Cancelled(ctx context.Context, bundleID string) (bool, error) {
	req, err := c.store.Get(ctx, bundleID)
	if err != nil {
		return false, err
	}
	if req == nil {
		return true, nil
	}
	switch {
	case req.IsRevoked(), req.Status == bundle.StatusFailed, req.Status == bundle.StatusRevoked:
		return true, nil
	case req.IsExpired(c.now()):
		return true, nil
	}
	return false, nil
}

type anyChecker []Checker

// Any cancels when at least one checker does. Errors are reported only when
// no checker cancelled.
func Any(checkers ...Checker) Checker {
	out := make(anyChecker, 0, len(checkers))
	for _, c := range checkers {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (a anyChecker) Cancelled(ctx context.Context, bundleID string) (bool, error) {
	var errs []error
	for _, c := range a {
		cancelled, err := c.Cancelled(ctx, bundleID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if cancelled {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}
