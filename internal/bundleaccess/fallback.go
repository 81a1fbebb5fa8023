package bundleaccess

import (
	"context"
	"fmt"
)

// Session represents a bundle access handle and its cleanup function.
type Session struct {
	Access Access
	// Remote is set when a daemon serves the session.
	Remote bool
	close  func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// LocalOpener builds a store-backed Access and its cleanup.
type LocalOpener func(ctx context.Context) (Access, func() error, error)

// OpenWithFallback tries the daemon's admin API first, then falls back to
// opening the bundle store directly.
func OpenWithFallback(ctx context.Context, client *Client, openLocal LocalOpener) (Session, error) {
	if client != nil {
		if err := client.Ping(ctx); err == nil {
			return Session{Access: client, Remote: true}, nil
		}
	}
	if openLocal == nil {
		return Session{}, fmt.Errorf("open bundle store: no store opener configured")
	}
	local, closeFn, err := openLocal(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("open bundle store: %w", err)
	}
	return Session{Access: local, close: closeFn}, nil
}
