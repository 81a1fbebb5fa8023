// Package assets reads source assets out of the asset bucket. It is the
// fetchAssetBytes collaborator the planner and workers depend on.
package assets

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"gocloud.dev/blob"

	"parcel/internal/services"
	"parcel/internal/storage"
)

// Info describes one asset.
type Info struct {
	ID      string
	Size    int64
	ModTime time.Time
}

// Store is the read side of the asset collaborator.
type Store interface {
	Stat(ctx context.Context, id string) (Info, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
}

// NotFoundError reports an asset that does not exist (for example, already deleted).
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("asset %q not found", e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return services.ErrNotFound
}

// ValidateID rejects identifiers that are empty or would escape the bucket.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("asset id is empty")
	case strings.TrimSpace(id) != id:
		return fmt.Errorf("asset id %q has surrounding whitespace", id)
	case strings.HasPrefix(id, "/"), strings.Contains(id, "\\"):
		return fmt.Errorf("asset id %q must be a relative key", id)
	case path.Clean(id) != id, id == "..", strings.HasPrefix(id, "../"):
		return fmt.Errorf("asset id %q is not a clean key", id)
	}
	return nil
}

// BlobStore serves assets from a gocloud bucket keyed by asset id.
type BlobStore struct {
	bucket *blob.Bucket
}

// NewBlobStore wraps an opened bucket.
func NewBlobStore(bucket *blob.Bucket) *BlobStore {
	return &BlobStore{bucket: bucket}
}

// Stat returns the asset size.
func (s *BlobStore) Stat(ctx context.Context, id string) (Info, error) {
	if err := ValidateID(id); err != nil {
		return Info{}, services.Wrap(services.ErrValidation, "assets", "stat", "", err)
	}
	attrs, err := s.bucket.Attributes(ctx, id)
	if err != nil {
		return Info{}, classify("stat", id, err)
	}
	return Info{ID: id, Size: attrs.Size, ModTime: attrs.ModTime}, nil
}

// Open streams the asset bytes.
func (s *BlobStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ValidateID(id); err != nil {
		return nil, services.Wrap(services.ErrValidation, "assets", "open", "", err)
	}
	reader, err := s.bucket.NewReader(ctx, id, nil)
	if err != nil {
		return nil, classify("open", id, err)
	}
	return reader, nil
}

func classify(operation, id string, err error) error {
	switch {
	case storage.IsNotExist(err):
		return &NotFoundError{ID: id}
	case storage.IsTransient(err):
		return services.Wrap(services.ErrTransient, "assets", operation, id, err)
	default:
		return services.Wrap(services.ErrPermanent, "assets", operation, id, err)
	}
}
