// Package storage opens the gocloud blob buckets parcel reads assets from,
// stages chunk segments in, and publishes finished archives to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"parcel/internal/config"
)

// Buckets groups the three buckets a daemon works with.
type Buckets struct {
	Assets  *blob.Bucket
	Staging *blob.Bucket
	Archive *blob.Bucket
}

// Open opens every configured bucket. Already opened buckets are closed when
// a later one fails.
func Open(ctx context.Context, cfg *config.Config) (*Buckets, error) {
	if cfg == nil {
		return nil, errors.New("storage: config is nil")
	}
	b := &Buckets{}
	var err error
	if b.Assets, err = blob.OpenBucket(ctx, cfg.Storage.AssetBucket); err != nil {
		return nil, fmt.Errorf("open asset bucket: %w", err)
	}
	if b.Staging, err = blob.OpenBucket(ctx, cfg.Storage.StagingBucket); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("open staging bucket: %w", err)
	}
	if b.Archive, err = blob.OpenBucket(ctx, cfg.Storage.ArchiveBucket); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("open archive bucket: %w", err)
	}
	return b, nil
}

// Close closes every opened bucket.
func (b *Buckets) Close() error {
	if b == nil {
		return nil
	}
	var errs []error
	for _, bucket := range []*blob.Bucket{b.Assets, b.Staging, b.Archive} {
		if bucket == nil {
			continue
		}
		if err := bucket.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsNotExist reports whether err means the object does not exist.
func IsNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}

// IsTransient reports whether a bucket error is worth retrying.
func IsTransient(err error) bool {
	switch gcerrors.Code(err) {
	case gcerrors.NotFound, gcerrors.InvalidArgument, gcerrors.PermissionDenied,
		gcerrors.FailedPrecondition, gcerrors.Unimplemented:
		return false
	default:
		return true
	}
}

// Ping checks that a bucket answers a listing request.
func Ping(ctx context.Context, bucket *blob.Bucket) error {
	if bucket == nil {
		return errors.New("bucket not opened")
	}
	iter := bucket.List(&blob.ListOptions{})
	if _, err := iter.Next(ctx); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
