// Package archive writes chunk segments to the staging bucket and assembles
// them into the deliverable tar.gz.
//
// Each segment is one gzip member holding the chunk's tar entries without the
// end-of-archive trailer. Finalize concatenates the members in chunk order and
// appends one more member carrying the trailer, which yields a valid tar.gz
// without ever decompressing a segment or buffering the archive in memory.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gocloud.dev/blob"

	"parcel/internal/bundle"
	"parcel/internal/services"
	"parcel/internal/storage"
)

// trailerSize is the two zero blocks that terminate a tar stream.
const trailerSize = 2 * 512

// Archiver owns the staging and archive buckets.
type Archiver struct {
	staging *blob.Bucket
	archive *blob.Bucket
}

// New constructs an Archiver.
func New(staging, archive *blob.Bucket) *Archiver {
	return &Archiver{staging: staging, archive: archive}
}

// SegmentPrefix is the request-scoped staging prefix.
func SegmentPrefix(bundleID string) string {
	return bundleID + "/"
}

// SegmentKey names the staged segment for one chunk.
func SegmentKey(bundleID string, index int) string {
	return fmt.Sprintf("%ssegment-%05d.tgz", SegmentPrefix(bundleID), index)
}

// ArchiveKey names the finished archive in the archive bucket.
func ArchiveKey(bundleID string) string {
	return bundleID + ".tar.gz"
}

type byteCounter struct {
	n int64
}

func (c *byteCounter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// SegmentWriter streams tar entries for one chunk into a staged gzip member.
// Either Commit or Abort must be called.
type SegmentWriter struct {
	key     string
	cancel  context.CancelFunc
	blob    *blob.Writer
	counter *byteCounter
	gz      *gzip.Writer
	tw      *tar.Writer
	done    bool
}

// CreateSegment starts (or restarts) the staged segment for a chunk.
func (a *Archiver) CreateSegment(ctx context.Context, bundleID string, index int) (*SegmentWriter, error) {
	if strings.TrimSpace(bundleID) == "" {
		return nil, services.Wrap(services.ErrValidation, "archive", "create segment", "bundle id is empty", nil)
	}
	key := SegmentKey(bundleID, index)
	writeCtx, cancel := context.WithCancel(ctx)
	w, err := a.staging.NewWriter(writeCtx, key, &blob.WriterOptions{ContentType: "application/gzip"})
	if err != nil {
		cancel()
		return nil, classify("create segment", key, err)
	}
	counter := &byteCounter{}
	gz := gzip.NewWriter(io.MultiWriter(w, counter))
	return &SegmentWriter{
		key:     key,
		cancel:  cancel,
		blob:    w,
		counter: counter,
		gz:      gz,
		tw:      tar.NewWriter(gz),
	}, nil
}

// Key returns the staging key being written.
func (w *SegmentWriter) Key() string {
	return w.key
}

// AddEntry appends one file of exactly size bytes read from r. A reader that
// ends early or runs past size is rejected.
func (w *SegmentWriter) AddEntry(name string, size int64, modTime time.Time, r io.Reader) error {
	if w.done {
		return errors.New("segment already closed")
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     0o644,
		Size:     size,
		ModTime:  modTime.UTC(),
		Format:   tar.FormatPAX,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return services.Wrap(services.ErrTransient, "archive", "write header", name, err)
	}
	copied, err := io.CopyN(w.tw, r, size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return services.Wrap(services.ErrPermanent, "archive", "write entry",
				fmt.Sprintf("%s: short read (%d of %d bytes)", name, copied, size), err)
		}
		return services.Wrap(services.ErrTransient, "archive", "write entry", name, err)
	}
	// The asset must end where its Stat said it would; a grown asset is re-read on retry.
	var extra [1]byte
	if n, err := io.ReadFull(r, extra[:]); n > 0 {
		return services.Wrap(services.ErrTransient, "archive", "write entry",
			fmt.Sprintf("%s: grew past %d bytes while copying", name, size), nil)
	} else if err != nil && !errors.Is(err, io.EOF) {
		return services.Wrap(services.ErrTransient, "archive", "write entry", name, err)
	}
	if err := w.tw.Flush(); err != nil {
		return services.Wrap(services.ErrTransient, "archive", "flush entry", name, err)
	}
	return nil
}

// Commit closes the gzip member and publishes the segment. It returns the
// number of compressed bytes staged.
func (w *SegmentWriter) Commit() (int64, error) {
	if w.done {
		return 0, errors.New("segment already closed")
	}
	w.done = true
	defer w.cancel()
	if err := w.gz.Close(); err != nil {
		w.cancel()
		_ = w.blob.Close()
		return 0, services.Wrap(services.ErrTransient, "archive", "close segment", w.key, err)
	}
	if err := w.blob.Close(); err != nil {
		return 0, classify("commit segment", w.key, err)
	}
	return w.counter.n, nil
}

// Abort discards the segment. Nothing is published.
func (w *SegmentWriter) Abort() {
	if w.done {
		return
	}
	w.done = true
	w.cancel()
	_ = w.blob.Close()
}

// Finalize concatenates every segment of a bundle, in index order, into the
// deliverable archive and reports its size and SHA-256.
func (a *Archiver) Finalize(ctx context.Context, bundleID string, totalChunks int) (bundle.ArchiveResult, error) {
	if totalChunks <= 0 {
		return bundle.ArchiveResult{}, services.Wrap(services.ErrValidation, "archive", "finalize", "bundle has no chunks", nil)
	}
	key := ArchiveKey(bundleID)
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := a.archive.NewWriter(writeCtx, key, &blob.WriterOptions{ContentType: "application/gzip"})
	if err != nil {
		return bundle.ArchiveResult{}, classify("create archive", key, err)
	}
	hash := sha256.New()
	counter := &byteCounter{}
	out := io.MultiWriter(w, hash, counter)

	abort := func(err error) (bundle.ArchiveResult, error) {
		cancel()
		_ = w.Close()
		return bundle.ArchiveResult{}, err
	}

	for i := 0; i < totalChunks; i++ {
		if err := a.copySegment(ctx, out, SegmentKey(bundleID, i)); err != nil {
			return abort(err)
		}
	}

	gz := gzip.NewWriter(out)
	if _, err := gz.Write(make([]byte, trailerSize)); err != nil {
		return abort(services.Wrap(services.ErrTransient, "archive", "write trailer", key, err))
	}
	if err := gz.Close(); err != nil {
		return abort(services.Wrap(services.ErrTransient, "archive", "write trailer", key, err))
	}
	if err := w.Close(); err != nil {
		return bundle.ArchiveResult{}, classify("publish archive", key, err)
	}
	return bundle.ArchiveResult{
		Location:  key,
		SizeBytes: counter.n,
		Checksum:  hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

func (a *Archiver) copySegment(ctx context.Context, dst io.Writer, key string) error {
	r, err := a.staging.NewReader(ctx, key, nil)
	if err != nil {
		if storage.IsNotExist(err) {
			return services.Wrap(services.ErrPermanent, "archive", "finalize", "segment missing: "+key, err)
		}
		return classify("open segment", key, err)
	}
	defer r.Close()
	if _, err := io.Copy(dst, r); err != nil {
		return classify("copy segment", key, err)
	}
	return nil
}

// Release deletes every staged segment of a bundle. Missing segments are not
// an error.
func (a *Archiver) Release(ctx context.Context, bundleID string) error {
	if strings.TrimSpace(bundleID) == "" {
		return nil
	}
	iter := a.staging.List(&blob.ListOptions{Prefix: SegmentPrefix(bundleID)})
	var errs []error
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return classify("list segments", bundleID, err)
		}
		if err := a.staging.Delete(ctx, obj.Key); err != nil && !storage.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("delete %s: %w", obj.Key, err))
		}
	}
	return errors.Join(errs...)
}

// Discard deletes a published archive. A missing archive is not an error.
func (a *Archiver) Discard(ctx context.Context, bundleID string) error {
	key := ArchiveKey(bundleID)
	if err := a.archive.Delete(ctx, key); err != nil && !storage.IsNotExist(err) {
		return classify("discard archive", key, err)
	}
	return nil
}

// StagedBundleIDs lists bundle ids that have at least one staged segment.
func (a *Archiver) StagedBundleIDs(ctx context.Context) ([]string, error) {
	iter := a.staging.List(&blob.ListOptions{Delimiter: "/"})
	var ids []string
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return nil, classify("list staging", "", err)
		}
		if obj.IsDir {
			ids = append(ids, strings.TrimSuffix(obj.Key, "/"))
		}
	}
}

// Usage summarizes the staged segments of one bundle.
type Usage struct {
	Segments int
	Bytes    int64
	Newest   time.Time
}

// SegmentUsage totals the staged segments of a bundle.
func (a *Archiver) SegmentUsage(ctx context.Context, bundleID string) (Usage, error) {
	var usage Usage
	iter := a.staging.List(&blob.ListOptions{Prefix: SegmentPrefix(bundleID)})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			return usage, nil
		}
		if err != nil {
			return Usage{}, classify("list segments", bundleID, err)
		}
		usage.Segments++
		usage.Bytes += obj.Size
		if obj.ModTime.After(usage.Newest) {
			usage.Newest = obj.ModTime
		}
	}
}

// Open streams a finished archive by location.
func (a *Archiver) Open(ctx context.Context, location string) (*blob.Reader, error) {
	r, err := a.archive.NewReader(ctx, location, nil)
	if err != nil {
		if storage.IsNotExist(err) {
			return nil, services.Wrap(services.ErrNotFound, "archive", "open", location, err)
		}
		return nil, classify("open archive", location, err)
	}
	return r, nil
}

func classify(operation, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTransient, "archive", operation, key, err)
	}
	if storage.IsTransient(err) {
		return services.Wrap(services.ErrTransient, "archive", operation, key, err)
	}
	return services.Wrap(services.ErrPermanent, "archive", operation, key, err)
}
