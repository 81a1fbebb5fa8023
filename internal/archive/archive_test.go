package archive_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"parcel/internal/archive"
	"parcel/internal/services"
	"parcel/internal/testsupport"
)

func writeSegment(t *testing.T, a *archive.Archiver, bundleID string, index int, files map[string]string, order []string) int64 {
	t.Helper()

	w, err := a.CreateSegment(context.Background(), bundleID, index)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	for _, name := range order {
		body := files[name]
		if err := w.AddEntry(name, int64(len(body)), time.Unix(1700000000, 0), strings.NewReader(body)); err != nil {
			t.Fatalf("AddEntry %s: %v", name, err)
		}
	}
	n, err := w.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n <= 0 {
		t.Fatalf("expected staged bytes, got %d", n)
	}
	return n
}

func readArchive(t *testing.T, data []byte) ([]string, map[string]string) {
	t.Helper()

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	tr := tar.NewReader(gz)
	var names []string
	contents := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("tar next: %v", err)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("read entry %s: %v", hdr.Name, err)
		}
		names = append(names, hdr.Name)
		contents[hdr.Name] = string(body)
	}
	return names, contents
}

func TestFinalizeConcatenatesSegmentsInOrder(t *testing.T) {
	staging := testsupport.MemBucket(t)
	archives := testsupport.MemBucket(t)
	a := archive.New(staging, archives)
	ctx := context.Background()

	files := map[string]string{
		"docs/a.txt": "alpha",
		"docs/b.txt": strings.Repeat("b", 700),
		"img/c.png":  "charlie",
	}
	// Written out of order to show finalize orders by index.
	writeSegment(t, a, "bundle-1", 1, files, []string{"img/c.png"})
	writeSegment(t, a, "bundle-1", 0, files, []string{"docs/a.txt", "docs/b.txt"})

	result, err := a.Finalize(ctx, "bundle-1", 2)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if result.Location != archive.ArchiveKey("bundle-1") {
		t.Fatalf("unexpected location %q", result.Location)
	}

	data, err := archives.ReadAll(ctx, result.Location)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if int64(len(data)) != result.SizeBytes {
		t.Fatalf("size mismatch: result %d, stored %d", result.SizeBytes, len(data))
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != result.Checksum {
		t.Fatalf("checksum mismatch")
	}

	names, contents := readArchive(t, data)
	want := []string{"docs/a.txt", "docs/b.txt", "img/c.png"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected entry order %v", names)
	}
	for name, body := range files {
		if contents[name] != body {
			t.Fatalf("entry %s content mismatch", name)
		}
	}
}

func TestFinalizeMissingSegmentIsPermanent(t *testing.T) {
	staging := testsupport.MemBucket(t)
	archives := testsupport.MemBucket(t)
	a := archive.New(staging, archives)

	writeSegment(t, a, "bundle-2", 0, map[string]string{"x": "x"}, []string{"x"})
	_, err := a.Finalize(context.Background(), "bundle-2", 2)
	if err == nil {
		t.Fatal("expected finalize to fail with a missing segment")
	}
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	exists, err := archives.Exists(context.Background(), archive.ArchiveKey("bundle-2"))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("aborted finalize must not publish an archive")
	}
}

func TestAbortPublishesNothing(t *testing.T) {
	staging := testsupport.MemBucket(t)
	a := archive.New(staging, testsupport.MemBucket(t))
	ctx := context.Background()

	w, err := a.CreateSegment(ctx, "bundle-3", 0)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	if err := w.AddEntry("f", 3, time.Now(), strings.NewReader("abc")); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	w.Abort()

	exists, err := staging.Exists(ctx, archive.SegmentKey("bundle-3", 0))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("aborted segment should not be visible")
	}
}

func TestAddEntryShortReadIsPermanent(t *testing.T) {
	a := archive.New(testsupport.MemBucket(t), testsupport.MemBucket(t))
	w, err := a.CreateSegment(context.Background(), "bundle-4", 0)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	defer w.Abort()

	err = w.AddEntry("short", 10, time.Now(), strings.NewReader("abc"))
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent short read error, got %v", err)
	}
}

func TestAddEntryGrownAssetIsTransient(t *testing.T) {
	a := archive.New(testsupport.MemBucket(t), testsupport.MemBucket(t))
	w, err := a.CreateSegment(context.Background(), "bundle-5", 0)
	if err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	defer w.Abort()

	err = w.AddEntry("grown", 3, time.Now(), strings.NewReader("abcdef"))
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error for an asset larger than its size, got %v", err)
	}
	if !strings.Contains(err.Error(), "grew past 3 bytes") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestReleaseAndStagedBundleIDs(t *testing.T) {
	staging := testsupport.MemBucket(t)
	a := archive.New(staging, testsupport.MemBucket(t))
	ctx := context.Background()

	writeSegment(t, a, "keep", 0, map[string]string{"k": "k"}, []string{"k"})
	writeSegment(t, a, "drop", 0, map[string]string{"d": "d"}, []string{"d"})
	writeSegment(t, a, "drop", 1, map[string]string{"e": "e"}, []string{"e"})

	ids, err := a.StagedBundleIDs(ctx)
	if err != nil {
		t.Fatalf("StagedBundleIDs: %v", err)
	}
	if strings.Join(ids, ",") != "drop,keep" {
		t.Fatalf("unexpected staged ids %v", ids)
	}

	if err := a.Release(ctx, "drop"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := a.Release(ctx, "drop"); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	ids, err = a.StagedBundleIDs(ctx)
	if err != nil {
		t.Fatalf("StagedBundleIDs: %v", err)
	}
	if strings.Join(ids, ",") != "keep" {
		t.Fatalf("expected only keep to remain, got %v", ids)
	}
}

func TestOpenMissingArchive(t *testing.T) {
	a := archive.New(testsupport.MemBucket(t), testsupport.MemBucket(t))
	_, err := a.Open(context.Background(), "nope.tar.gz")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDiscardRemovesPublishedArchive(t *testing.T) {
	a := archive.New(testsupport.MemBucket(t), testsupport.MemBucket(t))
	writeSegment(t, a, "gone", 0, map[string]string{"a.txt": "alpha"}, []string{"a.txt"})
	result, err := a.Finalize(context.Background(), "gone", 1)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := a.Discard(context.Background(), "gone"); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := a.Open(context.Background(), result.Location); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected archive removed, got %v", err)
	}
	if err := a.Discard(context.Background(), "gone"); err != nil {
		t.Fatalf("second Discard should be a no-op, got %v", err)
	}
}
