package assets_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"parcel/internal/assets"
	"parcel/internal/services"
	"parcel/internal/testsupport"
)

func TestBlobStoreStatAndOpen(t *testing.T) {
	bucket := testsupport.MemBucket(t)
	want := testsupport.PutAsset(t, bucket, "photos/one.jpg", 1500)
	store := assets.NewBlobStore(bucket)
	ctx := context.Background()

	info, err := store.Stat(ctx, "photos/one.jpg")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != 1500 {
		t.Fatalf("expected size 1500, got %d", info.Size)
	}

	rc, err := store.Open(ctx, "photos/one.jpg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatal("asset bytes differ")
	}
}

func TestBlobStoreNotFound(t *testing.T) {
	store := assets.NewBlobStore(testsupport.MemBucket(t))

	_, err := store.Open(context.Background(), "gone.bin")
	var nf *assets.NotFoundError
	if !errors.As(err, &nf) || nf.ID != "gone.bin" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound marker, got %v", err)
	}
}

func TestValidateID(t *testing.T) {
	good := []string{"a.bin", "dir/file.txt", "deep/nested/key"}
	bad := []string{"", " a", "/abs", "../escape", "a/../../b", "dir//double", "win\\path", ".."}
	for _, id := range good {
		if err := assets.ValidateID(id); err != nil {
			t.Fatalf("expected %q valid, got %v", id, err)
		}
	}
	for _, id := range bad {
		if err := assets.ValidateID(id); err == nil {
			t.Fatalf("expected %q rejected", id)
		}
	}
}
