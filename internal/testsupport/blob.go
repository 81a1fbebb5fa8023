package testsupport

import (
	"bytes"
	"context"
	"net/url"
	"testing"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

// MemBucket opens an in-memory bucket closed at test cleanup.
func MemBucket(t testing.TB) *blob.Bucket {
	t.Helper()

	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open mem bucket: %v", err)
	}
	t.Cleanup(func() {
		bucket.Close()
	})
	return bucket
}

// FileBucketURL renders a fileblob URL that creates dir on first use.
func FileBucketURL(dir string) string {
	u := url.URL{Scheme: "file", Path: dir, RawQuery: "create_dir=true"}
	return u.String()
}

// PutAsset writes size bytes of a repeating pattern under key.
func PutAsset(t testing.TB, bucket *blob.Bucket, key string, size int) []byte {
	t.Helper()

	data := bytes.Repeat([]byte{byte(len(key)%26) + 'a'}, size)
	if err := bucket.WriteAll(context.Background(), key, data, nil); err != nil {
		t.Fatalf("write asset %s: %v", key, err)
	}
	return data
}
