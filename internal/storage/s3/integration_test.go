//go:build integration

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/planlens/planlens/internal/storage"
)

func integrationStore(t *testing.T) *Store {
	t.Helper()
	endpoint := strings.TrimSpace(os.Getenv("PLANLENS_TEST_S3_ENDPOINT"))
	if endpoint == "" {
		t.Skip("PLANLENS_TEST_S3_ENDPOINT is not set")
	}
	setting := func(key, fallback string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := New(ctx, Config{
		Endpoint:         endpoint,
		Region:           setting("PLANLENS_TEST_S3_REGION", "us-east-1"),
		Bucket:           setting("PLANLENS_TEST_S3_BUCKET", "planlens-it"),
		AccessKeyID:      setting("PLANLENS_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  setting("PLANLENS_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "it-" + uuid.NewString(),
		AutoCreateBucket: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return store
}

func TestUploadedSourceLifecycleAgainstMinIO(t *testing.T) {
	store := integrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	key, err := storage.BuildDatasetObjectPath("owner-it", uuid.NewString(), "csv")
	if err != nil {
		t.Fatalf("BuildDatasetObjectPath() error = %v", err)
	}
	source := []byte("city,sales\nParis,10\nLyon,5\n")

	info, err := store.Put(ctx, key, bytes.NewReader(source), int64(len(source)), storage.PutOptions{ContentType: "text/csv"})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if info.Size != int64(len(source)) {
		t.Fatalf("Put().Size = %d, want %d", info.Size, len(source))
	}

	rc, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, source) {
		t.Fatalf("Get() = %q, want %q", got, source)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrObjectNotFound", err)
	}
}

func TestRejectsTraversalKeysAgainstMinIO(t *testing.T) {
	store := integrationStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := store.Stat(ctx, "../escape/source.csv"); !errors.Is(err, storage.ErrInvalidPathComponent) {
		t.Fatalf("Stat(traversal) error = %v, want ErrInvalidPathComponent", err)
	}
}
