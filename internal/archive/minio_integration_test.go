package archive_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"

	"github.com/MrWong99/easyvoice/internal/archive"
	"github.com/MrWong99/easyvoice/internal/config"
)

func TestMinioStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a MinIO container")
	}
	ctx := t.Context()

	container, err := tcminio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z",
		tcminio.WithUsername("easyvoice"),
		tcminio.WithPassword("easyvoice-secret"),
	)
	if err != nil {
		t.Fatalf("failed to start minio container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate minio container: %v", err)
		}
	}()

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}
	cfg := config.ArchiveConfig{
		Endpoint:  endpoint,
		AccessKey: container.Username,
		SecretKey: container.Password,
		Bucket:    "recordings",
	}

	store, err := archive.NewMinio(cfg)
	if err != nil {
		t.Fatalf("NewMinio: %v", err)
	}
	for range 2 {
		if err := store.EnsureBucket(ctx); err != nil {
			t.Fatalf("EnsureBucket: %v", err)
		}
	}

	data := []byte("EVR1 integration payload")
	if err := store.Put(ctx, "a/b.evr", bytes.NewReader(data), int64(len(data)), archive.ContentType); err != nil {
		t.Fatalf("Put: %v", err)
	}

	client, err := minio.New(endpoint, &minio.Options{Creds: credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")})
	if err != nil {
		t.Fatalf("minio client: %v", err)
	}
	obj, err := client.GetObject(ctx, cfg.Bucket, "a/b.evr", minio.GetObjectOptions{})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer obj.Close()

	got, err := io.ReadAll(obj)
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("object = %q, want %q", got, data)
	}
	info, err := obj.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.ContentType != archive.ContentType {
		t.Errorf("content type = %q, want %q", info.ContentType, archive.ContentType)
	}
}
