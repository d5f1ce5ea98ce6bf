// Package archive uploads finished session recordings to S3-compatible object
// storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/MrWong99/easyvoice/internal/config"
	"github.com/MrWong99/easyvoice/internal/observe"
)

// ContentType is attached to every uploaded recording.
const ContentType = "application/x-easyvoice-recording"

// ErrNoEndpoint is returned by [NewMinio] for a config without an endpoint.
var ErrNoEndpoint = errors.New("archive: endpoint not configured")

// Store puts objects into a bucket.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// MinioStore is a [Store] backed by minio-go.
type MinioStore struct {
	client *minio.Client
	bucket string
}

var _ Store = (*MinioStore)(nil)

// NewMinio creates a client for cfg. It does not contact the server.
func NewMinio(cfg config.ArchiveConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: create client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket unless this account already owns it.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return fmt.Errorf("archive: make bucket %q: %w", s.bucket, err)
	}
	return nil
}

// Put implements [Store].
func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// Archiver names and uploads recordings.
type Archiver struct {
	store  Store
	prefix string
	now    func() time.Time
	newID  func() string
}

// Option configures an [Archiver].
type Option func(*Archiver)

// WithPrefix sets the key prefix. The default is "recordings".
func WithPrefix(p string) Option {
	return func(a *Archiver) { a.prefix = p }
}

// WithClock replaces time.Now when dating keys.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// New returns an Archiver writing to store.
func New(store Store, opts ...Option) *Archiver {
	a := &Archiver{
		store:  store,
		prefix: "recordings",
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Upload stores the file at p under <prefix>/<yyyy-mm-dd>/<uuid>.evr and
// returns the key.
func (a *Archiver) Upload(ctx context.Context, p string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "archive.upload")
	defer span.End()

	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("archive: open %q: %w", p, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("archive: stat %q: %w", p, err)
	}

	key := path.Join(a.prefix, a.now().UTC().Format(time.DateOnly), a.newID()+".evr")
	if err := a.store.Put(ctx, key, f, info.Size(), ContentType); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("archive: put %q: %w", key, err)
	}

	observe.Logger(ctx).Info("recording archived", slog.String("key", key), slog.Int64("bytes", info.Size()))
	return key, nil
}
