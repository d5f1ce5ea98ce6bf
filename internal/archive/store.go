package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/easyvoice/internal/config"
	"github.com/MrWong99/easyvoice/internal/observe"
	"github.com/MrWong99/easyvoice/internal/resilience"
)

// ErrNotRewindable is returned by [FailoverStore.Put] when a member failed
// part-way and the reader cannot be rewound for the next one.
var ErrNotRewindable = errors.New("archive: reader cannot be rewound")

// DirStore is a [Store] that writes objects below a local directory, one file
// per key.
type DirStore struct {
	root string
}

var _ Store = (*DirStore)(nil)

// NewDir returns a DirStore rooted at root. The directory is created on the
// first Put.
func NewDir(root string) *DirStore {
	return &DirStore{root: root}
}

// Put implements [Store]. The object appears atomically under its final name.
func (s *DirStore) Put(_ context.Context, key string, r io.Reader, size int64, _ string) error {
	clean := filepath.FromSlash(key)
	if !filepath.IsLocal(clean) {
		return fmt.Errorf("archive: key %q escapes %s", key, s.root)
	}
	dst := filepath.Join(s.root, clean)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("archive: write %q: %w", key, err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("archive: wrote %d of %d bytes for %q", n, size, key)
	}
	return os.Rename(tmp.Name(), dst)
}

// FailoverStore puts each object into the first member that accepts it.
// Members that keep failing are skipped for a while.
type FailoverStore struct {
	group *resilience.Group[Store]
}

var _ Store = (*FailoverStore)(nil)

// NewFailover returns an empty FailoverStore whose members trip after
// maxFailures consecutive errors and are retried after coolDown.
func NewFailover(maxFailures int, coolDown time.Duration) *FailoverStore {
	return &FailoverStore{group: resilience.NewGroup[Store](resilience.BreakerConfig{
		MaxFailures: maxFailures,
		CoolDown:    coolDown,
	})}
}

// Add appends a member. Members are tried in the order they were added.
func (f *FailoverStore) Add(name string, s Store) {
	f.group.Add(name, s)
}

// Put implements [Store]. r is rewound between members when it implements
// io.Seeker.
func (f *FailoverStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	seeker, _ := r.(io.Seeker)
	var start int64
	if seeker != nil {
		var err error
		if start, err = seeker.Seek(0, io.SeekCurrent); err != nil {
			seeker = nil
		}
	}

	attempts := 0
	served, err := f.group.Do(ctx, func(ctx context.Context, s Store) error {
		if attempts > 0 {
			if seeker == nil {
				return ErrNotRewindable
			}
			if _, err := seeker.Seek(start, io.SeekStart); err != nil {
				return fmt.Errorf("archive: rewind: %w", err)
			}
		}
		attempts++
		return s.Put(ctx, key, r, size, contentType)
	})
	if err != nil {
		return err
	}
	observe.Logger(ctx).Debug("archive: object stored", slog.String("key", key), slog.String("store", served))
	return nil
}

// States reports the circuit state of each member.
func (f *FailoverStore) States() map[string]string {
	out := make(map[string]string, f.group.Len())
	for name, st := range f.group.States() {
		out[name] = st.String()
	}
	return out
}

// Store member names used by [FromConfig].
const (
	MemberObjectStore = "object-store"
	MemberFallbackDir = "fallback-dir"
)

// FromConfig builds the store cfg describes: the object store first, then
// the fallback directory. A bucket that cannot be prepared is only logged;
// the upload at the end of the session fails over if it is still missing.
func FromConfig(ctx context.Context, cfg config.ArchiveConfig) (*FailoverStore, error) {
	if !cfg.Enabled() {
		return nil, ErrNoEndpoint
	}
	f := NewFailover(1, time.Minute)
	if cfg.Endpoint != "" {
		s, err := NewMinio(cfg)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			slog.Warn("archive bucket not ready", "bucket", cfg.Bucket, "err", err)
		}
		f.Add(MemberObjectStore, s)
	}
	if dir := strings.TrimSpace(cfg.FallbackDir); dir != "" {
		f.Add(MemberFallbackDir, NewDir(dir))
	}
	return f, nil
}
