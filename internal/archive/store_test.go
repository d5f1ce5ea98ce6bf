package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/easyvoice/internal/config"
	"github.com/MrWong99/easyvoice/internal/resilience"
)

// partialStore reads a few bytes before failing, like an upload cut off
// mid-stream.
type partialStore struct {
	err   error
	calls int
}

func (p *partialStore) Put(_ context.Context, _ string, r io.Reader, _ int64, _ string) error {
	p.calls++
	_, _ = io.CopyN(io.Discard, r, 2)
	return p.err
}

func TestDirStore_Put(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	s := NewDir(root)
	data := []byte("recorded")

	if err := s.Put(context.Background(), "recordings/2026-03-14/a.evr", bytes.NewReader(data), int64(len(data)), ContentType); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "recordings", "2026-03-14", "a.evr"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("stored %q, want %q", got, data)
	}

	entries, _ := os.ReadDir(filepath.Join(root, "recordings", "2026-03-14"))
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the object", len(entries))
	}
}

func TestDirStore_PutErrors(t *testing.T) {
	t.Parallel()

	s := NewDir(t.TempDir())
	ctx := context.Background()

	if err := s.Put(ctx, "../outside.evr", strings.NewReader("x"), 1, ContentType); err == nil {
		t.Error("key escaping the root was accepted")
	}
	err := s.Put(ctx, "short.evr", strings.NewReader("abc"), 10, ContentType)
	if err == nil || !strings.Contains(err.Error(), "wrote 3 of 10") {
		t.Errorf("size mismatch error = %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(s.root, "short.evr")); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("partial object left behind: %v", statErr)
	}
}

func TestFailoverStore_RewindsForNextMember(t *testing.T) {
	t.Parallel()

	primary := &partialStore{err: errors.New("connection reset")}
	backup := &memStore{}
	f := NewFailover(1, time.Hour)
	f.Add("primary", primary)
	f.Add("backup", backup)

	data := []byte("EVR1 payload")
	if err := f.Put(context.Background(), "k", bytes.NewReader(data), int64(len(data)), ContentType); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !bytes.Equal(backup.objects["k"], data) {
		t.Errorf("backup got %q, want %q", backup.objects["k"], data)
	}
	if got := f.States()["primary"]; got != resilience.Open.String() {
		t.Errorf("primary state = %q, want open", got)
	}

	// The tripped primary is skipped on the next put.
	if err := f.Put(context.Background(), "k2", bytes.NewReader(data), int64(len(data)), ContentType); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary called %d times, want 1", primary.calls)
	}
}

func TestFailoverStore_NotRewindable(t *testing.T) {
	t.Parallel()

	f := NewFailover(1, time.Hour)
	f.Add("primary", &partialStore{err: errors.New("boom")})
	f.Add("backup", &memStore{})

	err := f.Put(context.Background(), "k", io.LimitReader(strings.NewReader("abcdef"), 6), 6, ContentType)
	if !errors.Is(err, ErrNotRewindable) {
		t.Errorf("err = %v, want ErrNotRewindable", err)
	}
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestUpload_FailsOverToDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	f := NewFailover(1, time.Hour)
	f.Add(MemberObjectStore, &memStore{err: errors.New("bucket gone")})
	f.Add(MemberFallbackDir, NewDir(root))

	a := New(f, WithClock(func() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }))
	a.newID = func() string { return "id" }

	key, err := a.Upload(context.Background(), writeRecording(t, []byte("EVR1")))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(key))); err != nil {
		t.Errorf("recording not in fallback dir: %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()

	if _, err := FromConfig(context.Background(), config.ArchiveConfig{}); !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("disabled archive error = %v, want ErrNoEndpoint", err)
	}

	f, err := FromConfig(context.Background(), config.ArchiveConfig{FallbackDir: t.TempDir()})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	states := f.States()
	if len(states) != 1 || states[MemberFallbackDir] != "closed" {
		t.Errorf("members = %v, want only %s", states, MemberFallbackDir)
	}
}
