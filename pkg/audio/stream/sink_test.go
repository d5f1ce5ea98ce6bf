package stream

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/easyvoice/pkg/audio"
)

// syncBuffer is an io.Writer safe for use by the render goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

// fakeClock is a settable clock for the buffering delay.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1700000000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSink_OpenStreamValidation(t *testing.T) {
	t.Parallel()

	s := New(nil)
	if err := s.OpenStream(0, 10, 0); !errors.Is(err, ErrInvalidStream) {
		t.Errorf("OpenStream(0 rate) = %v, want ErrInvalidStream", err)
	}
	if err := s.OpenStream(16000, 0, 0); !errors.Is(err, ErrInvalidStream) {
		t.Errorf("OpenStream(0 packets) = %v, want ErrInvalidStream", err)
	}
}

func TestSink_UnopenedIsInert(t *testing.T) {
	t.Parallel()

	s := New(nil)
	s.Start()
	s.SubmitPacket([]byte{1, 2}, 16000, audio.FormatInt16)
	if s.IsPlaying() || s.IsGenerating() {
		t.Error("unopened sink started rendering")
	}
	if !s.IsIdling() {
		t.Error("unopened sink not idling")
	}
}

func TestSink_RendersInOrderAfterPrebuffer(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	clock := newFakeClock()
	s := New(out, WithPeriod(time.Millisecond), WithClock(clock.Now))
	if err := s.OpenStream(16000, 10, 10*time.Millisecond); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	s.ResetBuffer(16000, 10*time.Millisecond)
	s.Start()
	t.Cleanup(func() { _ = s.Close() })

	if !s.IsPlaying() || !s.IsActive() || !s.IsGenerating() {
		t.Fatal("Start did not mark the sink playing, active and generating")
	}

	// 5ms: below the 10ms (320 byte) prebuffer.
	first := bytes.Repeat([]byte{0x11}, 160)
	s.SubmitPacket(first, 16000, audio.FormatInt16)
	time.Sleep(10 * time.Millisecond)
	if n := out.Len(); n != 0 {
		t.Fatalf("rendered %d bytes before prebuffer filled", n)
	}

	second := bytes.Repeat([]byte{0x22}, 320)
	s.SubmitPacket(second, 16000, audio.FormatInt16)
	waitFor(t, "render", func() bool { return out.Len() == 480 })

	want := append(bytes.Clone(first), second...)
	if got := out.Bytes(); !bytes.Equal(got, want) {
		t.Error("rendered audio is not the submitted audio in order")
	}
	waitFor(t, "idle", s.IsIdling)

	rendered, overruns := s.Stats()
	if rendered != 480 || overruns != 0 {
		t.Errorf("Stats() = (%d, %d), want (480, 0)", rendered, overruns)
	}
}

func TestSink_ShortUtteranceRendersAfterDelay(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	clock := newFakeClock()
	s := New(out, WithPeriod(5*time.Millisecond), WithClock(clock.Now))
	if err := s.OpenStream(16000, 10, 200*time.Millisecond); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	s.ResetBuffer(16000, 200*time.Millisecond)
	s.Start()
	t.Cleanup(func() { _ = s.Close() })

	// Two 50ms packets: half of the 200ms (6400 byte) prebuffer.
	s.SubmitPacket(bytes.Repeat([]byte{0x44}, 1600), 16000, audio.FormatInt16)
	s.SubmitPacket(bytes.Repeat([]byte{0x55}, 1600), 16000, audio.FormatInt16)
	time.Sleep(20 * time.Millisecond)
	if n := out.Len(); n != 0 {
		t.Fatalf("rendered %d bytes before the delay passed", n)
	}

	clock.Advance(200 * time.Millisecond)
	waitFor(t, "render", func() bool { return out.Len() == 3200 })
	waitFor(t, "idle", s.IsIdling)

	if rendered, _ := s.Stats(); rendered != 3200 {
		t.Errorf("rendered = %d, want 3200", rendered)
	}

	// A reset restarts the wait for the next utterance.
	s.ResetBuffer(16000, 200*time.Millisecond)
	s.SubmitPacket(make([]byte, 320), 16000, audio.FormatInt16)
	time.Sleep(20 * time.Millisecond)
	if n := out.Len(); n != 3200 {
		t.Errorf("rendered %d bytes right after a reset", n-3200)
	}
	clock.Advance(200 * time.Millisecond)
	waitFor(t, "second utterance", func() bool { return out.Len() == 3520 })
}

func TestSink_StopIsAsynchronous(t *testing.T) {
	t.Parallel()

	s := New(nil, WithPeriod(time.Millisecond))
	if err := s.OpenStream(16000, 4, 0); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	s.Start()
	s.Stop()

	if s.IsPlaying() {
		t.Error("IsPlaying after Stop")
	}
	waitFor(t, "renderer exit", func() bool { return !s.IsGenerating() })

	// Restart is possible once the renderer has gone.
	s.Start()
	if !s.IsGenerating() {
		t.Error("restart did not launch a renderer")
	}
	_ = s.Close()
	if s.IsGenerating() {
		t.Error("IsGenerating after Close")
	}
}

func TestSink_SetActive(t *testing.T) {
	t.Parallel()

	s := New(nil)
	s.SetActive(true)
	if !s.IsActive() {
		t.Error("SetActive(true) not reflected")
	}
	s.SetActive(false)
	if s.IsActive() {
		t.Error("SetActive(false) not reflected")
	}
}

func TestSink_ResetBufferDiscardsQueued(t *testing.T) {
	t.Parallel()

	s := New(nil)
	if err := s.OpenStream(16000, 4, 50*time.Millisecond); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	s.SubmitPacket(make([]byte, 640), 16000, audio.FormatInt16)
	if s.IsIdling() {
		t.Fatal("sink idling with queued audio")
	}
	s.ResetBuffer(16000, 50*time.Millisecond)
	if !s.IsIdling() {
		t.Error("ResetBuffer kept queued audio")
	}
}

func TestSink_ResamplesMismatchedRate(t *testing.T) {
	t.Parallel()

	s := New(nil)
	if err := s.OpenStream(16000, 4, 0); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	s.SubmitPacket(make([]byte, 960), 48000, audio.FormatInt16)

	s.mu.Lock()
	queued := s.ring.len()
	s.mu.Unlock()
	if queued != 320 {
		t.Errorf("queued %d bytes, want 320 after 48kHz to 16kHz", queued)
	}
}
