package voip

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/easyvoice/pkg/audio"
	"github.com/MrWong99/easyvoice/pkg/audio/mock"
	"github.com/MrWong99/easyvoice/pkg/audio/stream"
)

func newStartedPlayback(t *testing.T, opts ...Option) (*Playback, *mock.Sink, *mock.Decoder) {
	t.Helper()
	sink := &mock.Sink{}
	dec := &mock.Decoder{N: 640, Fill: 0x33}
	p := NewPlayback(sink, DefaultSettings(), opts...)
	if err := p.Start(&mock.Module{DecoderResult: dec}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p, sink, dec
}

func TestPlayback_Start(t *testing.T) {
	t.Parallel()

	_, sink, _ := newStartedPlayback(t)
	s := DefaultSettings()

	wantOpen := []mock.OpenStreamCall{{
		SampleRate:      s.SampleRate,
		BufferedPackets: s.NumBufferedPackets,
		BufferingDelay:  s.BufferingDelay,
	}}
	if diff := cmp.Diff(wantOpen, sink.OpenStreamCalls); diff != "" {
		t.Errorf("OpenStream calls mismatch (-want +got):\n%s", diff)
	}
	if len(sink.ResetBufferCalls) != 1 {
		t.Errorf("ResetBuffer called %d times, want 1", len(sink.ResetBufferCalls))
	}
	if sink.CallCountStart != 0 {
		t.Error("Start began playback before any packet arrived")
	}
}

func TestPlayback_StartFailures(t *testing.T) {
	t.Parallel()

	t.Run("no decoder", func(t *testing.T) {
		t.Parallel()
		sink := &mock.Sink{}
		p := NewPlayback(sink, DefaultSettings())
		err := p.Start(&mock.Module{DecoderError: errors.New("gone")})
		if !errors.Is(err, ErrNoDecoder) {
			t.Errorf("Start() = %v, want ErrNoDecoder", err)
		}
		if len(sink.OpenStreamCalls) != 0 {
			t.Error("sink opened without a decoder")
		}
	})

	t.Run("open stream fails", func(t *testing.T) {
		t.Parallel()
		openErr := errors.New("device busy")
		p := NewPlayback(&mock.Sink{OpenStreamError: openErr}, DefaultSettings())
		if err := p.Start(&mock.Module{DecoderResult: &mock.Decoder{}}); !errors.Is(err, openErr) {
			t.Errorf("Start() = %v, want %v", err, openErr)
		}
		if p.Started() {
			t.Error("Started() = true after failed Start")
		}
	})
}

func TestPlayback_SubmitBeforeStartIsIgnored(t *testing.T) {
	t.Parallel()

	sink := &mock.Sink{}
	p := NewPlayback(sink, DefaultSettings())
	p.Submit([]byte{1, 2, 3})

	if len(sink.Submitted) != 0 || sink.CallCountStart != 0 {
		t.Error("Submit before Start touched the sink")
	}
}

func TestPlayback_SubmitStartsSinkAndQueues(t *testing.T) {
	t.Parallel()

	p, sink, dec := newStartedPlayback(t)
	p.Submit([]byte{9, 9})

	if sink.CallCountStart != 1 {
		t.Errorf("sink started %d times, want 1", sink.CallCountStart)
	}
	if len(sink.ResetBufferCalls) != 2 {
		t.Errorf("ResetBuffer called %d times, want 2", len(sink.ResetBufferCalls))
	}
	if len(dec.DecodeCalls) != 1 {
		t.Fatalf("decoder called %d times, want 1", len(dec.DecodeCalls))
	}
	if len(sink.Submitted) != 1 {
		t.Fatalf("sink received %d packets, want 1", len(sink.Submitted))
	}
	got := sink.Submitted[0]
	if len(got.PCM) != 640 || got.SampleRate != 16000 || got.Format != audio.FormatInt16 {
		t.Errorf("submitted %d bytes at %d Hz format %v, want 640 at 16000 Hz int16",
			len(got.PCM), got.SampleRate, got.Format)
	}
	if p.State() != Active {
		t.Errorf("State() = %v, want active", p.State())
	}

	// A playing sink is not restarted.
	p.Submit([]byte{9, 9})
	if sink.CallCountStart != 1 {
		t.Errorf("sink started %d times, want 1", sink.CallCountStart)
	}
}

func TestPlayback_BackpressureDropsWhileGenerating(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	p, sink, dec := newStartedPlayback(t, WithMetrics(m))
	sink.SetGenerating(true)

	p.Submit([]byte{1})

	if len(dec.DecodeCalls) != 0 {
		t.Error("packet decoded while the sink was draining")
	}
	if len(sink.Submitted) != 0 || sink.CallCountStart != 0 {
		t.Error("sink touched while draining")
	}
	if got := counterValue(t, reader, "easyvoice.voice.packets_dropped"); got != 1 {
		t.Errorf("dropped metric = %d, want 1", got)
	}
}

func TestPlayback_EmptyDecodeIsDropped(t *testing.T) {
	t.Parallel()

	p, sink, dec := newStartedPlayback(t)
	dec.N = 0
	p.Submit([]byte{1})

	if len(sink.Submitted) != 0 {
		t.Error("empty decode reached the sink")
	}
}

func TestPlayback_DecodeErrorIsDropped(t *testing.T) {
	t.Parallel()

	p, sink, dec := newStartedPlayback(t)
	dec.DecodeError = errors.New("corrupt")
	p.Submit([]byte{1})

	if len(sink.Submitted) != 0 {
		t.Error("failed decode reached the sink")
	}
}

func TestPlayback_DecodeBufferSize(t *testing.T) {
	t.Parallel()

	p, _, dec := newStartedPlayback(t)
	var capacity int
	dec.DecodeFunc = func(_, pcm []byte) (int, error) {
		capacity = len(pcm)
		return 0, nil
	}
	p.Submit([]byte{1})

	if want := DefaultSettings().MaxUncompressedSize; capacity != want {
		t.Errorf("decode buffer = %d bytes, want %d", capacity, want)
	}
}

func TestPlayback_TickReleasesIdleSink(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	p, sink, _ := newStartedPlayback(t, WithMetrics(m))
	p.Submit([]byte{1})

	// Still has audio queued.
	p.Tick()
	if sink.CallCountStop != 0 {
		t.Fatal("non-idle sink was stopped")
	}

	sink.SetIdling(true)
	p.Tick()
	if sink.CallCountStop != 1 {
		t.Errorf("sink stopped %d times, want 1", sink.CallCountStop)
	}
	if diff := cmp.Diff([]bool{false}, sink.SetActiveCalls); diff != "" {
		t.Errorf("SetActive calls mismatch (-want +got):\n%s", diff)
	}
	if p.pcm != nil {
		t.Error("decode buffer not released")
	}
	if p.State() != Idle {
		t.Errorf("State() = %v, want idle", p.State())
	}
	if got := counterValue(t, reader, "easyvoice.voice.playback_releases"); got != 1 {
		t.Errorf("releases metric = %d, want 1", got)
	}

	// Already inactive: no further stops.
	p.Tick()
	if sink.CallCountStop != 1 {
		t.Errorf("sink stopped %d times, want 1", sink.CallCountStop)
	}
}

func TestPlayback_RestartAfterRelease(t *testing.T) {
	t.Parallel()

	p, sink, _ := newStartedPlayback(t)
	p.Submit([]byte{1})
	sink.SetIdling(true)
	p.Tick()
	sink.SetIdling(false)

	p.Submit([]byte{2})
	if sink.CallCountStart != 2 {
		t.Errorf("sink started %d times, want 2", sink.CallCountStart)
	}
	if len(sink.Submitted) != 2 {
		t.Errorf("sink received %d packets, want 2", len(sink.Submitted))
	}
}

func TestPlayback_ShortUtteranceGoesIdle(t *testing.T) {
	t.Parallel()

	settings := DefaultSettings()
	sink := stream.New(nil, stream.WithPeriod(5*time.Millisecond))
	t.Cleanup(func() { _ = sink.Close() })

	// Each packet decodes to 50ms, well short of the 200ms buffering delay.
	dec := &mock.Decoder{N: settings.SampleRate / 20 * 2, Fill: 0x21}
	p := NewPlayback(sink, settings)
	if err := p.Start(&mock.Module{DecoderResult: dec}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Submit([]byte{1})
	p.Submit([]byte{2})

	deadline := time.Now().Add(2 * time.Second)
	for p.State() != Idle {
		if time.Now().After(deadline) {
			rendered, _ := sink.Stats()
			t.Fatalf("playback still %v after 2s, rendered=%d idling=%v", p.State(), rendered, sink.IsIdling())
		}
		p.Tick()
		time.Sleep(5 * time.Millisecond)
	}
	if rendered, _ := sink.Stats(); rendered != int64(2*dec.N) {
		t.Errorf("rendered = %d, want %d", rendered, 2*dec.N)
	}
}
