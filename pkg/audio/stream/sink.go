// Package stream implements [audio.Sink] as a software streaming output.
//
// Submitted PCM is queued in a ring buffer. Once the buffering delay worth of
// audio has accumulated, a render goroutine drains the ring in fixed periods
// and writes 16-bit little-endian PCM to an [io.Writer] (a speaker device, a
// file, or [io.Discard]).
package stream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/easyvoice/pkg/audio"
)

var _ audio.Sink = (*Sink)(nil)

// ErrInvalidStream is returned by OpenStream for non-positive parameters.
var ErrInvalidStream = errors.New("stream: invalid stream parameters")

// packetSlot is the amount of audio reserved in the ring per buffered packet.
const packetSlot = 100 * time.Millisecond

// Option configures a [Sink].
type Option func(*Sink)

// WithPeriod sets how often the renderer drains the ring. Default 20ms.
func WithPeriod(d time.Duration) Option {
	return func(s *Sink) { s.period = d }
}

// WithChannels sets the interleaved channel count. Default 1.
func WithChannels(n int) Option {
	return func(s *Sink) { s.channels = n }
}

// WithLogger sets the logger for render errors. Default [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.log = l }
}

// WithClock replaces [time.Now] for the buffering delay.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// Sink is a streaming [audio.Sink]. Control methods may be called from any
// goroutine; rendering runs on a goroutine owned by the Sink.
type Sink struct {
	out      io.Writer
	period   time.Duration
	channels int
	log      *slog.Logger
	now      func() time.Time

	// renderers counts live render goroutines. A stopped renderer keeps
	// counting until its goroutine has returned.
	renderers atomic.Int32

	// Rendering begins once prebuffer bytes are queued or delay has passed
	// since the first packet after a reset, whichever comes first.
	mu          sync.Mutex
	opened      bool
	sampleRate  int
	ring        *ring
	prebuffer   int
	delay       time.Duration
	buffering   bool
	bufferSince time.Time // zero until the first packet arrives
	playing     bool
	active      bool
	stop        chan struct{}
	done        chan struct{}
	overruns    int64
	rendered    int64
	warnedRate  bool
}

// New returns a Sink writing rendered audio to out. A nil out discards it.
func New(out io.Writer, opts ...Option) *Sink {
	if out == nil {
		out = io.Discard
	}
	s := &Sink{
		out:      out,
		period:   20 * time.Millisecond,
		channels: 1,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OpenStream implements [audio.Sink].
func (s *Sink) OpenStream(sampleRate, bufferedPackets int, bufferingDelay time.Duration) error {
	if sampleRate <= 0 || bufferedPackets <= 0 || bufferingDelay < 0 {
		return fmt.Errorf("%w: rate %d, packets %d, delay %s", ErrInvalidStream, sampleRate, bufferedPackets, bufferingDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sampleRate = sampleRate
	size := s.bytesFor(bufferingDelay + time.Duration(bufferedPackets)*packetSlot)
	s.ring = newRing(size)
	s.prebuffer = s.bytesFor(bufferingDelay)
	s.delay = bufferingDelay
	s.buffering = true
	s.bufferSince = time.Time{}
	s.opened = true
	return nil
}

// ResetBuffer implements [audio.Sink].
func (s *Sink) ResetBuffer(sampleRate int, bufferingDelay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return
	}
	if sampleRate > 0 {
		s.sampleRate = sampleRate
	}
	s.ring.reset()
	s.prebuffer = min(s.bytesFor(bufferingDelay), len(s.ring.buf))
	s.delay = bufferingDelay
	s.buffering = true
	s.bufferSince = time.Time{}
}

// Start implements [audio.Sink]. It launches a render goroutine unless one is
// already playing.
func (s *Sink) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened || s.playing {
		return
	}
	s.playing = true
	s.active = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	s.renderers.Add(1)
	go s.render(s.stop, s.done)
}

// Stop implements [audio.Sink]. The render goroutine exits asynchronously;
// IsGenerating stays true until it has.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return
	}
	s.playing = false
	close(s.stop)
}

// Close stops rendering and waits for the render goroutine to return.
func (s *Sink) Close() error {
	s.mu.Lock()
	done := s.done
	if s.playing {
		s.playing = false
		close(s.stop)
	}
	s.active = false
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}

// SetActive implements [audio.Sink].
func (s *Sink) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

// SubmitPacket implements [audio.Sink]. Float32 input is converted to 16-bit
// PCM, and packets at a different sample rate than the open stream are
// resampled to it.
func (s *Sink) SubmitPacket(pcm []byte, sampleRate int, format audio.SampleFormat) {
	if format == audio.FormatFloat32 {
		pcm = audio.Float32ToInt16(pcm)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return
	}
	if sampleRate != s.sampleRate {
		if !s.warnedRate {
			s.log.Warn("stream: resampling packets", "from", sampleRate, "to", s.sampleRate)
			s.warnedRate = true
		}
		pcm = audio.Resample16(pcm, s.channels, sampleRate, s.sampleRate)
	}
	if s.buffering && s.bufferSince.IsZero() && len(pcm) > 0 {
		s.bufferSince = s.now()
	}
	if dropped := s.ring.write(pcm); dropped > 0 {
		s.overruns += int64(dropped)
	}
}

// IsPlaying implements [audio.Sink].
func (s *Sink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// IsActive implements [audio.Sink].
func (s *Sink) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// IsIdling implements [audio.Sink]. A sink is idling when nothing is queued.
func (s *Sink) IsIdling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring == nil || s.ring.len() == 0
}

// IsGenerating implements [audio.Sink].
func (s *Sink) IsGenerating() bool {
	return s.renderers.Load() > 0
}

// Stats reports the bytes written to the output and the bytes lost to ring
// overruns since the sink was created.
func (s *Sink) Stats() (rendered, overruns int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered, s.overruns
}

func (s *Sink) render(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer s.renderers.Add(-1)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	var chunk []byte
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		chunk = s.next(chunk)
		if len(chunk) == 0 {
			continue
		}
		if _, err := s.out.Write(chunk); err != nil {
			s.log.Warn("stream: render write failed", "err", err)
		}
	}
}

// next pulls one period of audio out of the ring, honouring the prebuffer.
func (s *Sink) next(buf []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buffering {
		if s.ring.len() == 0 {
			return buf[:0]
		}
		// A short utterance never fills the prebuffer; it starts once the
		// delay has run out instead.
		if s.ring.len() < s.prebuffer && s.now().Sub(s.bufferSince) < s.delay {
			return buf[:0]
		}
		s.buffering = false
	}

	want := s.bytesFor(s.period)
	if cap(buf) < want {
		buf = make([]byte, want)
	}
	n := s.ring.read(buf[:want])
	s.rendered += int64(n)
	return buf[:n]
}

// bytesFor returns the size of d worth of 16-bit audio, rounded down to whole
// sample frames. Caller must hold s.mu or be initialising.
func (s *Sink) bytesFor(d time.Duration) int {
	frames := int(d.Seconds() * float64(s.sampleRate))
	return frames * s.channels * 2
}
