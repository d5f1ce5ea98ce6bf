// Package tone provides a synthetic microphone: an [audio.Capture] that
// produces a sine wave in real time, alternating between talk and pause
// periods. It lets the pipeline run end to end on machines without an input
// device, and its pauses exercise the talking hysteresis.
package tone

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/easyvoice/pkg/audio"
)

var (
	_ audio.Capture           = (*Capture)(nil)
	_ audio.AmplitudeReporter = (*Capture)(nil)
)

// Config controls the generated signal.
type Config struct {
	SampleRate int
	Channels   int

	// Frequency of the tone in Hz.
	Frequency float64

	// Volume in [0, 1].
	Volume float64

	// TalkFor and PauseFor form the duty cycle. A zero PauseFor talks
	// continuously.
	TalkFor  time.Duration
	PauseFor time.Duration

	// MaxBuffer caps how much unread audio is kept; older audio is dropped.
	// Zero means one second.
	MaxBuffer time.Duration
}

// Option configures a [Capture].
type Option func(*Capture)

// WithClock replaces the wall clock used to pace generation.
func WithClock(now func() time.Time) Option {
	return func(c *Capture) { c.now = now }
}

// Capture is a synthetic, real-time paced [audio.Capture].
// It is safe for concurrent use.
type Capture struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	generated int64 // sample frames since Start
	pending   []byte
	amplitude float32
}

// New returns a stopped Capture.
func New(cfg Config, opts ...Option) *Capture {
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = time.Second
	}
	if cfg.Volume <= 0 || cfg.Volume > 1 {
		cfg.Volume = 0.5
	}
	c := &Capture{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start implements [audio.Capture].
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.running = true
	c.startedAt = c.now()
	c.generated = 0
	c.pending = c.pending[:0]
	return nil
}

// Stop implements [audio.Capture].
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.pending = nil
	c.amplitude = 0
}

// State implements [audio.Capture].
func (c *Capture) State() (audio.CaptureStatus, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return audio.CaptureNotCapturing, 0
	}
	c.fill()
	return c.status(), len(c.pending)
}

// Read implements [audio.Capture].
func (c *Capture) Read(dst []byte) (audio.CaptureStatus, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return audio.CaptureNotCapturing, 0
	}
	c.fill()
	// Whole sample frames only.
	frame := c.cfg.Channels * 2
	n := copy(dst[:len(dst)-len(dst)%frame], c.pending)
	c.pending = c.pending[n:]
	return c.status(), n
}

// CurrentAmplitude implements [audio.AmplitudeReporter]. It reports the RMS
// level of the most recently generated audio, normalised to [0, 1].
func (c *Capture) CurrentAmplitude() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amplitude
}

func (c *Capture) status() audio.CaptureStatus {
	if len(c.pending) == 0 {
		return audio.CaptureNoData
	}
	return audio.CaptureOK
}

// fill generates every sample frame due since the last call. Frames falling
// into a pause are skipped.
func (c *Capture) fill() {
	rate := int64(c.cfg.SampleRate)
	due := int64(c.now().Sub(c.startedAt).Seconds() * float64(rate))
	if due <= c.generated {
		return
	}
	maxFrames := int64(c.cfg.MaxBuffer.Seconds() * float64(rate))
	if due-c.generated > maxFrames {
		c.generated = due - maxFrames
	}

	talk := int64(c.cfg.TalkFor.Seconds() * float64(rate))
	cycle := talk + int64(c.cfg.PauseFor.Seconds()*float64(rate))

	var sum float64
	var count int
	var sample [2]byte
	for i := c.generated; i < due; i++ {
		if c.cfg.PauseFor > 0 && i%cycle >= talk {
			continue
		}
		v := c.cfg.Volume * math.Sin(2*math.Pi*c.cfg.Frequency*float64(i)/float64(rate))
		binary.LittleEndian.PutUint16(sample[:], uint16(int16(v*math.MaxInt16)))
		for range c.cfg.Channels {
			c.pending = append(c.pending, sample[:]...)
		}
		sum += v * v
		count++
	}
	c.generated = due

	if count > 0 {
		c.amplitude = float32(math.Sqrt(sum / float64(count)))
	} else {
		c.amplitude = 0
	}

	limit := int(maxFrames) * c.cfg.Channels * 2
	if excess := len(c.pending) - limit; excess > 0 {
		c.pending = c.pending[excess:]
	}
}
