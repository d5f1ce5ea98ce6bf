package voip

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/easyvoice/internal/observe"
	"github.com/MrWong99/easyvoice/pkg/audio"
)

// Controller identifies who owns an [Outbound]. Only a local player may
// capture voice.
type Controller interface {
	IsPlayerController() bool
	IsLocal() bool
}

// Peer is a plain [Controller].
type Peer struct {
	ID     string
	Player bool
	Local  bool
}

// IsPlayerController implements [Controller].
func (p Peer) IsPlayerController() bool { return p.Player }

// IsLocal implements [Controller].
func (p Peer) IsLocal() bool { return p.Local }

// Handlers are invoked synchronously from [Outbound.Tick]. Nil fields are
// skipped.
type Handlers struct {
	// VoiceGenerated receives every packet. The packet is owned by the
	// callee.
	VoiceGenerated func(packet []byte, micLevel float32)

	StartTalking func()
	StopTalking  func()
}

// Result is the output of one [Outbound.Tick].
type Result struct {
	// Packet is the compressed voice packet, or nil when none was produced.
	Packet []byte

	// MicLevel accompanies Packet.
	MicLevel float32

	// Started and Stopped are talking edges. Both may be set in one tick
	// (stop, then start).
	Started bool
	Stopped bool
}

// Outbound is the local-speaker pipeline: once per tick it drains the
// capture, prepends the PCM left over from the previous tick, encodes, and
// emits at most one packet.
type Outbound struct {
	settings Settings
	module   audio.Module
	handlers Handlers
	opts     options

	capture audio.Capture
	encoder audio.Encoder
	// decoder is never read. Holding it makes voice init fail on a module
	// that could not decode what it sends; playback acquires its own.
	decoder audio.Decoder

	scratch    []byte
	compressed []byte
	remainder  []byte

	talk *Hysteresis
	now  time.Duration
}

// NewOutbound returns an Outbound that acquires its capabilities from module
// on [Outbound.InitVoice].
func NewOutbound(module audio.Module, settings Settings, handlers Handlers, opts ...Option) *Outbound {
	return &Outbound{
		settings: settings,
		module:   module,
		handlers: handlers,
		opts:     applyOptions(opts),
		talk:     NewHysteresis(settings.StopTalkingThreshold),
	}
}

// InitVoice acquires the capture, encoder and decoder and starts capturing.
// It returns false without acquiring anything unless c is a local player, and
// false after releasing whatever it acquired if any capability is missing.
func (o *Outbound) InitVoice(c Controller) bool {
	log := o.opts.log
	if c == nil || !c.IsPlayerController() || !c.IsLocal() {
		log.Debug("voip: voice init rejected for non-local controller")
		return false
	}
	if !o.module.VoiceEnabled() {
		log.Warn("voip: voice init failed", "err", audio.ErrVoiceDisabled)
		return false
	}

	capture, err := o.module.NewCapture()
	if err != nil || capture == nil {
		log.Warn("voip: voice init failed: no capture", "err", err)
		return false
	}
	encoder, err := o.module.NewEncoder()
	if err != nil || encoder == nil {
		log.Warn("voip: voice init failed: no encoder", "err", err)
		capture.Stop()
		return false
	}
	decoder, err := o.module.NewDecoder()
	if err != nil || decoder == nil {
		log.Warn("voip: voice init failed: no decoder", "err", err)
		capture.Stop()
		return false
	}
	if err := capture.Start(); err != nil {
		log.Warn("voip: voice init failed: start capture", "err", err)
		capture.Stop()
		return false
	}

	o.capture, o.encoder, o.decoder = capture, encoder, decoder
	o.scratch = make([]byte, o.settings.MaxUncompressedSize)
	o.compressed = make([]byte, o.settings.MaxCompressedSize)
	o.remainder = make([]byte, 0, o.settings.MaxRemainderSize)
	o.talk.Reset()
	o.now = 0
	return true
}

// StopVoice stops capturing and releases the capabilities. Buffered
// carry-over audio is discarded. A talking speaker is not sent a stop edge.
func (o *Outbound) StopVoice() {
	if o.capture != nil {
		o.capture.Stop()
	}
	o.capture, o.encoder, o.decoder = nil, nil, nil
	o.remainder = o.remainder[:0]
	o.talk.Reset()
}

// Initialized reports whether InitVoice succeeded and StopVoice has not been
// called since.
func (o *Outbound) Initialized() bool {
	return o.capture != nil && o.encoder != nil
}

// Talking returns the current talking state.
func (o *Outbound) Talking() TalkState { return o.talk.State() }

// SetStopTalkingThreshold changes the hysteresis threshold.
func (o *Outbound) SetStopTalkingThreshold(d time.Duration) {
	o.settings.StopTalkingThreshold = d
	o.talk.SetThreshold(d)
}

// Tick advances the pipeline by dt. It returns false when the tick did
// nothing at all.
func (o *Outbound) Tick(dt time.Duration) (Result, bool) {
	if !o.Initialized() {
		return Result{}, false
	}
	o.now += dt

	status, available := o.capture.State()
	if o.talk.State() == Silent && available == 0 {
		return Result{}, false
	}

	ctx := context.Background()
	began := time.Now()
	m := o.opts.metrics

	total := available + len(o.remainder)
	if limit := o.settings.MaxUncompressedSize; total > limit {
		if m != nil {
			m.ClampedBytes.Add(ctx, int64(total-limit))
		}
		total = limit
	}

	scratch := o.scratch[:total]
	carried := copy(scratch, o.remainder)
	status, written := o.capture.Read(scratch[carried:])
	total = carried + written
	scratch = scratch[:total]

	compressed := 0
	if (status == audio.CaptureOK || status == audio.CaptureNoData) && total > 0 {
		compressed = o.encode(ctx, scratch)
	}

	var res Result
	if status != audio.CaptureOK || total == 0 {
		if o.talk.Silence(o.now) {
			res.Stopped = true
			o.edge(ctx, "stop")
			if o.handlers.StopTalking != nil {
				o.handlers.StopTalking()
			}
		}
	}

	if compressed > 0 {
		if o.talk.Packet(o.now) {
			res.Started = true
			o.edge(ctx, "start")
			if o.handlers.StartTalking != nil {
				o.handlers.StartTalking()
			}
		}

		res.Packet = make([]byte, compressed)
		copy(res.Packet, o.compressed[:compressed])
		res.MicLevel = o.micLevel()

		if m != nil {
			m.RecordPacketEncoded(ctx, compressed)
			m.MicLevel.Record(ctx, float64(res.MicLevel))
		}
		if o.handlers.VoiceGenerated != nil {
			o.handlers.VoiceGenerated(res.Packet, res.MicLevel)
		}
	}

	if m != nil {
		m.TickDuration.Record(ctx, time.Since(began).Seconds())
	}
	return res, true
}

// encode compresses pcm into o.compressed and stores the unconsumed tail as
// the new remainder. It returns the packet size. On failure the previous
// remainder is kept and nothing is emitted.
func (o *Outbound) encode(ctx context.Context, pcm []byte) int {
	n, rem, err := o.encoder.Encode(pcm, o.compressed[:o.settings.MaxCompressedSize])
	if err != nil {
		o.opts.log.Warn("voip: encode failed", "bytes", len(pcm), "err", err)
		if o.opts.metrics != nil {
			o.opts.metrics.RecordPacketDropped(ctx, observe.DropEncodeError)
		}
		return 0
	}
	n = max(0, min(n, o.settings.MaxCompressedSize))
	rem = max(0, min(rem, len(pcm)))

	keep := min(rem, o.settings.MaxRemainderSize)
	if rem > keep && o.opts.metrics != nil {
		o.opts.metrics.RemainderTruncatedBytes.Add(ctx, int64(rem-keep))
	}
	o.remainder = append(o.remainder[:0], pcm[len(pcm)-keep:]...)
	return n
}

func (o *Outbound) micLevel() float32 {
	if r, ok := o.capture.(audio.AmplitudeReporter); ok {
		return r.CurrentAmplitude()
	}
	return 1
}

func (o *Outbound) edge(ctx context.Context, edge string) {
	o.opts.log.Debug("voip: talking edge", slog.String("edge", edge), slog.Duration("at", o.now))
	if o.opts.metrics != nil {
		o.opts.metrics.RecordTalkingEdge(ctx, edge)
	}
}
