package voip

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/easyvoice/internal/observe"
	"github.com/MrWong99/easyvoice/pkg/audio"
)

// ErrNoDecoder is returned by [Playback.Start] when the module cannot supply
// a decoder.
var ErrNoDecoder = errors.New("voip: no decoder available")

// PlaybackState is derived from the sink.
type PlaybackState int

const (
	// Idle means the sink is not active.
	Idle PlaybackState = iota

	// Active means the sink is rendering or about to.
	Active
)

// String returns the human-readable name of the state.
func (s PlaybackState) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Playback decodes one remote speaker's packets into a sink.
type Playback struct {
	settings Settings
	sink     audio.Sink
	opts     options

	decoder audio.Decoder
	pcm     []byte
	started bool
}

// NewPlayback returns a Playback that plays into sink once started.
func NewPlayback(sink audio.Sink, settings Settings, opts ...Option) *Playback {
	return &Playback{
		settings: settings,
		sink:     sink,
		opts:     applyOptions(opts),
	}
}

// Start acquires a decoder from m and opens the sink stream. Until Start
// succeeds, Submit ignores every packet.
func (p *Playback) Start(m audio.Module) error {
	dec, err := m.NewDecoder()
	if err != nil {
		return fmt.Errorf("voip: start playback: %w", errors.Join(ErrNoDecoder, err))
	}
	if dec == nil {
		return fmt.Errorf("voip: start playback: %w", ErrNoDecoder)
	}

	s := p.settings
	if err := p.sink.OpenStream(s.SampleRate, s.NumBufferedPackets, s.BufferingDelay); err != nil {
		return fmt.Errorf("voip: open sink stream: %w", err)
	}
	p.sink.ResetBuffer(s.SampleRate, s.BufferingDelay)

	p.decoder = dec
	p.started = true
	return nil
}

// Started reports whether Start succeeded.
func (p *Playback) Started() bool { return p.started }

// Submit decodes packet and queues the PCM. A sink that has stopped is
// restarted, unless it is still winding down, in which case the packet is
// dropped.
func (p *Playback) Submit(packet []byte) {
	if !p.started {
		return
	}
	ctx := context.Background()
	m := p.opts.metrics

	if !p.sink.IsPlaying() || !p.sink.IsActive() {
		if p.sink.IsGenerating() {
			p.opts.log.Debug("voip: dropping packet while sink drains", "bytes", len(packet))
			if m != nil {
				m.RecordPacketDropped(ctx, observe.DropBackpressure)
			}
			return
		}
		p.sink.ResetBuffer(p.settings.SampleRate, p.settings.BufferingDelay)
		p.sink.Start()
	}

	if p.pcm == nil {
		p.pcm = make([]byte, p.settings.MaxUncompressedSize)
	}
	n, err := p.decoder.Decode(packet, p.pcm)
	if err != nil {
		p.opts.log.Warn("voip: decode failed", "bytes", len(packet), "err", err)
		if m != nil {
			m.RecordPacketDropped(ctx, observe.DropDecodeError)
		}
		return
	}
	if n <= 0 {
		if m != nil {
			m.RecordPacketDropped(ctx, observe.DropEmptyDecode)
		}
		return
	}

	p.sink.SubmitPacket(p.pcm[:min(n, len(p.pcm))], p.settings.SampleRate, audio.FormatInt16)
	if m != nil {
		m.PacketsDecoded.Add(ctx, 1)
	}
}

// Tick stops a sink that has run out of audio and releases the decode
// buffer.
func (p *Playback) Tick() {
	if !p.started {
		return
	}
	if p.sink.IsIdling() && p.sink.IsActive() {
		p.sink.Stop()
		p.sink.SetActive(false)
		p.pcm = nil
		if p.opts.metrics != nil {
			p.opts.metrics.PlaybackReleases.Add(context.Background(), 1)
		}
	}
}

// State reports whether the sink is active.
func (p *Playback) State() PlaybackState {
	if p.sink.IsActive() {
		return Active
	}
	return Idle
}
