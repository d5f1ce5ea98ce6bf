package voip

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/MrWong99/easyvoice/pkg/audio"
)

// SinkFactory creates the sink for a new speaker.
type SinkFactory func(speakerID string) (audio.Sink, error)

// Speakers keeps one [Playback] per remote speaker, created on the speaker's
// first packet.
type Speakers struct {
	module   audio.Module
	newSink  SinkFactory
	settings Settings
	opts     []Option
	o        options

	playbacks map[string]*Playback
}

// NewSpeakers returns an empty Speakers.
func NewSpeakers(module audio.Module, newSink SinkFactory, settings Settings, opts ...Option) *Speakers {
	return &Speakers{
		module:    module,
		newSink:   newSink,
		settings:  settings,
		opts:      opts,
		o:         applyOptions(opts),
		playbacks: make(map[string]*Playback),
	}
}

// Submit routes packet to the speaker's playback, starting one if needed.
func (s *Speakers) Submit(speakerID string, packet []byte) error {
	p, ok := s.playbacks[speakerID]
	if !ok {
		sink, err := s.newSink(speakerID)
		if err != nil {
			return fmt.Errorf("voip: sink for speaker %q: %w", speakerID, err)
		}
		p = NewPlayback(sink, s.settings, s.opts...)
		if err := p.Start(s.module); err != nil {
			return fmt.Errorf("voip: speaker %q: %w", speakerID, err)
		}
		s.playbacks[speakerID] = p
		s.o.log.Debug("voip: speaker joined", "speaker", speakerID)
		if s.o.metrics != nil {
			s.o.metrics.ActiveSpeakers.Add(context.Background(), 1)
		}
	}
	p.Submit(packet)
	return nil
}

// Tick ticks every playback.
func (s *Speakers) Tick() {
	for _, p := range s.playbacks {
		p.Tick()
	}
}

// Remove forgets a speaker, stopping its sink.
func (s *Speakers) Remove(speakerID string) {
	p, ok := s.playbacks[speakerID]
	if !ok {
		return
	}
	p.sink.Stop()
	p.sink.SetActive(false)
	delete(s.playbacks, speakerID)
	if s.o.metrics != nil {
		s.o.metrics.ActiveSpeakers.Add(context.Background(), -1)
	}
}

// IDs returns the known speaker ids in sorted order.
func (s *Speakers) IDs() []string {
	return slices.Sorted(maps.Keys(s.playbacks))
}

// State returns the playback state of a speaker. Unknown speakers are Idle.
func (s *Speakers) State(speakerID string) PlaybackState {
	if p, ok := s.playbacks[speakerID]; ok {
		return p.State()
	}
	return Idle
}

// Active returns the number of speakers whose sink is active.
func (s *Speakers) Active() int {
	n := 0
	for _, p := range s.playbacks {
		if p.State() == Active {
			n++
		}
	}
	return n
}
