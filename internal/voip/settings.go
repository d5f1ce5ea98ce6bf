// Package voip implements the voice-chat pipeline: the outbound path that
// polls a microphone capture, carries partial frames over between ticks and
// compresses audio into packets, the talking hysteresis that turns packet
// arrival into start/stop edges, and the inbound path that decodes received
// packets into a streaming sink.
//
// Nothing in this package is safe for concurrent use. [Outbound], [Playback]
// and [Speakers] are driven from a single tick goroutine; the only state
// shared with other goroutines lives behind [audio.Sink.IsGenerating].
package voip

import (
	"errors"
	"fmt"
	"time"
)

// Settings holds the pipeline constants shared by the outbound and inbound
// paths.
type Settings struct {
	// SampleRate of the PCM exchanged with the capture and the sink, in Hz.
	SampleRate int

	// NumBufferedPackets bounds the sink's queue.
	NumBufferedPackets int

	// BufferingDelay is the audio queued in the sink before playback begins.
	BufferingDelay time.Duration

	// MaxUncompressedSize caps the PCM handled per tick, in bytes.
	MaxUncompressedSize int

	// MaxCompressedSize caps a single packet, in bytes.
	MaxCompressedSize int

	// MaxRemainderSize caps the PCM carried over to the next tick, in bytes.
	MaxRemainderSize int

	// StopTalkingThreshold is how long no packet may be produced before the
	// speaker is considered to have stopped talking.
	StopTalkingThreshold time.Duration
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		SampleRate:           16000,
		NumBufferedPackets:   10,
		BufferingDelay:       200 * time.Millisecond,
		MaxUncompressedSize:  32000,
		MaxCompressedSize:    8192,
		MaxRemainderSize:     1024,
		StopTalkingThreshold: 200 * time.Millisecond,
	}
}

// Validate reports every invalid field.
func (s Settings) Validate() error {
	var errs []error
	if s.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("voip: sample rate must be positive, got %d", s.SampleRate))
	}
	if s.NumBufferedPackets <= 0 {
		errs = append(errs, fmt.Errorf("voip: buffered packets must be positive, got %d", s.NumBufferedPackets))
	}
	if s.BufferingDelay < 0 {
		errs = append(errs, fmt.Errorf("voip: buffering delay must not be negative, got %s", s.BufferingDelay))
	}
	if s.MaxUncompressedSize <= 0 {
		errs = append(errs, fmt.Errorf("voip: max uncompressed size must be positive, got %d", s.MaxUncompressedSize))
	}
	if s.MaxCompressedSize <= 0 {
		errs = append(errs, fmt.Errorf("voip: max compressed size must be positive, got %d", s.MaxCompressedSize))
	}
	if s.MaxRemainderSize < 0 || s.MaxRemainderSize > s.MaxUncompressedSize {
		errs = append(errs, fmt.Errorf("voip: max remainder size must be in [0, %d], got %d",
			s.MaxUncompressedSize, s.MaxRemainderSize))
	}
	if s.StopTalkingThreshold < 0 {
		errs = append(errs, fmt.Errorf("voip: stop talking threshold must not be negative, got %s", s.StopTalkingThreshold))
	}
	return errors.Join(errs...)
}
