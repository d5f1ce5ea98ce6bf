// Package audio defines the capability contracts consumed by the easyvoice
// voice pipeline.
//
// The pipeline never talks to hardware or to a codec library directly. It is
// handed a [Module] (the platform voice capability provider) from which it
// acquires:
//
//   - a [Capture]: the microphone input session, polled once per tick
//   - an [Encoder]: compresses PCM into network-sized packets and reports
//     how many input bytes it could not consume
//   - a [Decoder]: expands a received packet back into PCM
//
// Received audio is played through a [Sink], a streaming output whose
// rendering may run on its own goroutine.
//
// Implementations live in sibling packages (audio/opus, audio/tone,
// audio/stream); in-memory fakes for tests live in audio/mock. This package
// lives under pkg/ because third-party platforms are expected to implement
// these interfaces.
package audio

import (
	"errors"
	"time"
)

// ErrVoiceDisabled is returned by [Module] implementations when voice is
// switched off on this platform.
var ErrVoiceDisabled = errors.New("audio: voice disabled")

// Capture is a microphone input session.
//
// Both State and Read must be non-blocking: they return whatever is buffered
// at the time of the call and never wait for more audio.
type Capture interface {
	// Start begins capturing. Calling Start on a running capture is a no-op.
	Start() error

	// Stop ends capturing and discards any buffered audio.
	Stop()

	// State reports the capture status and the number of PCM bytes that are
	// currently available to Read.
	State() (CaptureStatus, int)

	// Read copies up to len(dst) bytes of buffered PCM into dst and returns
	// the status along with the number of bytes written.
	Read(dst []byte) (CaptureStatus, int)
}

// AmplitudeReporter is implemented by captures that can report the current
// input level. The value is in the range [0, 1].
type AmplitudeReporter interface {
	CurrentAmplitude() float32
}

// Encoder compresses 16-bit PCM into a single packet.
//
// Encode writes at most len(compressed) bytes and returns the number written
// (n) together with the number of trailing pcm bytes it did not consume
// (remainder). Unconsumed bytes are always the most recent ones; callers carry
// them over and prepend them to the next call.
type Encoder interface {
	Encode(pcm, compressed []byte) (n, remainder int, err error)
}

// Decoder expands a packet produced by an [Encoder] back into PCM.
//
// Decode writes at most len(pcm) bytes and returns the number written.
type Decoder interface {
	Decode(compressed, pcm []byte) (n int, err error)
}

// Codec hands out encoder/decoder pairs of one compression scheme.
type Codec interface {
	NewEncoder() (Encoder, error)
	NewDecoder() (Decoder, error)
}

// Module is the platform voice capability provider. Each New* call returns
// a fresh, single-owner handle.
//
// Implementations must be safe for concurrent use.
type Module interface {
	// VoiceEnabled reports whether voice is available on this platform.
	VoiceEnabled() bool

	NewCapture() (Capture, error)
	NewEncoder() (Encoder, error)
	NewDecoder() (Decoder, error)
}

// Sink is a streaming audio output.
//
// The tick goroutine owns the control methods. Rendering may run elsewhere;
// IsGenerating is the one query that reflects the rendering side and must be
// safe to call concurrently with it.
type Sink interface {
	// OpenStream prepares the sink for packets at sampleRate. bufferedPackets
	// bounds the internal queue; bufferingDelay is the amount of audio queued
	// before rendering begins.
	OpenStream(sampleRate, bufferedPackets int, bufferingDelay time.Duration) error

	// ResetBuffer discards queued audio and re-arms the buffering delay.
	ResetBuffer(sampleRate int, bufferingDelay time.Duration)

	// Start activates the sink and begins rendering.
	Start()

	// Stop asks the renderer to stop. Rendering may finish asynchronously;
	// watch IsGenerating.
	Stop()

	// SetActive marks the sink active or inactive without touching the
	// renderer.
	SetActive(active bool)

	// SubmitPacket queues decoded PCM for playback.
	SubmitPacket(pcm []byte, sampleRate int, format SampleFormat)

	IsPlaying() bool
	IsActive() bool

	// IsIdling reports that nothing is queued or pending.
	IsIdling() bool

	// IsGenerating reports that the renderer is currently producing samples.
	IsGenerating() bool
}
