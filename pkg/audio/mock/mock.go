// Package mock provides in-memory mock implementations of the [audio.Capture],
// [audio.Encoder], [audio.Decoder], [audio.Module], and [audio.Sink]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	capture := &mock.Capture{Status: audio.CaptureOK}
//	capture.Push(make([]byte, 640))
//	module := &mock.Module{
//	    CaptureResult: capture,
//	    EncoderResult: &mock.Encoder{N: 40},
//	    DecoderResult: &mock.Decoder{N: 640},
//	}
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/easyvoice/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Capture           = (*Capture)(nil)
	_ audio.AmplitudeReporter = (*Capture)(nil)
	_ audio.Encoder           = (*Encoder)(nil)
	_ audio.Decoder           = (*Decoder)(nil)
	_ audio.Module            = (*Module)(nil)
	_ audio.Sink              = (*Sink)(nil)
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture] backed by a byte queue.
// Bytes added with [Capture.Push] are handed out by Read in FIFO order.
type Capture struct {
	mu sync.Mutex

	// Status is returned by State and Read. Start moves a NotCapturing
	// capture to OK; Stop moves it back.
	Status audio.CaptureStatus

	// Amplitude is returned by CurrentAmplitude.
	Amplitude float32

	// StartError is returned by Start.
	StartError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountState records how many times State was called.
	CallCountState int

	// ReadCalls records len(dst) of every Read call.
	ReadCalls []int

	pending []byte
}

// Push queues pcm for subsequent Read calls.
func (c *Capture) Push(pcm []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, pcm...)
}

// Pending returns the number of queued bytes.
func (c *Capture) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Start implements [audio.Capture].
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	if c.StartError != nil {
		return c.StartError
	}
	if c.Status == audio.CaptureNotCapturing {
		c.Status = audio.CaptureOK
	}
	return nil
}

// Stop implements [audio.Capture]. Queued bytes are discarded.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	c.Status = audio.CaptureNotCapturing
	c.pending = nil
}

// State implements [audio.Capture].
func (c *Capture) State() (audio.CaptureStatus, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountState++
	return c.Status, len(c.pending)
}

// Read implements [audio.Capture].
func (c *Capture) Read(dst []byte) (audio.CaptureStatus, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ReadCalls = append(c.ReadCalls, len(dst))
	n := copy(dst, c.pending)
	c.pending = c.pending[n:]
	return c.Status, n
}

// CurrentAmplitude implements [audio.AmplitudeReporter].
func (c *Capture) CurrentAmplitude() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Amplitude
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

// EncodeCall records the arguments of a single [Encoder.Encode] invocation.
type EncodeCall struct {
	// PCM is a copy of the pcm argument.
	PCM []byte

	// Capacity is len(compressed).
	Capacity int
}

// Encoder is a mock implementation of [audio.Encoder].
//
// Unless EncodeFunc is set, Encode fills min(N, len(compressed)) bytes with
// Fill and reports Remainder (clamped to len(pcm)) as unconsumed.
type Encoder struct {
	mu sync.Mutex

	// EncodeFunc, when non-nil, replaces the default behaviour.
	EncodeFunc func(pcm, compressed []byte) (int, int, error)

	// N is the number of compressed bytes to report.
	N int

	// Remainder is the number of unconsumed pcm bytes to report.
	Remainder int

	// Fill is the byte value written into compressed.
	Fill byte

	// EncodeError is returned by Encode.
	EncodeError error

	// EncodeCalls records all Encode invocations.
	EncodeCalls []EncodeCall
}

// Encode implements [audio.Encoder].
func (e *Encoder) Encode(pcm, compressed []byte) (int, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EncodeCalls = append(e.EncodeCalls, EncodeCall{
		PCM:      append([]byte(nil), pcm...),
		Capacity: len(compressed),
	})
	if e.EncodeFunc != nil {
		return e.EncodeFunc(pcm, compressed)
	}
	if e.EncodeError != nil {
		return 0, 0, e.EncodeError
	}
	n := min(e.N, len(compressed))
	for i := range n {
		compressed[i] = e.Fill
	}
	return n, min(e.Remainder, len(pcm)), nil
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

// Decoder is a mock implementation of [audio.Decoder].
//
// Unless DecodeFunc is set, Decode fills min(N, len(pcm)) bytes with Fill.
type Decoder struct {
	mu sync.Mutex

	// DecodeFunc, when non-nil, replaces the default behaviour.
	DecodeFunc func(compressed, pcm []byte) (int, error)

	// N is the number of PCM bytes to report.
	N int

	// Fill is the byte value written into pcm.
	Fill byte

	// DecodeError is returned by Decode.
	DecodeError error

	// DecodeCalls records a copy of every compressed argument.
	DecodeCalls [][]byte
}

// Decode implements [audio.Decoder].
func (d *Decoder) Decode(compressed, pcm []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DecodeCalls = append(d.DecodeCalls, append([]byte(nil), compressed...))
	if d.DecodeFunc != nil {
		return d.DecodeFunc(compressed, pcm)
	}
	if d.DecodeError != nil {
		return 0, d.DecodeError
	}
	n := min(d.N, len(pcm))
	for i := range n {
		pcm[i] = d.Fill
	}
	return n, nil
}

// ─── Module ───────────────────────────────────────────────────────────────────

// Module is a mock implementation of [audio.Module].
type Module struct {
	mu sync.Mutex

	// Disabled makes VoiceEnabled report false.
	Disabled bool

	// CaptureResult and CaptureError are returned by NewCapture.
	CaptureResult audio.Capture
	CaptureError  error

	// EncoderResult and EncoderError are returned by NewEncoder.
	EncoderResult audio.Encoder
	EncoderError  error

	// DecoderResult and DecoderError are returned by NewDecoder.
	DecoderResult audio.Decoder
	DecoderError  error

	// CallCountNewCapture records how many times NewCapture was called.
	CallCountNewCapture int

	// CallCountNewEncoder records how many times NewEncoder was called.
	CallCountNewEncoder int

	// CallCountNewDecoder records how many times NewDecoder was called.
	CallCountNewDecoder int
}

// VoiceEnabled implements [audio.Module].
func (m *Module) VoiceEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.Disabled
}

// NewCapture implements [audio.Module].
func (m *Module) NewCapture() (audio.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountNewCapture++
	if m.CaptureError != nil {
		return nil, m.CaptureError
	}
	return m.CaptureResult, nil
}

// NewEncoder implements [audio.Module].
func (m *Module) NewEncoder() (audio.Encoder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountNewEncoder++
	if m.EncoderError != nil {
		return nil, m.EncoderError
	}
	return m.EncoderResult, nil
}

// NewDecoder implements [audio.Module].
func (m *Module) NewDecoder() (audio.Decoder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountNewDecoder++
	if m.DecoderError != nil {
		return nil, m.DecoderError
	}
	return m.DecoderResult, nil
}

// Acquisitions returns the total number of New* calls.
func (m *Module) Acquisitions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCountNewCapture + m.CallCountNewEncoder + m.CallCountNewDecoder
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// OpenStreamCall records the arguments of a single [Sink.OpenStream] call.
type OpenStreamCall struct {
	SampleRate      int
	BufferedPackets int
	BufferingDelay  time.Duration
}

// ResetBufferCall records the arguments of a single [Sink.ResetBuffer] call.
type ResetBufferCall struct {
	SampleRate     int
	BufferingDelay time.Duration
}

// SubmitCall records the arguments of a single [Sink.SubmitPacket] call.
type SubmitCall struct {
	// PCM is a copy of the submitted bytes.
	PCM        []byte
	SampleRate int
	Format     audio.SampleFormat
}

// Sink is a mock implementation of [audio.Sink].
//
// Start sets Playing and Active; Stop clears Playing; SetActive sets Active.
// Idling and Generating are only changed by the test.
type Sink struct {
	mu sync.Mutex

	Playing    bool
	Active     bool
	Idling     bool
	Generating bool

	// OpenStreamError is returned by OpenStream.
	OpenStreamError error

	// OpenStreamCalls records all OpenStream invocations.
	OpenStreamCalls []OpenStreamCall

	// ResetBufferCalls records all ResetBuffer invocations.
	ResetBufferCalls []ResetBufferCall

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// SetActiveCalls records the argument of every SetActive call.
	SetActiveCalls []bool

	// Submitted records all SubmitPacket invocations.
	Submitted []SubmitCall
}

// SetGenerating sets the Generating flag under the mock's lock.
func (s *Sink) SetGenerating(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Generating = v
}

// SetIdling sets the Idling flag under the mock's lock.
func (s *Sink) SetIdling(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Idling = v
}

// OpenStream implements [audio.Sink].
func (s *Sink) OpenStream(sampleRate, bufferedPackets int, bufferingDelay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenStreamCalls = append(s.OpenStreamCalls, OpenStreamCall{
		SampleRate:      sampleRate,
		BufferedPackets: bufferedPackets,
		BufferingDelay:  bufferingDelay,
	})
	return s.OpenStreamError
}

// ResetBuffer implements [audio.Sink].
func (s *Sink) ResetBuffer(sampleRate int, bufferingDelay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetBufferCalls = append(s.ResetBufferCalls, ResetBufferCall{
		SampleRate:     sampleRate,
		BufferingDelay: bufferingDelay,
	})
}

// Start implements [audio.Sink].
func (s *Sink) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStart++
	s.Playing = true
	s.Active = true
}

// Stop implements [audio.Sink].
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.Playing = false
}

// SetActive implements [audio.Sink].
func (s *Sink) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SetActiveCalls = append(s.SetActiveCalls, active)
	s.Active = active
}

// SubmitPacket implements [audio.Sink].
func (s *Sink) SubmitPacket(pcm []byte, sampleRate int, format audio.SampleFormat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Submitted = append(s.Submitted, SubmitCall{
		PCM:        append([]byte(nil), pcm...),
		SampleRate: sampleRate,
		Format:     format,
	})
}

// IsPlaying implements [audio.Sink].
func (s *Sink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Playing
}

// IsActive implements [audio.Sink].
func (s *Sink) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Active
}

// IsIdling implements [audio.Sink].
func (s *Sink) IsIdling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Idling
}

// IsGenerating implements [audio.Sink].
func (s *Sink) IsGenerating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Generating
}
