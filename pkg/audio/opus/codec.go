// Package opus implements [audio.Encoder] and [audio.Decoder] on top of the
// libopus bindings in layeh.com/gopus.
//
// A packet produced by [Encoder] is a sequence of length-prefixed Opus frames
// (see [FrameWriter]). The encoder only consumes whole 20 ms frames; any tail
// that does not fill a frame, or that would not fit the output buffer, is
// reported back to the caller as the remainder.
package opus

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"layeh.com/gopus"

	"github.com/MrWong99/easyvoice/pkg/audio"
)

const (
	// FrameDuration is the duration of one Opus frame in milliseconds.
	FrameDuration = 20

	// maxOpusFrameBytes is the largest Opus frame libopus produces.
	maxOpusFrameBytes = 1275

	// maxFrameMs bounds the duration of a single decoded frame.
	maxFrameMs = 120
)

// ErrUnsupportedFormat is returned for sample rates or channel counts that
// Opus does not support.
var ErrUnsupportedFormat = errors.New("opus: unsupported format")

// Compile-time interface assertions.
var (
	_ audio.Encoder = (*Encoder)(nil)
	_ audio.Decoder = (*Decoder)(nil)
	_ audio.Codec   = (*Codec)(nil)
)

// Config controls a codec instance.
type Config struct {
	SampleRate int
	Channels   int

	// Bitrate in bits per second. Zero keeps the libopus default.
	Bitrate int
}

func (c Config) validate() error {
	switch c.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, c.Channels)
	}
	return nil
}

// frameSize is the number of samples per channel in one frame.
func (c Config) frameSize() int {
	return c.SampleRate * FrameDuration / 1000
}

// frameBytes is the size of one frame of 16-bit PCM.
func (c Config) frameBytes() int {
	return c.frameSize() * c.Channels * 2
}

// Encoder compresses 16-bit little-endian PCM.
type Encoder struct {
	enc *gopus.Encoder
	cfg Config
}

// NewEncoder creates an Encoder tuned for voice.
func NewEncoder(cfg Config) (*Encoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	enc, err := gopus.NewEncoder(cfg.SampleRate, cfg.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	if cfg.Bitrate > 0 {
		enc.SetBitrate(cfg.Bitrate)
	}
	return &Encoder{enc: enc, cfg: cfg}, nil
}

// Encode implements [audio.Encoder]. Whole frames are encoded from the front
// of pcm until either pcm runs out of whole frames or the next frame would not
// fit compressed.
func (e *Encoder) Encode(pcm, compressed []byte) (n, remainder int, err error) {
	frameBytes := e.cfg.frameBytes()
	consumed := 0

	for len(pcm)-consumed >= frameBytes {
		room := len(compressed) - n - frameHeaderSize
		if room <= 0 {
			break
		}
		limit := min(room, maxOpusFrameBytes)

		samples := bytesToInt16s(pcm[consumed : consumed+frameBytes])
		frame, encErr := e.enc.Encode(samples, e.cfg.frameSize(), limit)
		if encErr != nil {
			// A capacity-limited call can fail on output size alone; keep
			// the frame for the next packet.
			if limit < maxOpusFrameBytes {
				break
			}
			return 0, 0, fmt.Errorf("opus: encode: %w", encErr)
		}
		if len(frame) > room {
			break
		}

		n += putFrame(compressed[n:], frame)
		consumed += frameBytes
	}

	return n, len(pcm) - consumed, nil
}

// Decoder expands packets produced by [Encoder].
type Decoder struct {
	dec *gopus.Decoder
	cfg Config
}

// NewDecoder creates a Decoder. A remote speaker needs its own Decoder since
// Opus decoding is stateful across frames.
func NewDecoder(cfg Config) (*Decoder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	dec, err := gopus.NewDecoder(cfg.SampleRate, cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, cfg: cfg}, nil
}

// Decode implements [audio.Decoder]. Frames are decoded in order until the
// packet is exhausted or pcm is full; a frame that only partially fits is
// truncated.
func (d *Decoder) Decode(compressed, pcm []byte) (int, error) {
	fr := NewFrameReader(bytes.NewReader(compressed))
	maxSamples := d.cfg.SampleRate * maxFrameMs / 1000
	n := 0

	for n < len(pcm) {
		frame, err := fr.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("opus: read frame: %w", err)
		}
		if len(frame) == 0 {
			continue
		}

		samples, err := d.dec.Decode(frame, maxSamples, false)
		if err != nil {
			return n, fmt.Errorf("opus: decode: %w", err)
		}
		n += putInt16s(pcm[n:], samples)
	}
	return n, nil
}

// putInt16s writes samples into dst as little-endian bytes and returns the
// number of bytes written. Samples that do not fit are dropped.
func putInt16s(dst []byte, samples []int16) int {
	count := min(len(samples), len(dst)/2)
	for i := range count {
		s := samples[i]
		dst[i*2] = byte(s)
		dst[i*2+1] = byte(s >> 8)
	}
	return count * 2
}

// bytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Codec is an [audio.Codec] handing out Opus encoders and decoders that share
// one configuration.
type Codec struct {
	cfg Config
}

// NewCodec validates cfg and returns a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Codec{cfg: cfg}, nil
}

// NewEncoder implements [audio.Codec].
func (c *Codec) NewEncoder() (audio.Encoder, error) {
	enc, err := NewEncoder(c.cfg)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// NewDecoder implements [audio.Codec].
func (c *Codec) NewDecoder() (audio.Decoder, error) {
	dec, err := NewDecoder(c.cfg)
	if err != nil {
		return nil, err
	}
	return dec, nil
}
