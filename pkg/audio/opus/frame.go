package opus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// frameHeaderSize is the length prefix in front of every frame.
const frameHeaderSize = 2

// ErrFrameTooLarge is returned when a frame does not fit the uint16 length
// prefix.
var ErrFrameTooLarge = errors.New("opus: frame exceeds 65535 bytes")

// FrameReader reads length-prefixed frames ([uint16 LE length][bytes]) from
// an io.Reader.
type FrameReader struct {
	r io.Reader
}

// NewFrameReader returns a new FrameReader that reads from r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame reads and returns the next frame.
// Returns io.EOF when there are no more frames and io.ErrUnexpectedEOF when
// the stream ends inside a frame.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	var size uint16
	if err := binary.Read(f.r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}

	frame := make([]byte, size)
	if _, err := io.ReadFull(f.r, frame); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// FrameWriter writes length-prefixed frames to an io.Writer.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter returns a new FrameWriter that writes to w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes frame with its length prefix.
func (f *FrameWriter) WriteFrame(frame []byte) error {
	if len(frame) > math.MaxUint16 {
		return fmt.Errorf("%w: %d", ErrFrameTooLarge, len(frame))
	}
	var lenBuf [frameHeaderSize]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(frame)))
	if _, err := f.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := f.w.Write(frame)
	return err
}

// putFrame writes frame with its length prefix into dst and returns the
// number of bytes used. dst must have room for len(frame)+frameHeaderSize.
func putFrame(dst, frame []byte) int {
	binary.LittleEndian.PutUint16(dst, uint16(len(frame)))
	return frameHeaderSize + copy(dst[frameHeaderSize:], frame)
}
