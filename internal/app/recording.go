package app

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrWong99/easyvoice/pkg/audio/opus"
)

// A recording is a header frame followed by one frame per tick. Empty frames
// are ticks without a packet, so replay keeps the original cadence.

const (
	recordingMagic      = "EVR1"
	recordingHeaderSize = len(recordingMagic) + 4 + 2 + 2
)

// ErrBadRecording is returned when a file does not start with a valid
// recording header.
var ErrBadRecording = errors.New("app: not an easyvoice recording")

type recordingHeader struct {
	SampleRate int
	Channels   int
	TickRate   int
}

func (h recordingHeader) marshal() []byte {
	b := make([]byte, recordingHeaderSize)
	n := copy(b, recordingMagic)
	binary.LittleEndian.PutUint32(b[n:], uint32(h.SampleRate))
	binary.LittleEndian.PutUint16(b[n+4:], uint16(h.Channels))
	binary.LittleEndian.PutUint16(b[n+6:], uint16(h.TickRate))
	return b
}

func parseRecordingHeader(b []byte) (recordingHeader, error) {
	if len(b) != recordingHeaderSize || string(b[:len(recordingMagic)]) != recordingMagic {
		return recordingHeader{}, ErrBadRecording
	}
	n := len(recordingMagic)
	return recordingHeader{
		SampleRate: int(binary.LittleEndian.Uint32(b[n:])),
		Channels:   int(binary.LittleEndian.Uint16(b[n+4:])),
		TickRate:   int(binary.LittleEndian.Uint16(b[n+6:])),
	}, nil
}

type recorder struct {
	path   string
	f      *os.File
	buf    *bufio.Writer
	fw     *opus.FrameWriter
	frames int
}

func createRecorder(path string, h recordingHeader) (*recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("app: create recording dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("app: create recording: %w", err)
	}
	buf := bufio.NewWriter(f)
	r := &recorder{path: path, f: f, buf: buf, fw: opus.NewFrameWriter(buf)}
	if err := r.fw.WriteFrame(h.marshal()); err != nil {
		f.Close()
		return nil, fmt.Errorf("app: write recording header: %w", err)
	}
	return r, nil
}

func (r *recorder) write(packet []byte) error {
	if err := r.fw.WriteFrame(packet); err != nil {
		return err
	}
	r.frames++
	return nil
}

func (r *recorder) Close() error {
	return errors.Join(r.buf.Flush(), r.f.Close())
}

type player struct {
	f      *os.File
	fr     *opus.FrameReader
	header recordingHeader
}

func openPlayer(path string) (*player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("app: open recording: %w", err)
	}
	fr := opus.NewFrameReader(bufio.NewReader(f))
	raw, err := fr.ReadFrame()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrBadRecording, err)
	}
	h, err := parseRecordingHeader(raw)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &player{f: f, fr: fr, header: h}, nil
}

// next returns the next tick's packet, empty for a silent tick, or io.EOF.
func (p *player) next() ([]byte, error) {
	return p.fr.ReadFrame()
}

func (p *player) Close() error {
	return p.f.Close()
}
