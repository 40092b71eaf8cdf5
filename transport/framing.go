package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxFrameSize bounds a single frame.
const DefaultMaxFrameSize = 4 << 20

// ErrFrameTooLarge is returned by a FrameReader for a frame above the limit.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Framing delimits JSON values on a byte stream.
type Framing interface {
	Name() string
	NewReader(r io.Reader) FrameReader
	WriteFrame(w io.Writer, payload []byte) error
}

// FrameReader yields one frame per call and io.EOF at end of stream.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// NewlineFraming writes one JSON value per line. Blank lines are skipped.
type NewlineFraming struct {
	MaxFrameSize int
}

// Name implements Framing.
func (NewlineFraming) Name() string { return "newline" }

// NewReader implements Framing.
func (f NewlineFraming) NewReader(r io.Reader) FrameReader {
	limit := f.MaxFrameSize
	if limit <= 0 {
		limit = DefaultMaxFrameSize
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, limit)), limit)
	return &lineReader{scanner: scanner}
}

// WriteFrame implements Framing. payload must not contain a newline, which
// holds for anything produced by encoding/json.
func (NewlineFraming) WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}

type lineReader struct {
	scanner *bufio.Scanner
}

func (l *lineReader) ReadFrame() ([]byte, error) {
	for l.scanner.Scan() {
		line := l.scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		return frame, nil
	}
	if err := l.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, ErrFrameTooLarge
		}
		return nil, err
	}
	return nil, io.EOF
}

// LengthPrefixFraming prefixes each payload with its length as a 4-byte
// big-endian integer.
type LengthPrefixFraming struct {
	MaxFrameSize int
}

// Name implements Framing.
func (LengthPrefixFraming) Name() string { return "length" }

// NewReader implements Framing.
func (f LengthPrefixFraming) NewReader(r io.Reader) FrameReader {
	limit := f.MaxFrameSize
	if limit <= 0 {
		limit = DefaultMaxFrameSize
	}
	return &prefixReader{r: bufio.NewReader(r), limit: limit}
}

// WriteFrame implements Framing.
func (LengthPrefixFraming) WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

type prefixReader struct {
	r     *bufio.Reader
	limit int
}

func (p *prefixReader) ReadFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(p.r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated frame header: %w", err)
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if int64(n) > int64(p.limit) {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(p.r, frame); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("truncated frame body: %w", err)
	}
	return frame, nil
}

// ParseFraming maps a configuration name to a Framing.
func ParseFraming(name string) (Framing, error) {
	switch strings.ToLower(name) {
	case "", "newline", "line", "ndjson":
		return NewlineFraming{}, nil
	case "length", "length-prefix", "length_prefix":
		return LengthPrefixFraming{}, nil
	}
	return nil, fmt.Errorf("unknown framing %q", name)
}
