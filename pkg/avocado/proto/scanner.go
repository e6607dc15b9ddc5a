package proto

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame is one result of scanning a byte stream: either a decoded packet or
// the error that caused a candidate frame to be dropped.
type Frame struct {
	Packet Packet
	Raw    []byte
	Err    error
}

// Scanner splits an unframed byte stream into frames. Bytes outside of a frame
// are discarded, and after a corrupt frame the scanner resynchronises on the
// next prefix. A Scanner is not safe for concurrent use.
type Scanner struct {
	buf     []byte
	skipped int
}

// Feed appends data to the internal buffer and returns every frame that can be
// resolved so far. Incomplete trailing bytes are kept for the next call.
func (s *Scanner) Feed(data []byte) []Frame {
	s.buf = append(s.buf, data...)

	var frames []Frame
	for {
		start := bytes.IndexByte(s.buf, Wrapper)
		if start < 0 {
			s.discard(len(s.buf))
			return frames
		}
		s.discard(start)

		if len(s.buf) < 2 {
			return frames
		}
		if s.buf[1] != Version {
			s.discard(1)
			continue
		}
		if len(s.buf) < HeaderSize {
			return frames
		}

		length := int(UnpackFlags(binary.LittleEndian.Uint16(s.buf[18:20])).Length)
		if length > MaxPayloadSize {
			frames = append(frames, Frame{
				Raw: clone(s.buf[:HeaderSize]),
				Err: fmt.Errorf("%w: declared length %d, maximum is %d", ErrPayloadTooLarge, length, MaxPayloadSize),
			})
			s.discard(1)
			continue
		}

		size := Overhead + length
		if len(s.buf) < size {
			return frames
		}
		if s.buf[size-1] != Wrapper {
			frames = append(frames, Frame{
				Raw: clone(s.buf[:size]),
				Err: fmt.Errorf("%w: invalid suffix 0x%02x", ErrFraming, s.buf[size-1]),
			})
			s.discard(1)
			continue
		}

		raw := clone(s.buf[:size])
		pkt, err := Decode(raw)
		s.buf = s.buf[size:]
		frames = append(frames, Frame{Packet: pkt, Raw: raw, Err: err})
	}
}

// Buffered returns the number of bytes waiting for more input.
func (s *Scanner) Buffered() int {
	return len(s.buf)
}

// Skipped returns the number of bytes discarded as noise so far.
func (s *Scanner) Skipped() int {
	return s.skipped
}

// Reset drops any buffered bytes.
func (s *Scanner) Reset() {
	s.buf = nil
}

func (s *Scanner) discard(n int) {
	if n == 0 {
		return
	}
	s.skipped += n
	s.buf = s.buf[n:]
	if len(s.buf) == 0 {
		s.buf = nil
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Reader yields frames read from an underlying stream.
type Reader struct {
	r       io.Reader
	scanner Scanner
	pending []Frame
	buf     []byte
	err     error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, buf: make([]byte, MaxFrameSize)}
}

// Next returns the next frame. A frame with a non-nil Err means a corrupt frame
// was dropped and reading may continue. The returned error is only set once the
// underlying reader fails or the context is cancelled; io.EOF marks a clean end
// of the stream.
func (r *Reader) Next(ctx context.Context) (Frame, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return Frame{}, r.err
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}

		n, err := r.r.Read(r.buf)
		if n > 0 {
			r.pending = append(r.pending, r.scanner.Feed(r.buf[:n])...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) && r.scanner.Buffered() > 0 {
				r.pending = append(r.pending, Frame{
					Raw: clone(r.scanner.buf),
					Err: fmt.Errorf("%w: stream ended inside a frame", ErrFraming),
				})
				r.scanner.Reset()
			}
			r.err = err
		}
	}

	f := r.pending[0]
	r.pending = r.pending[1:]
	return f, nil
}

// ReadPacket returns the next valid packet, skipping corrupt frames.
func (r *Reader) ReadPacket(ctx context.Context) (Packet, error) {
	for {
		f, err := r.Next(ctx)
		if err != nil {
			return Packet{}, err
		}
		if f.Err == nil {
			return f.Packet, nil
		}
	}
}
