package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// DefaultMaxFrameSize is the largest payload accepted when no limit is configured.
const DefaultMaxFrameSize = 64 * 1024

// ErrFraming is matched by every error returned from DecodeNext.
var ErrFraming = errors.New("framing error")

// FramingError reports a corrupt or oversized length prefix.
// It is fatal to the connection that produced it.
type FramingError struct {
	Length uint64
	Max    int
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing error: bad length prefix: %v", e.Err)
	}
	return fmt.Sprintf("framing error: frame of %d bytes exceeds limit of %d", e.Length, e.Max)
}

func (e *FramingError) Unwrap() error { return e.Err }

// Is reports ErrFraming as a match so callers need not type-assert.
func (e *FramingError) Is(target error) bool { return target == ErrFraming }

// Encode prefixes payload with its unsigned varint length.
// The result can be written to the transport in one call.
func Encode(payload []byte) []byte {
	out := make([]byte, 0, varint.UvarintSize(uint64(len(payload)))+len(payload))
	out = append(out, varint.ToUvarint(uint64(len(payload)))...)
	return append(out, payload...)
}

// DecodeNext extracts exactly one frame from buf. A limit of zero or less
// means DefaultMaxFrameSize.
//
// When buf does not yet hold a complete frame it returns a nil frame and buf
// unchanged. The returned frame aliases buf and is only valid until buf is
// modified. An empty payload is returned as a non-nil empty slice.
func DecodeNext(buf []byte, limit int) (frame, rest []byte, err error) {
	if limit <= 0 {
		limit = DefaultMaxFrameSize
	}
	size, n, err := varint.FromUvarint(buf)
	if err != nil {
		if errors.Is(err, varint.ErrUnderflow) {
			return nil, buf, nil
		}
		return nil, buf, &FramingError{Max: limit, Err: err}
	}
	if size > uint64(limit) {
		return nil, buf, &FramingError{Length: size, Max: limit}
	}
	end := n + int(size)
	if len(buf) < end {
		return nil, buf, nil
	}
	return buf[n:end:end], buf[end:], nil
}

// WriteFrame encodes payload and writes it to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if _, err := w.Write(Encode(payload)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Reader reads whole frames from a blocking stream.
type Reader struct {
	r     io.Reader
	limit int
	buf   []byte
	tmp   []byte
}

// NewReader returns a Reader that rejects frames larger than limit bytes.
func NewReader(r io.Reader, limit int) *Reader {
	return &Reader{r: r, limit: limit, tmp: make([]byte, 4096)}
}

// ReadFrame blocks until one complete frame is available.
// The returned slice is owned by the caller.
func (fr *Reader) ReadFrame() ([]byte, error) {
	for {
		frame, rest, err := DecodeNext(fr.buf, fr.limit)
		if err != nil {
			return nil, err
		}
		if frame != nil {
			out := append([]byte{}, frame...)
			fr.buf = append(fr.buf[:0], rest...)
			return out, nil
		}

		n, err := fr.r.Read(fr.tmp)
		fr.buf = append(fr.buf, fr.tmp[:n]...)
		if err != nil {
			if n > 0 {
				continue
			}
			if errors.Is(err, io.EOF) && len(fr.buf) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}
