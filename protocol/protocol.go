// Package protocol implements the length-prefixed frame protocol of lite-rpc.
//
// It solves TCP's sticky packet problem with a 4-byte big-endian length field followed by
// exactly that many bytes of codec-encoded payload. The receiver peeks the length first and only
// consumes a frame once all of its bytes have arrived.
//
// Frame format:
//
//	0         4
//	┌─────────┬────────────────────┐
//	│ length  │    payload ...     │
//	│ uint32  │   length bytes     │
//	└─────────┴────────────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderSize = 4
	// DefaultMaxFrameSize bounds the memory one peer can make the other buffer.
	DefaultMaxFrameSize = 64 * 1024 * 1024
)

var ErrFrameTooLarge = errors.New("protocol: frame too large")

// AppendFrame appends the length prefix and payload to dst.
func AppendFrame(dst []byte, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes a complete frame to w with a single Write call.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different requests will interleave and corrupt the stream.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload))
	return err
}

// ReadFrame reads exactly one frame from r.
// Uses io.ReadFull to guarantee exactly N bytes are read, preventing partial reads.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if maxSize > 0 && n > maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Decoder turns an arbitrarily chunked byte stream back into frame payloads.
//
// Bytes are appended with Write; Next returns one payload once a whole frame is buffered. Until then
// nothing is consumed, not even the length field, so the next attempt re-reads it. The sequence of
// payloads is the same no matter how the stream was split.
//
// A Decoder is not safe for concurrent use; it belongs to a connection's read loop.
type Decoder struct {
	buf     []byte
	maxSize uint32
}

// NewDecoder creates a Decoder that rejects frames longer than maxSize (0 = no limit).
func NewDecoder(maxSize uint32) *Decoder {
	return &Decoder{maxSize: maxSize}
}

// Write buffers p. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the next complete payload, or ok=false if more bytes are needed.
func (d *Decoder) Next() (payload []byte, ok bool, err error) {
	if len(d.buf) < HeaderSize {
		return nil, false, nil
	}
	n := binary.BigEndian.Uint32(d.buf[:HeaderSize])
	if d.maxSize > 0 && n > d.maxSize {
		return nil, false, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	end := HeaderSize + int(n)
	if len(d.buf) < end {
		return nil, false, nil
	}
	payload = make([]byte, n)
	copy(payload, d.buf[HeaderSize:end])

	// Shift the remainder down so the buffer does not grow without bound.
	rest := copy(d.buf, d.buf[end:])
	d.buf = d.buf[:rest]
	return payload, true, nil
}

// Buffered returns the number of bytes waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
