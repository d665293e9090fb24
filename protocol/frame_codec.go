package protocol

import (
	"fmt"
	"lite-rpc/codec"
)

// FrameError reports a complete frame whose payload the codec could not decode.
// The frame has been consumed, so the stream is still aligned on the next frame.
type FrameError struct {
	Size int
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("protocol: undecodable frame of %d bytes: %v", e.Size, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// FrameCodec combines a codec with length-prefixed framing.
//
// Encode is safe for concurrent use if the codec is. Feed and Decode share the read buffer
// and must only be called from one goroutine.
type FrameCodec struct {
	codec codec.Codec
	dec   *Decoder
}

func NewFrameCodec(c codec.Codec, maxFrameSize uint32) *FrameCodec {
	return &FrameCodec{
		codec: c,
		dec:   NewDecoder(maxFrameSize),
	}
}

// Codec returns the wrapped codec.
func (f *FrameCodec) Codec() codec.Codec {
	return f.codec
}

// Encode serializes v and returns a complete frame.
func (f *FrameCodec) Encode(v any) ([]byte, error) {
	payload, err := f.codec.Encode(v)
	if err != nil {
		return nil, err
	}
	return AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload), nil
}

// Feed buffers bytes read from the stream.
func (f *FrameCodec) Feed(p []byte) {
	f.dec.Write(p)
}

// Decode decodes the next buffered frame into v. It returns false when no complete frame is
// buffered yet. Codec failures are returned as *FrameError with the frame already consumed;
// ErrFrameTooLarge means the stream cannot be trusted any more.
func (f *FrameCodec) Decode(v any) (bool, error) {
	payload, ok, err := f.dec.Next()
	if err != nil || !ok {
		return false, err
	}
	if err := f.codec.Decode(payload, v); err != nil {
		return false, &FrameError{Size: len(payload), Err: err}
	}
	return true, nil
}
