// Package codec provides the serialization strategies used for call envelopes and the
// application values inside them.
//
// Two strategies sit behind one interface:
//   - JSONCodec:   general, no registration, human-readable, slower.
//   - BinaryCodec: compact protobuf-wire encoding, requires registering struct shapes,
//     pools its encoder state.
//
// There is no negotiation: both ends of a connection must be configured with the same strategy.
package codec

import (
	"fmt"
	"strings"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

var (
	defaultJSON   = &JSONCodec{}
	defaultBinary = NewBinaryCodec()
)

// GetCodec returns the process-wide instance of the given strategy.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return defaultJSON
	}

	return defaultBinary
}

// Register records struct shapes on the process-wide binary codec.
func Register(samples ...any) error {
	return defaultBinary.Register(samples...)
}

// ParseType maps a configuration name to a CodecType.
func ParseType(name string) (CodecType, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary", "proto", "protowire":
		return CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("codec: unknown codec %q", name)
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}
