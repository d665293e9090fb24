package codec

import (
	"encoding/json"
	"fmt"
	"lite-rpc/message"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Pros: no registration, nil fields survive as null, easy to debug.
// Cons: slower due to reflection + string parsing, larger payload (field names repeated, []byte as base64).
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: json: %v", message.ErrSerialization, err)
	}
	return data, nil
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: json: %v", message.ErrSerialization, err)
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
