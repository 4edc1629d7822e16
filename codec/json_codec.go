package codec

import (
	"encoding/json"
)

// JSONCodec encodes the envelope with encoding/json.
// Human-readable and easy to inspect on the wire; Payload is base64 inside the
// envelope, so it is the largest of the three encodings.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
