package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBORCodec encodes the envelope as CBOR (RFC 8949).
// Smaller than JSON because the Payload bytes are stored as a byte string
// instead of base64 text.
type CBORCodec struct{}

func (c *CBORCodec) Encode(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (c *CBORCodec) Decode(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (c *CBORCodec) Type() CodecType {
	return CodecTypeCBOR
}
