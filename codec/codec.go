// Package codec serializes the message envelope carried inside a protocol frame.
//
// The codec only frames the envelope. Argument and result values inside
// RPCMessage.Payload are JSON for every codec type.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
	CodecTypeCBOR   CodecType = 2
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary, 2=CBOR
}

var (
	jsonCodec   = &JSONCodec{}
	binaryCodec = &BinaryCodec{}
	cborCodec   = &CBORCodec{}
)

// GetCodec returns the codec for codecType, falling back to JSON for unknown types.
func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeBinary:
		return binaryCodec
	case CodecTypeCBOR:
		return cborCodec
	default:
		return jsonCodec
	}
}

// ParseCodecType maps a config name ("json", "binary", "cbor") to its type.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	case "cbor":
		return CodecTypeCBOR, nil
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	case CodecTypeCBOR:
		return "cbor"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}
