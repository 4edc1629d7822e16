package codec

import (
	"encoding/binary"
	"errors"

	"rpc-center/message"
)

var errShortBody = errors.New("BinaryCodec: truncated body")

type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	// v must be *RPCMessage
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *RPCMessage")
	}
	if len(msg.Method) > 0xFFFF || len(msg.Error) > 0xFFFF {
		return nil, errors.New("BinaryCodec: method or error longer than 65535 bytes")
	}
	// Calculate the length of message
	total := 2 + len(msg.Method) + 4 + len(msg.Payload) + 2 + len(msg.Error)
	buf := make([]byte, total)

	offset := 0
	// Method length -- 2 bytes
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(msg.Method)))
	offset += 2

	// Method -- n bytes
	copy(buf[offset:offset+len(msg.Method)], msg.Method)
	offset += len(msg.Method)

	// Payload length -- 4 bytes
	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(msg.Payload)))
	offset += 4

	// Payload -- n bytes
	copy(buf[offset:offset+len(msg.Payload)], msg.Payload)
	offset += len(msg.Payload)

	// Error length -- 2 bytes
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(msg.Error)))
	offset += 2

	// Error -- n bytes
	copy(buf[offset:offset+len(msg.Error)], msg.Error)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	// v must be *RPCMessage
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errors.New("BinaryCodec: v must be *RPCMessage")
	}

	offset := 0
	need := func(n int) bool { return len(data)-offset >= n }

	// Read Method
	if !need(2) {
		return errShortBody
	}
	strLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if !need(strLen) {
		return errShortBody
	}
	msg.Method = string(data[offset : offset+strLen])
	offset += strLen

	// Read Payload
	if !need(4) {
		return errShortBody
	}
	payloadLen := int(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if !need(payloadLen) {
		return errShortBody
	}
	msg.Payload = make([]byte, payloadLen)
	copy(msg.Payload, data[offset:offset+payloadLen])
	offset += payloadLen

	// Read Error
	if !need(2) {
		return errShortBody
	}
	errLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if !need(errLen) {
		return errShortBody
	}
	msg.Error = string(data[offset : offset+errLen])

	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
