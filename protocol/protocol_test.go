package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	for _, mt := range []MsgType{MsgTypeRequest, MsgTypeResponse, MsgTypeNotification} {
		header := Header{
			CodecType: CodecTypeCBOR,
			MsgType:   mt,
			Seq:       12345,
		}
		body := []byte("hello world")

		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, &header, body))

		decoded, decodedBody, err := Decode(&buf)
		require.NoError(t, err)
		require.Equal(t, header.CodecType, decoded.CodecType)
		require.Equal(t, mt, decoded.MsgType)
		require.Equal(t, header.Seq, decoded.Seq)
		require.Equal(t, uint32(len(body)), decoded.BodyLen)
		require.Equal(t, body, decodedBody)
	}
}

func TestEncodeIsSingleWrite(t *testing.T) {
	w := &countingWriter{}
	require.NoError(t, Encode(w, &Header{MsgType: MsgTypeRequest}, []byte("abc")))
	require.Equal(t, 1, w.writes)
	require.Equal(t, HeaderSize+3, w.n)
}

func TestDecodeInvalidMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x6d, 0x72, 0x70, Version, CodecTypeJSON, byte(MsgTypeRequest), 0, 0, 0x30, 0x39, 0, 0, 0, 0})

	_, _, err := Decode(&buf)
	require.ErrorContains(t, err, "invalid magic number")
}

func TestDecodeHeartbeat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeHeartbeat}, nil))

	h, body, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, MsgTypeHeartbeat, h.MsgType)
	require.Zero(t, h.BodyLen)
	require.Empty(t, body)
}

func TestDecodeRejectsBadHeaders(t *testing.T) {
	cases := map[string]struct {
		mutate func(h []byte)
		want   string
	}{
		"version":  {func(h []byte) { h[3] = 0xFF }, "unsupported version"},
		"codec":    {func(h []byte) { h[4] = 9 }, "unsupported codec type"},
		"msg type": {func(h []byte) { h[5] = 7 }, "unsupported message type"},
		"too big":  {func(h []byte) { binary.BigEndian.PutUint32(h[10:14], MaxBodySize+1) }, "body too large"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			frame := []byte{MagicNumber, MagicByte2, MagicByte3, Version, CodecTypeJSON, byte(MsgTypeRequest), 0, 0, 0, 1, 0, 0, 0, 0}
			tc.mutate(frame)
			_, _, err := Decode(bytes.NewReader(frame))
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestDecodeLargeBody(t *testing.T) {
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{CodecType: CodecTypeBinary, MsgType: MsgTypeRequest, Seq: 999}, largeBody))

	_, decodedBody, err := Decode(&buf)
	require.NoError(t, err)
	require.True(t, bytes.Equal(decodedBody, largeBody))
}

type countingWriter struct {
	writes, n int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	w.n += len(p)
	return len(p), nil
}
