package transport

import (
	"bufio"
	"net"

	"github.com/gorilla/websocket"

	"rpc-center/protocol"
)

// framer moves whole protocol frames over an underlying connection.
// Reads happen on one goroutine only; writes are serialized by the caller.
type framer interface {
	ReadFrame() (*protocol.Header, []byte, error)
	WriteFrame(h *protocol.Header, body []byte) error
	Close() error
	RemoteAddr() string
}

// streamFramer frames a byte stream with the protocol header's body length.
type streamFramer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newStreamFramer(conn net.Conn) *streamFramer {
	return &streamFramer{conn: conn, r: bufio.NewReader(conn)}
}

func (f *streamFramer) ReadFrame() (*protocol.Header, []byte, error) {
	return protocol.Decode(f.r)
}

func (f *streamFramer) WriteFrame(h *protocol.Header, body []byte) error {
	return protocol.Encode(f.conn, h, body)
}

func (f *streamFramer) Close() error {
	return f.conn.Close()
}

func (f *streamFramer) RemoteAddr() string {
	if addr := f.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// wsFramer sends one frame per binary WebSocket message.
type wsFramer struct {
	ws *websocket.Conn
}

func (f *wsFramer) ReadFrame() (*protocol.Header, []byte, error) {
	for {
		mt, r, err := f.ws.NextReader()
		if err != nil {
			return nil, nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return protocol.Decode(r)
	}
}

func (f *wsFramer) WriteFrame(h *protocol.Header, body []byte) error {
	w, err := f.ws.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := protocol.Encode(w, h, body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (f *wsFramer) Close() error {
	return f.ws.Close()
}

func (f *wsFramer) RemoteAddr() string {
	if addr := f.ws.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
