package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"rpc-center/codec"
	"rpc-center/protocol"
)

func add(_ context.Context, params []json.RawMessage) (any, error) {
	var a, b int
	if err := json.Unmarshal(params[0], &a); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(params[1], &b); err != nil {
		return nil, err
	}
	return a + b, nil
}

// listen starts both ends of a pipe and closes them when the test ends.
func listen(t *testing.T, a, b Connection) {
	t.Helper()
	require.NoError(t, a.Listen())
	require.NoError(t, b.Listen())
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
}

func TestRequestSerial(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary, codec.CodecTypeCBOR} {
		t.Run(ct.String(), func(t *testing.T) {
			a, b := Pipe(WithCodec(ct))
			b.OnRequest("arith:add", add)
			listen(t, a, b)

			cases := []struct{ a, b, expect int }{
				{1, 2, 3},
				{10, 20, 30},
				{100, 200, 300},
			}
			for _, tc := range cases {
				raw, err := a.SendRequest(context.Background(), "arith:add", []any{tc.a, tc.b})
				require.NoError(t, err)
				require.JSONEq(t, fmt.Sprint(tc.expect), string(raw))
			}
		})
	}
}

// Both directions share one connection; each side answers the other's requests.
func TestRequestBothDirections(t *testing.T) {
	a, b := Pipe()
	a.OnRequest("who", func(context.Context, []json.RawMessage) (any, error) { return "a", nil })
	b.OnRequest("who", func(context.Context, []json.RawMessage) (any, error) { return "b", nil })
	listen(t, a, b)

	raw, err := a.SendRequest(context.Background(), "who", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"b"`, string(raw))

	raw, err = b.SendRequest(context.Background(), "who", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"a"`, string(raw))
}

func TestRequestConcurrent(t *testing.T) {
	a, b := Pipe()
	b.OnRequest("arith:add", add)
	listen(t, a, b)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			raw, err := a.SendRequest(context.Background(), "arith:add", []any{n, n})
			if err != nil {
				t.Errorf("send failed: %v", err)
				return
			}
			var got int
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Errorf("unmarshal failed: %v", err)
				return
			}
			if got != n*2 {
				t.Errorf("expect %d, got %d", n*2, got)
			}
		}(i)
	}
	wg.Wait()
}

func TestUnhandledRequest(t *testing.T) {
	a, b := Pipe()
	b.OnUnhandledRequest(func(_ context.Context, method string, _ []json.RawMessage) (any, error) {
		return "fallback:" + method, nil
	})
	listen(t, a, b)

	raw, err := a.SendRequest(context.Background(), "nobody:home", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"fallback:nobody:home"`, string(raw))
}

func TestHandlerErrorIsTransportError(t *testing.T) {
	a, b := Pipe()
	b.OnRequest("fail", func(context.Context, []json.RawMessage) (any, error) {
		return nil, errors.New("nope")
	})
	b.OnRequest("panic", func(context.Context, []json.RawMessage) (any, error) {
		panic("kaboom")
	})
	listen(t, a, b)

	_, err := a.SendRequest(context.Background(), "fail", nil)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, "nope", te.Message)

	_, err = a.SendRequest(context.Background(), "panic", nil)
	require.ErrorAs(t, err, &te)
	require.Contains(t, te.Message, "kaboom")

	_, err = a.SendRequest(context.Background(), "missing", nil)
	require.ErrorAs(t, err, &te)
	require.Contains(t, te.Message, "no handler")
}

func TestNotificationsKeepOrder(t *testing.T) {
	a, b := Pipe()
	got := make(chan int, 100)
	b.OnNotification("on:counter:onTick", func(_ context.Context, params []json.RawMessage) {
		var n int
		json.Unmarshal(params[0], &n)
		got <- n
	})
	listen(t, a, b)

	for i := 0; i < 100; i++ {
		require.NoError(t, a.SendNotification(context.Background(), "on:counter:onTick", []any{i}))
	}
	for i := 0; i < 100; i++ {
		select {
		case n := <-got:
			require.Equal(t, i, n)
		case <-time.After(2 * time.Second):
			t.Fatalf("notification %d never arrived", i)
		}
	}
}

func TestCloseFailsPendingRequests(t *testing.T) {
	a, b := Pipe()
	block := make(chan struct{})
	b.OnRequest("slow", func(context.Context, []json.RawMessage) (any, error) {
		<-block
		return nil, nil
	})
	listen(t, a, b)
	defer close(block)

	errc := make(chan error, 1)
	go func() {
		_, err := a.SendRequest(context.Background(), "slow", nil)
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was not released")
	}

	<-a.Done()
	_, err := a.SendRequest(context.Background(), "slow", nil)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestRequestContextCancel(t *testing.T) {
	a, b := Pipe()
	block := make(chan struct{})
	defer close(block)
	b.OnRequest("slow", func(context.Context, []json.RawMessage) (any, error) {
		<-block
		return nil, nil
	})
	listen(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.SendRequest(ctx, "slow", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListenTwice(t *testing.T) {
	a, b := Pipe()
	listen(t, a, b)
	require.ErrorIs(t, a.Listen(), ErrAlreadyListening)
}

func TestWebSocketConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWebSocketConnection(ws, WithCodec(codec.CodecTypeCBOR))
		conn.OnRequest("arith:add", add)
		conn.Listen()
		<-conn.Done()
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	conn := NewWebSocketConnection(ws)
	require.NoError(t, conn.Listen())
	defer conn.Close()

	raw, err := conn.SendRequest(context.Background(), "arith:add", []any{4, 6})
	require.NoError(t, err)
	require.JSONEq(t, `10`, string(raw))
}

func TestRemoteAddr(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
			time.Sleep(100 * time.Millisecond)
		}
	}()

	raw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	conn := NewStreamConnection(raw)
	defer conn.Close()
	require.Equal(t, ln.Addr().String(), conn.RemoteAddr())
}

// An oversized message fails its own call; the connection keeps serving.
func TestOversizedMessageFailsOnlyItsCall(t *testing.T) {
	a, b := Pipe(WithHeartbeat(0))
	b.OnRequest("big", func(context.Context, []json.RawMessage) (any, error) {
		return strings.Repeat("x", int(protocol.MaxBodySize)+1), nil
	})
	b.OnRequest("arith:add", add)
	listen(t, a, b)

	_, err := a.SendRequest(context.Background(), "big", nil)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Contains(t, te.Message, "frame too large")

	_, err = a.SendRequest(context.Background(), "arith:add", []any{strings.Repeat("y", int(protocol.MaxBodySize)+1), 1})
	require.ErrorIs(t, err, ErrFrameTooLarge)

	raw, err := a.SendRequest(context.Background(), "arith:add", []any{1, 2})
	require.NoError(t, err)
	require.JSONEq(t, `3`, string(raw))
}

// Notification handlers may call back into the sender however many are queued.
func TestNotificationHandlersCanCallBack(t *testing.T) {
	const n = 600
	a, b := Pipe(WithHeartbeat(0))
	a.OnRequest("arith:add", add)

	completed := make(chan struct{}, n)
	b.OnNotification("on:counter:onTick", func(ctx context.Context, params []json.RawMessage) {
		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if _, err := b.SendRequest(cctx, "arith:add", []any{1, 2}); err != nil {
			t.Errorf("callback failed: %v", err)
			return
		}
		completed <- struct{}{}
	})
	listen(t, a, b)

	for i := 0; i < n; i++ {
		require.NoError(t, a.SendNotification(context.Background(), "on:counter:onTick", []any{i}))
	}
	for i := 0; i < n; i++ {
		select {
		case <-completed:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d/%d notification handlers completed", i, n)
		}
	}
}

func TestUndecodableResponseFailsCaller(t *testing.T) {
	local, remote := net.Pipe()
	conn := NewStreamConnection(local, WithHeartbeat(0))
	require.NoError(t, conn.Listen())
	defer conn.Close()
	defer remote.Close()

	go func() {
		h, _, err := protocol.Decode(remote)
		if err != nil {
			return
		}
		reply := &protocol.Header{CodecType: protocol.CodecTypeJSON, MsgType: protocol.MsgTypeResponse, Seq: h.Seq}
		protocol.Encode(remote, reply, []byte("{not json"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := conn.SendRequest(ctx, "arith:add", []any{1, 2})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Contains(t, te.Message, "undecodable response")
}
