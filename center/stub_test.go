package center

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rpc-center/registry"
)

func TestStubServiceRoundTrip(t *testing.T) {
	ctx := ctxTimeout(t)
	client, server := NewCenter(), NewCenter()

	g := &Greeter{joined: make(chan string, 1)}
	svc, err := Reflect(g)
	require.NoError(t, err)
	stub, err := NewStub(ctx, server, "greeter", true)
	require.NoError(t, err)
	stub.OnRequestService(svc)
	link(t, client, server)

	remote, err := NewStub(ctx, client, "greeter", false)
	require.NoError(t, err)
	require.Equal(t, "greeter", remote.Name())

	var n int
	require.NoError(t, remote.CallInto(ctx, &n, "divide", 8, 2))
	require.Equal(t, 4, n)

	_, err = remote.Call(ctx, "divide", 1, 0)
	require.EqualError(t, err, "division by zero")

	require.NoError(t, remote.Notify(ctx, "onJoin", "bob"))
	select {
	case who := <-g.joined:
		require.Equal(t, "bob", who)
	case <-time.After(2 * time.Second):
		t.Fatal("onJoin not delivered")
	}

	raw, err := remote.Invoke(ctx, "", "sayHello", "ann")
	require.NoError(t, err)
	require.JSONEq(t, `"hi ann"`, string(raw))
}

// A method starting with "on" that needs an answer is registered and called
// with an explicit kind.
func TestStubExplicitKind(t *testing.T) {
	ctx := ctxTimeout(t)
	client, server := NewCenter(), NewCenter()

	status, err := NewStub(ctx, server, "status", true)
	require.NoError(t, err)
	status.Handle("online", Request, func(context.Context, []json.RawMessage) (any, error) {
		return true, nil
	})
	link(t, client, server)

	remote, err := NewStub(ctx, client, "status", false)
	require.NoError(t, err)

	var online bool
	require.NoError(t, remote.CallInto(ctx, &online, "online"))
	require.True(t, online)

	// by convention the same name is a notification and returns nothing
	res, err := remote.Broadcast(ctx, "online")
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestCallIntoWithoutAnswers(t *testing.T) {
	ctx := ctxTimeout(t)
	client, server := NewCenter(), NewCenter()
	link(t, client, server)

	remote, err := NewStub(ctx, client, "greeter", false)
	require.NoError(t, err)

	got := "untouched"
	require.NoError(t, remote.CallInto(ctx, &got, "sayHello"))
	require.Equal(t, "untouched", got)
}

func TestCreatorStubRegisters(t *testing.T) {
	ctx := ctxTimeout(t)
	reg := registry.NewMemoryRegistry()
	c := NewCenter(WithID("c1"), WithRegistry(reg), WithAdvertiseAddr("127.0.0.1:9000"), WithWeight(3), WithVersion("v1"))

	_, err := NewStub(ctx, c, "greeter", true)
	require.NoError(t, err)
	_, err = NewStub(ctx, c, "chat", false)
	require.NoError(t, err)

	insts, err := reg.Discover(ctx, "greeter")
	require.NoError(t, err)
	require.Equal(t, []registry.ServiceInstance{{ID: "c1", Addr: "127.0.0.1:9000", Weight: 3, Version: "v1"}}, insts)

	insts, err = reg.Discover(ctx, "chat")
	require.NoError(t, err)
	require.Empty(t, insts)

	require.NoError(t, c.DeregisterServices(ctx))
	insts, err = reg.Discover(ctx, "greeter")
	require.NoError(t, err)
	require.Empty(t, insts)
}

func TestStubRejectsAmbiguousServiceNames(t *testing.T) {
	c := NewCenter()
	for _, name := range []string{"", "on", "chat:room"} {
		_, err := NewStub(context.Background(), c, name, true)
		require.ErrorIs(t, err, ErrInvalidServiceName, "name %q", name)
	}
	require.Empty(t, c.Services())

	// other names starting with "on" stay distinct from notifications
	stub, err := NewStub(context.Background(), c, "online", false)
	require.NoError(t, err)
	require.False(t, IsNotification(WireName(stub.Name(), "x", Request)))
}
