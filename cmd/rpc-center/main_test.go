package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"rpc-center/center"
	"rpc-center/config"
	"rpc-center/registry"
	"rpc-center/transport"
)

func TestCenterOptionsGlobalRateLimit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := config.Default()
	cfg.Middleware.GlobalRateLimit = 0.001
	cfg.Middleware.Burst = 1

	c := center.NewCenter(centerOptions(cfg, zap.NewNop(), registry.NewMemoryRegistry(), nil)...)
	require.NoError(t, serveGreeter(ctx, c, zap.NewNop()))

	caller := center.NewCenter()
	a, b := transport.Pipe(transport.WithHeartbeat(0))
	require.NoError(t, c.SetConnection(a))
	require.NoError(t, caller.SetConnection(b))
	defer c.Close()
	defer caller.Close()

	res, err := caller.Broadcast(ctx, "greeter:sayHello", "ann")
	require.NoError(t, err)
	require.JSONEq(t, `"hi ann"`, string(res.(json.RawMessage)))

	_, err = caller.Broadcast(ctx, "greeter:sayHello", "bob")
	require.ErrorContains(t, err, "rate limit exceeded")
}

func TestFailedReleasesBeforeExit(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx, stop := context.WithCancel(context.Background())

	code := failed(zap.New(core), stop, errors.New("listen: address in use"))
	require.Equal(t, 1, code)
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	entries := logs.FilterMessage("rpc-center failed").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	require.Equal(t, "listen: address in use", entries[0].ContextMap()["error"])
}
