package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"rpc-center/center"
)

// greeter is the demo service every rpc-center provides.
type greeter struct {
	logger *zap.Logger
}

func (g *greeter) SayHello(name string) (string, error) {
	if name == "" {
		return "", errors.New("name is required")
	}
	return "hi " + name, nil
}

// OnJoin is a notification: callers get no answer.
func (g *greeter) OnJoin(name string) {
	g.logger.Info("peer joined", zap.String("name", name))
}

func serveGreeter(ctx context.Context, c *center.Center, logger *zap.Logger) error {
	svc, err := center.Reflect(&greeter{logger: logger})
	if err != nil {
		return err
	}
	stub, err := center.NewStub(ctx, c, "greeter", true)
	if err != nil {
		return err
	}
	stub.OnRequestService(svc)
	return nil
}
