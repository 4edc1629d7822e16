package center

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidServiceName is returned by NewStub for names that cannot be told
// apart on the wire.
var ErrInvalidServiceName = errors.New("center: invalid service name")

// Stub is the per-service view of a Center: it qualifies short method names
// with the service name before registering or calling them.
type Stub struct {
	center *Center
	name   string
}

// NewStub registers the service with center and returns its stub.
func NewStub(ctx context.Context, center *Center, name string, isCreator bool) (*Stub, error) {
	if name == "" || name == reservedService || strings.Contains(name, ":") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidServiceName, name)
	}
	if err := center.RegisterService(ctx, name, isCreator); err != nil {
		return nil, err
	}
	return &Stub{center: center, name: name}, nil
}

func (s *Stub) Name() string {
	return s.name
}

// WireName qualifies method, classifying it with KindOf.
func (s *Stub) WireName(method string) string {
	return WireName(s.name, method, KindOf(method))
}

// On registers a handler, classifying method with KindOf.
func (s *Stub) On(method string, h Handler) {
	s.Handle(method, KindOf(method), h)
}

// Handle registers a handler with an explicit kind.
func (s *Stub) Handle(method string, kind Kind, h Handler) {
	s.center.OnRequest(WireName(s.name, method, kind), h)
}

// OnRequestService registers every method of svc.
func (s *Stub) OnRequestService(svc Service) {
	for _, name := range svc.Names() {
		m := svc[name]
		s.Handle(name, m.Kind, m.Handler)
	}
}

// Broadcast sends method to every peer, classifying it with KindOf. See
// Center.Broadcast for the result shape.
func (s *Stub) Broadcast(ctx context.Context, method string, args ...any) (any, error) {
	return s.center.Broadcast(ctx, s.WireName(method), args...)
}

// Call broadcasts method as a request regardless of its name.
func (s *Stub) Call(ctx context.Context, method string, args ...any) (any, error) {
	return s.center.Broadcast(ctx, WireName(s.name, method, Request), args...)
}

// Notify broadcasts method as a notification regardless of its name.
func (s *Stub) Notify(ctx context.Context, method string, args ...any) error {
	_, err := s.center.Broadcast(ctx, WireName(s.name, method, Notification), args...)
	return err
}

// Invoke sends method to one peer picked by the center's balancer.
func (s *Stub) Invoke(ctx context.Context, key, method string, args ...any) (json.RawMessage, error) {
	return s.center.Invoke(ctx, key, WireName(s.name, method, Request), args...)
}

// CallInto is Call with the merged result decoded into out. With no answering
// peer out is left untouched; with several it must decode a JSON array.
func (s *Stub) CallInto(ctx context.Context, out any, method string, args ...any) error {
	res, err := s.Call(ctx, method, args...)
	if err != nil {
		return err
	}
	var raw json.RawMessage
	switch v := res.(type) {
	case json.RawMessage:
		raw = v
	case []json.RawMessage:
		if len(v) == 0 {
			return nil
		}
		if raw, err = json.Marshal(v); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode result of %s:%s: %w", s.name, method, err)
	}
	return nil
}
