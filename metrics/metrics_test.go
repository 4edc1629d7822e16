package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"rpc-center/message"
)

func TestObserveCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCall(Inbound, false, nil, time.Millisecond)
	m.ObserveCall(Inbound, false, &message.RemoteError{Message: "x"}, time.Millisecond)
	m.ObserveCall(Outbound, true, errors.New("closed"), time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues(Inbound, "request", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues(Inbound, "request", "remote_error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Calls.WithLabelValues(Outbound, "notification", "error")))
	require.Equal(t, 2, testutil.CollectAndCount(m.CallDuration))
}

func TestNilRegistererSkipsRegistration(t *testing.T) {
	require.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
