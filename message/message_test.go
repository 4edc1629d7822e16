package message

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSuccessUnwrap(t *testing.T) {
	res, err := Success("hi world")
	require.NoError(t, err)

	data, err := res.Unwrap()
	require.NoError(t, err)
	require.JSONEq(t, `"hi world"`, string(data))
}

func TestFailureCarriesMessageAndStack(t *testing.T) {
	res := Failure(errors.New("x"), "goroutine 1 [running]")

	// Survive a trip through the wire encoding
	body, err := json.Marshal(res)
	require.NoError(t, err)
	var decoded WireResult
	require.NoError(t, json.Unmarshal(body, &decoded))

	_, err = decoded.Unwrap()
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "x", re.Message)
	require.Equal(t, "goroutine 1 [running]", re.Stack)
}

func TestFailureKeepsRelayedRemoteError(t *testing.T) {
	orig := &RemoteError{Message: "deep", Stack: "far away"}
	_, err := Failure(orig, "here").Unwrap()
	require.Equal(t, orig, err)
}

func TestNoSuchMethod(t *testing.T) {
	data, err := NoSuchMethodResult().Unwrap()
	require.NoError(t, err)
	require.True(t, IsNoSuchMethod(data))
	require.True(t, IsNoSuchMethod(json.RawMessage(" \""+NoSuchMethod+"\"\n")))
	require.False(t, IsNoSuchMethod(json.RawMessage(`"pong"`)))
	require.False(t, IsNoSuchMethod(nil))
}
