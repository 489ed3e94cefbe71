package transport

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name      string
		payload   string
		want      string
		malformed bool
	}{
		{name: "raw text", payload: "Message received: hi", want: "Message received: hi"},
		{name: "structured", payload: `{"message":"hello"}`, want: "hello"},
		{name: "structured extra fields", payload: `{"message":"hello","type":"reply"}`, want: "hello"},
		{name: "leading space is raw", payload: ` {"message":"x"}`, want: ` {"message":"x"}`},
		{name: "empty frame", payload: "", want: ""},
		{name: "broken json", payload: `{"message":`, malformed: true},
		{name: "missing message", payload: `{"text":"hello"}`, malformed: true},
		{name: "non string message", payload: `{"message":42}`, malformed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame([]byte(tt.payload))
			if tt.malformed {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrMalformedPayload))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "disconnected", StateDisconnected.String())
	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "errored", StateErrored.String())
	require.Equal(t, "unknown", State(42).String())
}
