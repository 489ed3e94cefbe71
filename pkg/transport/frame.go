package transport

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrMalformedPayload marks an inbound frame that looked structured but could
// not be decoded. Such frames are dropped.
var ErrMalformedPayload = errors.New("malformed chat payload")

type structuredFrame struct {
	Message *string `json:"message"`
}

// DecodeFrame extracts the assistant text from an inbound frame. Frames starting
// with '{' are JSON records and must carry a string "message" field; every other
// frame is raw text.
func DecodeFrame(payload []byte) (string, error) {
	if len(payload) == 0 || payload[0] != '{' {
		return string(payload), nil
	}
	var f structuredFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return "", errors.Wrapf(ErrMalformedPayload, "decode json: %v", err)
	}
	if f.Message == nil {
		return "", errors.Wrap(ErrMalformedPayload, "missing message field")
	}
	return *f.Message, nil
}
