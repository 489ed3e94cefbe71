package backend

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	// Detail is the human-readable "detail" string of the error body, if any.
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

// ErrMalformedResponse marks a 2xx body that could not be decoded.
var ErrMalformedResponse = errors.New("malformed backend response")

// Detail extracts the server-provided detail from err, if there is one.
func Detail(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Detail) != "" {
		return apiErr.Detail, true
	}
	return "", false
}

// parseDetail only accepts a string detail; validation errors carry a list and
// are treated as absent.
func parseDetail(body []byte) string {
	var env struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(env.Detail, &s); err != nil {
		return ""
	}
	return s
}
