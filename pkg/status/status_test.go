package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/postpilot/pkg/backend"
)

type countingSource struct {
	calls int
	resp  backend.StatusResponse
	err   error
}

func (s *countingSource) FacebookStatus(context.Context, string) (backend.StatusResponse, error) {
	s.calls++
	return s.resp, s.err
}

func TestConnected(t *testing.T) {
	require.True(t, Status{AccessTokenStatus: "valid", PermissionsOK: true}.Connected())
	require.False(t, Status{AccessTokenStatus: "valid"}.Connected())
	require.False(t, Status{AccessTokenStatus: "expired", PermissionsOK: true}.Connected())
}

func TestCheckCachesUntilInvalidated(t *testing.T) {
	src := &countingSource{resp: backend.StatusResponse{AccessTokenStatus: "valid", PermissionsOK: true}}
	c := NewChecker(src, time.Minute)

	for i := 0; i < 3; i++ {
		st, err := c.Check(context.Background(), "agent-1")
		require.NoError(t, err)
		require.True(t, st.Connected())
	}
	require.Equal(t, 1, src.calls)

	c.Invalidate("agent-1")
	_, err := c.Check(context.Background(), "agent-1")
	require.NoError(t, err)
	require.Equal(t, 2, src.calls)
}

func TestCheckWithoutCache(t *testing.T) {
	src := &countingSource{resp: backend.StatusResponse{AccessTokenStatus: "valid", PermissionsOK: true}}
	c := NewChecker(src, 0)
	_, _ = c.Check(context.Background(), "a")
	_, _ = c.Check(context.Background(), "a")
	require.Equal(t, 2, src.calls)
}

func TestErrorsAreNotCached(t *testing.T) {
	src := &countingSource{err: errors.New("boom")}
	c := NewChecker(src, time.Minute)
	_, err := c.Check(context.Background(), "a")
	require.Error(t, err)
	_, err = c.Check(context.Background(), "a")
	require.Error(t, err)
	require.Equal(t, 2, src.calls)
}
