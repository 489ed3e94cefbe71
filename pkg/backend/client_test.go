package backend_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/postpilot/pkg/backend"
	"github.com/go-go-golems/postpilot/pkg/backend/mockserver"
)

func newMock(t *testing.T, opts mockserver.Options) (*backend.Client, *mockserver.Server) {
	t.Helper()
	ms := mockserver.New(opts)
	srv := httptest.NewServer(ms.Handler())
	t.Cleanup(srv.Close)
	c, err := backend.NewClient(srv.URL, backend.WithTimeout(5*time.Second))
	require.NoError(t, err)
	return c, ms
}

func TestStartAndContinueRoundTrip(t *testing.T) {
	c, _ := newMock(t, mockserver.Options{})
	ctx := context.Background()

	start, err := c.StartWorkflow(ctx, backend.StartRequest{AgentID: "agent-1", Prompt: "luxury condos"})
	require.NoError(t, err)
	require.NotEmpty(t, start.SessionID)
	require.Equal(t, strings.Join(mockserver.Suggestions, "\n"), start.BrandSuggestions)

	cont, err := c.ContinueWorkflow(ctx, backend.ContinueRequest{SessionID: start.SessionID, SelectedBrand: "Elevate Estates"})
	require.NoError(t, err)
	require.Equal(t, "Experience luxury living with Elevate Estates. Schedule a tour today!", cont.Caption)
	require.True(t, strings.HasPrefix(cont.ImagePath, "/static/images/"))

	// The session is consumed by a successful continue.
	_, err = c.ContinueWorkflow(ctx, backend.ContinueRequest{SessionID: start.SessionID, SelectedBrand: "Elevate Estates"})
	detail, ok := backend.Detail(err)
	require.True(t, ok)
	require.Equal(t, "Session expired or not found. Please restart the process.", detail)

	var apiErr *backend.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestStartFailureCarriesDetail(t *testing.T) {
	c, _ := newMock(t, mockserver.Options{FailStart: "rate limited"})
	_, err := c.StartWorkflow(context.Background(), backend.StartRequest{AgentID: "a", Prompt: "p"})
	require.Error(t, err)
	detail, ok := backend.Detail(err)
	require.True(t, ok)
	require.Equal(t, "rate limited", detail)
}

func TestNonStringDetailIsIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":[{"loc":["body","prompt"],"msg":"field required"}]}`))
	}))
	defer srv.Close()
	c, err := backend.NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.StartWorkflow(context.Background(), backend.StartRequest{})
	var apiErr *backend.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "", apiErr.Detail)
	_, ok := backend.Detail(err)
	require.False(t, ok)
}

func TestMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()
	c, err := backend.NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.StartWorkflow(context.Background(), backend.StartRequest{AgentID: "a", Prompt: "p"})
	require.True(t, errors.Is(err, backend.ErrMalformedResponse))
}

func TestIdempotencyKeyIsSent(t *testing.T) {
	keys := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("Idempotency-Key")
		_, _ = w.Write([]byte(`{"status":"success","message":"ok"}`))
	}))
	defer srv.Close()
	c, err := backend.NewClient(srv.URL)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = c.PublishPost(context.Background(), backend.PublishRequest{AgentID: "a", Caption: "c", Images: []string{"i"}})
		require.NoError(t, err)
	}
	first, second := <-keys, <-keys
	require.NotEmpty(t, first)
	require.NotEqual(t, first, second)
}

func TestPublishAndStatus(t *testing.T) {
	c, ms := newMock(t, mockserver.Options{})
	ctx := context.Background()

	st, err := c.FacebookStatus(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "valid", st.AccessTokenStatus)
	require.True(t, st.PermissionsOK)

	resp, err := c.PublishPost(ctx, backend.PublishRequest{AgentID: "agent-1", Caption: "hello", Images: []string{"/static/images/x.jpg"}})
	require.NoError(t, err)
	require.True(t, resp.Succeeded())
	require.Len(t, ms.Posts(), 1)
	require.Equal(t, []string{"/static/images/x.jpg"}, ms.Posts()[0].Images)
}

func TestPublishRejectedByBackend(t *testing.T) {
	c, _ := newMock(t, mockserver.Options{FailPublish: "token expired"})
	resp, err := c.PublishPost(context.Background(), backend.PublishRequest{AgentID: "a", Caption: "c", Images: []string{"i"}})
	require.NoError(t, err)
	require.False(t, resp.Succeeded())
	require.Equal(t, "token expired", resp.Message)
}

func TestChatURL(t *testing.T) {
	c, err := backend.NewClient("https://api.example.com/")
	require.NoError(t, err)
	require.Equal(t, "wss://api.example.com/api/bot/chat", c.ChatURL())

	c, err = backend.NewClient("http://localhost:8000")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8000/api/bot/chat", c.ChatURL())
}

func TestRejectsBadScheme(t *testing.T) {
	_, err := backend.NewClient("ftp://example.com")
	require.Error(t, err)
}
