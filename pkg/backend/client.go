// Package backend is the HTTP client for the post-generation backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	pathGenerateBranding = "/api/bot/generate-branding"
	pathContinuePost     = "/api/bot/continue-post-generation"
	pathFacebookPosts    = "/api/facebook/posts"
	pathFacebookStatus   = "/api/facebook/status/agents/"
	pathChat             = "/api/bot/chat"

	maxBodyBytes = 4 << 20
)

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds a whole request, body included. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = d
		c.httpClient = &hc
	}
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse backend url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("backend url must use http or https, got %q", baseURL)
	}
	c := &Client{baseURL: u, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StartWorkflow asks for brand suggestions for prompt.
func (c *Client) StartWorkflow(ctx context.Context, req StartRequest) (StartResponse, error) {
	var resp StartResponse
	err := c.do(ctx, http.MethodPost, pathGenerateBranding, req, &resp)
	return resp, err
}

// ContinueWorkflow generates caption and image for the selected brand.
func (c *Client) ContinueWorkflow(ctx context.Context, req ContinueRequest) (ContinueResponse, error) {
	var resp ContinueResponse
	err := c.do(ctx, http.MethodPost, pathContinuePost, req, &resp)
	return resp, err
}

// PublishPost publishes a finished post to the agent's Facebook page.
func (c *Client) PublishPost(ctx context.Context, req PublishRequest) (PublishResponse, error) {
	var resp PublishResponse
	err := c.do(ctx, http.MethodPost, pathFacebookPosts, req, &resp)
	return resp, err
}

// FacebookStatus reads the agent's publishing-platform connection state.
func (c *Client) FacebookStatus(ctx context.Context, agentID string) (StatusResponse, error) {
	var resp StatusResponse
	if strings.TrimSpace(agentID) == "" {
		return resp, errors.New("empty agent id")
	}
	err := c.do(ctx, http.MethodGet, pathFacebookStatus+url.PathEscape(agentID), nil, &resp)
	return resp, err
}

// ChatURL derives the websocket endpoint from the HTTP base URL.
func (c *Client) ChatURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = path.Join(u.Path, pathChat)
	u.RawQuery = ""
	return u.String()
}

func (c *Client) do(ctx context.Context, method, p string, body any, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + p

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	key := uuid.NewString()
	req.Header.Set("Idempotency-Key", key)

	logger := log.With().
		Str("component", "backend").
		Str("method", method).
		Str("path", p).
		Str("idempotency_key", key).
		Logger()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("backend request failed")
		return errors.Wrapf(err, "%s %s", method, p)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read response body")
	}
	logger.Debug().Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("backend request done")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Detail: parseDetail(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(ErrMalformedResponse, "%s %s: %v", method, p, err)
	}
	return nil
}
