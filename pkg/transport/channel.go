package transport

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultIdentity is used when Connect is called without a client identity.
const DefaultIdentity = "anonymous_user"

// Channel is one long-lived websocket to the chat backend.
//
// Every Connect or Close bumps an epoch; reader goroutines carry the epoch they
// were started with and stop touching state once it is stale, so a late frame
// from a superseded connection is never delivered.
type Channel struct {
	url          *url.URL
	dialer       *websocket.Dialer
	policy       ReconnectPolicy
	writeTimeout time.Duration

	mu       sync.Mutex
	handler  Handler
	state    State
	conn     *websocket.Conn
	identity string
	epoch    uint64
	cancel   context.CancelFunc

	writeMu sync.Mutex
}

type ChannelOption func(*Channel) error

func WithDialer(d *websocket.Dialer) ChannelOption {
	return func(c *Channel) error {
		if d == nil {
			return errors.New("nil dialer")
		}
		c.dialer = d
		return nil
	}
}

func WithReconnectPolicy(p ReconnectPolicy) ChannelOption {
	return func(c *Channel) error {
		if p == nil {
			p = NeverReconnect{}
		}
		c.policy = p
		return nil
	}
}

func WithWriteTimeout(d time.Duration) ChannelOption {
	return func(c *Channel) error {
		c.writeTimeout = d
		return nil
	}
}

func WithHandler(h Handler) ChannelOption {
	return func(c *Channel) error {
		c.SetHandler(h)
		return nil
	}
}

// NewChannel prepares a channel for a ws:// or wss:// endpoint. It does not dial.
func NewChannel(rawURL string, opts ...ChannelOption) (*Channel, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, errors.Wrap(err, "parse chat url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.Errorf("chat url must use ws or wss, got %q", u.Scheme)
	}
	c := &Channel{
		url:          u,
		dialer:       websocket.DefaultDialer,
		policy:       NeverReconnect{},
		writeTimeout: 10 * time.Second,
		handler:      noopHandler{},
		state:        StateDisconnected,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "apply channel option")
		}
	}
	return c, nil
}

// SetHandler replaces the receiver of channel callbacks. Set it before Connect.
func (c *Channel) SetHandler(h Handler) {
	if h == nil {
		h = noopHandler{}
	}
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Connect closes any current connection and dials a new one for identity. It
// blocks until the first dial attempt resolves and returns that attempt's error;
// later redials follow the reconnect policy in the background. ctx bounds the
// lifetime of the connection, not just the dial.
func (c *Channel) Connect(ctx context.Context, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = DefaultIdentity
	}
	_ = c.Close()

	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.identity = identity
	c.mu.Unlock()

	first := make(chan error, 1)
	go c.supervise(runCtx, epoch, identity, first)

	select {
	case err := <-first:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes payload as a text frame. It is a no-op unless the channel is connected.
func (c *Channel) Send(payload string) {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != StateConnected || conn == nil {
		log.Debug().Str("component", "transport").Str("state", state.String()).Msg("dropping send on channel that is not connected")
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		log.Warn().Err(err).Str("component", "transport").Msg("chat write failed")
	}
}

// Close releases the connection and moves the channel to disconnected. Safe to
// call in any state and more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	prev := c.state
	c.state = StateDisconnected
	h := c.handler
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	if prev != StateDisconnected {
		h.OnStateChange(StateDisconnected)
	}
	return err
}

func (c *Channel) supervise(ctx context.Context, epoch uint64, identity string, first chan<- error) {
	reported := false
	report := func(err error) {
		if !reported {
			reported = true
			first <- err
		}
	}
	logger := log.With().Str("component", "transport").Str("identity", identity).Logger()

	for {
		if !c.transition(epoch, StateConnecting, nil) {
			report(errors.New("connection superseded"))
			return
		}
		conn, err := c.dial(ctx, identity)
		if err != nil {
			if ctx.Err() != nil {
				c.transition(epoch, StateDisconnected, nil)
				report(ctx.Err())
				return
			}
			c.fail(epoch, err)
			report(err)
		} else {
			if !c.transition(epoch, StateConnected, conn) {
				_ = conn.Close()
				report(errors.New("connection superseded"))
				return
			}
			c.policy.Reset()
			report(nil)
			logger.Info().Msg("chat channel connected")

			err = c.readLoop(ctx, epoch, conn)
			switch {
			case !c.isCurrent(epoch):
				return
			case ctx.Err() != nil:
				c.transition(epoch, StateDisconnected, nil)
				_ = conn.Close()
				return
			case err == nil:
				logger.Info().Msg("chat channel closed by peer")
				c.transition(epoch, StateDisconnected, nil)
				_ = conn.Close()
			default:
				c.fail(epoch, errors.Wrap(err, "read chat frame"))
			}
		}

		delay, ok := c.policy.Next()
		if !ok {
			return
		}
		logger.Info().Dur("delay", delay).Msg("reconnecting chat channel")
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.transition(epoch, StateDisconnected, nil)
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context, identity string) (*websocket.Conn, error) {
	u := *c.url
	q := u.Query()
	q.Set("client_id", identity)
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial chat channel (status %d)", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "dial chat channel")
	}
	return conn, nil
}

// readLoop returns nil when the peer sends a close frame, whatever its code,
// and the read error otherwise.
func (c *Channel) readLoop(ctx context.Context, epoch uint64, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				log.Debug().Str("component", "transport").Int("code", ce.Code).Str("text", ce.Text).Msg("chat channel close frame")
				return nil
			}
			return err
		}
		content, err := DecodeFrame(data)
		if err != nil {
			log.Warn().Err(err).Str("component", "transport").Int("bytes", len(data)).Msg("dropping malformed chat frame")
			continue
		}
		c.mu.Lock()
		current := epoch == c.epoch
		h := c.handler
		c.mu.Unlock()
		if !current {
			return nil
		}
		h.OnMessage(content)
	}
}

func (c *Channel) isCurrent(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch == c.epoch
}

// transition moves to state if epoch is still current. conn replaces the held
// connection when moving to connected and is dropped otherwise.
func (c *Channel) transition(epoch uint64, state State, conn *websocket.Conn) bool {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return false
	}
	if state == StateConnected {
		c.conn = conn
	} else {
		c.conn = nil
	}
	changed := c.state != state
	c.state = state
	h := c.handler
	c.mu.Unlock()
	if changed {
		h.OnStateChange(state)
	}
	return true
}

// fail moves to errored and raises exactly one error signal for this occurrence.
func (c *Channel) fail(epoch uint64, err error) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	changed := c.state != StateErrored
	c.state = StateErrored
	h := c.handler
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	log.Warn().Err(err).Str("component", "transport").Msg("chat channel error")
	if changed {
		h.OnStateChange(StateErrored)
	}
	h.OnError(err)
}
