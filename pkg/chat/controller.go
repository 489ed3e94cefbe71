// Package chat keeps the ordered chat log on top of a transport channel.
//
// Replies are paired with requests purely by arrival order: the backend is
// assumed to answer one frame per sent message, in order. Unsolicited frames are
// still appended, they just clear the loading flag early.
package chat

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/postpilot/pkg/events"
	"github.com/go-go-golems/postpilot/pkg/transport"
)

var (
	ErrEmptyMessage = errors.New("chat message is empty")
	ErrNotConnected = errors.New("chat channel is not connected")
)

// BannerConnectionFailed is shown while the channel is errored.
const BannerConnectionFailed = "chat connection failed"

// Channel is the part of transport.Channel the controller drives.
type Channel interface {
	Send(payload string)
	State() transport.State
	SetHandler(h transport.Handler)
}

// Snapshot is a copy of the controller state for rendering.
type Snapshot struct {
	Messages []Message
	Loading  bool
	State    transport.State
	Banner   string
}

// Connected reports whether sends are currently accepted.
func (s Snapshot) Connected() bool { return s.State == transport.StateConnected }

type Controller struct {
	ch       Channel
	notifier events.Notifier

	mu       sync.Mutex
	messages []Message
	loading  bool
	state    transport.State
	banner   string
}

var _ transport.Handler = (*Controller)(nil)

type Option func(*Controller)

func WithNotifier(n events.Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// NewController registers itself as the channel's handler.
func NewController(ch Channel, opts ...Option) *Controller {
	c := &Controller{
		ch:       ch,
		notifier: events.Discard,
		state:    ch.State(),
	}
	for _, opt := range opts {
		opt(c)
	}
	ch.SetHandler(c)
	return c
}

// SendMessage echoes text into the log and forwards it. Empty input and a
// channel that is not connected are rejected without any side effect.
func (c *Controller) SendMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	c.mu.Lock()
	if c.state != transport.StateConnected || c.ch.State() != transport.StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.messages = append(c.messages, NewUserMessage(text))
	c.loading = true
	n := len(c.messages)
	c.mu.Unlock()

	c.notifier.Notify(events.New(events.SourceChat, events.KindChatMessage, map[string]any{
		"role":  string(RoleUser),
		"index": n - 1,
	}))
	c.ch.Send(text)
	return nil
}

// OnMessage appends an assistant reply and clears loading.
func (c *Controller) OnMessage(content string) {
	c.mu.Lock()
	c.messages = append(c.messages, NewAssistantMessage(content))
	c.loading = false
	n := len(c.messages)
	c.mu.Unlock()

	c.notifier.Notify(events.New(events.SourceChat, events.KindChatMessage, map[string]any{
		"role":  string(RoleAssistant),
		"index": n - 1,
	}))
}

// OnStateChange mirrors the channel state. Leaving connected clears loading since
// no reply can arrive on a dead connection; reaching connected clears the banner.
// The log is kept across reconnects.
func (c *Controller) OnStateChange(state transport.State) {
	c.mu.Lock()
	c.state = state
	if state != transport.StateConnected {
		c.loading = false
	} else {
		c.banner = ""
	}
	c.mu.Unlock()

	log.Debug().Str("component", "chat").Str("state", state.String()).Msg("chat channel state changed")
	c.notifier.Notify(events.New(events.SourceChat, events.KindChatState, map[string]any{
		"state": state.String(),
	}))
}

// OnError raises the connection banner. It is a channel-level condition, not a
// per-message error.
func (c *Controller) OnError(err error) {
	c.mu.Lock()
	c.banner = BannerConnectionFailed
	c.loading = false
	c.mu.Unlock()

	log.Warn().Err(err).Str("component", "chat").Msg("chat transport failure")
	c.notifier.Notify(events.New(events.SourceChat, events.KindChatError, map[string]any{
		"error": err.Error(),
	}))
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Messages: append([]Message(nil), c.messages...),
		Loading:  c.loading,
		State:    c.state,
		Banner:   c.banner,
	}
}

// Messages returns a copy of the log in arrival order.
func (c *Controller) Messages() []Message {
	return c.Snapshot().Messages
}
