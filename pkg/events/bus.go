package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/postpilot/pkg/redisstream"
)

// DefaultTopic is the watermill topic (and Redis stream) used for UI events.
const DefaultTopic = "postpilot:ui"

type BusConfig struct {
	Topic string
	Redis redisstream.Settings
}

// Bus publishes events on a watermill topic and fans them back out to subscribers.
type Bus struct {
	topic  string
	pub    message.Publisher
	sub    message.Subscriber
	closer func() error

	closeOnce sync.Once
	closeErr  error
}

var _ Notifier = (*Bus)(nil)

// NewBus builds an in-memory bus, or a Redis Streams bus when cfg.Redis.Enabled.
func NewBus(cfg BusConfig) (*Bus, error) {
	topic := strings.TrimSpace(cfg.Topic)
	if topic == "" {
		topic = DefaultTopic
	}
	logger := NewWatermillLogger(log.With().Str("component", "events").Logger())

	if cfg.Redis.Enabled {
		ps, err := redisstream.Build(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ps.EnsureGroupAtTail(ctx, topic, cfg.Redis.Group); err != nil {
			_ = ps.Close()
			return nil, err
		}
		log.Info().Str("component", "events").Str("addr", cfg.Redis.Addr).Str("topic", topic).Msg("using redis streams event bus")
		return &Bus{topic: topic, pub: ps.Publisher, sub: ps.Subscriber, closer: ps.Close}, nil
	}

	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
	return &Bus{topic: topic, pub: ch, sub: ch, closer: ch.Close}, nil
}

// Topic returns the topic events are published on.
func (b *Bus) Topic() string { return b.topic }

// Notify publishes e. Failures are logged and otherwise ignored: a missed
// re-render signal never blocks a controller.
func (b *Bus) Notify(e Event) {
	if b == nil || b.pub == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		log.Warn().Err(err).Str("component", "events").Str("kind", e.Kind).Msg("failed to encode event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("source", string(e.Source))
	msg.Metadata.Set("kind", e.Kind)
	if err := b.pub.Publish(b.topic, msg); err != nil {
		log.Warn().Err(err).Str("component", "events").Str("kind", e.Kind).Msg("failed to publish event")
	}
}

// Subscribe returns decoded events until ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	if b == nil || b.sub == nil {
		return nil, errors.New("event bus is not initialized")
	}
	msgs, err := b.sub.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe to event bus")
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var e Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				log.Warn().Err(err).Str("component", "events").Msg("failed to decode event json")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the publisher and subscriber. Safe to call more than once.
func (b *Bus) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	b.closeOnce.Do(func() {
		b.closeErr = b.closer()
	})
	return b.closeErr
}

// Recorder is an in-process Notifier that keeps every event, for tests and
// headless commands.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the recorded event kinds in order.
func (r *Recorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
