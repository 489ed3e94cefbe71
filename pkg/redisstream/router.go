package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// PubSub bundles the Redis Streams publisher and subscriber sharing one client.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	client     *redis.Client
}

// Close closes the publisher, the subscriber and the underlying client.
func (p *PubSub) Close() error {
	if p == nil {
		return nil
	}
	var firstErr error
	if p.Publisher != nil {
		if err := p.Publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.Subscriber != nil {
		if err := p.Subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Build constructs a Redis Streams publisher/subscriber pair. It fails when
// settings are disabled so callers fall back to the in-memory bus explicitly.
func Build(s Settings, logger watermill.LoggerAdapter) (*PubSub, error) {
	if !s.Enabled {
		return nil, errors.New("redis streams transport is disabled")
	}
	if strings.TrimSpace(s.Addr) == "" {
		return nil, errors.New("redis streams transport: empty addr")
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis streams publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis streams subscriber")
	}

	return &PubSub{Publisher: pub, Subscriber: sub, client: client}, nil
}

// EnsureGroupAtTail creates group on stream at "$" so a new consumer only
// sees entries published after it joined. An existing group is left alone.
func (p *PubSub) EnsureGroupAtTail(ctx context.Context, stream, group string) error {
	err := p.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrapf(err, "create consumer group %s on %s", group, stream)
	}
	log.Info().Str("component", "redisstream").Str("stream", stream).Str("group", group).Msg("created consumer group at tail")
	return nil
}
