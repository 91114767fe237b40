// Package stream wraps transport setup for per-session response streams:
// an in-memory gochannel pub/sub by default, Redis Streams when configured.
package stream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// TopicForSession computes the event topic a session publishes its responses to.
func TopicForSession(key string) string { return "session:" + key }

// Settings holds the Redis Streams transport configuration.
type Settings struct {
	Enabled  bool
	Addr     string
	Group    string
	Consumer string
}

// Backend exposes publisher/subscriber construction for session streams.
// BuildSubscriber's second result reports whether the subscriber is owned by
// the caller and must be closed when the forwarder stops.
type Backend interface {
	Publisher() message.Publisher
	BuildSubscriber(ctx context.Context, sessionKey string) (message.Subscriber, bool, error)
	Close() error
}

// NewBackend picks the transport from settings.
func NewBackend(s Settings, logger watermill.LoggerAdapter) (Backend, error) {
	if !s.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		return &goChannelBackend{ch: ch}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "build redis publisher")
	}
	return &redisBackend{settings: s, client: client, pub: pub, logger: logger}, nil
}

type goChannelBackend struct {
	ch *gochannel.GoChannel
}

func (b *goChannelBackend) Publisher() message.Publisher { return b.ch }

func (b *goChannelBackend) BuildSubscriber(_ context.Context, sessionKey string) (message.Subscriber, bool, error) {
	if sessionKey == "" {
		return nil, false, errors.New("session key is empty")
	}
	// Shared pub/sub: the caller must not close it.
	return b.ch, false, nil
}

func (b *goChannelBackend) Close() error { return b.ch.Close() }

type redisBackend struct {
	settings Settings
	client   *redis.Client
	pub      message.Publisher
	logger   watermill.LoggerAdapter
}

func (b *redisBackend) Publisher() message.Publisher { return b.pub }

func (b *redisBackend) BuildSubscriber(ctx context.Context, sessionKey string) (message.Subscriber, bool, error) {
	if sessionKey == "" {
		return nil, false, errors.New("session key is empty")
	}
	if ctx == nil {
		return nil, false, errors.New("ctx is nil")
	}
	if err := b.ensureGroupAtTail(ctx, TopicForSession(sessionKey)); err != nil {
		return nil, false, errors.Wrap(err, "ensure consumer group")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        b.client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: b.settings.Group,
		Consumer:      b.settings.Consumer + ":" + sessionKey,
	}, b.logger)
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

// ensureGroupAtTail creates the consumer group at $ so a fresh forwarder does
// not replay the stream's history.
func (b *redisBackend) ensureGroupAtTail(ctx context.Context, topic string) error {
	err := b.client.XGroupCreateMkStream(ctx, topic, b.settings.Group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	log.Info().Str("stream", topic).Str("group", b.settings.Group).Msg("created redis consumer group at $ (tail)")
	return nil
}

func (b *redisBackend) Close() error {
	firstErr := b.pub.Close()
	if err := b.client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
