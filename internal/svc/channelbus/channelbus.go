package channelbus

import (
	"context"
	"fmt"
	"sync"

	goredis "github.com/go-redis/redis/v8"
	"github.com/seventv/common/redis"
	"github.com/seventv/relay/internal/svc/prometheus"
	"go.uber.org/zap"
)

// Handler receives one raw message delivered on a subscribed channel.
// It must not block: session handlers enqueue into their own delivery
// queue, anything slower would serialize every session behind it.
type Handler func(channel string, payload []byte)

// Subscription undoes one Subscribe call. Closing the last subscription
// of a channel unsubscribes the channel from redis.
type Subscription interface {
	Close()
}

// Instance multiplexes many named channels over one dedicated redis
// subscriber connection. Publishing and all other commands go through
// the general client, since a connection in subscriber mode cannot
// issue them.
type Instance interface {
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)

	UserChannel(userID string) string
	GlobalChannel() string
}

type Options struct {
	Redis   redis.Instance
	Metrics prometheus.Instance
}

func New(ctx context.Context, opt Options) Instance {
	b := &bus{
		redis:    opt.Redis,
		metrics:  opt.Metrics,
		pubsub:   opt.Redis.RawClient().Subscribe(ctx),
		handlers: map[string]map[uint64]Handler{},
	}

	go b.dispatchLoop(ctx)

	return b
}

type bus struct {
	redis   redis.Instance
	metrics prometheus.Instance
	pubsub  *goredis.PubSub

	mx       sync.RWMutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
}

func (b *bus) UserChannel(userID string) string {
	return fmt.Sprintf("user:%s:messages", userID)
}

func (b *bus) GlobalChannel() string {
	return "global:messages"
}

func (b *bus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	b.mx.Lock()

	b.nextID++
	id := b.nextID

	first := len(b.handlers[channel]) == 0
	if first {
		b.handlers[channel] = map[uint64]Handler{}
	}

	b.handlers[channel][id] = h
	b.mx.Unlock()

	if first {
		if err := b.pubsub.Subscribe(ctx, channel); err != nil {
			b.mx.Lock()
			delete(b.handlers[channel], id)

			if len(b.handlers[channel]) == 0 {
				delete(b.handlers, channel)
			}
			b.mx.Unlock()

			return nil, err
		}
	}

	return &subscription{bus: b, channel: channel, id: id}, nil
}

func (b *bus) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	n, err := b.redis.RawClient().Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, err
	}

	if b.metrics != nil {
		b.metrics.MessagesPublished().Inc()
	}

	return n, nil
}

// dispatchLoop is the single per-process pump: it reads the subscriber
// connection and fans each message out to the channel's handlers.
func (b *bus) dispatchLoop(ctx context.Context) {
	ch := b.pubsub.Channel(goredis.WithChannelSize(1024))

	defer func() {
		_ = b.pubsub.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			b.dispatch(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (b *bus) dispatch(channel string, payload []byte) {
	b.mx.RLock()
	entries := b.handlers[channel]
	handlers := make([]Handler, 0, len(entries))

	for _, h := range entries {
		handlers = append(handlers, h)
	}
	b.mx.RUnlock()

	if len(handlers) == 0 {
		// Nobody subscribed locally between redis delivery and now
		if b.metrics != nil {
			b.metrics.MessagesDropped().Inc()
		}

		zap.S().Debugw("channelbus, dropped message without handler",
			"channel", channel,
		)

		return
	}

	for _, h := range handlers {
		h(channel, payload)
	}
}

type subscription struct {
	bus     *bus
	channel string
	id      uint64

	once sync.Once
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.bus.mx.Lock()
		delete(s.bus.handlers[s.channel], s.id)

		last := len(s.bus.handlers[s.channel]) == 0
		if last {
			delete(s.bus.handlers, s.channel)
		}
		s.bus.mx.Unlock()

		if last {
			if err := s.bus.pubsub.Unsubscribe(context.Background(), s.channel); err != nil {
				zap.S().Warnw("channelbus, unsubscribe failed",
					"channel", s.channel,
					"error", err,
				)
			}
		}
	})
}
