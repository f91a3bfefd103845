package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/reliefwallet/credential-engine/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second

	subscriberBufferSize = 16
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Subscriber receives events published on one Redis channel.
type Subscriber struct {
	Channel string
	Events  chan Event
	Done    chan struct{}
}

type channelSubs struct {
	subs   map[*Subscriber]bool
	cancel context.CancelFunc
}

// Broker fans Redis pub/sub messages out to in-process subscribers. One Redis
// subscription is held per channel while it has local subscribers.
type Broker struct {
	redis    *redisclient.Client
	channels map[string]*channelSubs
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:    redisClient,
		channels: make(map[string]*channelSubs),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (b *Broker) Subscribe(channel string) *Subscriber {
	sub := &Subscriber{
		Channel: channel,
		Events:  make(chan Event, subscriberBufferSize),
		Done:    make(chan struct{}),
	}

	b.mu.Lock()
	cs, ok := b.channels[channel]
	if !ok {
		ctx, cancel := context.WithCancel(b.ctx)
		cs = &channelSubs{subs: make(map[*Subscriber]bool), cancel: cancel}
		b.channels[channel] = cs

		ready := make(chan struct{})
		go b.subscribeToRedis(ctx, channel, ready)
		<-ready
	}
	cs.subs[sub] = true
	count := len(cs.subs)
	b.mu.Unlock()

	log.Debug().
		Str("channel", channel).
		Int("subscriberCount", count).
		Msg("event subscriber added")

	return sub
}

func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cs, ok := b.channels[sub.Channel]
	if !ok || !cs.subs[sub] {
		return
	}
	delete(cs.subs, sub)
	close(sub.Done)

	if len(cs.subs) == 0 {
		cs.cancel()
		delete(b.channels, sub.Channel)
	}

	log.Debug().
		Str("channel", sub.Channel).
		Int("subscriberCount", len(cs.subs)).
		Msg("event subscriber removed")
}

func (b *Broker) Publish(ctx context.Context, channel string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, channel string, ready chan<- struct{}) {
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so a publish right after
	// Subscribe returns is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("redis subscribe failed")
	}
	close(ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Str("channel", channel).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(channel, event)
		}
	}
}

func (b *Broker) broadcast(channel string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cs, ok := b.channels[channel]
	if !ok {
		return
	}

	for sub := range cs.subs {
		select {
		case sub.Events <- event:
		default:
			log.Warn().
				Str("channel", channel).
				Msg("subscriber event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, cs := range b.channels {
		for sub := range cs.subs {
			close(sub.Done)
		}
	}
	b.channels = make(map[string]*channelSubs)
}

func (b *Broker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if cs, ok := b.channels[channel]; ok {
		return len(cs.subs)
	}
	return 0
}
