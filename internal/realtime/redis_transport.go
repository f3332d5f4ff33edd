package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "aurelia:rt:"

// RedisTransport fans events out across API instances with Redis pub/sub.
// Each joined channel owns one PubSub connection and one reader goroutine.
type RedisTransport struct {
	client redis.UniversalClient
	log    logger.Logger

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

func NewRedisTransport(client redis.UniversalClient, log logger.Logger) *RedisTransport {
	return &RedisTransport{
		client: client,
		log:    logger.WithComponent(log, "realtime.redis"),
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

func (t *RedisTransport) Join(ctx context.Context, channel string, deliver func(Event)) (Leaver, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("redis transport closed")
	}
	t.mu.Unlock()

	ps := t.client.Subscribe(ctx, redisChannelPrefix+channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	t.mu.Lock()
	t.subs[ps] = struct{}{}
	t.mu.Unlock()

	go t.read(channel, ps, deliver)

	var once sync.Once
	return LeaveFunc(func() error {
		var err error
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, ps)
			t.mu.Unlock()
			err = ps.Close()
		})
		return err
	}), nil
}

func (t *RedisTransport) read(channel string, ps *redis.PubSub, deliver func(Event)) {
	for msg := range ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.log.Warn("Dropping malformed realtime payload", map[string]interface{}{
				"channel": channel,
				"error":   err.Error(),
			})
			continue
		}
		deliver(ev)
	}
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := t.client.Publish(ctx, redisChannelPrefix+channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Close closes every PubSub still open. The Redis client itself stays open.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	subs := t.subs
	t.subs = make(map[*redis.PubSub]struct{})
	t.mu.Unlock()

	for ps := range subs {
		_ = ps.Close()
	}
	return nil
}
