package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "koomind:room:"

// Redis relays room payloads over Redis pub/sub, one channel per room.
type Redis struct {
	client *redis.Client
	logger *log.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedis connects to the server at url (redis://...) and pings it.
func NewRedis(ctx context.Context, url string, logger *log.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, logger: logger.WithPrefix("broker")}, nil
}

func (r *Redis) Publish(ctx context.Context, room string, payload []byte) error {
	return r.client.Publish(ctx, redisChannelPrefix+room, payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, h Handler) error {
	ps := r.client.PSubscribe(ctx, redisChannelPrefix+"*")
	// wait for the subscription confirmation so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = ps.Close()
		return ErrClosed
	}
	r.subs = append(r.subs, ps)
	r.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			room := strings.TrimPrefix(msg.Channel, redisChannelPrefix)
			h(room, []byte(msg.Payload))
		}
		r.logger.Debug("redis subscription ended")
	}()
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	r.mu.Lock()
	r.closed = true
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	return r.client.Close()
}
