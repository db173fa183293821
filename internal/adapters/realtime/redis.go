package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/proctor/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "proctor:session:"
	publishTimeout = 5 * time.Second
)

// RedisBridge relays notices over Redis pub/sub, one channel per session.
type RedisBridge struct {
	client redis.UniversalClient
	logger logger.Logger
}

// NewRedisClient connects to Redis and verifies connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewRedisBridge wraps an existing client.
func NewRedisBridge(client redis.UniversalClient) *RedisBridge {
	return &RedisBridge{client: client, logger: logger.Get().Named("realtime-redis")}
}

// Channel is the pub/sub channel carrying a session's notices.
func Channel(sessionID string) string {
	return channelPrefix + sessionID
}

// Publish sends payload to the session channel.
func (r *RedisBridge) Publish(ctx context.Context, sessionID string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, Channel(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe calls handler for every payload on the session channel until
// cancel is called.
func (r *RedisBridge) Subscribe(sessionID string, handler func(payload []byte)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, Channel(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					r.logger.Debug(ctx, "subscription closed", logger.SessionID(sessionID))
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
	return cancel, nil
}
