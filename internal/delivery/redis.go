package delivery

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"account-auth/backend/internal/account/domain"
)

// RedisSink pushes reset deliveries onto a Redis list consumed by the mail
// worker with BRPOP.
type RedisSink struct {
	client *redis.Client
	queue  string
}

// NewRedisClient returns a client for addr after checking it answers PING.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("RESET_DELIVERY").In("redis").With("addr", addr).Wrapf(err, "ping")
	}
	return client, nil
}

// NewRedisSink returns a RedisSink pushing to queue. The sink owns client.
func NewRedisSink(client *redis.Client, queue string) (*RedisSink, error) {
	if client == nil || queue == "" {
		return nil, errors.New("redis sink: client and queue are required")
	}
	return &RedisSink{client: client, queue: queue}, nil
}

// Deliver LPUSHes d as JSON.
func (r *RedisSink) Deliver(ctx context.Context, d domain.ResetDelivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := r.client.LPush(ctx, r.queue, payload).Err(); err != nil {
		return oops.Code("RESET_DELIVERY").In("redis").With("queue", r.queue).Wrap(err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisSink) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
