package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRelay fans changes out to every instance through one Redis Pub/Sub
// channel: <prefix>:changes.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	log     *zap.Logger
}

func NewRedisRelay(client *redis.Client, prefix string, log *zap.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: fmt.Sprintf("%s:changes", prefix),
		origin:  uuid.NewString(),
		log:     log,
	}
}

func (r *RedisRelay) Send(ctx context.Context, c Change) error {
	c.Origin = r.origin
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

// Run delivers remote changes into h until ctx is done. Changes this
// instance sent are skipped since Publish already delivered them.
func (r *RedisRelay) Run(ctx context.Context, h *Hub) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				r.log.Warn("relay: bad payload", zap.Error(err))
				continue
			}
			if c.Origin == r.origin {
				continue
			}
			h.Deliver(c)
		}
	}
}
