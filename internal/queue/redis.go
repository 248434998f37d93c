package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"sentinel/internal/config"

	"github.com/redis/go-redis/v9"
)

// Publisher pushes alert events onto a redis list so external consumers
// (dashboards, on-call tooling) can tail them. Optional; a nil Publisher is
// a no-op.
type Publisher struct {
	client *redis.Client
	queue  string
}

func NewPublisher(cfg config.RedisConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Publisher{client: client, queue: cfg.Queue}, nil
}

// Publish appends one message to the queue.
func (p *Publisher) Publish(ctx context.Context, message any) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return p.client.LPush(ctx, p.queue, data).Err()
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.client.Close()
}
