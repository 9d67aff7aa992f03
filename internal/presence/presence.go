// Package presence mirrors the set of online identities to an external
// system so that other processes can observe who is connected.
package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Tyrowin/chatmk/internal/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher receives the full online set whenever membership changes.
type Publisher interface {
	Publish(ctx context.Context, users []string) error
	Close() error
}

// Update is the payload published on the presence channel.
type Update struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// New creates a publisher based on configuration
func New(cfg config.PresenceConfig, logger *zap.Logger) (Publisher, error) {
	switch cfg.Type {
	case "", "none":
		return NopPublisher{}, nil
	case "redis":
		return NewRedisPublisher(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported presence type: %s", cfg.Type)
	}
}

// NopPublisher discards updates.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []string) error { return nil }
func (NopPublisher) Close() error                            { return nil }

// RedisPublisher keeps a Redis set of online identities and announces each
// change on a pub/sub channel.
type RedisPublisher struct {
	logger  *zap.Logger
	client  *redis.Client
	key     string
	channel string
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(cfg config.PresenceConfig, logger *zap.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPublisher{
		logger:  logger.Named("presence.redis"),
		client:  client,
		key:     cfg.Key,
		channel: cfg.Channel,
	}, nil
}

// Publish replaces the online set and publishes the new membership.
func (p *RedisPublisher) Publish(ctx context.Context, users []string) error {
	data, err := json.Marshal(Update{Type: "user_list", Users: users})
	if err != nil {
		return fmt.Errorf("failed to marshal presence update: %w", err)
	}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, p.key)
		if len(users) > 0 {
			members := make([]any, len(users))
			for i, u := range users {
				members[i] = u
			}
			pipe.SAdd(ctx, p.key, members...)
		}
		pipe.Publish(ctx, p.channel, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish presence: %w", err)
	}

	p.logger.Debug("published presence", zap.Int("online", len(users)))
	return nil
}

// Close removes the online set and closes the client.
func (p *RedisPublisher) Close() error {
	if err := p.client.Del(context.Background(), p.key).Err(); err != nil {
		p.logger.Warn("failed to clear online set", zap.Error(err))
	}
	return p.client.Close()
}
