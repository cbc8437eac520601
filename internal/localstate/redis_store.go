package localstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"smarttodos/backend/internal/config"
	"smarttodos/backend/internal/timer"
)

const keyPrefix = "smarttodos:timer:"

// RedisStore shares the snapshot between processes of the same owner, e.g. a
// CLI and a tray app on one machine. Every save is also published so other
// processes can follow the timer without polling.
type RedisStore struct {
	client  *redis.Client
	key     string
	channel string
	logger  zerolog.Logger
}

// OpenRedis connects to Redis and scopes the snapshot to owner.
func OpenRedis(cfg config.RedisConfig, owner string, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStore(client, owner, logger), nil
}

func NewRedisStore(client *redis.Client, owner string, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client:  client,
		key:     keyPrefix + owner + ":snapshot",
		channel: keyPrefix + owner + ":updates",
		logger:  logger.With().Str("component", "localstate").Logger(),
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Save(ctx context.Context, snapshot timer.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key, payload, 0)
	pipe.Publish(ctx, s.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (timer.Snapshot, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return timer.Snapshot{}, timer.ErrNoSnapshot
		}
		return timer.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return decodeSnapshot(payload)
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}

// Watch calls fn for every snapshot saved by any process until ctx is done.
// ready, when non-nil, is closed once the subscription is active.
func (s *RedisStore) Watch(ctx context.Context, ready chan<- struct{}, fn func(timer.Snapshot)) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to timer updates: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			snapshot, err := decodeSnapshot([]byte(msg.Payload))
			if err != nil {
				s.logger.Warn().Err(err).Msg("Ignoring malformed timer update")
				continue
			}
			fn(snapshot)
		}
	}
}
