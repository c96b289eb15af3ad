package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedisStore is a durable scope shared by every process pointed at the same
// Redis namespace. Writes are announced on a pub/sub channel, which is how one
// process learns that another logged out.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
	origin    string
	logger    zerolog.Logger
}

var (
	_ Store   = (*RedisStore)(nil)
	_ Watcher = (*RedisStore)(nil)
)

type RedisOption func(*RedisStore)

func WithRedisLogger(logger zerolog.Logger) RedisOption {
	return func(s *RedisStore) {
		s.logger = logger
	}
}

func NewRedisStore(client redis.UniversalClient, namespace string, options ...RedisOption) *RedisStore {
	if namespace == "" {
		namespace = "crm_session"
	}
	s := &RedisStore{
		client:    client,
		namespace: strings.TrimSuffix(namespace, ":"),
		origin:    uuid.New().String(),
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.dataKey(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("[RedisStore Get] %s: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	change, err := json.Marshal(Change{Key: key, Value: value, Origin: s.origin})
	if err != nil {
		return fmt.Errorf("[RedisStore Set] encode change: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(key), value, 0)
	pipe.Publish(ctx, s.changesChannel(), change)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("[RedisStore Set] %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	dels := make([]*redis.IntCmd, len(keys))
	for i, k := range keys {
		dels[i] = pipe.Del(ctx, s.dataKey(k))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("[RedisStore Delete] %w", err)
	}

	for i, k := range keys {
		if dels[i].Val() == 0 {
			continue
		}
		change, err := json.Marshal(Change{Key: k, Deleted: true, Origin: s.origin})
		if err != nil {
			return fmt.Errorf("[RedisStore Delete] encode change: %w", err)
		}
		if err := s.client.Publish(ctx, s.changesChannel(), change).Err(); err != nil {
			return fmt.Errorf("[RedisStore Delete] publish %s: %w", k, err)
		}
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	prefix := s.dataKey("")
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("[RedisStore Keys] %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch subscribes to changes from every process sharing the namespace,
// including this one.
func (s *RedisStore) Watch(ctx context.Context) (<-chan Change, error) {
	sub := s.client.Subscribe(ctx, s.changesChannel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("[RedisStore Watch] subscribe: %w", err)
	}

	out := make(chan Change, watchBuffer)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					s.logger.Warn().Err(err).Msg("invalid storage change message")
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) Origin() string {
	return s.origin
}

func (s *RedisStore) dataKey(key string) string {
	return fmt.Sprintf("%s:kv:%s", s.namespace, key)
}

func (s *RedisStore) changesChannel() string {
	return fmt.Sprintf("%s:changes", s.namespace)
}
