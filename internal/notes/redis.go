package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "warden:notes:"
	redisUsersKey  = "warden:notes-users"
)

// RedisStore keeps each user's notes in a list of JSON documents and the set
// of users with notes in a separate set.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func userKey(userID string) string {
	return redisKeyPrefix + userID
}

func (s *RedisStore) Add(ctx context.Context, userID, displayName, text string) error {
	if err := validate(userID, text); err != nil {
		return err
	}
	raw, err := json.Marshal(Note{
		UserID:      userID,
		DisplayName: displayName,
		Text:        strings.TrimSpace(text),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal note: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, userKey(userID), raw)
		pipe.SAdd(ctx, redisUsersKey, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("add note: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, userID, text string) (bool, error) {
	key := userKey(userID)
	raws, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("read notes: %w", err)
	}

	text = strings.TrimSpace(text)
	for _, raw := range raws {
		var n Note
		if err := json.Unmarshal([]byte(raw), &n); err != nil || n.Text != text {
			continue
		}
		removed, err := s.client.LRem(ctx, key, 1, raw).Result()
		if err != nil {
			return false, fmt.Errorf("remove note: %w", err)
		}
		if len(raws) == 1 && removed > 0 {
			s.client.SRem(ctx, redisUsersKey, userID)
		}
		return removed > 0, nil
	}
	return false, nil
}

func (s *RedisStore) List(ctx context.Context, userID string) ([]Note, error) {
	raws, err := s.client.LRange(ctx, userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read notes: %w", err)
	}
	out := make([]Note, 0, len(raws))
	for _, raw := range raws {
		var n Note
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *RedisStore) ListAll(ctx context.Context) (map[string]UserNotes, error) {
	users, err := s.client.SMembers(ctx, redisUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list note users: %w", err)
	}
	var all []Note
	for _, user := range users {
		list, err := s.List(ctx, user)
		if err != nil {
			return nil, err
		}
		all = append(all, list...)
	}
	return groupByUser(all), nil
}
