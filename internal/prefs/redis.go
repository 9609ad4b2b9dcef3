package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nadzzz/parlance/internal/speech"
)

// RedisPersister stores settings in one Redis hash: field = speaker,
// value = JSON-encoded speech.Settings.
type RedisPersister struct {
	client *redis.Client
	key    string
}

// NewRedisPersister connects to redisURL and checks the connection.
func NewRedisPersister(redisURL, key string) (*RedisPersister, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPersister{client: client, key: key}, nil
}

// Close closes the Redis client.
func (r *RedisPersister) Close() error {
	return r.client.Close()
}

// Load reads every speaker from the hash. Undecodable entries are skipped.
func (r *RedisPersister) Load(ctx context.Context) (map[string]speech.Settings, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err == redis.Nil {
		return map[string]speech.Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.key, err)
	}
	return decodeAll(fields), nil
}

// Save writes one speaker into the hash.
func (r *RedisPersister) Save(ctx context.Context, speaker string, s speech.Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return r.client.HSet(ctx, r.key, speaker, data).Err()
}

func decodeAll(fields map[string]string) map[string]speech.Settings {
	out := make(map[string]speech.Settings, len(fields))
	for speaker, raw := range fields {
		var s speech.Settings
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		out[speaker] = s
	}
	return out
}
