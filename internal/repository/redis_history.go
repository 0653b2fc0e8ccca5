package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"NeuralRoulette/internal/domain/models"
	drepo "NeuralRoulette/internal/domain/repository"

	"github.com/redis/go-redis/v9"
)

// ListClient is the subset of *redis.Client the history store needs.
type ListClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// RedisHistory keeps the latest spins of a table in a capped Redis list so a
// restarted session can warm its history buffer.
type RedisHistory struct {
	client ListClient
	key    string
	limit  int64
}

func NewRedisHistory(client ListClient, key string, limit int) *RedisHistory {
	if limit <= 0 {
		limit = 1000
	}
	return &RedisHistory{client: client, key: key, limit: int64(limit)}
}

// Load returns up to limit spins, oldest first. Undecodable entries are skipped.
func (h *RedisHistory) Load(ctx context.Context, limit int) ([]models.SpinEvent, error) {
	if limit <= 0 || int64(limit) > h.limit {
		limit = int(h.limit)
	}
	raw, err := h.client.LRange(ctx, h.key, -int64(limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis history load: %w", err)
	}
	out := make([]models.SpinEvent, 0, len(raw))
	for _, s := range raw {
		var e models.SpinEvent
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (h *RedisHistory) Append(ctx context.Context, e models.SpinEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode spin: %w", err)
	}
	if err := h.client.RPush(ctx, h.key, b).Err(); err != nil {
		return fmt.Errorf("redis history append: %w", err)
	}
	if err := h.client.LTrim(ctx, h.key, -h.limit, -1).Err(); err != nil {
		return fmt.Errorf("redis history trim: %w", err)
	}
	return nil
}

// Close is a no-op; the client belongs to the cache.
func (h *RedisHistory) Close() error { return nil }

var _ drepo.HistoryStore = (*RedisHistory)(nil)
