package data

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const formatKeyPrefix = "leadforge:email_format:"

// RedisFormatTracker counts observed email local-part patterns per company
// domain in a Redis hash, one hash per domain. The pattern with the highest
// count wins when guessing addresses for unverified leads at that domain.
type RedisFormatTracker struct {
	client redis.UniversalClient
}

// NewRedisFormatTracker creates a RedisFormatTracker backed by the given client.
func NewRedisFormatTracker(client redis.UniversalClient) *RedisFormatTracker {
	return &RedisFormatTracker{client: client}
}

// RecordFormat increments the usage count of localPattern for domain.
func (t *RedisFormatTracker) RecordFormat(ctx context.Context, domain, localPattern string) error {
	if domain == "" || localPattern == "" {
		return fmt.Errorf("domain and pattern are required")
	}

	if err := t.client.HIncrBy(ctx, formatKeyPrefix+domain, localPattern, 1).Err(); err != nil {
		return fmt.Errorf("redis hincrby: %w", err)
	}
	return nil
}

// DominantFormat returns the most frequently recorded pattern for domain, or
// the empty string when nothing has been recorded yet.
func (t *RedisFormatTracker) DominantFormat(ctx context.Context, domain string) (string, error) {
	if domain == "" {
		return "", fmt.Errorf("domain is required")
	}

	counts, err := t.client.HGetAll(ctx, formatKeyPrefix+domain).Result()
	if err != nil {
		return "", fmt.Errorf("redis hgetall: %w", err)
	}

	var best string
	var bestCount int64
	for pattern, raw := range counts {
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			continue
		}
		if n > bestCount {
			best = pattern
			bestCount = n
		}
	}
	return best, nil
}
