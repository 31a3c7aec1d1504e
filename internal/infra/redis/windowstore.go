package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tourwise/gatekeeper/internal/admission"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

// takeScript prunes, counts and inserts in one atomic unit so two
// concurrent takes on the same key can never both slip under the limit.
// Returns {allowed, remaining, retry_ms, reset_ms}.
var takeScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]

	local window_start = now - window_ms

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)

	if count >= limit then
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		local oldest_score = oldest[2] and tonumber(oldest[2]) or now
		local retry_ms = oldest_score + window_ms - now
		if retry_ms < 1 then
			retry_ms = 1
		end
		return {0, 0, retry_ms, oldest_score + window_ms}
	end

	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window_ms)
	return {1, limit - count - 1, 0, now + window_ms}
`)

// WindowStore implements admission.WindowStore using the sliding-window
// log algorithm on Redis sorted sets. Each member is a request timestamp;
// the set's TTL equals the window so idle keys expire on their own.
type WindowStore struct {
	client *Client
	logger *logger.Logger
}

// NewWindowStore creates a sliding-window store.
func NewWindowStore(client *Client, log *logger.Logger) (*WindowStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &WindowStore{client: client, logger: log}, nil
}

// Take consumes one slot in the key's window if quota remains.
func (s *WindowStore) Take(ctx context.Context, key string, limit int, window time.Duration) (admission.WindowResult, error) {
	if key == "" {
		return admission.WindowResult{}, errors.New("key is required")
	}

	start := time.Now()
	nowMs := start.UnixMilli()
	windowMs := window.Milliseconds()
	member := uuid.New().String()

	raw, err := takeScript.Run(ctx, s.client.client, []string{key},
		nowMs, windowMs, limit, member).Slice()
	DefaultMetrics.ObserveOperation("window_take", time.Since(start), err)
	if err != nil {
		return admission.WindowResult{}, fmt.Errorf("window take: %w", err)
	}

	allowed := raw[0].(int64) == 1
	remaining := int(raw[1].(int64))
	retryMs := raw[2].(int64)
	resetMs := raw[3].(int64)

	result := admission.WindowResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   time.UnixMilli(resetMs),
	}
	if !allowed {
		result.RetryAfter = time.Duration(retryMs) * time.Millisecond
		s.logger.Debug("window quota exhausted",
			"key", key,
			"retry_after", result.RetryAfter,
		)
	}

	return result, nil
}

// Reset removes the window for a key, releasing its quota immediately.
// Operator escape hatch; bypasses rate limiting protections.
func (s *WindowStore) Reset(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("key is required")
	}

	if err := s.client.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("window reset: %w", err)
	}

	s.logger.Debug("window reset", "key", key)
	return nil
}
