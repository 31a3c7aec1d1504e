package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tourwise/gatekeeper/internal/admission"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

const (
	blockedKeyPrefix = "blocked:"
	offenceKeyPrefix = "blocked-count:"
)

// observeScript appends the current request to the pattern log, prunes
// entries past the retention horizon and counts both the retained set and
// the trailing burst window in one atomic unit.
// Returns {retained, burst}.
var observeScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local retention_ms = tonumber(ARGV[2])
	local burst_ms = tonumber(ARGV[3])
	local member = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - retention_ms)
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, retention_ms)

	local retained = redis.call('ZCARD', key)
	local burst = redis.call('ZCOUNT', key, now - burst_ms, now)

	return {retained, burst}
`)

// offenceScript increments the repeat-offender counter, arming the
// retention TTL only on the first offence so the counter ages out from
// the first strike rather than the last.
var offenceScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// ThrottleStore implements admission.PatternStore and admission.BlockStore
// on Redis. Pattern logs are sorted sets keyed per (ip, endpoint); blocks
// are plain keys whose TTL is the block duration, so expiry needs no
// sweeper and a lookup after the deadline simply misses.
type ThrottleStore struct {
	client *Client
	logger *logger.Logger
}

// NewThrottleStore creates a throttle store.
func NewThrottleStore(client *Client, log *logger.Logger) (*ThrottleStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &ThrottleStore{client: client, logger: log}, nil
}

// Observe records one request in the pattern log and returns the counts
// the throttler thresholds against.
func (s *ThrottleStore) Observe(ctx context.Context, key string, retention, burstWindow time.Duration) (admission.PatternCounts, error) {
	if key == "" {
		return admission.PatternCounts{}, errors.New("key is required")
	}

	start := time.Now()
	raw, err := observeScript.Run(ctx, s.client.client, []string{key},
		start.UnixMilli(),
		retention.Milliseconds(),
		burstWindow.Milliseconds(),
		uuid.New().String(),
	).Slice()
	DefaultMetrics.ObserveOperation("pattern_observe", time.Since(start), err)
	if err != nil {
		return admission.PatternCounts{}, fmt.Errorf("pattern observe: %w", err)
	}

	return admission.PatternCounts{
		Retained: int(raw[0].(int64)),
		Burst:    int(raw[1].(int64)),
	}, nil
}

// Block records an IP block expiring after duration. The value stores the
// deadline in unix milliseconds so BlockedUntil can report it.
func (s *ThrottleStore) Block(ctx context.Context, ip string, duration time.Duration) error {
	if ip == "" {
		return errors.New("ip is required")
	}
	if duration <= 0 {
		return errors.New("block duration must be positive")
	}

	until := time.Now().Add(duration)
	start := time.Now()
	err := s.client.client.Set(ctx, blockedKeyPrefix+ip,
		strconv.FormatInt(until.UnixMilli(), 10), duration).Err()
	DefaultMetrics.ObserveOperation("block_set", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("block ip: %w", err)
	}

	s.logger.Info("ip blocked",
		"ip", ip,
		"duration", duration,
		"until", until.UTC().Format(time.RFC3339),
	)
	return nil
}

// BlockedUntil reports whether an IP is currently blocked and until when.
// A key that outlived its deadline (clock skew between writer and reader)
// is reported as not blocked.
func (s *ThrottleStore) BlockedUntil(ctx context.Context, ip string) (time.Time, bool, error) {
	if ip == "" {
		return time.Time{}, false, errors.New("ip is required")
	}

	start := time.Now()
	val, err := s.client.client.Get(ctx, blockedKeyPrefix+ip).Result()
	DefaultMetrics.ObserveOperation("block_get", time.Since(start), ignoreNil(err))
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("blocked lookup: %w", err)
	}

	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("blocked lookup: malformed deadline %q", val)
	}

	until := time.UnixMilli(ms)
	if !time.Now().Before(until) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

// RecordOffence increments the repeat-offender counter for an IP.
func (s *ThrottleStore) RecordOffence(ctx context.Context, ip string, retention time.Duration) (int, error) {
	if ip == "" {
		return 0, errors.New("ip is required")
	}

	start := time.Now()
	count, err := offenceScript.Run(ctx, s.client.client,
		[]string{offenceKeyPrefix + ip}, retention.Milliseconds()).Int()
	DefaultMetrics.ObserveOperation("offence_incr", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("record offence: %w", err)
	}

	return count, nil
}

// Unblock removes a block ahead of its expiry. The offence counter is
// left intact so a repeat attack still escalates.
func (s *ThrottleStore) Unblock(ctx context.Context, ip string) error {
	if ip == "" {
		return errors.New("ip is required")
	}

	start := time.Now()
	err := s.client.client.Del(ctx, blockedKeyPrefix+ip).Err()
	DefaultMetrics.ObserveOperation("block_del", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("unblock ip: %w", err)
	}

	s.logger.Info("ip unblocked", "ip", ip)
	return nil
}

// ignoreNil filters redis.Nil out of error metrics; a miss is a normal
// outcome, not an operation failure.
func ignoreNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
