package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tourwise/gatekeeper/internal/session"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

const (
	sessionKeyPrefix = "session:"
	userIndexPrefix  = "sessions:"
)

// validateScript performs the full lookup+compare+update sequence for a
// session in one atomic unit, so no interleaved request can ride a
// session that is about to be invalidated. An IP mismatch flags the
// record as a rotation audit entry kept for the audit window; a
// fingerprint mismatch deletes it in the same step that detects it.
//
// Returns {status, user_id, ip_change_count} where status is one of
// "ok", "expired", "ip_mismatch", "fingerprint_mismatch".
var validateScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local ip = ARGV[2]
	local fingerprint = ARGV[3]
	local slide_ms = tonumber(ARGV[4])
	local index_prefix = ARGV[5]
	local id = ARGV[6]
	local audit_ms = tonumber(ARGV[7])

	local data = redis.call('HMGET', key,
		'user_id', 'device_ip', 'fingerprint', 'expires_at', 'ip_change_count',
		'ip_rotation_detected')

	if not data[1] then
		return {'expired', '', 0}
	end

	local user_id = data[1]
	local index_key = index_prefix .. user_id
	local expires = tonumber(data[4])

	if now >= expires then
		redis.call('DEL', key)
		redis.call('ZREM', index_key, id)
		return {'expired', '', 0}
	end

	if data[6] == '1' then
		return {'expired', '', 0}
	end

	if data[2] ~= ip then
		local count = (tonumber(data[5]) or 0) + 1
		if audit_ms > 0 then
			local audit_expires = now + audit_ms
			redis.call('HSET', key,
				'ip_rotation_detected', 1,
				'ip_change_count', count,
				'expires_at', audit_expires)
			redis.call('PEXPIREAT', key, audit_expires)
			redis.call('ZADD', index_key, audit_expires, id)
		else
			redis.call('DEL', key)
			redis.call('ZREM', index_key, id)
		end
		return {'ip_mismatch', user_id, count}
	end

	if data[3] ~= fingerprint then
		redis.call('DEL', key)
		redis.call('ZREM', index_key, id)
		return {'fingerprint_mismatch', user_id, 0}
	end

	if slide_ms > 0 then
		local new_expires = now + slide_ms
		redis.call('HSET', key, 'last_activity', now, 'expires_at', new_expires)
		redis.call('PEXPIREAT', key, new_expires)
		redis.call('ZADD', index_key, new_expires, id)
	else
		redis.call('HSET', key, 'last_activity', now)
	end

	return {'ok', user_id, 0}
`)

// revokeScript deletes a session and its index entry together.
// Returns 1 if the session existed.
var revokeScript = redis.NewScript(`
	local key = KEYS[1]
	local index_prefix = ARGV[1]
	local id = ARGV[2]

	local user_id = redis.call('HGET', key, 'user_id')
	if not user_id then
		return 0
	end

	redis.call('DEL', key)
	redis.call('ZREM', index_prefix .. user_id, id)
	return 1
`)

// revokeAllScript deletes every session in a user's index and the index
// itself. Returns the number of live sessions removed.
var revokeAllScript = redis.NewScript(`
	local index_key = KEYS[1]
	local session_prefix = ARGV[1]

	local ids = redis.call('ZRANGE', index_key, 0, -1)
	local removed = 0
	for _, id in ipairs(ids) do
		removed = removed + redis.call('DEL', session_prefix .. id)
	end
	redis.call('DEL', index_key)
	return removed
`)

// SessionStore implements session.Store on Redis. Each session is a hash
// under session:{id} with TTL at its expiry; sessions:{user_id} is a
// sorted set of the user's session ids scored by expiry so stale entries
// prune with a single range delete.
type SessionStore struct {
	client *Client
	logger *logger.Logger
}

// NewSessionStore creates a session store.
func NewSessionStore(client *Client, log *logger.Logger) (*SessionStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &SessionStore{client: client, logger: log}, nil
}

// Create stores a new session record with TTL until its expiry.
func (s *SessionStore) Create(ctx context.Context, rec session.Record) error {
	if rec.ID == "" {
		return errors.New("session id is required")
	}
	if rec.UserID == "" {
		return errors.New("user id is required")
	}

	key := sessionKeyPrefix + rec.ID
	indexKey := userIndexPrefix + rec.UserID
	expiresMs := rec.ExpiresAt.UnixMilli()

	start := time.Now()
	pipe := s.client.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":              rec.UserID,
		"device_ip":            rec.DeviceIP,
		"fingerprint":          rec.DeviceFingerprint,
		"created_at":           rec.CreatedAt.UnixMilli(),
		"last_activity":        rec.LastActivity.UnixMilli(),
		"expires_at":           expiresMs,
		"ip_rotation_detected": 0,
		"ip_change_count":      0,
	})
	pipe.PExpireAt(ctx, key, rec.ExpiresAt)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(expiresMs), Member: rec.ID})
	pipe.PExpireAt(ctx, indexKey, rec.ExpiresAt)
	_, err := pipe.Exec(ctx)
	DefaultMetrics.ObserveOperation("session_create", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("session create: %w", err)
	}

	return nil
}

// Validate checks a session against the presented device identity and
// applies the outcome atomically.
func (s *SessionStore) Validate(ctx context.Context, id, ip, fingerprint string, now time.Time, slide, audit time.Duration) (session.Result, error) {
	if id == "" {
		return session.Result{Reason: session.ReasonExpired}, nil
	}

	start := time.Now()
	raw, err := validateScript.Run(ctx, s.client.client,
		[]string{sessionKeyPrefix + id},
		now.UnixMilli(), ip, fingerprint, slide.Milliseconds(),
		userIndexPrefix, id, audit.Milliseconds(),
	).Slice()
	DefaultMetrics.ObserveOperation("session_validate", time.Since(start), err)
	if err != nil {
		return session.Result{}, fmt.Errorf("session validate: %w", err)
	}

	status, _ := raw[0].(string)
	userID, _ := raw[1].(string)
	changeCount := int(raw[2].(int64))

	switch status {
	case "ok":
		return session.Result{Valid: true, UserID: userID}, nil
	case "ip_mismatch":
		return session.Result{
			Reason:        session.ReasonIPMismatch,
			UserID:        userID,
			IPChangeCount: changeCount,
		}, nil
	case "fingerprint_mismatch":
		return session.Result{
			Reason: session.ReasonFingerprintMismatch,
			UserID: userID,
		}, nil
	default:
		return session.Result{Reason: session.ReasonExpired}, nil
	}
}

// Revoke deletes a session. Returns false if it did not exist.
func (s *SessionStore) Revoke(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	start := time.Now()
	existed, err := revokeScript.Run(ctx, s.client.client,
		[]string{sessionKeyPrefix + id}, userIndexPrefix, id).Int()
	DefaultMetrics.ObserveOperation("session_revoke", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("session revoke: %w", err)
	}

	return existed == 1, nil
}

// Get returns a session record without touching its activity or expiry.
func (s *SessionStore) Get(ctx context.Context, id string) (session.Record, bool, error) {
	if id == "" {
		return session.Record{}, false, nil
	}

	start := time.Now()
	data, err := s.client.client.HGetAll(ctx, sessionKeyPrefix+id).Result()
	DefaultMetrics.ObserveOperation("session_get", time.Since(start), err)
	if err != nil {
		return session.Record{}, false, fmt.Errorf("session get: %w", err)
	}
	if len(data) == 0 {
		return session.Record{}, false, nil
	}

	rec, err := recordFromHash(id, data)
	if err != nil {
		return session.Record{}, false, fmt.Errorf("session get: %w", err)
	}
	if !time.Now().Before(rec.ExpiresAt) {
		return session.Record{}, false, nil
	}
	return rec, true, nil
}

// List returns the user's live sessions, pruning expired index entries
// along the way.
func (s *SessionStore) List(ctx context.Context, userID string) ([]session.Record, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	indexKey := userIndexPrefix + userID
	nowMs := time.Now().UnixMilli()

	start := time.Now()
	pipe := s.client.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, indexKey, "-inf", strconv.FormatInt(nowMs, 10))
	idsCmd := pipe.ZRange(ctx, indexKey, 0, -1)
	_, err := pipe.Exec(ctx)
	DefaultMetrics.ObserveOperation("session_list", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("session list: %w", err)
	}

	ids := idsCmd.Val()
	records := make([]session.Record, 0, len(ids))
	for _, id := range ids {
		rec, found, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			records = append(records, rec)
		}
	}
	return records, nil
}

// RevokeAll deletes every session belonging to a user.
func (s *SessionStore) RevokeAll(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, errors.New("user id is required")
	}

	start := time.Now()
	removed, err := revokeAllScript.Run(ctx, s.client.client,
		[]string{userIndexPrefix + userID}, sessionKeyPrefix).Int()
	DefaultMetrics.ObserveOperation("session_revoke_all", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("session revoke all: %w", err)
	}

	if removed > 0 {
		s.logger.Info("revoked all sessions", "user_id", userID, "count", removed)
	}
	return removed, nil
}

func recordFromHash(id string, data map[string]string) (session.Record, error) {
	parseMs := func(field string) (time.Time, error) {
		ms, err := strconv.ParseInt(data[field], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("malformed %s: %q", field, data[field])
		}
		return time.UnixMilli(ms), nil
	}

	createdAt, err := parseMs("created_at")
	if err != nil {
		return session.Record{}, err
	}
	lastActivity, err := parseMs("last_activity")
	if err != nil {
		return session.Record{}, err
	}
	expiresAt, err := parseMs("expires_at")
	if err != nil {
		return session.Record{}, err
	}

	changeCount, _ := strconv.Atoi(data["ip_change_count"])

	return session.Record{
		ID:                 id,
		UserID:             data["user_id"],
		DeviceIP:           data["device_ip"],
		DeviceFingerprint:  data["fingerprint"],
		CreatedAt:          createdAt,
		LastActivity:       lastActivity,
		ExpiresAt:          expiresAt,
		IPRotationDetected: data["ip_rotation_detected"] == "1",
		IPChangeCount:      changeCount,
	}, nil
}
