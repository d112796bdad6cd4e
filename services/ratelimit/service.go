package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Result represents the outcome of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // set only when not allowed
	FailedOpen bool          // true when the store was unavailable and the check was skipped
}

// Service admits or rejects operations under a sliding-window policy
// backed by a Redis sorted set per (identity, action) pair.
type Service struct {
	client redis.UniversalClient
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new rate limit service
func NewService(client redis.UniversalClient, logger *zap.Logger) *Service {
	return &Service{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// checkScript prunes expired entries, counts the remainder and inserts the
// new entry when under the limit, all in one atomic server-side step. The key
// TTL is the window plus a one second grace so idle keys clean themselves up.
// Returns {admitted, count_after_decision, oldest_in_window_score}.
var checkScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window + 1000)
	return {1, count + 1, 0}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = 0
if oldest[2] then
	oldestScore = tonumber(oldest[2])
end
return {0, count, oldestScore}
`)

// CheckLimit checks whether one more invocation of action by identity fits
// inside the trailing window. Admitted requests are recorded as part of the
// same atomic step, so concurrent callers cannot both slip past the limit.
//
// When the store is unavailable the check fails open: the guarded operation
// stays available and only a warning is logged.
func (s *Service) CheckLimit(ctx context.Context, identity, action string, limit int, window time.Duration) (*Result, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity is required")
	}
	if action == "" {
		return nil, fmt.Errorf("action is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}

	now := s.now()
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	raw, err := checkScript.Run(ctx, s.client,
		[]string{s.key(identity, action)},
		nowMs, windowMs, limit, member,
	).Result()
	if err != nil {
		s.logger.Warn("rate limit store unavailable, failing open",
			zap.String("identity", identity),
			zap.String("action", action),
			zap.Error(err))
		return &Result{
			Allowed:    true,
			Limit:      limit,
			Remaining:  limit,
			ResetAt:    now.Add(window),
			FailedOpen: true,
		}, nil
	}

	admitted, count, oldestMs, err := parseCheckReply(raw)
	if err != nil {
		s.logger.Warn("unexpected rate limit script reply, failing open",
			zap.String("identity", identity),
			zap.String("action", action),
			zap.Error(err))
		return &Result{
			Allowed:    true,
			Limit:      limit,
			Remaining:  limit,
			ResetAt:    now.Add(window),
			FailedOpen: true,
		}, nil
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:   admitted,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   now.Add(window),
	}

	if !admitted {
		// Retry once the oldest in-window entry slides out; fall back to
		// the whole window when the oldest entry is unknown.
		retryAfter := window
		if oldestMs > 0 {
			retryAfter = time.Duration(oldestMs+windowMs-nowMs) * time.Millisecond
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		result.RetryAfter = retryAfter

		s.logger.Debug("rate limit exceeded",
			zap.String("identity", identity),
			zap.String("action", action),
			zap.Int("limit", limit),
			zap.Duration("retry_after", retryAfter))
	}

	return result, nil
}

// Reset deletes all recorded entries for an (identity, action) pair.
// Administrative override, not exposed to end users.
func (s *Service) Reset(ctx context.Context, identity, action string) error {
	if identity == "" || action == "" {
		return fmt.Errorf("identity and action are required")
	}

	if err := s.client.Del(ctx, s.key(identity, action)).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}

	s.logger.Info("rate limit reset",
		zap.String("identity", identity),
		zap.String("action", action))
	return nil
}

// Usage returns the number of entries currently inside the trailing window
func (s *Service) Usage(ctx context.Context, identity, action string, window time.Duration) (int64, error) {
	if identity == "" || action == "" {
		return 0, fmt.Errorf("identity and action are required")
	}

	windowStart := s.now().Add(-window).UnixMilli()
	count, err := s.client.ZCount(ctx, s.key(identity, action),
		strconv.FormatInt(windowStart, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count rate limit entries: %w", err)
	}
	return count, nil
}

// HealthCheck verifies the store is reachable
func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("rate limit store health check failed: %w", err)
	}
	return nil
}

func (s *Service) key(identity, action string) string {
	return "ratelimit:" + action + ":" + identity
}

func parseCheckReply(raw interface{}) (admitted bool, count int64, oldestMs int64, err error) {
	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 3 {
		return false, 0, 0, fmt.Errorf("malformed script reply: %v", raw)
	}

	vals := make([]int64, 3)
	for i, v := range reply {
		n, ok := v.(int64)
		if !ok {
			return false, 0, 0, fmt.Errorf("malformed script reply element %d: %v", i, v)
		}
		vals[i] = n
	}

	return vals[0] == 1, vals[1], vals[2], nil
}
