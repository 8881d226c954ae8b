package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// refillScript performs refill and consume as one atomic server-side
// operation, so concurrent workers across processes never observe a
// committed negative balance and no refill update is lost. Refills smaller
// than 100ms of elapsed time are skipped to avoid rounding churn.
//
// KEYS[1] bucket hash; ARGV: now (ms), max tokens, refill rate (tokens/s),
// requested. Returns {granted, tokens-as-string}; the string avoids Lua's
// number-to-integer truncation on the reply path.
const refillScript = `
local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = max
  ts = now
end

local elapsed = (now - ts) / 1000
if elapsed >= 0.1 then
  tokens = math.min(tokens + elapsed * rate, max)
  ts = now
end

local granted = 0
if requested > 0 and tokens >= requested then
  tokens = tokens - requested
  granted = 1
end

redis.call('HMSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts))
return {granted, tostring(tokens)}
`

// Stats is a read-only snapshot of the shared bucket.
type Stats struct {
	Tokens      float64 `json:"tokens"`
	MaxTokens   float64 `json:"max_tokens"`
	RefillRate  float64 `json:"refill_rate"`
	Utilization float64 `json:"utilization_pct"`
}

// Limiter is a token bucket whose state lives in Redis, shared by every
// server process, so the aggregate outbound call rate stays under the
// provider's limit. Nothing is cached locally between calls.
type Limiter struct {
	rdb        redis.Scripter
	script     *redis.Script
	key        string
	maxTokens  float64
	refillRate float64
	logger     *zap.Logger
}

func New(rdb redis.Scripter, key string, maxTokens, refillRate float64, logger *zap.Logger) *Limiter {
	return &Limiter{
		rdb:        rdb,
		script:     redis.NewScript(refillScript),
		key:        key,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		logger:     logger,
	}
}

// Acquire blocks the calling goroutine (and only it) until tokens are
// granted or timeout elapses. Requests above the bucket capacity fail
// immediately. Store errors are logged and retried on the next attempt;
// with timeout zero a single attempt is made.
func (l *Limiter) Acquire(ctx context.Context, tokens int, timeout time.Duration) bool {
	if float64(tokens) > l.maxTokens {
		return false
	}
	deadline := time.Now().Add(timeout)

	for {
		granted, _, err := l.run(ctx, tokens)
		if err != nil {
			l.logger.Warn("rate limiter store error", zap.Error(err))
		} else if granted {
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		// Roughly how long the bucket needs to accumulate the request,
		// capped so store recovery is noticed within a second.
		wait := time.Duration(float64(tokens) / l.refillRate * float64(time.Second))
		if wait > time.Second {
			wait = time.Second
		}
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// Stats refreshes the bucket (requested=0 path of the script) and reports
// its current state.
func (l *Limiter) Stats(ctx context.Context) (Stats, error) {
	_, tokens, err := l.run(ctx, 0)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Tokens:      tokens,
		MaxTokens:   l.maxTokens,
		RefillRate:  l.refillRate,
		Utilization: (l.maxTokens - tokens) / l.maxTokens * 100,
	}, nil
}

func (l *Limiter) run(ctx context.Context, tokens int) (bool, float64, error) {
	res, err := l.script.Run(ctx, l.rdb,
		[]string{l.key},
		time.Now().UnixMilli(), l.maxTokens, l.refillRate, tokens,
	).Result()
	if err != nil {
		return false, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("unexpected limiter script reply: %v", res)
	}
	granted, _ := vals[0].(int64)
	raw, _ := vals[1].(string)
	remaining, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0, fmt.Errorf("parse limiter balance %q: %w", raw, err)
	}
	return granted == 1, remaining, nil
}
