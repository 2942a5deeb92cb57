// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// admitScript prunes, counts and conditionally records in one round trip.
// Redis runs scripts atomically, which serializes concurrent admissions for
// the same key across all gateway replicas.
//
// KEYS[1] window key
// ARGV[1] now (unix micro), ARGV[2] prune cutoff (unix micro), ARGV[3] limit,
// ARGV[4] member, ARGV[5] key ttl (ms)
//
// Scores are passed as strings and never go through Lua arithmetic, which
// would round microsecond timestamps.
var admitScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
  return {count, 1, ''}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return {count, 0, oldest[2] or ''}
`)

// RedisWindowStore keeps windows as sorted sets scored by unix microseconds.
// It is shared by every gateway replica pointing at the same Redis and
// survives gateway restarts until the keys expire.
type RedisWindowStore struct {
	rdb       redis.UniversalClient
	prefix    string
	window    time.Duration
	opTimeout time.Duration
}

type RedisStoreOption func(*RedisWindowStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisWindowStore) {
		if p := strings.Trim(prefix, ":"); p != "" {
			s.prefix = p
		}
	}
}

func WithOperationTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisWindowStore) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// NewRedisWindowStore wraps an existing client. The caller owns the client
// unless Close is called on the store.
func NewRedisWindowStore(rdb redis.UniversalClient, window time.Duration, opts ...RedisStoreOption) *RedisWindowStore {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &RedisWindowStore{
		rdb:       rdb,
		prefix:    "admission:window",
		window:    window,
		opTimeout: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisWindowStore) Window() time.Duration { return s.window }

func (s *RedisWindowStore) Backend() string { return "redis" }

func (s *RedisWindowStore) key(identity string) string {
	return s.prefix + ":" + identity
}

func (s *RedisWindowStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func micros(t time.Time) int64 { return t.UnixMicro() }

// cutoff is the highest score that is already outside the window.
func (s *RedisWindowStore) cutoff(now time.Time) string {
	return strconv.FormatInt(micros(now)-s.window.Microseconds(), 10)
}

func storeError(op, identity string, err error) error {
	return fmt.Errorf("%w: %s %q: %w", ErrStoreUnavailable, op, identity, err)
}

func (s *RedisWindowStore) Prune(ctx context.Context, identity string, now time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.rdb.ZRemRangeByScore(ctx, s.key(identity), "-inf", s.cutoff(now)).Err(); err != nil {
		return storeError("prune", identity, err)
	}
	return nil
}

func (s *RedisWindowStore) Count(ctx context.Context, identity string, now time.Time) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var card *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, s.key(identity), "-inf", s.cutoff(now))
		card = pipe.ZCard(ctx, s.key(identity))
		return nil
	})
	if err != nil {
		return 0, storeError("count", identity, err)
	}
	return int(card.Val()), nil
}

func (s *RedisWindowStore) Record(ctx context.Context, identity string, now time.Time) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	key := s.key(identity)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(micros(now)), Member: member(now)})
		pipe.PExpire(ctx, key, s.window)
		return nil
	})
	if err != nil {
		return storeError("record", identity, err)
	}
	return nil
}

func (s *RedisWindowStore) Admit(ctx context.Context, identity string, at time.Time, limit int) (Admission, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	now := micros(at)
	res, err := admitScript.Run(ctx, s.rdb, []string{s.key(identity)},
		strconv.FormatInt(now, 10), s.cutoff(at), limit, member(at), s.window.Milliseconds(),
	).Slice()
	if err != nil {
		return Admission{}, storeError("admit", identity, err)
	}
	if len(res) != 3 {
		return Admission{}, storeError("admit", identity, fmt.Errorf("unexpected script reply %v", res))
	}
	count, _ := res[0].(int64)
	admitted, _ := res[1].(int64)

	adm := Admission{Count: int(count), Admitted: admitted == 1}
	if oldest, ok := res[2].(string); ok && !adm.Admitted && oldest != "" {
		if score, err := strconv.ParseFloat(oldest, 64); err == nil {
			adm.RetryAfter = time.UnixMicro(int64(score)).Add(s.window).Sub(at)
		}
	}
	return adm, nil
}

// Ping checks connectivity for health probes.
func (s *RedisWindowStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisWindowStore) Close() error {
	return s.rdb.Close()
}

// member makes every sorted-set entry unique, so two requests within the
// same microsecond are both counted.
func member(now time.Time) string {
	return strconv.FormatInt(micros(now), 10) + "-" + uuid.NewString()
}
