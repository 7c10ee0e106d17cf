package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const guestKeyPrefix = "quota:guest:"

// incrementScript bumps the usage counter only while it is below the limit
// and refreshes the key TTL, so the entry expires one window after last use.
var incrementScript = redis.NewScript(`
local used = tonumber(redis.call('HGET', KEYS[1], 'used') or '0')
if used >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HINCRBY', KEYS[1], 'used', 1)
redis.call('HSET', KEYS[1], 'last', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisGuestLedger is a GuestLedger shared by every instance using the same
// Redis. Counting is atomic per key but not exactly-once across a failover.
type RedisGuestLedger struct {
	rdb    redis.Cmdable
	window time.Duration
	now    func() time.Time
}

func NewRedisGuestLedger(rdb redis.Cmdable, window time.Duration) *RedisGuestLedger {
	return &RedisGuestLedger{rdb: rdb, window: window, now: time.Now}
}

func guestKey(guestID string) string {
	return guestKeyPrefix + guestID
}

func (l *RedisGuestLedger) Get(ctx context.Context, guestID string) (GuestEntry, error) {
	vals, err := l.rdb.HGetAll(ctx, guestKey(guestID)).Result()
	if err != nil {
		return GuestEntry{}, fmt.Errorf("reading guest usage: %w", err)
	}

	var entry GuestEntry
	if v, ok := vals["used"]; ok {
		entry.Used, _ = strconv.Atoi(v)
	}
	if v, ok := vals["last"]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			entry.LastUsedAt = time.UnixMilli(ms)
		}
	}
	return entry, nil
}

func (l *RedisGuestLedger) Increment(ctx context.Context, guestID string, limit int) (bool, error) {
	res, err := incrementScript.Run(ctx, l.rdb, []string{guestKey(guestID)},
		limit, l.now().UnixMilli(), l.window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("incrementing guest usage: %w", err)
	}
	return res == 1, nil
}
