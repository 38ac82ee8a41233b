package resync

import (
	"context"
	"time"

	errs "PConvo/tools/errs"

	"github.com/redis/go-redis/v9"
)

// 固定窗口：INCR 首次命中时挂 TTL；返回 {count, pttl}
var luaFixedWindow = redis.NewScript(`
  local c = redis.call('INCR', KEYS[1])
  if c == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
  end
  local ttl = redis.call('PTTL', KEYS[1])
  return {c, ttl}
`)

// RedisThrottle 多实例共享窗口的限流实现。
type RedisThrottle struct {
	Rdb       redis.UniversalClient
	Window    time.Duration
	Burst     int
	KeyPrefix string
}

func NewRedisThrottle(rdb redis.UniversalClient, window time.Duration, burst int) *RedisThrottle {
	return &RedisThrottle{Rdb: rdb, Window: window, Burst: burst, KeyPrefix: "convo:resync:rl:"}
}

func (t *RedisThrottle) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := luaFixedWindow.Run(ctx, t.Rdb, []string{t.KeyPrefix + key}, t.Window.Milliseconds()).Result()
	if err != nil {
		return false, 0, errs.WrapMsg(err, "resync throttle", "key", key)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return false, 0, errs.New("unexpected throttle reply %T", res)
	}
	count := arr[0].(int64)
	ttlMS := arr[1].(int64)
	if count > int64(t.Burst) {
		if ttlMS < 0 {
			ttlMS = t.Window.Milliseconds()
		}
		return false, time.Duration(ttlMS) * time.Millisecond, nil
	}
	return true, 0, nil
}
