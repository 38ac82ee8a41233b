package idem

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	convomodel "PConvo/module/convo/model"
	errs "PConvo/tools/errs"

	"github.com/redis/go-redis/v9"
)

// RedisLedger 热端账本：每键一个 JSON 值 + TTL，状态流转用 Lua CAS。
// 过期归档走 keyspace 扫描（zset 索引按 expires_at 排序）。
type RedisLedger struct {
	Rdb       redis.UniversalClient
	KeyPrefix string
	HotTTL    time.Duration // 键在 Redis 的物理 TTL，应大于热窗口
}

func NewRedisLedger(rdb redis.UniversalClient) *RedisLedger {
	return &RedisLedger{Rdb: rdb, KeyPrefix: "convo:idem:", HotTTL: 48 * time.Hour}
}

func (l *RedisLedger) key(k string) string { return l.KeyPrefix + k }
func (l *RedisLedger) zsetKey() string     { return l.KeyPrefix + "exp" }

// SETNX 语义占位；pending/committed 返回旧值，failed 允许重新占位
var luaBegin = redis.NewScript(`
  local cur = redis.call('GET', KEYS[1])
  if cur then
    local obj = cjson.decode(cur)
    if obj['state'] ~= 'failed' then return cur end
  end
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
  return false
`)

// CAS：仅 pending 可流转
var luaTransition = redis.NewScript(`
  local cur = redis.call('GET', KEYS[1])
  if not cur then return 'missing' end
  local obj = cjson.decode(cur)
  if obj['state'] ~= 'pending' then return 'notpending' end
  redis.call('SET', KEYS[1], ARGV[1], 'KEEPTTL')
  return 'ok'
`)

func (l *RedisLedger) Begin(ctx context.Context, out *convomodel.Outcome) (*convomodel.Outcome, error) {
	cp := *out
	cp.State = convomodel.IdemStatePending
	buf, err := json.Marshal(&cp)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	res, err := luaBegin.Run(ctx, l.Rdb,
		[]string{l.key(out.Key), l.zsetKey()},
		buf, l.HotTTL.Milliseconds(), out.ExpiresAtMS, out.Key).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "idem begin", "key", out.Key)
	}
	if res == false || res == nil {
		return nil, nil // 占位成功
	}
	raw, ok := res.(string)
	if !ok {
		return nil, errs.New("unexpected idem begin reply %T", res)
	}
	var old convomodel.Outcome
	if err := json.Unmarshal([]byte(raw), &old); err != nil {
		return nil, errs.Wrap(err)
	}
	return &old, nil
}

func (l *RedisLedger) transition(ctx context.Context, key string, mut func(*convomodel.Outcome)) error {
	cur, err := l.Rdb.Get(ctx, l.key(key)).Result()
	if err == redis.Nil {
		return ErrNoPending
	}
	if err != nil {
		return errs.Wrap(err)
	}
	var o convomodel.Outcome
	if err := json.Unmarshal([]byte(cur), &o); err != nil {
		return errs.Wrap(err)
	}
	mut(&o)
	buf, err := json.Marshal(&o)
	if err != nil {
		return errs.Wrap(err)
	}
	res, err := luaTransition.Run(ctx, l.Rdb, []string{l.key(key)}, buf).Result()
	if err != nil {
		return errs.Wrap(err)
	}
	switch res {
	case "ok":
		return nil
	case "missing":
		return ErrNoPending
	default:
		return ErrNotPending
	}
}

func (l *RedisLedger) Commit(ctx context.Context, key string, messageID, seqNo, serverTimeMS int64) error {
	return l.transition(ctx, key, func(o *convomodel.Outcome) {
		o.State = convomodel.IdemStateCommitted
		o.MessageID = messageID
		o.Seq = seqNo
		o.ServerTimeMS = serverTimeMS
		o.UpdatedAtMS = serverTimeMS
	})
}

func (l *RedisLedger) Fail(ctx context.Context, key string) error {
	return l.transition(ctx, key, func(o *convomodel.Outcome) {
		o.State = convomodel.IdemStateFailed
		o.UpdatedAtMS = time.Now().UnixMilli()
	})
}

func (l *RedisLedger) Get(ctx context.Context, key string) (*convomodel.Outcome, error) {
	cur, err := l.Rdb.Get(ctx, l.key(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	var o convomodel.Outcome
	if err := json.Unmarshal([]byte(cur), &o); err != nil {
		return nil, errs.Wrap(err)
	}
	return &o, nil
}

func (l *RedisLedger) ReapStalePending(ctx context.Context, staleBefore int64) (int, error) {
	// 过期索引里挑出仍 pending 且更新时间早于阈值的键
	keys, err := l.Rdb.ZRangeByScore(ctx, l.zsetKey(), &redis.ZRangeBy{
		Min: "-inf", Max: "+inf", Count: 1024,
	}).Result()
	if err != nil {
		return 0, errs.Wrap(err)
	}
	n := 0
	for _, k := range keys {
		o, err := l.Get(ctx, k)
		if err != nil || o == nil {
			continue
		}
		if o.State == convomodel.IdemStatePending && o.UpdatedAtMS < staleBefore {
			if e := l.Fail(ctx, k); e == nil {
				n++
			}
		}
	}
	return n, nil
}

func (l *RedisLedger) CollectExpired(ctx context.Context, nowMS int64, limit int) ([]*convomodel.Outcome, error) {
	if limit <= 0 {
		limit = 512
	}
	keys, err := l.Rdb.ZRangeByScore(ctx, l.zsetKey(), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(nowMS, 10), Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, errs.Wrap(err)
	}
	var out []*convomodel.Outcome
	for _, k := range keys {
		o, err := l.Get(ctx, k)
		if err != nil {
			return out, err
		}
		archive, unindex := collectDisposition(o)
		if archive {
			out = append(out, o)
			l.Rdb.Del(ctx, l.key(k))
		}
		if unindex {
			l.Rdb.ZRem(ctx, l.zsetKey(), k)
		}
	}
	return out, nil
}

// collectDisposition 决定过期索引里单个键的处置。
// pending 必须留在索引里：ReapStalePending 只通过这个 zset 发现
// 悬挂的 pending，提前摘除会让它卡到物理 TTL 才消失。
func collectDisposition(o *convomodel.Outcome) (archive, unindex bool) {
	if o == nil {
		return false, true // 值已物理过期，只清索引
	}
	if o.State == convomodel.IdemStatePending {
		return false, false
	}
	return true, true
}
