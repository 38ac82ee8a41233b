package seq

import (
	"context"
	"time"

	errs "PConvo/tools/errs"

	"github.com/redis/go-redis/v9"
)

// Allocator 每流严格递增发号。
// 不同流互不阻塞；同一流的“发号+落库”原子性由命令层的流级临界区
// 加事件表 (stream,seq) 唯一约束兜底（冲突走 ReconcileAndNext 矫正）。
type Allocator interface {
	Next(ctx context.Context, streamID string) (int64, error)
	// ReconcileAndNext 发现发号器落后于存储时只升不降，矫正到 floor 后取新号。
	ReconcileAndNext(ctx context.Context, streamID string, floor int64) (int64, error)
}

// 段内原子发号：KEYS[1]=key; ARGV[1]=need; ARGV[2]=segEnd; ARGV[3]=nowMs
// 返回：{0,start,0,end,nowMs} 成功；{1} notfound；{3,curr,end,0,nowMs} 用尽/不一致
var luaInSegment = redis.NewScript(`
  local k = KEYS[1]
  local need = tonumber(ARGV[1])
  local segEnd = tonumber(ARGV[2])
  local nowms = tonumber(ARGV[3])

  local curr = redis.call('HGET', k, 'curr')
  local endv = redis.call('HGET', k, 'end')
  if not curr or not endv then
    return {1}
  end
  curr = tonumber(curr); endv = tonumber(endv)

  if segEnd ~= 0 and segEnd ~= endv then
    return {3, curr, endv, 0, nowms}
  end

  local start = curr + 1
  local newv  = curr + need
  if newv > endv then
    return {3, curr, endv, 0, nowms}
  end
  redis.call('HSET', k, 'curr', newv, 'mill', nowms)
  return {0, start, 0, endv, nowms}
`)

// 装载/刷新段：curr=start-1, end=end, mill=nowMs，并设置TTL
var luaSetSegment = redis.NewScript(`
  local k = KEYS[1]
  local curr = tonumber(ARGV[1])
  local endv = tonumber(ARGV[2])
  local nowms= tonumber(ARGV[3])
  redis.call('HSET', k, 'curr', curr, 'end', endv, 'mill', nowms)
  redis.call('PEXPIRE', k, 3600000)
  return 1
`)

type DAOIface interface {
	AllocSegment(ctx context.Context, streamID string, block int64) (start, end int64, err error)
	RaiseIssuedFloor(ctx context.Context, streamID string, floor int64) error
}

// RedisAllocator 段式发号：Redis 段内原子取号，段耗尽回源 Mongo 领段。
// 冷流领小段，热流放大，减少回源次数。
type RedisAllocator struct {
	Rdb         redis.Scripter
	DAO         DAOIface
	BlockSizeFn func(streamID string, want int64) int64
	KeyFn       func(streamID string) string
	MaxRetry    int
}

func defaultBlock(_ string, want int64) int64 {
	if want <= 0 {
		want = 1
	}
	if want < 32 {
		return 256 // 冷会话小段
	}
	return want * 8 // 热会话放大
}

func defaultKey(streamID string) string { return "convo:seq:blk:" + streamID }

func (a *RedisAllocator) ensure() {
	if a.BlockSizeFn == nil {
		a.BlockSizeFn = defaultBlock
	}
	if a.KeyFn == nil {
		a.KeyFn = defaultKey
	}
	if a.MaxRetry == 0 {
		a.MaxRetry = 10
	}
}

func (a *RedisAllocator) Next(ctx context.Context, streamID string) (int64, error) {
	start, err := a.malloc(ctx, streamID, 1)
	return start, err
}

// malloc 分配 need 个连续 seq，返回起始号。
func (a *RedisAllocator) malloc(ctx context.Context, streamID string, need int64) (int64, error) {
	a.ensure()
	if need <= 0 {
		need = 1
	}
	key := a.KeyFn(streamID)
	nowms := time.Now().UnixMilli()

	// 1) 先尝试在现有段内发号
	if res, e := luaInSegment.Run(ctx, a.Rdb, []string{key}, need, 0, nowms).Result(); e == nil {
		arr := res.([]interface{})
		switch arr[0].(int64) {
		case 0:
			return arr[1].(int64), nil
		case 1, 3:
			// not found / exceeded -> 回源
		default:
			return 0, errs.New("unknown redis state %v", arr[0])
		}
	}

	// 2) 回源领段 -> 写回 Redis -> 再尝试段内发号
	var lastErr error
	for i := 0; i < a.MaxRetry; i++ {
		block := a.BlockSizeFn(streamID, need)

		segStart, segEnd, e := a.DAO.AllocSegment(ctx, streamID, block)
		if e != nil {
			lastErr = e
			break
		}

		if _, e = luaSetSegment.Run(ctx, a.Rdb, []string{key}, segStart-1, segEnd, nowms).Result(); e != nil {
			lastErr = e
			time.Sleep(10 * time.Millisecond)
			continue
		}

		res2, e := luaInSegment.Run(ctx, a.Rdb, []string{key}, need, segEnd, nowms).Result()
		if e != nil {
			lastErr = e
			time.Sleep(10 * time.Millisecond)
			continue
		}
		arr := res2.([]interface{})
		if arr[0].(int64) == 0 {
			return arr[1].(int64), nil
		}
		time.Sleep(5 * time.Millisecond) // 段冲突，小憩后重试
	}
	if lastErr == nil {
		lastErr = errs.New("seq malloc retry exceeded")
	}
	return 0, lastErr
}

// ReconcileAndNext：抬高回源下限并作废当前段，强制重新领段后取号。
func (a *RedisAllocator) ReconcileAndNext(ctx context.Context, streamID string, floor int64) (int64, error) {
	a.ensure()
	if err := a.DAO.RaiseIssuedFloor(ctx, streamID, floor); err != nil {
		return 0, err
	}
	nowms := time.Now().UnixMilli()
	// 段作废：curr=end=0，下一次 malloc 必然回源
	if _, err := luaSetSegment.Run(ctx, a.Rdb, []string{a.KeyFn(streamID)}, 0, 0, nowms).Result(); err != nil {
		return 0, err
	}
	return a.malloc(ctx, streamID, 1)
}
