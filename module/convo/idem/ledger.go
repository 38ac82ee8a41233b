package idem

import (
	"context"
	"errors"
	"time"

	"PConvo/logger"
	convomodel "PConvo/module/convo/model"
	"PConvo/tools/safe"
)

var (
	ErrNoPending  = errors.New("no outcome for key")
	ErrNotPending = errors.New("outcome not in pending state")
)

// Ledger 幂等账本：同一 (actor, device, client_write_seq) 的命令只执行一次。
// Begin 抢占位（pending），Commit/Fail 与事件落库配对收尾；
// pending 超时由 Reaper 收敛为 failed，客户端可安全重发。
type Ledger interface {
	// Begin 尝试插入 pending 占位。已有 pending/committed 记录时返回现存
	// Outcome（不覆盖）；failed 记录会被新占位替换（失败后重发要重新执行）。
	Begin(ctx context.Context, out *convomodel.Outcome) (existing *convomodel.Outcome, err error)

	// Commit pending -> committed，并记录回放结果。
	Commit(ctx context.Context, key string, messageID, seqNo, serverTimeMS int64) error

	// Fail pending -> failed（终态，区别于 pending）。
	Fail(ctx context.Context, key string) error

	Get(ctx context.Context, key string) (*convomodel.Outcome, error)

	// ReapStalePending 把超时未收尾的 pending 收敛为 failed，返回处理条数。
	ReapStalePending(ctx context.Context, staleBefore int64) (int, error)

	// CollectExpired 取出热窗口已过期的 committed/failed 并从账本移除（交给归档器）。
	CollectExpired(ctx context.Context, nowMS int64, limit int) ([]*convomodel.Outcome, error)
}

// Archiver 冷端：过期结果的去处（Postgres / 丢弃）。
type Archiver interface {
	Archive(ctx context.Context, outs []*convomodel.Outcome) error
}

// NopArchiver 纯清除，不落冷端。
type NopArchiver struct{}

func (NopArchiver) Archive(context.Context, []*convomodel.Outcome) error { return nil }

// Reaper 定时做两件事：pending 超时收敛 + 过期结果归档。
type Reaper struct {
	Ledger     Ledger
	Archiver   Archiver
	PendingTTL time.Duration // pending 多久算 abandoned
	Interval   time.Duration
}

func (r *Reaper) Run(ctx context.Context) {
	if r.Interval <= 0 {
		r.Interval = 30 * time.Second
	}
	if r.Archiver == nil {
		r.Archiver = NopArchiver{}
	}
	safe.SafeGo("idem-reaper", func() {
		t := time.NewTicker(r.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				r.tick(ctx)
			}
		}
	})
}

func (r *Reaper) tick(ctx context.Context) {
	nowMS := time.Now().UnixMilli()
	staleBefore := nowMS - r.PendingTTL.Milliseconds()
	if n, err := r.Ledger.ReapStalePending(ctx, staleBefore); err != nil {
		logger.Errorf("reap stale pending: %v", err)
	} else if n > 0 {
		logger.Infof("reaped %d stale pending outcomes", n)
	}

	outs, err := r.Ledger.CollectExpired(ctx, nowMS, 512)
	if err != nil {
		logger.Errorf("collect expired outcomes: %v", err)
		return
	}
	if len(outs) == 0 {
		return
	}
	if err := r.Archiver.Archive(ctx, outs); err != nil {
		// 归档失败只记日志，热端已删，不回滚（冷端是尽力而为的审计层）
		logger.Errorf("archive %d outcomes: %v", len(outs), err)
	}
}
