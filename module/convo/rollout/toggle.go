package rollout

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	convomodel "PConvo/module/convo/model"
	errs "PConvo/tools/errs"

	"github.com/google/uuid"
)

// JournalStore 开关流转审计的持久端。
type JournalStore interface {
	AppendEntry(ctx context.Context, e *convomodel.JournalEntry) error
	ListEntries(ctx context.Context, limit int) ([]*convomodel.JournalEntry, error)
}

// Toggle 写路径发布闸门。stage 控灰度比例，kill 是独立总闸：
// kill=true 时无论 stage 为何都拒绝写。shadow 阶段放行所有写
// （影子流量的对比在调用方做），canary 按 actor 哈希放行一部分。
type Toggle struct {
	Journal JournalStore

	mu            sync.RWMutex
	stage         string
	kill          bool
	canaryPercent uint32 // canary 阶段放行百分比，1..100
}

func NewToggle(journal JournalStore) *Toggle {
	return &Toggle{Journal: journal, stage: convomodel.StageOn, canaryPercent: 10}
}

func validStage(s string) bool {
	switch s {
	case convomodel.StageOff, convomodel.StageShadow, convomodel.StageCanary, convomodel.StageOn:
		return true
	}
	return false
}

// Allows 判定 actor 是否放行。拒绝返回 RolloutDisabled。
func (t *Toggle) Allows(actorID string) error {
	t.mu.RLock()
	stage, kill, pct := t.stage, t.kill, t.canaryPercent
	t.mu.RUnlock()

	if kill {
		return errs.ErrRolloutDisabled.WithDetail("kill switch engaged")
	}
	switch stage {
	case convomodel.StageOn, convomodel.StageShadow:
		return nil
	case convomodel.StageCanary:
		h := fnv.New32a()
		_, _ = h.Write([]byte(actorID))
		if h.Sum32()%100 < pct {
			return nil
		}
		return errs.ErrRolloutDisabled.WithDetail("outside canary cohort")
	default:
		return errs.ErrRolloutDisabled.WithDetail("stage off")
	}
}

func (t *Toggle) State() (stage string, kill bool, canaryPercent uint32) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stage, t.kill, t.canaryPercent
}

// SetStage 流转灰度阶段并记审计。
func (t *Toggle) SetStage(ctx context.Context, stage, actor, reason string) error {
	if !validStage(stage) {
		return errs.ErrValidation.WithDetail("unknown stage " + stage)
	}
	t.mu.Lock()
	from := t.stage
	t.stage = stage
	kill := t.kill
	t.mu.Unlock()

	return t.journal(ctx, &convomodel.JournalEntry{
		StageFrom: from, StageTo: stage,
		KillFrom: kill, KillTo: kill,
		Actor: actor, Reason: reason,
	})
}

// SetKill 拉起/放下总闸并记审计。
func (t *Toggle) SetKill(ctx context.Context, kill bool, actor, reason string) error {
	t.mu.Lock()
	from := t.kill
	t.kill = kill
	stage := t.stage
	t.mu.Unlock()

	return t.journal(ctx, &convomodel.JournalEntry{
		StageFrom: stage, StageTo: stage,
		KillFrom: from, KillTo: kill,
		Actor: actor, Reason: reason,
	})
}

// SetCanaryPercent 调整 canary 放行比例（不记审计，属运行参数）。
func (t *Toggle) SetCanaryPercent(pct uint32) {
	if pct > 100 {
		pct = 100
	}
	t.mu.Lock()
	t.canaryPercent = pct
	t.mu.Unlock()
}

func (t *Toggle) journal(ctx context.Context, e *convomodel.JournalEntry) error {
	if t.Journal == nil {
		return nil
	}
	e.EntryID = uuid.NewString()
	e.At = time.Now()
	return t.Journal.AppendEntry(ctx, e)
}
