package idem

import (
	"context"
	"sync"

	convomodel "PConvo/module/convo/model"
)

// MemLedger 单进程实现；唯一键语义与生产实现一致。
type MemLedger struct {
	mu sync.Mutex
	m  map[string]*convomodel.Outcome
}

func NewMemLedger() *MemLedger {
	return &MemLedger{m: make(map[string]*convomodel.Outcome)}
}

func (l *MemLedger) Begin(_ context.Context, out *convomodel.Outcome) (*convomodel.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if old, ok := l.m[out.Key]; ok && old.State != convomodel.IdemStateFailed {
		cp := *old
		return &cp, nil
	}
	cp := *out
	cp.State = convomodel.IdemStatePending
	l.m[out.Key] = &cp
	return nil, nil
}

func (l *MemLedger) Commit(_ context.Context, key string, messageID, seqNo, serverTimeMS int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.m[key]
	if !ok {
		return ErrNoPending
	}
	if o.State != convomodel.IdemStatePending {
		return ErrNotPending
	}
	o.State = convomodel.IdemStateCommitted
	o.MessageID = messageID
	o.Seq = seqNo
	o.ServerTimeMS = serverTimeMS
	o.UpdatedAtMS = serverTimeMS
	return nil
}

func (l *MemLedger) Fail(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.m[key]
	if !ok {
		return ErrNoPending
	}
	if o.State != convomodel.IdemStatePending {
		return ErrNotPending
	}
	o.State = convomodel.IdemStateFailed
	return nil
}

func (l *MemLedger) Get(_ context.Context, key string) (*convomodel.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.m[key]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (l *MemLedger) ReapStalePending(_ context.Context, staleBefore int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, o := range l.m {
		if o.State == convomodel.IdemStatePending && o.UpdatedAtMS < staleBefore {
			o.State = convomodel.IdemStateFailed
			n++
		}
	}
	return n, nil
}

func (l *MemLedger) CollectExpired(_ context.Context, nowMS int64, limit int) ([]*convomodel.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 {
		limit = 512
	}
	var out []*convomodel.Outcome
	for k, o := range l.m {
		if o.State == convomodel.IdemStatePending {
			continue
		}
		if o.ExpiresAtMS > 0 && o.ExpiresAtMS <= nowMS {
			cp := *o
			out = append(out, &cp)
			delete(l.m, k)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
