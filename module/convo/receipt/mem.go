package receipt

import (
	"context"
	"sync"
	"time"

	convomodel "PConvo/module/convo/model"
)

type MemTracker struct {
	mu sync.Mutex
	m  map[string]*convomodel.Receipt // conv|user
}

func NewMemTracker() *MemTracker {
	return &MemTracker{m: make(map[string]*convomodel.Receipt)}
}

func rkey(conv, user string) string { return conv + "|" + user }

func (t *MemTracker) row(conv, user string) *convomodel.Receipt {
	k := rkey(conv, user)
	r, ok := t.m[k]
	if !ok {
		r = &convomodel.Receipt{ConversationID: conv, UserID: user}
		t.m[k] = r
	}
	return r
}

func (t *MemTracker) AckDelivered(_ context.Context, conv, user string, upToSeq int64) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.row(conv, user)
	if upToSeq > r.DeliveredSeq {
		r.DeliveredSeq = upToSeq
		r.UpdatedAtMS = time.Now().UnixMilli()
	}
	return r.DeliveredSeq, nil
}

func (t *MemTracker) AckRead(_ context.Context, conv, user string, upToSeq int64) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.row(conv, user)
	if upToSeq > r.ReadSeq {
		r.ReadSeq = upToSeq
		r.UpdatedAtMS = time.Now().UnixMilli()
	}
	if r.DeliveredSeq < r.ReadSeq {
		r.DeliveredSeq = r.ReadSeq
	}
	return r.ReadSeq, nil
}

func (t *MemTracker) Get(_ context.Context, conv, user string) (*convomodel.Receipt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.m[rkey(conv, user)]; ok {
		cp := *r
		return &cp, nil
	}
	return &convomodel.Receipt{ConversationID: conv, UserID: user}, nil
}
