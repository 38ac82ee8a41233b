package rollout

import (
	"context"
	"sync"

	convomodel "PConvo/module/convo/model"
)

type MemJournal struct {
	mu      sync.Mutex
	entries []*convomodel.JournalEntry
}

func NewMemJournal() *MemJournal { return &MemJournal{} }

func (j *MemJournal) AppendEntry(_ context.Context, e *convomodel.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *e
	j.entries = append(j.entries, &cp)
	return nil
}

func (j *MemJournal) ListEntries(_ context.Context, limit int) ([]*convomodel.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := len(j.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	// 新→旧
	out := make([]*convomodel.JournalEntry, 0, n)
	for i := len(j.entries) - 1; i >= 0 && len(out) < n; i-- {
		cp := *j.entries[i]
		out = append(out, &cp)
	}
	return out, nil
}
