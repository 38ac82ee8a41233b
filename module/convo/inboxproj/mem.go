package inboxproj

import (
	"context"
	"sort"
	"sync"

	convomodel "PConvo/module/convo/model"
)

type MemStore struct {
	mu        sync.Mutex
	rows      map[string]*convomodel.InboxRow // user|conv
	watermark int64
}

func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]*convomodel.InboxRow)}
}

func ikey(user, conv string) string { return user + "|" + conv }

func (s *MemStore) Get(_ context.Context, user, conv string) (*convomodel.InboxRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[ikey(user, conv)]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (s *MemStore) Upsert(_ context.Context, row *convomodel.InboxRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *row
	s.rows[ikey(row.UserID, row.ConversationID)] = &cp
	return nil
}

func (s *MemStore) Delete(_ context.Context, user, conv string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, ikey(user, conv))
	return nil
}

func (s *MemStore) List(_ context.Context, user string, limit int) ([]*convomodel.InboxRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*convomodel.InboxRow
	for _, r := range s.rows {
		if r.UserID == user {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortKey > out[j].SortKey })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) Watermark(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watermark, nil
}

func (s *MemStore) SetWatermark(_ context.Context, pos int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos > s.watermark {
		s.watermark = pos
	}
	return nil
}
