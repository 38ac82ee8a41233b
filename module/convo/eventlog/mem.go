package eventlog

import (
	"context"
	"errors"
	"sort"
	"sync"

	convomodel "PConvo/module/convo/model"
)

// MemStore 单进程内存日志。约束与生产实现一致：
// (stream,seq) 唯一、event_id 唯一、追加即赋全序 pos。
type MemStore struct {
	mu      sync.RWMutex
	nextPos int64

	byStream map[string]map[int64]*convomodel.Event // stream -> seq -> ev
	byID     map[int64]*convomodel.Event
	ordered  []*convomodel.Event // pos 升序

	heads map[string]int64 // stream -> max seq
	mins  map[string]int64 // stream -> retention floor

	msgs     map[int64]*convomodel.Message  // message_id -> msg
	convMsgs map[string][]*convomodel.Message // conv -> seq 升序
}

func NewMemStore() *MemStore {
	return &MemStore{
		byStream: make(map[string]map[int64]*convomodel.Event),
		byID:     make(map[int64]*convomodel.Event),
		heads:    make(map[string]int64),
		mins:     make(map[string]int64),
		msgs:     make(map[int64]*convomodel.Message),
		convMsgs: make(map[string][]*convomodel.Message),
	}
}

func (s *MemStore) Append(_ context.Context, ev *convomodel.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[ev.EventID]; ok {
		return ErrUniqueEventID
	}
	seqs, ok := s.byStream[ev.StreamID]
	if !ok {
		seqs = make(map[int64]*convomodel.Event)
		s.byStream[ev.StreamID] = seqs
	}
	if _, ok := seqs[ev.Seq]; ok {
		return ErrUniqueSeq
	}

	s.nextPos++
	cp := *ev
	cp.Pos = s.nextPos
	ev.Pos = s.nextPos

	seqs[cp.Seq] = &cp
	s.byID[cp.EventID] = &cp
	s.ordered = append(s.ordered, &cp)
	if s.heads[cp.StreamID] < cp.Seq {
		s.heads[cp.StreamID] = cp.Seq
	}

	s.applyToMessages(&cp)
	return nil
}

// applyToMessages 同步维护消息投影行（创建/编辑/软删除标记）。
func (s *MemStore) applyToMessages(ev *convomodel.Event) {
	p, err := convomodel.DecodePayload(ev)
	if err != nil {
		return
	}
	switch pl := p.(type) {
	case *convomodel.MessageCreatedPayload:
		m := &convomodel.Message{
			MessageID:      pl.MessageID,
			ConversationID: ev.StreamID,
			Seq:            ev.Seq,
			SenderID:       ev.ActorID,
			Body:           pl.Body,
			MediaID:        pl.MediaID,
			Mentions:       pl.Mentions,
			CreatedAtMS:    ev.CreatedAtMS,
		}
		s.msgs[m.MessageID] = m
		lst := s.convMsgs[m.ConversationID]
		i := sort.Search(len(lst), func(i int) bool { return lst[i].Seq >= m.Seq })
		lst = append(lst, nil)
		copy(lst[i+1:], lst[i:])
		lst[i] = m
		s.convMsgs[m.ConversationID] = lst
	case *convomodel.MessageEditedPayload:
		if m, ok := s.msgs[pl.MessageID]; ok {
			m.Body = pl.NewBody
			m.Edited = true
			m.EditSeq = ev.Seq
		}
	case *convomodel.MessageDeletedPayload:
		if m, ok := s.msgs[pl.MessageID]; ok {
			m.Deleted = true
			m.DeleteSeq = ev.Seq
		}
	}
}

func (s *MemStore) Head(_ context.Context, streamID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heads[streamID], nil
}

func (s *MemStore) RetentionMin(_ context.Context, streamID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mins[streamID], nil
}

func (s *MemStore) ListSince(_ context.Context, streamID string, sinceSeq int64, limit int) ([]*convomodel.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	head := s.heads[streamID]
	out := make([]*convomodel.Event, 0, limit)
	seqs := s.byStream[streamID]
	for q := sinceSeq + 1; q <= head && len(out) < limit; q++ {
		if ev, ok := seqs[q]; ok {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemStore) ListAfterPos(_ context.Context, pos int64, limit int) ([]*convomodel.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 256
	}
	i := sort.Search(len(s.ordered), func(i int) bool { return s.ordered[i].Pos > pos })
	out := make([]*convomodel.Event, 0, limit)
	for ; i < len(s.ordered) && len(out) < limit; i++ {
		cp := *s.ordered[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) Prune(_ context.Context, streamID string, newMin int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if newMin > s.heads[streamID] {
		return errors.New("retention floor beyond head")
	}
	if s.mins[streamID] >= newMin {
		return nil
	}
	s.mins[streamID] = newMin
	seqs := s.byStream[streamID]
	for q, ev := range seqs {
		if q <= newMin {
			delete(s.byID, ev.EventID)
			delete(seqs, q)
		}
	}
	kept := s.ordered[:0]
	for _, ev := range s.ordered {
		if ev.StreamID == streamID && ev.Seq <= newMin {
			continue
		}
		kept = append(kept, ev)
	}
	s.ordered = kept
	return nil
}

func (s *MemStore) GetMessage(_ context.Context, messageID int64) (*convomodel.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.msgs[messageID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (s *MemStore) ListMessagesDesc(_ context.Context, conversationID string, beforeSeq int64, limit int) ([]*convomodel.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	lst := s.convMsgs[conversationID]
	i := sort.Search(len(lst), func(i int) bool { return lst[i].Seq >= beforeSeq })
	out := make([]*convomodel.Message, 0, limit)
	for j := i - 1; j >= 0 && len(out) < limit; j-- {
		cp := *lst[j]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemStore) IsUniqueSeqErr(err error) bool { return errors.Is(err, ErrUniqueSeq) }
func (s *MemStore) IsTransientErr(err error) bool { return false } // 内存版无瞬时错误
