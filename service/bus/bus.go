package bus

import (
	"context"
	"sync"

	"PConvo/logger"
	convomodel "PConvo/module/convo/model"
)

// Publisher 已提交事件的扇出口。
type Publisher interface {
	PublishEvent(ctx context.Context, ev *convomodel.Event) error
}

// Fanout 组合多个下游（进程内总线 + NATS + Kafka）。
// 任一下游失败只记日志：事件已落库，扇出是尽力而为的加速层，
// 消费侧最终靠日志轮询兜底。
type Fanout struct {
	Sinks []Publisher
}

func (f *Fanout) PublishEvent(ctx context.Context, ev *convomodel.Event) error {
	for _, s := range f.Sinks {
		if err := s.PublishEvent(ctx, ev); err != nil {
			logger.Errorf("fanout publish event %d: %v", ev.EventID, err)
		}
	}
	return nil
}

// MemBus 进程内订阅总线，WebSocket 推送和投影器加速用。
// 慢订阅者不回压写路径：缓冲满直接丢，丢了靠重同步补。
type MemBus struct {
	mu   sync.Mutex
	subs map[int64]chan *convomodel.Event
	next int64
}

func NewMemBus() *MemBus {
	return &MemBus{subs: make(map[int64]chan *convomodel.Event)}
}

func (b *MemBus) PublishEvent(_ context.Context, ev *convomodel.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logger.Warnf("bus subscriber %d lagging, event %d dropped", id, ev.EventID)
		}
	}
	return nil
}

// Subscribe 返回事件通道和取消函数。
func (b *MemBus) Subscribe(buffer int) (<-chan *convomodel.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *convomodel.Event, buffer)
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
