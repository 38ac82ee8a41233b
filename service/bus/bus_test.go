package bus

import (
	"context"
	"testing"

	convomodel "PConvo/module/convo/model"
)

func TestSubscribeReceivesPublished(t *testing.T) {
	b := NewMemBus()
	ch, cancel := b.Subscribe(4)
	defer cancel()

	ev := &convomodel.Event{EventID: 1, StreamID: "c1", Seq: 1}
	if err := b.PublishEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	got := <-ch
	if got.EventID != 1 {
		t.Fatalf("got event %d, want 1", got.EventID)
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := NewMemBus()
	_, cancel := b.Subscribe(1)
	defer cancel()

	ctx := context.Background()
	// 缓冲 1，第二条应被丢弃而不是阻塞
	for i := int64(1); i <= 3; i++ {
		if err := b.PublishEvent(ctx, &convomodel.Event{EventID: i, StreamID: "c1", Seq: i}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := NewMemBus()
	ch, cancel := b.Subscribe(4)
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after cancel")
	}
	// 取消后发布不 panic
	if err := b.PublishEvent(context.Background(), &convomodel.Event{EventID: 9}); err != nil {
		t.Fatal(err)
	}
}
