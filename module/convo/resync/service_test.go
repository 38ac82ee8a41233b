package resync

import (
	"context"
	"testing"
	"time"

	"PConvo/module/convo/eventlog"
	"PConvo/module/convo/member"
	convomodel "PConvo/module/convo/model"
	"PConvo/module/convo/receipt"
	errs "PConvo/tools/errs"
)

func newService(t *testing.T) (*Service, *eventlog.MemStore, *receipt.MemTracker) {
	t.Helper()
	log := eventlog.NewMemStore()
	rec := receipt.NewMemTracker()
	reg := member.NewMemRegistry()
	if err := reg.Join(context.Background(), "c1", "alice"); err != nil {
		t.Fatal(err)
	}
	return &Service{Log: log, Receipts: rec, Members: reg}, log, rec
}

func fill(t *testing.T, log *eventlog.MemStore, n int64) {
	t.Helper()
	for i := int64(1); i <= n; i++ {
		if err := log.Append(context.Background(), &convomodel.Event{
			EventID: 1000 + i, StreamID: "c1", Seq: i,
			Type:    convomodel.EventMessageCreated,
			Payload: map[string]any{"message_id": 9000 + i, "body": "m"},
			ActorID: "alice",
		}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestResyncDeltaInOrder(t *testing.T) {
	s, log, _ := newService(t)
	fill(t, log, 6)

	page, err := s.Resync(context.Background(), "alice", "phone", "c1", 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if page.Head != 6 {
		t.Fatalf("head = %d, want 6", page.Head)
	}
	if len(page.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(page.Events))
	}
	for i, ev := range page.Events {
		if ev.Seq != int64(3+i) {
			t.Fatalf("events[%d].Seq = %d, want %d", i, ev.Seq, 3+i)
		}
	}
}

func TestResyncEmptyAtHead(t *testing.T) {
	s, log, _ := newService(t)
	fill(t, log, 4)

	page, err := s.Resync(context.Background(), "alice", "phone", "c1", 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Events) != 0 {
		t.Fatalf("at head got %d events, want 0", len(page.Events))
	}
	if page.Head != 4 {
		t.Fatalf("head = %d, want 4", page.Head)
	}
}

func TestResyncGapBelowRetention(t *testing.T) {
	s, log, _ := newService(t)
	fill(t, log, 8)
	if err := log.Prune(context.Background(), "c1", 5); err != nil {
		t.Fatal(err)
	}

	// 游标落在被裁掉的前缀里
	_, err := s.Resync(context.Background(), "alice", "phone", "c1", 2, 0)
	if errs.CodeOf(err) != errs.CodeGap {
		t.Fatalf("err = %v, want gap code", err)
	}

	// 差一也不行：since=4 需要 seq 5，而 5 已被裁掉，
	// 放行会静默丢一条事件
	_, err = s.Resync(context.Background(), "alice", "phone", "c1", 4, 0)
	if errs.CodeOf(err) != errs.CodeGap {
		t.Fatalf("err = %v, want gap code just below retention floor", err)
	}

	// 正好在保留边界上仍可增量
	page, err := s.Resync(context.Background(), "alice", "phone", "c1", 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Events) != 3 || page.Events[0].Seq != 6 {
		t.Fatalf("boundary resync wrong: %d events from %d", len(page.Events), page.Events[0].Seq)
	}
}

func TestResyncNonMember(t *testing.T) {
	s, log, _ := newService(t)
	fill(t, log, 2)
	_, err := s.Resync(context.Background(), "mallory", "x", "c1", 0, 0)
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("err = %v, want validation code", err)
	}
}

func TestResyncThrottle(t *testing.T) {
	s, log, _ := newService(t)
	fill(t, log, 2)
	s.Throttle = NewMemThrottle(time.Minute, 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.Resync(ctx, "alice", "phone", "c1", 0, 0); err != nil {
			t.Fatal(err)
		}
	}
	_, err := s.Resync(ctx, "alice", "phone", "c1", 0, 0)
	if errs.CodeOf(err) != errs.CodeRateLimited {
		t.Fatalf("err = %v, want rate limited", err)
	}
	// 另一设备独立计窗
	if _, err := s.Resync(ctx, "alice", "tablet", "c1", 0, 0); err != nil {
		t.Fatalf("other device throttled: %v", err)
	}
}

func TestSnapshotLatest(t *testing.T) {
	s, log, rec := newService(t)
	fill(t, log, 5)
	ctx := context.Background()
	if _, err := rec.AckRead(ctx, "c1", "alice", 3); err != nil {
		t.Fatal(err)
	}

	snap, err := s.SnapshotLatest(ctx, "alice", "phone", "c1", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Messages) != 2 || snap.Messages[0].Seq != 5 || snap.Messages[1].Seq != 4 {
		t.Fatalf("snapshot page wrong: %+v", snap.Messages)
	}
	if snap.Head != 5 {
		t.Fatalf("head = %d, want 5", snap.Head)
	}
	if snap.ReadSeq != 3 || snap.DeliveredSeq != 3 {
		t.Fatalf("cursors = (%d, %d), want (3, 3)", snap.DeliveredSeq, snap.ReadSeq)
	}

	// 翻页：从上一页最旧 seq 继续
	snap, err = s.SnapshotLatest(ctx, "alice", "phone", "c1", 4, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Messages) != 3 || snap.Messages[0].Seq != 3 {
		t.Fatalf("second page wrong: %+v", snap.Messages)
	}
}
