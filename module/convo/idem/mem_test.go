package idem

import (
	"context"
	"testing"
	"time"

	convomodel "PConvo/module/convo/model"
)

func newOutcome(key string, nowMS int64) *convomodel.Outcome {
	return &convomodel.Outcome{
		Key:         key,
		ActorID:     "alice",
		DeviceID:    "phone",
		WriteSeq:    7,
		CommandType: "send",
		PayloadHash: "h1",
		ExpiresAtMS: nowMS + 60_000,
		UpdatedAtMS: nowMS,
	}
}

func TestBeginCommitReplay(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()
	now := time.Now().UnixMilli()

	existing, err := l.Begin(ctx, newOutcome("k1", now))
	if err != nil {
		t.Fatal(err)
	}
	if existing != nil {
		t.Fatalf("first Begin returned existing %+v", existing)
	}

	// 占位期间重复 Begin 拿到 pending
	existing, err = l.Begin(ctx, newOutcome("k1", now))
	if err != nil {
		t.Fatal(err)
	}
	if existing == nil || existing.State != convomodel.IdemStatePending {
		t.Fatalf("second Begin = %+v, want pending", existing)
	}

	if err := l.Commit(ctx, "k1", 9001, 5, now); err != nil {
		t.Fatal(err)
	}
	existing, err = l.Begin(ctx, newOutcome("k1", now))
	if err != nil {
		t.Fatal(err)
	}
	if existing == nil || existing.State != convomodel.IdemStateCommitted {
		t.Fatalf("Begin after commit = %+v, want committed", existing)
	}
	if existing.MessageID != 9001 || existing.Seq != 5 {
		t.Fatalf("replay result wrong: %+v", existing)
	}
}

func TestFailedKeyCanRestart(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()
	now := time.Now().UnixMilli()

	if _, err := l.Begin(ctx, newOutcome("k1", now)); err != nil {
		t.Fatal(err)
	}
	if err := l.Fail(ctx, "k1"); err != nil {
		t.Fatal(err)
	}

	// failed 被新占位替换，可重新执行
	existing, err := l.Begin(ctx, newOutcome("k1", now))
	if err != nil {
		t.Fatal(err)
	}
	if existing != nil {
		t.Fatalf("Begin after fail returned %+v, want nil", existing)
	}
	o, err := l.Get(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if o.State != convomodel.IdemStatePending {
		t.Fatalf("state after restart = %s, want pending", o.State)
	}
}

func TestCommitRequiresPending(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()
	now := time.Now().UnixMilli()

	if err := l.Commit(ctx, "nope", 1, 1, now); err != ErrNoPending {
		t.Fatalf("commit missing = %v, want ErrNoPending", err)
	}
	if _, err := l.Begin(ctx, newOutcome("k1", now)); err != nil {
		t.Fatal(err)
	}
	if err := l.Commit(ctx, "k1", 1, 1, now); err != nil {
		t.Fatal(err)
	}
	if err := l.Commit(ctx, "k1", 2, 2, now); err != ErrNotPending {
		t.Fatalf("double commit = %v, want ErrNotPending", err)
	}
}

func TestReapStalePending(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()
	now := time.Now().UnixMilli()

	old := newOutcome("stale", now-120_000)
	if _, err := l.Begin(ctx, old); err != nil {
		t.Fatal(err)
	}
	fresh := newOutcome("fresh", now)
	if _, err := l.Begin(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	n, err := l.ReapStalePending(ctx, now-60_000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}
	o, _ := l.Get(ctx, "stale")
	if o.State != convomodel.IdemStateFailed {
		t.Fatalf("stale state = %s, want failed", o.State)
	}
	o, _ = l.Get(ctx, "fresh")
	if o.State != convomodel.IdemStatePending {
		t.Fatalf("fresh state = %s, want pending", o.State)
	}
}

func TestCollectExpired(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()
	now := time.Now().UnixMilli()

	expired := newOutcome("done", now)
	expired.ExpiresAtMS = now - 1
	if _, err := l.Begin(ctx, expired); err != nil {
		t.Fatal(err)
	}
	if err := l.Commit(ctx, "done", 9001, 3, now); err != nil {
		t.Fatal(err)
	}

	// pending 永不被收走
	stillPending := newOutcome("pend", now)
	stillPending.ExpiresAtMS = now - 1
	if _, err := l.Begin(ctx, stillPending); err != nil {
		t.Fatal(err)
	}

	outs, err := l.CollectExpired(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(outs) != 1 || outs[0].Key != "done" {
		t.Fatalf("collected %+v, want only done", outs)
	}
	if o, _ := l.Get(ctx, "done"); o != nil {
		t.Fatalf("collected key still present: %+v", o)
	}
	if o, _ := l.Get(ctx, "pend"); o == nil {
		t.Fatal("pending key was collected")
	}
}
