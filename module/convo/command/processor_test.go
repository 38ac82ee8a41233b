package command

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"PConvo/module/convo/eventlog"
	"PConvo/module/convo/idem"
	"PConvo/module/convo/member"
	convomodel "PConvo/module/convo/model"
	"PConvo/module/convo/seq"
	errs "PConvo/tools/errs"
	"PConvo/tools/ids"
)

func newTestProcessor(t *testing.T, users ...string) (*Processor, *eventlog.MemStore, *member.MemRegistry) {
	t.Helper()
	log := eventlog.NewMemStore()
	reg := member.NewMemRegistry()
	for _, u := range users {
		if err := reg.Join(context.Background(), "c1", u); err != nil {
			t.Fatal(err)
		}
	}
	p := &Processor{
		Log:     log,
		Seq:     seq.NewMemAllocator(),
		Ledger:  idem.NewMemLedger(),
		Members: reg,
	}
	return p, log, reg
}

func sendCmd(user, device string, writeSeq int64, body string) *SendCommand {
	return &SendCommand{
		Meta:           Meta{ActorID: user, DeviceID: device, ClientWriteSeq: writeSeq},
		ConversationID: "c1",
		Body:           body,
	}
}

func TestSendAssignsContiguousSeq(t *testing.T) {
	p, _, _ := newTestProcessor(t, "alice")
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		ack, err := p.Send(ctx, sendCmd("alice", "phone", want, "m"))
		if err != nil {
			t.Fatal(err)
		}
		if ack.Seq != want {
			t.Fatalf("seq = %d, want %d", ack.Seq, want)
		}
		if ack.Status != AckAccepted {
			t.Fatalf("status = %s, want accepted", ack.Status)
		}
		if ack.MessageID == 0 {
			t.Fatal("message id missing")
		}
	}
}

func TestDuplicateRetryReplaysAck(t *testing.T) {
	p, log, _ := newTestProcessor(t, "alice")
	ctx := context.Background()

	first, err := p.Send(ctx, sendCmd("alice", "phone", 5, "hello"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Send(ctx, sendCmd("alice", "phone", 5, "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != AckDuplicate {
		t.Fatalf("status = %s, want duplicate", second.Status)
	}
	if second.MessageID != first.MessageID || second.Seq != first.Seq {
		t.Fatalf("replayed ack differs: %+v vs %+v", second, first)
	}
	// 日志里只有一条事件
	evs, err := log.ListSince(ctx, "c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 {
		t.Fatalf("log has %d events, want 1", len(evs))
	}
}

func TestSameKeyDifferentPayloadConflicts(t *testing.T) {
	p, _, _ := newTestProcessor(t, "alice")
	ctx := context.Background()

	if _, err := p.Send(ctx, sendCmd("alice", "phone", 5, "hello")); err != nil {
		t.Fatal(err)
	}
	_, err := p.Send(ctx, sendCmd("alice", "phone", 5, "tampered"))
	if errs.CodeOf(err) != errs.CodeConflict {
		t.Fatalf("err = %v, want conflict code", err)
	}
}

func TestTwoDevicesSameWriteSeqIndependent(t *testing.T) {
	p, _, _ := newTestProcessor(t, "alice")
	ctx := context.Background()

	a, err := p.Send(ctx, sendCmd("alice", "phone", 1, "from phone"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Send(ctx, sendCmd("alice", "laptop", 1, "from laptop"))
	if err != nil {
		t.Fatal(err)
	}
	if a.MessageID == b.MessageID || a.Seq == b.Seq {
		t.Fatalf("devices collided: %+v vs %+v", a, b)
	}
}

func TestNonMemberRejected(t *testing.T) {
	p, _, _ := newTestProcessor(t, "alice")
	_, err := p.Send(context.Background(), sendCmd("mallory", "x", 1, "hi"))
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("err = %v, want validation code", err)
	}
}

func TestEditOnlyBySender(t *testing.T) {
	p, _, _ := newTestProcessor(t, "alice", "bob")
	ctx := context.Background()

	ack, err := p.Send(ctx, sendCmd("alice", "phone", 1, "original"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Edit(ctx, &EditCommand{
		Meta:           Meta{ActorID: "bob", DeviceID: "pc", ClientWriteSeq: 1},
		ConversationID: "c1",
		MessageID:      ack.MessageID,
		NewBody:        "hijacked",
	})
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("edit by non-sender = %v, want validation code", err)
	}

	got, err := p.Edit(ctx, &EditCommand{
		Meta:           Meta{ActorID: "alice", DeviceID: "phone", ClientWriteSeq: 2},
		ConversationID: "c1",
		MessageID:      ack.MessageID,
		NewBody:        "fixed",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageID != ack.MessageID {
		t.Fatalf("edit ack targets %d, want %d", got.MessageID, ack.MessageID)
	}
}

func TestEditAfterDeleteRejected(t *testing.T) {
	p, log, _ := newTestProcessor(t, "alice")
	ctx := context.Background()

	ack, err := p.Send(ctx, sendCmd("alice", "phone", 1, "bye"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Delete(ctx, &DeleteCommand{
		Meta:           Meta{ActorID: "alice", DeviceID: "phone", ClientWriteSeq: 2},
		ConversationID: "c1",
		MessageID:      ack.MessageID,
	}); err != nil {
		t.Fatal(err)
	}
	m, err := log.GetMessage(ctx, ack.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Deleted {
		t.Fatal("message not marked deleted")
	}
	_, err = p.Edit(ctx, &EditCommand{
		Meta:           Meta{ActorID: "alice", DeviceID: "phone", ClientWriteSeq: 3},
		ConversationID: "c1",
		MessageID:      ack.MessageID,
		NewBody:        "resurrect",
	})
	if errs.CodeOf(err) != errs.CodeValidation {
		t.Fatalf("edit of deleted = %v, want validation code", err)
	}
}

type denyGate struct{ deny bool }

func (g *denyGate) Allows(string) error {
	if g.deny {
		return errs.ErrRolloutDisabled
	}
	return nil
}

func TestRolloutGateFailsThenRetrySucceeds(t *testing.T) {
	p, _, _ := newTestProcessor(t, "alice")
	gate := &denyGate{deny: true}
	p.Gate = gate
	ctx := context.Background()

	_, err := p.Send(ctx, sendCmd("alice", "phone", 1, "hi"))
	if errs.CodeOf(err) != errs.CodeRolloutDisabled {
		t.Fatalf("err = %v, want rollout disabled", err)
	}

	// 闸门放开后同一命令重发要真正执行（failed 占位被替换）
	gate.deny = false
	ack, err := p.Send(ctx, sendCmd("alice", "phone", 1, "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if ack.Status != AckAccepted || ack.Seq != 1 {
		t.Fatalf("retry after gate = %+v", ack)
	}
}

func TestSeqReconcileOnUniqueConflict(t *testing.T) {
	p, log, _ := newTestProcessor(t, "alice")
	ctx := context.Background()

	// 存储里已有 seq=1（模拟发号器缓存丢失后落后于日志）
	if err := log.Append(ctx, &convomodel.Event{
		EventID: ids.Generate(), StreamID: "c1", Seq: 1,
		Type:    convomodel.EventMessageCreated,
		Payload: map[string]any{"message_id": ids.Generate(), "body": "pre"},
		ActorID: "alice",
	}); err != nil {
		t.Fatal(err)
	}

	ack, err := p.Send(ctx, sendCmd("alice", "phone", 1, "after failover"))
	if err != nil {
		t.Fatal(err)
	}
	if ack.Seq != 2 {
		t.Fatalf("seq after reconcile = %d, want 2", ack.Seq)
	}
}

func TestConcurrentSendsContiguous(t *testing.T) {
	p, log, _ := newTestProcessor(t, "alice")
	ctx := context.Background()

	const n = 64
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Send(ctx, sendCmd("alice", fmt.Sprintf("dev-%d", i), 1, "m"))
			errCh <- err
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatal(err)
		}
	}

	evs, err := log.ListSince(ctx, "c1", 0, n+10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != n {
		t.Fatalf("log has %d events, want %d", len(evs), n)
	}
	seqs := make([]int64, 0, n)
	for _, ev := range evs {
		seqs = append(seqs, ev.Seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for i, q := range seqs {
		if q != int64(i+1) {
			t.Fatalf("gap at %d: seq %d", i, q)
		}
	}
}

func TestHashPayloadDeterministic(t *testing.T) {
	a := HashPayload(map[string]any{"b": 1, "a": "x"})
	b := HashPayload(map[string]any{"a": "x", "b": 1})
	if a != b {
		t.Fatal("hash depends on map insertion order")
	}
	c := HashPayload(map[string]any{"a": "x", "b": 2})
	if a == c {
		t.Fatal("different payloads hash equal")
	}
}
