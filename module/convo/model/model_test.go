package model

import "testing"

func TestIdemKeyShape(t *testing.T) {
	k := IdemKey("alice", "phone", 42)
	if k != "alice|phone|42" {
		t.Fatalf("key = %q", k)
	}
	if IdemKey("alice", "phone", 42) != k {
		t.Fatal("key not stable")
	}
}

func TestComputeSortKeyOrdering(t *testing.T) {
	pinned := ComputeSortKey(1, 10, false)
	unpinned := ComputeSortKey(0, 999, true)
	if pinned <= unpinned {
		t.Fatalf("pinned %q should sort above unpinned %q", pinned, unpinned)
	}
	newer := ComputeSortKey(0, 11, false)
	older := ComputeSortKey(0, 10, false)
	if newer <= older {
		t.Fatalf("newer %q should sort above older %q", newer, older)
	}
	draft := ComputeSortKey(0, 10, true)
	if draft <= older {
		t.Fatalf("draft %q should sort above no-draft %q at same seq", draft, older)
	}
}

func TestDecodePayloadTypes(t *testing.T) {
	ev := &Event{
		Type: EventMessageCreated,
		Payload: map[string]any{
			"message_id": int64(9001),
			"body":       "hi",
			"mentions":   []string{"bob"},
		},
	}
	p, err := DecodePayload(ev)
	if err != nil {
		t.Fatal(err)
	}
	created, ok := p.(*MessageCreatedPayload)
	if !ok {
		t.Fatalf("decoded %T, want MessageCreatedPayload", p)
	}
	if created.MessageID != 9001 || created.Body != "hi" || len(created.Mentions) != 1 {
		t.Fatalf("decoded wrong: %+v", created)
	}

	// 未知种类兜底，不丢字段
	ev = &Event{Type: "reaction.added", Payload: map[string]any{"emoji": "+1"}}
	p, err = DecodePayload(ev)
	if err != nil {
		t.Fatal(err)
	}
	unknown, ok := p.(*UnknownPayload)
	if !ok {
		t.Fatalf("decoded %T, want UnknownPayload", p)
	}
	if unknown.Raw["emoji"] != "+1" {
		t.Fatalf("raw payload lost: %+v", unknown.Raw)
	}
}

func TestRecomputeRefreshesSortKey(t *testing.T) {
	r := &InboxRow{PinnedRank: 2, ActivitySeq: 7, HasDraft: true}
	r.Recompute()
	if r.SortKey != ComputeSortKey(2, 7, true) {
		t.Fatalf("sort key = %q", r.SortKey)
	}
}
