package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PConvo/module/convo/command"
	"PConvo/module/convo/eventlog"
	"PConvo/module/convo/idem"
	"PConvo/module/convo/member"
	convomodel "PConvo/module/convo/model"
	"PConvo/module/convo/receipt"
	"PConvo/module/convo/resync"
	"PConvo/module/convo/rollout"
	"PConvo/module/convo/seq"
	"PConvo/service/bus"
	"PConvo/tools/security"

	"github.com/gorilla/websocket"
)

// ctxStrictRegistry 模拟生产存储：ctx 一旦取消所有查询立即报错。
// 内存注册表本身忽略 ctx，包一层才能暴露对已取消请求 ctx 的误用。
type ctxStrictRegistry struct{ member.Registry }

func (r ctxStrictRegistry) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return r.Registry.IsMember(ctx, conversationID, userID)
}

func newWSServer(t *testing.T) (*Server, *bus.MemBus) {
	t.Helper()
	ctx := context.Background()
	reg := member.NewMemRegistry()
	for _, conv := range []string{"c1", "c2"} {
		if err := reg.Join(ctx, conv, "alice"); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.Join(ctx, "c2", "bob"); err != nil {
		t.Fatal(err)
	}

	log := eventlog.NewMemStore()
	rec := receipt.NewMemTracker()
	b := bus.NewMemBus()
	members := ctxStrictRegistry{reg}

	return &Server{
		Proc: &command.Processor{
			Log:     log,
			Seq:     seq.NewMemAllocator(),
			Ledger:  idem.NewMemLedger(),
			Members: members,
			Pub:     b,
		},
		Resyncer: &resync.Service{Log: log, Receipts: rec, Members: members},
		Receipts: rec,
		Log:      log,
		Toggle:   rollout.NewToggle(rollout.NewMemJournal()),
		Bus:      b,
		Members:  members,
		JwtOpts:  security.DefaultOptions([]byte("ws-test-secret")),
	}, b
}

// 升级后 handler 立即返回、请求 ctx 被取消，写泵仍要能查成员并推送。
func TestWSPushesAfterHandlerReturns(t *testing.T) {
	srv, b := newWSServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	token, _, err := security.Generate(srv.JwtOpts, security.Identity{UserID: "alice", DeviceID: "phone"})
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	// 留出 handler 返回、net/http 取消请求 ctx 的时间
	time.Sleep(50 * time.Millisecond)

	ctx := context.Background()
	if err := b.PublishEvent(ctx, &convomodel.Event{
		EventID: 1, StreamID: "c1", Seq: 1,
		Type: convomodel.EventMessageCreated, ActorID: "bob",
	}); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got convomodel.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("no event pushed after handler returned: %v", err)
	}
	if got.EventID != 1 || got.StreamID != "c1" {
		t.Fatalf("pushed wrong event: %+v", got)
	}
}

// 非成员会话的事件不下发。
func TestWSFiltersNonMemberStreams(t *testing.T) {
	srv, b := newWSServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	token, _, err := security.Generate(srv.JwtOpts, security.Identity{UserID: "bob", DeviceID: "pc"})
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)

	ctx := context.Background()
	// bob 不在 c1；随后 c2 的事件应是他收到的第一条
	for _, ev := range []*convomodel.Event{
		{EventID: 10, StreamID: "c1", Seq: 1, Type: convomodel.EventMessageCreated, ActorID: "alice"},
		{EventID: 11, StreamID: "c2", Seq: 1, Type: convomodel.EventMessageCreated, ActorID: "alice"},
	} {
		if err := b.PublishEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got convomodel.Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.EventID != 11 {
		t.Fatalf("got event %d, want 11 (c1 must be filtered)", got.EventID)
	}
}
