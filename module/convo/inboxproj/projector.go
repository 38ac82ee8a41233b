package inboxproj

import (
	"context"
	"time"

	"PConvo/logger"
	"PConvo/module/convo/eventlog"
	"PConvo/module/convo/member"
	convomodel "PConvo/module/convo/model"
	"PConvo/module/convo/receipt"
	errs "PConvo/tools/errs"
	"PConvo/tools/safe"
)

const (
	defaultBatch    = 256
	defaultScanCap  = 1000 // 未读统计最多回看的消息条数
	defaultInterval = 200 * time.Millisecond
	previewRunes    = 120
)

// Projector 把事件日志 + 回执游标折叠成每用户收件箱行。
// 行是 (日志, 回执, 用户态字段) 的纯函数：增量刷新与全量重建跑同一段
// 折叠逻辑，必然产出相同的行。水位按日志全序位置推进，重复吸收无害。
type Projector struct {
	Log      eventlog.Store
	Store    Store
	Members  member.Registry
	Receipts receipt.Tracker

	Batch    int
	ScanCap  int
	Interval time.Duration
}

func (p *Projector) batch() int {
	if p.Batch > 0 {
		return p.Batch
	}
	return defaultBatch
}

func (p *Projector) scanCap() int {
	if p.ScanCap > 0 {
		return p.ScanCap
	}
	return defaultScanCap
}

func truncatePreview(s string) string {
	r := []rune(s)
	if len(r) <= previewRunes {
		return s
	}
	return string(r[:previewRunes])
}

// refreshRow 对单个 (user, conv) 重算投影行。PinnedRank/HasDraft 保留。
func (p *Projector) refreshRow(ctx context.Context, user, conv string) error {
	head, err := p.Log.Head(ctx, conv)
	if err != nil {
		return err
	}
	rec, err := p.Receipts.Get(ctx, conv, user)
	if err != nil {
		return err
	}
	msgs, err := p.Log.ListMessagesDesc(ctx, conv, head+1, p.scanCap())
	if err != nil {
		return err
	}

	row, err := p.Store.Get(ctx, user, conv)
	if err != nil {
		return err
	}
	if row == nil {
		row = &convomodel.InboxRow{UserID: user, ConversationID: conv}
	}

	var unread, mentionUnread int64
	preview := ""
	for _, m := range msgs {
		if m.Deleted {
			continue
		}
		if preview == "" {
			preview = truncatePreview(m.Body)
		}
		if m.Seq > rec.ReadSeq && m.SenderID != user {
			unread++
			for _, u := range m.Mentions {
				if u == user {
					mentionUnread++
					break
				}
			}
		}
	}

	row.UnreadCount = unread
	row.MentionUnread = mentionUnread
	row.PreviewText = preview
	row.ActivitySeq = head
	row.UpdatedAtMS = time.Now().UnixMilli()
	row.Recompute()
	return p.Store.Upsert(ctx, row)
}

// OnEvent 吸收一条已提交事件：刷新该流全部成员的行。
func (p *Projector) OnEvent(ctx context.Context, ev *convomodel.Event) error {
	users, err := p.Members.Members(ctx, ev.StreamID)
	if err != nil {
		return err
	}
	for _, u := range users {
		if err := p.refreshRow(ctx, u, ev.StreamID); err != nil {
			return errs.WrapMsg(err, "refresh inbox row", "user", u, "conv", ev.StreamID)
		}
	}
	return nil
}

// OnReceipt 回执推进后刷新单行（未读数随已读游标收缩）。
func (p *Projector) OnReceipt(ctx context.Context, conversationID, userID string) error {
	return p.refreshRow(ctx, userID, conversationID)
}

// CatchUp 从水位续扫日志直到追平。返回吸收的事件数。
func (p *Projector) CatchUp(ctx context.Context) (int, error) {
	total := 0
	for {
		wm, err := p.Store.Watermark(ctx)
		if err != nil {
			return total, err
		}
		evs, err := p.Log.ListAfterPos(ctx, wm, p.batch())
		if err != nil {
			return total, err
		}
		if len(evs) == 0 {
			return total, nil
		}
		for _, ev := range evs {
			if err := p.OnEvent(ctx, ev); err != nil {
				return total, err
			}
			if err := p.Store.SetWatermark(ctx, ev.Pos); err != nil {
				return total, err
			}
			total++
		}
	}
}

// Run 后台轮询追水位。事件总线推送只是加速，轮询兜底保证收敛。
func (p *Projector) Run(ctx context.Context) {
	iv := p.Interval
	if iv <= 0 {
		iv = defaultInterval
	}
	safe.SafeGo("inbox-projector", func() {
		t := time.NewTicker(iv)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := p.CatchUp(ctx); err != nil {
					logger.Errorf("inbox catch up: %v", err)
				}
			}
		}
	})
}

// RebuildUser 全量重建一个用户的收件箱：逐会话重算，并清掉已退出会话的残留行。
func (p *Projector) RebuildUser(ctx context.Context, userID string) error {
	convs, err := p.Members.Conversations(ctx, userID)
	if err != nil {
		return err
	}
	current := make(map[string]struct{}, len(convs))
	for _, c := range convs {
		current[c] = struct{}{}
		if err := p.refreshRow(ctx, userID, c); err != nil {
			return errs.WrapMsg(err, "rebuild inbox row", "user", userID, "conv", c)
		}
	}
	rows, err := p.Store.List(ctx, userID, 0)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if _, ok := current[r.ConversationID]; !ok {
			if err := p.Store.Delete(ctx, userID, r.ConversationID); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetPinned 调整置顶档位并重排。
func (p *Projector) SetPinned(ctx context.Context, userID, conversationID string, rank int32) error {
	row, err := p.Store.Get(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if row == nil {
		row = &convomodel.InboxRow{UserID: userID, ConversationID: conversationID}
	}
	row.PinnedRank = rank
	row.UpdatedAtMS = time.Now().UnixMilli()
	row.Recompute()
	return p.Store.Upsert(ctx, row)
}

// SetDraft 标记/清除草稿并重排。
func (p *Projector) SetDraft(ctx context.Context, userID, conversationID string, has bool) error {
	row, err := p.Store.Get(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if row == nil {
		row = &convomodel.InboxRow{UserID: userID, ConversationID: conversationID}
	}
	row.HasDraft = has
	row.UpdatedAtMS = time.Now().UnixMilli()
	row.Recompute()
	return p.Store.Upsert(ctx, row)
}
