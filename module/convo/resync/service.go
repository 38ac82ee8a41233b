package resync

import (
	"context"
	"fmt"

	"PConvo/module/convo/eventlog"
	"PConvo/module/convo/member"
	convomodel "PConvo/module/convo/model"
	"PConvo/module/convo/receipt"
	errs "PConvo/tools/errs"
)

const defaultMaxPage = 200

// Page 增量拉取结果。Events 升序、流内连续；Head/RetentionMin 供客户端
// 判断是否追平以及下次游标是否仍在保留窗口内。
type Page struct {
	Events       []*convomodel.Event `json:"events"`
	Head         int64               `json:"head"`
	RetentionMin int64               `json:"retention_min"`
}

// Snapshot 游标掉出保留窗口后的重建锚点：最新一页消息 + 双游标。
type Snapshot struct {
	Messages     []*convomodel.Message `json:"messages"` // 降序（新→旧）
	Head         int64                 `json:"head"`
	RetentionMin int64                 `json:"retention_min"`
	DeliveredSeq int64                 `json:"delivered_up_to_seq"`
	ReadSeq      int64                 `json:"read_up_to_seq"`
}

// Service 设备断线重同步。增量优先，窗口外降级快照。
type Service struct {
	Log      eventlog.Store
	Receipts receipt.Tracker
	Members  member.Registry
	Throttle Throttle
	MaxPage  int
}

func (s *Service) maxPage() int {
	if s.MaxPage > 0 {
		return s.MaxPage
	}
	return defaultMaxPage
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 || limit > s.maxPage() {
		return s.maxPage()
	}
	return limit
}

func (s *Service) admit(ctx context.Context, userID, deviceID, conversationID string) error {
	ok, err := s.Members.IsMember(ctx, conversationID, userID)
	if err != nil {
		return errs.ErrTransient.WithDetail(err.Error())
	}
	if !ok {
		return errs.ErrValidation.WithDetail("not a member of conversation")
	}
	if s.Throttle == nil {
		return nil
	}
	allowed, retryAfter, err := s.Throttle.Allow(ctx, ThrottleKey(userID, deviceID, conversationID))
	if err != nil {
		return errs.ErrTransient.WithDetail(err.Error())
	}
	if !allowed {
		return errs.ErrRateLimited.WithDetail(fmt.Sprintf("retry_after_ms=%d", retryAfter.Milliseconds()))
	}
	return nil
}

// Resync 拉取 seq > sinceSeq 的事件。
// 游标早于保留下界时返回 gap 错误，客户端须改走 Snapshot。
// 已在头部时返回空页（Head 不变即无新事件）。
func (s *Service) Resync(ctx context.Context, userID, deviceID, conversationID string, sinceSeq int64, limit int) (*Page, error) {
	if err := s.admit(ctx, userID, deviceID, conversationID); err != nil {
		return nil, err
	}
	if sinceSeq < 0 {
		return nil, errs.ErrValidation.WithDetail("since_seq must be >= 0")
	}

	head, err := s.Log.Head(ctx, conversationID)
	if err != nil {
		return nil, errs.ErrTransient.WithDetail(err.Error())
	}
	minSeq, err := s.Log.RetentionMin(ctx, conversationID)
	if err != nil {
		return nil, errs.ErrTransient.WithDetail(err.Error())
	}

	// minSeq 是最高已裁剪序号，首条可读事件是 minSeq+1；
	// 补齐 (sinceSeq, head] 需要 sinceSeq+1 >= minSeq+1
	if sinceSeq < minSeq {
		return nil, errs.ErrGap.WithDetail(fmt.Sprintf("retention_min=%d", minSeq))
	}

	page := &Page{Head: head, RetentionMin: minSeq}
	if sinceSeq >= head {
		return page, nil // 已追平
	}
	evs, err := s.Log.ListSince(ctx, conversationID, sinceSeq, s.clampLimit(limit))
	if err != nil {
		return nil, errs.ErrTransient.WithDetail(err.Error())
	}
	page.Events = evs
	return page, nil
}

// SnapshotLatest 从头部向前取一页消息投影 + 本人双游标。
// beforeSeq <= 0 表示从头部开始；翻页传上一页最旧消息的 seq。
func (s *Service) SnapshotLatest(ctx context.Context, userID, deviceID, conversationID string, beforeSeq int64, limit int) (*Snapshot, error) {
	if err := s.admit(ctx, userID, deviceID, conversationID); err != nil {
		return nil, err
	}

	head, err := s.Log.Head(ctx, conversationID)
	if err != nil {
		return nil, errs.ErrTransient.WithDetail(err.Error())
	}
	minSeq, err := s.Log.RetentionMin(ctx, conversationID)
	if err != nil {
		return nil, errs.ErrTransient.WithDetail(err.Error())
	}
	if beforeSeq <= 0 {
		beforeSeq = head + 1
	}

	msgs, err := s.Log.ListMessagesDesc(ctx, conversationID, beforeSeq, s.clampLimit(limit))
	if err != nil {
		return nil, errs.ErrTransient.WithDetail(err.Error())
	}
	rec, err := s.Receipts.Get(ctx, conversationID, userID)
	if err != nil {
		return nil, errs.ErrTransient.WithDetail(err.Error())
	}
	return &Snapshot{
		Messages:     msgs,
		Head:         head,
		RetentionMin: minSeq,
		DeliveredSeq: rec.DeliveredSeq,
		ReadSeq:      rec.ReadSeq,
	}, nil
}
