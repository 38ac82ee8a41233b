package model

import "fmt"

// InboxRow 每用户每会话的列表页摘要，投影器独占写入。
// 只服务展示排序，不承载正确性；可随时从事件流+回执重建。
type InboxRow struct {
	UserID         string `bson:"user_id"`
	ConversationID string `bson:"conversation_id"`

	UnreadCount   int64  `bson:"unread_count"`
	MentionUnread int64  `bson:"mention_unread"` // 未读里@我的条数
	PreviewText   string `bson:"preview_text"`   // 最新一条消息摘要
	PinnedRank    int32  `bson:"pinned_rank"`    // 0=未置顶，越大越靠前
	HasDraft      bool   `bson:"has_draft"`
	ActivitySeq   int64  `bson:"activity_seq"` // 最近活动的流序号

	SortKey     string `bson:"sort_key"`
	UpdatedAtMS int64  `bson:"updated_at_ms"`
}

func (*InboxRow) GetTableName() string { return "convo_inbox_row" }

// ComputeSortKey 由 (pinned_rank, activity_seq, has_draft) 确定性导出。
// 字典序降序即展示顺序；增量维护与全量重建必须产出同一字符串。
func ComputeSortKey(pinnedRank int32, activitySeq int64, hasDraft bool) string {
	d := 0
	if hasDraft {
		d = 1
	}
	return fmt.Sprintf("%05d:%019d:%d", pinnedRank, activitySeq, d)
}

// Recompute 按当前字段刷新 SortKey。
func (r *InboxRow) Recompute() {
	r.SortKey = ComputeSortKey(r.PinnedRank, r.ActivitySeq, r.HasDraft)
}
