package inboxproj

import (
	"context"

	convomodel "PConvo/module/convo/model"
)

// Store 收件箱投影行的存取 + 投影水位。
// 行由投影器独占写入；PinnedRank/HasDraft 是用户态字段，随行保留。
type Store interface {
	Get(ctx context.Context, userID, conversationID string) (*convomodel.InboxRow, error)
	Upsert(ctx context.Context, row *convomodel.InboxRow) error
	Delete(ctx context.Context, userID, conversationID string) error

	// List 按 sort_key 降序返回用户收件箱。
	List(ctx context.Context, userID string, limit int) ([]*convomodel.InboxRow, error)

	// 水位：已吸收的日志全序位置。重启后从这里续扫。
	Watermark(ctx context.Context) (int64, error)
	SetWatermark(ctx context.Context, pos int64) error
}
