package receipt

import (
	"context"

	convomodel "PConvo/module/convo/model"
)

// Tracker 投递/已读游标。只进不退（monotone-max），天然幂等，
// 不走幂等账本：重复或乱序 ack 都是无害的 no-op。
// upToSeq 由调用方先按流水位截断（不得超过 head）。
type Tracker interface {
	// AckDelivered 返回推进后的 delivered_up_to_seq。
	AckDelivered(ctx context.Context, conversationID, userID string, upToSeq int64) (int64, error)

	// AckRead 返回推进后的 read_up_to_seq；已读顺带抬高 delivered，
	// 保证 read <= delivered 恒成立。
	AckRead(ctx context.Context, conversationID, userID string, upToSeq int64) (int64, error)

	Get(ctx context.Context, conversationID, userID string) (*convomodel.Receipt, error)
}

// Clamp 把客户端游标截断到流水位内。
func Clamp(upToSeq, head int64) int64 {
	if upToSeq > head {
		return head
	}
	if upToSeq < 0 {
		return 0
	}
	return upToSeq
}
