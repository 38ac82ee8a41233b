package eventlog

import (
	"context"
	"errors"

	convomodel "PConvo/module/convo/model"
)

var (
	ErrUniqueSeq     = errors.New("unique (stream, seq) violated")
	ErrUniqueEventID = errors.New("unique event_id violated")
)

// Store 追加型事件日志。事件写入后不可变；前缀可按保留策略物理裁剪。
// 实现要求：
//   - Append 原子落一条事件并同步维护消息投影行与流水位；
//     (stream,seq) 冲突必须返回 ErrUniqueSeq，命令层据此矫正发号器。
//   - 读操作不阻塞写（快照/游标语义），任意多读者无需协调。
type Store interface {
	Append(ctx context.Context, ev *convomodel.Event) error

	Head(ctx context.Context, streamID string) (int64, error)
	RetentionMin(ctx context.Context, streamID string) (int64, error)

	// ListSince 返回 seq ∈ (sinceSeq, sinceSeq+limit] 的事件，升序。
	ListSince(ctx context.Context, streamID string, sinceSeq int64, limit int) ([]*convomodel.Event, error)

	// ListAfterPos 按日志全序位置拉取（投影器补齐/重建用）。
	ListAfterPos(ctx context.Context, pos int64, limit int) ([]*convomodel.Event, error)

	// Prune 推进保留下界并删除 seq <= newMin 的事件。
	Prune(ctx context.Context, streamID string, newMin int64) error

	// 消息投影（派生视图，随 Append 同步维护）
	GetMessage(ctx context.Context, messageID int64) (*convomodel.Message, error)
	ListMessagesDesc(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]*convomodel.Message, error)

	IsUniqueSeqErr(err error) bool
	IsTransientErr(err error) bool
}
