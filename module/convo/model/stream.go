package model

import "time"

// StreamSeq 维护“某个会话事件流”的全局水位与保留范围。
// 读范围 = (MinSeq, MaxSeq]；事件永远以 MaxSeq+1 追加，不允许有洞。
type StreamSeq struct {
	StreamID string `bson:"stream_id"` // 会话ID，一会话一流
	MaxSeq   int64  `bson:"max_seq"`   // 已提交可读的最大序号（commit waterline）
	MinSeq   int64  `bson:"min_seq"`   // 仍保留的最小序号（历史清理后的下界）

	IssuedSeq int64 `bson:"issued_seq,omitempty"` // 已预分配的最大序号（>= MaxSeq；段发号时监控缺口用）

	CreateTime time.Time `bson:"create_time"`
	UpdateTime time.Time `bson:"update_time"`
}

func (*StreamSeq) GetTableName() string { return "convo_stream_seq" }

// 字段名常量（mongo filter/update 用，避免裸字符串散落）
const (
	StreamSeqFieldStreamID   = "stream_id"
	StreamSeqFieldMaxSeq     = "max_seq"
	StreamSeqFieldMinSeq     = "min_seq"
	StreamSeqFieldIssuedSeq  = "issued_seq"
	StreamSeqFieldCreateTime = "create_time"
	StreamSeqFieldUpdateTime = "update_time"
)
