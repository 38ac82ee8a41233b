package model

import (
	decode "PConvo/tools/decode"
)

// 事件种类：封闭集合 + Unknown 前向兼容变体。
// 存储层只认弱类型 map，消费侧用 DecodePayload 收敛成强类型。
const (
	EventMessageCreated = "message.created"
	EventMessageEdited  = "message.edited"
	EventMessageDeleted = "message.deleted"
)

// Event 不可变事实。追加后永不修改；保留策略可物理裁剪前缀。
// DeviceID + ClientWriteSeq 留作因果追溯（“这个序号为什么落在这里”）。
type Event struct {
	EventID        int64          `bson:"event_id"`         // 全局唯一（雪花）
	Pos            int64          `bson:"pos"`              // 日志全序位置，落库时由存储赋值（投影水位用）
	StreamID       string         `bson:"stream_id"`        // 所属流
	Seq            int64          `bson:"seq"`              // 流内序号，唯一且连续
	Type           string         `bson:"type"`             // 事件种类
	Payload        map[string]any `bson:"payload"`          // 动态负载
	PayloadHash    string         `bson:"payload_hash"`     // 输入完整性校验
	ActorID        string         `bson:"actor_id"`         // 操作者
	DeviceID       string         `bson:"device_id"`        // 产生此事件的设备
	ClientWriteSeq int64          `bson:"client_write_seq"` // 设备本地单调写序号
	CreatedAtMS    int64          `bson:"created_at_ms"`
}

func (*Event) GetTableName() string { return "convo_event" }

// ---- 强类型负载 ----

type MessageCreatedPayload struct {
	MessageID int64    `json:"message_id"`
	Body      string   `json:"body"`
	MediaID   string   `json:"media_id,omitempty"`
	Mentions  []string `json:"mentions,omitempty"`
}

type MessageEditedPayload struct {
	MessageID int64  `json:"message_id"`
	NewBody   string `json:"new_body"`
}

type MessageDeletedPayload struct {
	MessageID int64 `json:"message_id"`
}

// UnknownPayload 未识别种类的兜底：原样携带，不丢字段。
type UnknownPayload struct {
	Type string
	Raw  map[string]any
}

// DecodePayload 把事件负载收敛成强类型；未知种类返回 UnknownPayload。
func DecodePayload(ev *Event) (any, error) {
	switch ev.Type {
	case EventMessageCreated:
		return decode.DecodeMap[MessageCreatedPayload](ev.Payload)
	case EventMessageEdited:
		return decode.DecodeMap[MessageEditedPayload](ev.Payload)
	case EventMessageDeleted:
		return decode.DecodeMap[MessageDeletedPayload](ev.Payload)
	default:
		return &UnknownPayload{Type: ev.Type, Raw: ev.Payload}, nil
	}
}
