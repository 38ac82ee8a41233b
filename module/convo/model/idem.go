package model

import "fmt"

// 幂等结果状态机：pending → committed | failed。
// pending 过期视为 abandoned，由回收器置为 failed 后可重新发起。
const (
	IdemStatePending   = "pending"
	IdemStateCommitted = "committed"
	IdemStateFailed    = "failed"
)

// IdemKey 把 (actor, device, client_write_seq) 归一成单一查找键。
func IdemKey(actorID, deviceID string, clientWriteSeq int64) string {
	return fmt.Sprintf("%s|%s|%d", actorID, deviceID, clientWriteSeq)
}

// Outcome 幂等结果：重放时原样返回，免去重跑业务逻辑。
// PayloadHash 用来区分“合法重试”与“同键不同内容”的冲突。
type Outcome struct {
	Key         string `bson:"key"` // IdemKey 归一键
	ActorID     string `bson:"actor_id"`
	DeviceID    string `bson:"device_id"`
	WriteSeq    int64  `bson:"client_write_seq"`
	CommandType string `bson:"command_type"` // send / edit / delete
	PayloadHash string `bson:"payload_hash"`
	State       string `bson:"state"`

	// committed 时回放给客户端的结果
	MessageID    int64 `bson:"message_id,omitempty"`
	Seq          int64 `bson:"seq,omitempty"`
	ServerTimeMS int64 `bson:"server_time_ms,omitempty"`

	ExpiresAtMS int64 `bson:"expires_at_ms"` // 热窗口到期，之后归档或清除
	UpdatedAtMS int64 `bson:"updated_at_ms"`
}

func (*Outcome) GetTableName() string { return "convo_idem_outcome" }
