package command

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// 命令类型（幂等结果里留痕用）
const (
	CmdSend   = "send"
	CmdEdit   = "edit"
	CmdDelete = "delete"
)

// ack_status：accepted 首次落库；duplicate 幂等重放；其余三种随错误码走。
const (
	AckAccepted  = "accepted"
	AckDuplicate = "duplicate"
	AckConflict  = "conflict"
	AckRejected  = "rejected"
	AckRetry     = "retry"
)

// Meta 三元组设备写序：同一 (actor, device, client_write_seq) 至多执行一次。
type Meta struct {
	ActorID        string `json:"actor_id"`
	DeviceID       string `json:"device_id"`
	ClientWriteSeq int64  `json:"client_write_seq"`
}

type SendCommand struct {
	Meta
	ConversationID string   `json:"conversation_id"`
	Body           string   `json:"body"`
	MediaID        string   `json:"media_id,omitempty"`
	Mentions       []string `json:"mentions,omitempty"`
}

type EditCommand struct {
	Meta
	ConversationID string `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	NewBody        string `json:"new_body"`
}

type DeleteCommand struct {
	Meta
	ConversationID string `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
}

// Ack 写命令回执。重放时从幂等账本原样还原。
type Ack struct {
	MessageID    int64  `json:"message_id"`
	Seq          int64  `json:"seq"`
	ServerTimeMS int64  `json:"server_time_ms"`
	Status       string `json:"ack_status"`
}

// HashPayload 对命令实质内容做摘要，区分“合法重试”与“同键不同内容”。
// encoding/json 对 map 按键排序，摘要天然规范化。
func HashPayload(fields map[string]any) string {
	buf, _ := json.Marshal(fields)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

func (c *SendCommand) hash() string {
	return HashPayload(map[string]any{
		"t":        CmdSend,
		"conv":     c.ConversationID,
		"body":     c.Body,
		"media":    c.MediaID,
		"mentions": c.Mentions,
	})
}

func (c *EditCommand) hash() string {
	return HashPayload(map[string]any{
		"t":    CmdEdit,
		"conv": c.ConversationID,
		"mid":  c.MessageID,
		"body": c.NewBody,
	})
}

func (c *DeleteCommand) hash() string {
	return HashPayload(map[string]any{
		"t":    CmdDelete,
		"conv": c.ConversationID,
		"mid":  c.MessageID,
	})
}
