package model

// Message 是 message.* 事件的投影（非事实源）。
// Seq 在创建时一次性取自流水位，永不复用；编辑/删除由后续事件回写标记。
type Message struct {
	MessageID      int64  `bson:"message_id"`      // 雪花
	ConversationID string `bson:"conversation_id"` // = StreamID
	Seq            int64  `bson:"seq"`             // 创建事件的流内序号
	SenderID       string `bson:"sender_id"`
	Body           string `bson:"body"`
	MediaID        string `bson:"media_id,omitempty"` // 外部媒体对象引用，播放地址由媒体服务换取

	Mentions []string `bson:"mentions,omitempty"` // 被@的用户

	Edited    bool  `bson:"edited"`
	EditSeq   int64 `bson:"edit_seq,omitempty"` // 最近一次编辑事件的序号
	Deleted   bool  `bson:"deleted"`            // 软删除标记
	DeleteSeq int64 `bson:"delete_seq,omitempty"`

	CreatedAtMS int64 `bson:"created_at_ms"`
}

func (*Message) GetTableName() string { return "convo_message" }
