package model

// Receipt 用户在某个会话里的投递/已读游标。
// 不变量：ReadSeq <= DeliveredSeq <= 流 MaxSeq；两个游标都只进不退。
type Receipt struct {
	ConversationID string `bson:"conversation_id"`
	UserID         string `bson:"user_id"`
	DeliveredSeq   int64  `bson:"delivered_up_to_seq"`
	ReadSeq        int64  `bson:"read_up_to_seq"`
	UpdatedAtMS    int64  `bson:"updated_at_ms"`
}

func (*Receipt) GetTableName() string { return "convo_receipt" }

const (
	ReceiptFieldConversationID = "conversation_id"
	ReceiptFieldUserID         = "user_id"
	ReceiptFieldDeliveredSeq   = "delivered_up_to_seq"
	ReceiptFieldReadSeq        = "read_up_to_seq"
	ReceiptFieldUpdatedAtMS    = "updated_at_ms"
)
