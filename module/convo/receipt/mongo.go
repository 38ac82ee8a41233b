package receipt

import (
	"context"
	"time"

	convomodel "PConvo/module/convo/model"
	errs "PConvo/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTracker 用 $max 做单调推进；唯一索引 { conversation_id:1, user_id:1 }。
type MongoTracker struct {
	DB *mongo.Database
}

func NewMongoTracker(db *mongo.Database) *MongoTracker { return &MongoTracker{DB: db} }

func (t *MongoTracker) coll() *mongo.Collection {
	r := convomodel.Receipt{}
	return t.DB.Collection(r.GetTableName())
}

func (t *MongoTracker) EnsureIndexes(ctx context.Context) error {
	_, err := t.coll().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: convomodel.ReceiptFieldConversationID, Value: 1}, {Key: convomodel.ReceiptFieldUserID, Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_conv_user"),
	})
	return errs.WrapMsg(err, "ensure receipt indexes")
}

func (t *MongoTracker) bump(ctx context.Context, conv, user string, maxFields bson.M) (*convomodel.Receipt, error) {
	res := t.coll().FindOneAndUpdate(ctx,
		bson.M{convomodel.ReceiptFieldConversationID: conv, convomodel.ReceiptFieldUserID: user},
		bson.M{"$max": maxFields,
			"$set": bson.M{convomodel.ReceiptFieldUpdatedAtMS: time.Now().UnixMilli()}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var out convomodel.Receipt
	if err := res.Decode(&out); err != nil && err != mongo.ErrNoDocuments {
		return nil, errs.Wrap(err)
	}
	return &out, nil
}

func (t *MongoTracker) AckDelivered(ctx context.Context, conv, user string, upToSeq int64) (int64, error) {
	out, err := t.bump(ctx, conv, user, bson.M{convomodel.ReceiptFieldDeliveredSeq: upToSeq})
	if err != nil {
		return 0, err
	}
	return out.DeliveredSeq, nil
}

func (t *MongoTracker) AckRead(ctx context.Context, conv, user string, upToSeq int64) (int64, error) {
	// read 与 delivered 一起 $max，保证 read <= delivered
	out, err := t.bump(ctx, conv, user, bson.M{
		convomodel.ReceiptFieldReadSeq:      upToSeq,
		convomodel.ReceiptFieldDeliveredSeq: upToSeq,
	})
	if err != nil {
		return 0, err
	}
	return out.ReadSeq, nil
}

func (t *MongoTracker) Get(ctx context.Context, conv, user string) (*convomodel.Receipt, error) {
	var r convomodel.Receipt
	err := t.coll().FindOne(ctx,
		bson.M{convomodel.ReceiptFieldConversationID: conv, convomodel.ReceiptFieldUserID: user}).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return &convomodel.Receipt{ConversationID: conv, UserID: user}, nil
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &r, nil
}
