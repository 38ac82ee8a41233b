package member

import (
	"context"
	"time"

	errs "PConvo/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type memberRow struct {
	ConversationID string `bson:"conversation_id"`
	UserID         string `bson:"user_id"`
	JoinedAtMS     int64  `bson:"joined_at_ms"`
}

type MongoRegistry struct {
	DB *mongo.Database
}

func NewMongoRegistry(db *mongo.Database) *MongoRegistry { return &MongoRegistry{DB: db} }

func (r *MongoRegistry) coll() *mongo.Collection { return r.DB.Collection("convo_member") }

func (r *MongoRegistry) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_conv_user"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_user"),
		},
	})
	return errs.WrapMsg(err, "ensure member indexes")
}

func (r *MongoRegistry) IsMember(ctx context.Context, conv, user string) (bool, error) {
	err := r.coll().FindOne(ctx, bson.M{"conversation_id": conv, "user_id": user}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(err)
	}
	return true, nil
}

func (r *MongoRegistry) Members(ctx context.Context, conv string) ([]string, error) {
	cur, err := r.coll().Find(ctx, bson.M{"conversation_id": conv})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer cur.Close(ctx)
	var out []string
	for cur.Next(ctx) {
		var row memberRow
		if err := cur.Decode(&row); err != nil {
			return nil, errs.Wrap(err)
		}
		out = append(out, row.UserID)
	}
	return out, errs.Wrap(cur.Err())
}

func (r *MongoRegistry) Join(ctx context.Context, conv, user string) error {
	_, err := r.coll().UpdateOne(ctx,
		bson.M{"conversation_id": conv, "user_id": user},
		bson.M{"$setOnInsert": bson.M{"joined_at_ms": time.Now().UnixMilli()}},
		options.Update().SetUpsert(true))
	return errs.Wrap(err)
}

func (r *MongoRegistry) Leave(ctx context.Context, conv, user string) error {
	_, err := r.coll().DeleteOne(ctx, bson.M{"conversation_id": conv, "user_id": user})
	return errs.Wrap(err)
}

func (r *MongoRegistry) Conversations(ctx context.Context, user string) ([]string, error) {
	cur, err := r.coll().Find(ctx, bson.M{"user_id": user})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer cur.Close(ctx)
	var out []string
	for cur.Next(ctx) {
		var row memberRow
		if err := cur.Decode(&row); err != nil {
			return nil, errs.Wrap(err)
		}
		out = append(out, row.ConversationID)
	}
	return out, errs.Wrap(cur.Err())
}
