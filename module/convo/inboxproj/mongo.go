package inboxproj

import (
	"context"

	convomodel "PConvo/module/convo/model"
	errs "PConvo/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoStore struct {
	DB *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore { return &MongoStore{DB: db} }

func (s *MongoStore) rows() *mongo.Collection {
	r := convomodel.InboxRow{}
	return s.DB.Collection(r.GetTableName())
}

func (s *MongoStore) state() *mongo.Collection { return s.DB.Collection("convo_proj_state") }

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.rows().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "conversation_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_user_conv"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "sort_key", Value: -1}},
			Options: options.Index().SetName("idx_user_sortkey"),
		},
	})
	return errs.WrapMsg(err, "ensure inbox indexes")
}

func (s *MongoStore) Get(ctx context.Context, user, conv string) (*convomodel.InboxRow, error) {
	var r convomodel.InboxRow
	err := s.rows().FindOne(ctx, bson.M{"user_id": user, "conversation_id": conv}).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &r, nil
}

func (s *MongoStore) Upsert(ctx context.Context, row *convomodel.InboxRow) error {
	_, err := s.rows().ReplaceOne(ctx,
		bson.M{"user_id": row.UserID, "conversation_id": row.ConversationID},
		row, options.Replace().SetUpsert(true))
	return errs.Wrap(err)
}

func (s *MongoStore) Delete(ctx context.Context, user, conv string) error {
	_, err := s.rows().DeleteOne(ctx, bson.M{"user_id": user, "conversation_id": conv})
	return errs.Wrap(err)
}

func (s *MongoStore) List(ctx context.Context, user string, limit int) ([]*convomodel.InboxRow, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sort_key", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.rows().Find(ctx, bson.M{"user_id": user}, opts)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer cur.Close(ctx)
	var out []*convomodel.InboxRow
	for cur.Next(ctx) {
		var r convomodel.InboxRow
		if err := cur.Decode(&r); err != nil {
			return nil, errs.Wrap(err)
		}
		out = append(out, &r)
	}
	return out, errs.Wrap(cur.Err())
}

func (s *MongoStore) Watermark(ctx context.Context) (int64, error) {
	var doc struct {
		Pos int64 `bson:"pos"`
	}
	err := s.state().FindOne(ctx, bson.M{"_id": "inbox"}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, errs.Wrap(err)
	}
	return doc.Pos, nil
}

func (s *MongoStore) SetWatermark(ctx context.Context, pos int64) error {
	_, err := s.state().UpdateOne(ctx, bson.M{"_id": "inbox"},
		bson.M{"$max": bson.M{"pos": pos}}, options.Update().SetUpsert(true))
	return errs.Wrap(err)
}
