package rollout

import (
	"context"

	convomodel "PConvo/module/convo/model"
	errs "PConvo/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoJournal struct {
	DB *mongo.Database
}

func NewMongoJournal(db *mongo.Database) *MongoJournal { return &MongoJournal{DB: db} }

func (j *MongoJournal) coll() *mongo.Collection {
	e := convomodel.JournalEntry{}
	return j.DB.Collection(e.GetTableName())
}

func (j *MongoJournal) EnsureIndexes(ctx context.Context) error {
	_, err := j.coll().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "at", Value: -1}},
		Options: options.Index().SetName("idx_at"),
	})
	return errs.WrapMsg(err, "ensure journal indexes")
}

func (j *MongoJournal) AppendEntry(ctx context.Context, e *convomodel.JournalEntry) error {
	_, err := j.coll().InsertOne(ctx, e)
	return errs.Wrap(err)
}

func (j *MongoJournal) ListEntries(ctx context.Context, limit int) ([]*convomodel.JournalEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := j.coll().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer cur.Close(ctx)
	var out []*convomodel.JournalEntry
	for cur.Next(ctx) {
		var e convomodel.JournalEntry
		if err := cur.Decode(&e); err != nil {
			return nil, errs.Wrap(err)
		}
		out = append(out, &e)
	}
	return out, errs.Wrap(cur.Err())
}
