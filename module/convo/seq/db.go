package seq

import (
	"context"
	"time"

	convomodel "PConvo/module/convo/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type DAO struct{ DB *mongo.Database }

func (d *DAO) coll() *mongo.Collection {
	s := convomodel.StreamSeq{}
	return d.DB.Collection(s.GetTableName())
}

// AllocSegment 原子领段：issued_seq += block，返回 [start,end]
func (d *DAO) AllocSegment(ctx context.Context, streamID string, block int64) (start, end int64, err error) {
	if block <= 0 {
		block = 256
	}
	now := time.Now()

	filter := bson.M{convomodel.StreamSeqFieldStreamID: streamID}
	update := bson.M{
		"$inc":         bson.M{convomodel.StreamSeqFieldIssuedSeq: block},
		"$setOnInsert": bson.M{convomodel.StreamSeqFieldMaxSeq: int64(0), convomodel.StreamSeqFieldMinSeq: int64(0), convomodel.StreamSeqFieldCreateTime: now},
		"$set":         bson.M{convomodel.StreamSeqFieldUpdateTime: now},
	}

	var before struct {
		IssuedSeq int64 `bson:"issued_seq"`
	}
	err = d.coll().FindOneAndUpdate(
		ctx, filter, update,
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.Before),
	).Decode(&before)
	if err != nil && err != mongo.ErrNoDocuments {
		return 0, 0, err
	}
	old := before.IssuedSeq // 不存在时视为0
	return old + 1, old + block, nil
}

// RaiseIssuedFloor 纠偏：抬高 issued_seq 下限（Redis 回退/冷启动时）
func (d *DAO) RaiseIssuedFloor(ctx context.Context, streamID string, floor int64) error {
	_, err := d.coll().UpdateOne(ctx,
		bson.M{convomodel.StreamSeqFieldStreamID: streamID},
		bson.M{"$max": bson.M{convomodel.StreamSeqFieldIssuedSeq: floor},
			"$set": bson.M{convomodel.StreamSeqFieldUpdateTime: time.Now()}},
		options.Update().SetUpsert(true),
	)
	return err
}
