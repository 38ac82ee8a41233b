package eventlog

import (
	"context"
	"time"

	convomodel "PConvo/module/convo/model"
	errs "PConvo/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore 生产实现。唯一约束由索引承担：
//   convo_event:   { stream_id:1, seq:1 } unique / { event_id:1 } unique / { pos:1 }
//   convo_message: { message_id:1 } unique / { conversation_id:1, seq:-1 }
type MongoStore struct {
	DB *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore { return &MongoStore{DB: db} }

func (s *MongoStore) evColl() *mongo.Collection {
	ev := convomodel.Event{}
	return s.DB.Collection(ev.GetTableName())
}

func (s *MongoStore) msgColl() *mongo.Collection {
	m := convomodel.Message{}
	return s.DB.Collection(m.GetTableName())
}

func (s *MongoStore) seqColl() *mongo.Collection {
	ss := convomodel.StreamSeq{}
	return s.DB.Collection(ss.GetTableName())
}

// EnsureIndexes 启动时调用一次。
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.evColl().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "stream_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_stream_seq")},
		{Keys: bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_event_id")},
		{Keys: bson.D{{Key: "pos", Value: 1}}, Options: options.Index().SetName("idx_pos")},
	})
	if err != nil {
		return errs.WrapMsg(err, "ensure event indexes")
	}
	_, err = s.msgColl().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_message_id")},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: -1}},
			Options: options.Index().SetName("idx_conv_seq")},
	})
	return errs.WrapMsg(err, "ensure message indexes")
}

func (s *MongoStore) Append(ctx context.Context, ev *convomodel.Event) error {
	// pos 取 event_id：同流内 event_id 在临界区内分配，与 seq 同序
	ev.Pos = ev.EventID
	if _, err := s.evColl().InsertOne(ctx, ev); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrUniqueSeq
		}
		return errs.Wrap(err)
	}

	// 推进会话级水位
	now := time.Now()
	if _, err := s.seqColl().UpdateOne(ctx,
		bson.M{convomodel.StreamSeqFieldStreamID: ev.StreamID},
		bson.M{"$max": bson.M{convomodel.StreamSeqFieldMaxSeq: ev.Seq},
			"$set":         bson.M{convomodel.StreamSeqFieldUpdateTime: now},
			"$setOnInsert": bson.M{convomodel.StreamSeqFieldMinSeq: int64(0), convomodel.StreamSeqFieldCreateTime: now}},
		options.Update().SetUpsert(true),
	); err != nil {
		return errs.Wrap(err)
	}

	return s.applyToMessages(ctx, ev)
}

func (s *MongoStore) applyToMessages(ctx context.Context, ev *convomodel.Event) error {
	p, err := convomodel.DecodePayload(ev)
	if err != nil {
		return errs.Wrap(err)
	}
	switch pl := p.(type) {
	case *convomodel.MessageCreatedPayload:
		m := &convomodel.Message{
			MessageID:      pl.MessageID,
			ConversationID: ev.StreamID,
			Seq:            ev.Seq,
			SenderID:       ev.ActorID,
			Body:           pl.Body,
			MediaID:        pl.MediaID,
			Mentions:       pl.Mentions,
			CreatedAtMS:    ev.CreatedAtMS,
		}
		if _, err := s.msgColl().InsertOne(ctx, m); err != nil && !mongo.IsDuplicateKeyError(err) {
			return errs.Wrap(err)
		}
	case *convomodel.MessageEditedPayload:
		_, err := s.msgColl().UpdateOne(ctx,
			bson.M{"message_id": pl.MessageID},
			bson.M{"$set": bson.M{"body": pl.NewBody, "edited": true, "edit_seq": ev.Seq}})
		return errs.Wrap(err)
	case *convomodel.MessageDeletedPayload:
		_, err := s.msgColl().UpdateOne(ctx,
			bson.M{"message_id": pl.MessageID},
			bson.M{"$set": bson.M{"deleted": true, "delete_seq": ev.Seq}})
		return errs.Wrap(err)
	}
	return nil
}

func (s *MongoStore) Head(ctx context.Context, streamID string) (int64, error) {
	var ss convomodel.StreamSeq
	err := s.seqColl().FindOne(ctx, bson.M{convomodel.StreamSeqFieldStreamID: streamID}).Decode(&ss)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, errs.Wrap(err)
	}
	return ss.MaxSeq, nil
}

func (s *MongoStore) RetentionMin(ctx context.Context, streamID string) (int64, error) {
	var ss convomodel.StreamSeq
	err := s.seqColl().FindOne(ctx, bson.M{convomodel.StreamSeqFieldStreamID: streamID}).Decode(&ss)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, errs.Wrap(err)
	}
	return ss.MinSeq, nil
}

func (s *MongoStore) ListSince(ctx context.Context, streamID string, sinceSeq int64, limit int) ([]*convomodel.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	cur, err := s.evColl().Find(ctx,
		bson.M{"stream_id": streamID, "seq": bson.M{"$gt": sinceSeq}},
		options.Find().SetSort(bson.M{"seq": 1}).SetLimit(int64(limit)))
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []*convomodel.Event
	for cur.Next(ctx) {
		var ev convomodel.Event
		if err := cur.Decode(&ev); err != nil {
			return nil, errs.Wrap(err)
		}
		out = append(out, &ev)
	}
	return out, errs.Wrap(cur.Err())
}

func (s *MongoStore) ListAfterPos(ctx context.Context, pos int64, limit int) ([]*convomodel.Event, error) {
	if limit <= 0 {
		limit = 256
	}
	cur, err := s.evColl().Find(ctx,
		bson.M{"pos": bson.M{"$gt": pos}},
		options.Find().SetSort(bson.M{"pos": 1}).SetLimit(int64(limit)))
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []*convomodel.Event
	for cur.Next(ctx) {
		var ev convomodel.Event
		if err := cur.Decode(&ev); err != nil {
			return nil, errs.Wrap(err)
		}
		out = append(out, &ev)
	}
	return out, errs.Wrap(cur.Err())
}

func (s *MongoStore) Prune(ctx context.Context, streamID string, newMin int64) error {
	// 保护：下界不得越过水位
	res := s.seqColl().FindOneAndUpdate(ctx,
		bson.M{convomodel.StreamSeqFieldStreamID: streamID,
			convomodel.StreamSeqFieldMaxSeq: bson.M{"$gte": newMin}},
		bson.M{"$max": bson.M{convomodel.StreamSeqFieldMinSeq: newMin},
			"$set": bson.M{convomodel.StreamSeqFieldUpdateTime: time.Now()}})
	if res.Err() != nil && res.Err() != mongo.ErrNoDocuments {
		return errs.Wrap(res.Err())
	}
	_, err := s.evColl().DeleteMany(ctx,
		bson.M{"stream_id": streamID, "seq": bson.M{"$lte": newMin}})
	return errs.Wrap(err)
}

func (s *MongoStore) GetMessage(ctx context.Context, messageID int64) (*convomodel.Message, error) {
	var m convomodel.Message
	err := s.msgColl().FindOne(ctx, bson.M{"message_id": messageID}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &m, nil
}

func (s *MongoStore) ListMessagesDesc(ctx context.Context, conversationID string, beforeSeq int64, limit int) ([]*convomodel.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	cur, err := s.msgColl().Find(ctx,
		bson.M{"conversation_id": conversationID, "seq": bson.M{"$lt": beforeSeq}},
		options.Find().SetSort(bson.M{"seq": -1}).SetLimit(int64(limit)))
	if err != nil {
		return nil, errs.Wrap(err)
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []*convomodel.Message
	for cur.Next(ctx) {
		var m convomodel.Message
		if err := cur.Decode(&m); err != nil {
			return nil, errs.Wrap(err)
		}
		out = append(out, &m)
	}
	return out, errs.Wrap(cur.Err())
}

func (s *MongoStore) IsUniqueSeqErr(err error) bool {
	return err == ErrUniqueSeq
}

func (s *MongoStore) IsTransientErr(err error) bool {
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}
