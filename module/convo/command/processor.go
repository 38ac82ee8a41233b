package command

import (
	"context"
	"sync"
	"time"

	"PConvo/logger"
	"PConvo/module/convo/eventlog"
	"PConvo/module/convo/idem"
	"PConvo/module/convo/member"
	convomodel "PConvo/module/convo/model"
	"PConvo/module/convo/seq"
	errs "PConvo/tools/errs"
	"PConvo/tools/ids"
)

// Gate 发布闸门：灰度阶段 + 总闸。拒绝返回带码错误。
type Gate interface {
	Allows(actorID string) error
}

// Publisher 已提交事件的下游扇出（总线/NATS/Kafka）。尽力而为，不参与事务。
type Publisher interface {
	PublishEvent(ctx context.Context, ev *convomodel.Event) error
}

// Processor 写命令入口。管线：
//
//	幂等占位 → 闸门 → 校验 → 流级临界区内{发号、落事件} → 账本收尾 → 扇出
//
// 同流串行由临界区保证，(stream,seq) 唯一约束兜底；
// 冲突时用 ReconcileAndNext 抬发号器水位后重试。
type Processor struct {
	Log     eventlog.Store
	Seq     seq.Allocator
	Ledger  idem.Ledger
	Members member.Registry
	Gate    Gate      // 可空：不灰度
	Pub     Publisher // 可空：不扇出

	IdemTTL    time.Duration // 幂等结果热窗口
	MaxBodyLen int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (p *Processor) streamLock(streamID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locks == nil {
		p.locks = make(map[string]*sync.Mutex)
	}
	l, ok := p.locks[streamID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[streamID] = l
	}
	return l
}

func (p *Processor) idemTTL() time.Duration {
	if p.IdemTTL > 0 {
		return p.IdemTTL
	}
	return 24 * time.Hour
}

// begin 占位并处理重放三分支：pending / 同内容重放 / 同键异内容。
func (p *Processor) begin(ctx context.Context, m Meta, cmdType, hash string) (*Ack, error) {
	now := time.Now().UnixMilli()
	existing, err := p.Ledger.Begin(ctx, &convomodel.Outcome{
		Key:         convomodel.IdemKey(m.ActorID, m.DeviceID, m.ClientWriteSeq),
		ActorID:     m.ActorID,
		DeviceID:    m.DeviceID,
		WriteSeq:    m.ClientWriteSeq,
		CommandType: cmdType,
		PayloadHash: hash,
		ExpiresAtMS: now + p.idemTTL().Milliseconds(),
		UpdatedAtMS: now,
	})
	if err != nil {
		return nil, errs.ErrTransient.WithDetail(err.Error())
	}
	if existing == nil {
		return nil, nil // 占位成功，继续执行
	}
	switch existing.State {
	case convomodel.IdemStatePending:
		return nil, errs.ErrPendingRetry.WithDetail("command still in flight")
	case convomodel.IdemStateCommitted:
		if existing.PayloadHash != hash {
			return nil, errs.ErrConflict.WithDetail("same write seq with different payload")
		}
		return &Ack{
			MessageID:    existing.MessageID,
			Seq:          existing.Seq,
			ServerTimeMS: existing.ServerTimeMS,
			Status:       AckDuplicate,
		}, nil
	default:
		// failed 已在 Begin 被新占位替换，不会走到这里
		return nil, errs.ErrTransient.WithDetail("unexpected ledger state " + existing.State)
	}
}

func (p *Processor) fail(ctx context.Context, key string) {
	if err := p.Ledger.Fail(ctx, key); err != nil {
		logger.Errorf("idem fail %s: %v", key, err)
	}
}

// execute 临界区内发号并落事件；(stream,seq) 冲突则矫正发号器后重试。
func (p *Processor) execute(ctx context.Context, streamID string, build func(seqNo int64) *convomodel.Event) (*convomodel.Event, error) {
	lock := p.streamLock(streamID)
	lock.Lock()
	defer lock.Unlock()

	seqNo, err := p.Seq.Next(ctx, streamID)
	if err != nil {
		return nil, errs.ErrTransient.WithDetail(err.Error())
	}

	for attempt := 0; ; attempt++ {
		ev := build(seqNo)
		ev.EventID = ids.Generate()
		ev.CreatedAtMS = time.Now().UnixMilli()

		err = p.Log.Append(ctx, ev)
		if err == nil {
			return ev, nil
		}
		if !p.Log.IsUniqueSeqErr(err) || attempt >= 2 {
			return nil, errs.ErrTransient.WithDetail(err.Error())
		}
		// 发号器落后于存储（故障切换/缓存丢失），抬水位重取
		head, herr := p.Log.Head(ctx, streamID)
		if herr != nil {
			return nil, errs.ErrTransient.WithDetail(herr.Error())
		}
		seqNo, err = p.Seq.ReconcileAndNext(ctx, streamID, head)
		if err != nil {
			return nil, errs.ErrTransient.WithDetail(err.Error())
		}
		logger.Warnf("seq reconciled stream=%s head=%d next=%d", streamID, head, seqNo)
	}
}

// finish 账本收尾 + 扇出。事件已落库，收尾失败只记日志不回滚。
func (p *Processor) finish(ctx context.Context, key string, ev *convomodel.Event, messageID int64) *Ack {
	now := time.Now().UnixMilli()
	if err := p.Ledger.Commit(ctx, key, messageID, ev.Seq, now); err != nil {
		logger.Errorf("idem commit %s: %v", key, err)
	}
	if p.Pub != nil {
		if err := p.Pub.PublishEvent(ctx, ev); err != nil {
			logger.Errorf("publish event %d: %v", ev.EventID, err)
		}
	}
	return &Ack{MessageID: messageID, Seq: ev.Seq, ServerTimeMS: now, Status: AckAccepted}
}

func (p *Processor) gate(actorID string) error {
	if p.Gate == nil {
		return nil
	}
	return p.Gate.Allows(actorID)
}

func (p *Processor) Send(ctx context.Context, c *SendCommand) (*Ack, error) {
	hash := c.hash()
	key := convomodel.IdemKey(c.ActorID, c.DeviceID, c.ClientWriteSeq)

	if ack, err := p.begin(ctx, c.Meta, CmdSend, hash); ack != nil || err != nil {
		return ack, err
	}
	if err := p.gate(c.ActorID); err != nil {
		p.fail(ctx, key)
		return nil, err
	}
	if err := p.validateSend(ctx, c); err != nil {
		p.fail(ctx, key)
		return nil, err
	}

	messageID := ids.Generate()
	ev, err := p.execute(ctx, c.ConversationID, func(seqNo int64) *convomodel.Event {
		return &convomodel.Event{
			StreamID: c.ConversationID,
			Seq:      seqNo,
			Type:     convomodel.EventMessageCreated,
			Payload: map[string]any{
				"message_id": messageID,
				"body":       c.Body,
				"media_id":   c.MediaID,
				"mentions":   c.Mentions,
			},
			PayloadHash:    hash,
			ActorID:        c.ActorID,
			DeviceID:       c.DeviceID,
			ClientWriteSeq: c.ClientWriteSeq,
		}
	})
	if err != nil {
		p.fail(ctx, key)
		return nil, err
	}
	return p.finish(ctx, key, ev, messageID), nil
}

func (p *Processor) Edit(ctx context.Context, c *EditCommand) (*Ack, error) {
	hash := c.hash()
	key := convomodel.IdemKey(c.ActorID, c.DeviceID, c.ClientWriteSeq)

	if ack, err := p.begin(ctx, c.Meta, CmdEdit, hash); ack != nil || err != nil {
		return ack, err
	}
	if err := p.gate(c.ActorID); err != nil {
		p.fail(ctx, key)
		return nil, err
	}
	if _, err := p.validateEdit(ctx, c); err != nil {
		p.fail(ctx, key)
		return nil, err
	}

	ev, err := p.execute(ctx, c.ConversationID, func(seqNo int64) *convomodel.Event {
		return &convomodel.Event{
			StreamID: c.ConversationID,
			Seq:      seqNo,
			Type:     convomodel.EventMessageEdited,
			Payload: map[string]any{
				"message_id": c.MessageID,
				"new_body":   c.NewBody,
			},
			PayloadHash:    hash,
			ActorID:        c.ActorID,
			DeviceID:       c.DeviceID,
			ClientWriteSeq: c.ClientWriteSeq,
		}
	})
	if err != nil {
		p.fail(ctx, key)
		return nil, err
	}
	return p.finish(ctx, key, ev, c.MessageID), nil
}

func (p *Processor) Delete(ctx context.Context, c *DeleteCommand) (*Ack, error) {
	hash := c.hash()
	key := convomodel.IdemKey(c.ActorID, c.DeviceID, c.ClientWriteSeq)

	if ack, err := p.begin(ctx, c.Meta, CmdDelete, hash); ack != nil || err != nil {
		return ack, err
	}
	if err := p.gate(c.ActorID); err != nil {
		p.fail(ctx, key)
		return nil, err
	}
	if _, err := p.validateDelete(ctx, c); err != nil {
		p.fail(ctx, key)
		return nil, err
	}

	ev, err := p.execute(ctx, c.ConversationID, func(seqNo int64) *convomodel.Event {
		return &convomodel.Event{
			StreamID: c.ConversationID,
			Seq:      seqNo,
			Type:     convomodel.EventMessageDeleted,
			Payload: map[string]any{
				"message_id": c.MessageID,
			},
			PayloadHash:    hash,
			ActorID:        c.ActorID,
			DeviceID:       c.DeviceID,
			ClientWriteSeq: c.ClientWriteSeq,
		}
	})
	if err != nil {
		p.fail(ctx, key)
		return nil, err
	}
	return p.finish(ctx, key, ev, c.MessageID), nil
}
