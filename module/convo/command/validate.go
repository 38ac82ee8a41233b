package command

import (
	"context"

	convomodel "PConvo/module/convo/model"
	errs "PConvo/tools/errs"
)

const defaultMaxBodyLen = 8 * 1024

func (p *Processor) maxBody() int {
	if p.MaxBodyLen > 0 {
		return p.MaxBodyLen
	}
	return defaultMaxBodyLen
}

func checkMeta(m Meta) error {
	if m.ActorID == "" || m.DeviceID == "" {
		return errs.ErrValidation.WithDetail("actor_id and device_id required")
	}
	if m.ClientWriteSeq <= 0 {
		return errs.ErrValidation.WithDetail("client_write_seq must be positive")
	}
	return nil
}

func (p *Processor) checkMembership(ctx context.Context, conv, user string) error {
	if conv == "" {
		return errs.ErrValidation.WithDetail("conversation_id required")
	}
	ok, err := p.Members.IsMember(ctx, conv, user)
	if err != nil {
		return errs.ErrTransient.WithDetail(err.Error())
	}
	if !ok {
		return errs.ErrValidation.WithDetail("not a member of conversation")
	}
	return nil
}

func (p *Processor) validateSend(ctx context.Context, c *SendCommand) error {
	if err := checkMeta(c.Meta); err != nil {
		return err
	}
	if err := p.checkMembership(ctx, c.ConversationID, c.ActorID); err != nil {
		return err
	}
	if c.Body == "" && c.MediaID == "" {
		return errs.ErrValidation.WithDetail("empty message")
	}
	if len(c.Body) > p.maxBody() {
		return errs.ErrValidation.WithDetail("body too long")
	}
	return nil
}

// validateMutate 编辑/删除共用：目标存在、同会话、仅发送者可操作。
func (p *Processor) validateMutate(ctx context.Context, conv string, m Meta, messageID int64) (*convomodel.Message, error) {
	if err := checkMeta(m); err != nil {
		return nil, err
	}
	if err := p.checkMembership(ctx, conv, m.ActorID); err != nil {
		return nil, err
	}
	msg, err := p.Log.GetMessage(ctx, messageID)
	if err != nil {
		return nil, errs.ErrTransient.WithDetail(err.Error())
	}
	if msg == nil || msg.ConversationID != conv {
		return nil, errs.ErrNotFound.WithDetail("message not found in conversation")
	}
	if msg.SenderID != m.ActorID {
		return nil, errs.ErrValidation.WithDetail("only the sender may modify a message")
	}
	if msg.Deleted {
		return nil, errs.ErrValidation.WithDetail("message already deleted")
	}
	return msg, nil
}

func (p *Processor) validateEdit(ctx context.Context, c *EditCommand) (*convomodel.Message, error) {
	if c.NewBody == "" {
		return nil, errs.ErrValidation.WithDetail("new_body required")
	}
	if len(c.NewBody) > p.maxBody() {
		return nil, errs.ErrValidation.WithDetail("body too long")
	}
	return p.validateMutate(ctx, c.ConversationID, c.Meta, c.MessageID)
}

func (p *Processor) validateDelete(ctx context.Context, c *DeleteCommand) (*convomodel.Message, error) {
	return p.validateMutate(ctx, c.ConversationID, c.Meta, c.MessageID)
}
