package api

import (
	"strconv"

	"PConvo/middleware"
	"PConvo/module/convo/command"
	"PConvo/module/convo/receipt"
	errs "PConvo/tools/errs"

	"github.com/gin-gonic/gin"
)

func queryInt64(c *gin.Context, key string, def int64) int64 {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func queryInt(c *gin.Context, key string, def int) int {
	return int(queryInt64(c, key, int64(def)))
}

// ---- 写命令 ----

type writeMeta struct {
	ClientWriteSeq int64 `json:"client_write_seq" binding:"required"`
}

func (s *Server) sendMessage(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	var req struct {
		writeMeta
		ConversationID string   `json:"conversation_id" binding:"required"`
		Body           string   `json:"body"`
		MediaID        string   `json:"media_id"`
		Mentions       []string `json:"mentions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWriteErr(c, errValidation(err))
		return
	}
	ack, err := s.Proc.Send(c.Request.Context(), &command.SendCommand{
		Meta:           command.Meta{ActorID: id.UserID, DeviceID: id.DeviceID, ClientWriteSeq: req.ClientWriteSeq},
		ConversationID: req.ConversationID,
		Body:           req.Body,
		MediaID:        req.MediaID,
		Mentions:       req.Mentions,
	})
	if err != nil {
		respondWriteErr(c, err)
		return
	}
	respondOK(c, ack)
}

func (s *Server) editMessage(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	var req struct {
		writeMeta
		ConversationID string `json:"conversation_id" binding:"required"`
		MessageID      int64  `json:"message_id" binding:"required"`
		NewBody        string `json:"new_body" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWriteErr(c, errValidation(err))
		return
	}
	ack, err := s.Proc.Edit(c.Request.Context(), &command.EditCommand{
		Meta:           command.Meta{ActorID: id.UserID, DeviceID: id.DeviceID, ClientWriteSeq: req.ClientWriteSeq},
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		NewBody:        req.NewBody,
	})
	if err != nil {
		respondWriteErr(c, err)
		return
	}
	respondOK(c, ack)
}

func (s *Server) deleteMessage(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	var req struct {
		writeMeta
		ConversationID string `json:"conversation_id" binding:"required"`
		MessageID      int64  `json:"message_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWriteErr(c, errValidation(err))
		return
	}
	ack, err := s.Proc.Delete(c.Request.Context(), &command.DeleteCommand{
		Meta:           command.Meta{ActorID: id.UserID, DeviceID: id.DeviceID, ClientWriteSeq: req.ClientWriteSeq},
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
	})
	if err != nil {
		respondWriteErr(c, err)
		return
	}
	respondOK(c, ack)
}

// ---- 回执 ----

func (s *Server) ackReceipt(c *gin.Context, read bool) {
	id := middleware.IdentityFrom(c)
	var req struct {
		ConversationID string `json:"conversation_id" binding:"required"`
		UpToSeq        int64  `json:"up_to_seq" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errValidation(err))
		return
	}
	ok, err := s.Members.IsMember(c.Request.Context(), req.ConversationID, id.UserID)
	if err != nil {
		respondErr(c, errs.ErrTransient.WithDetail(err.Error()))
		return
	}
	if !ok {
		respondErr(c, errs.ErrValidation.WithDetail("not a member of conversation"))
		return
	}

	head, err := s.Log.Head(c.Request.Context(), req.ConversationID)
	if err != nil {
		respondErr(c, errs.ErrTransient.WithDetail(err.Error()))
		return
	}
	upTo := receipt.Clamp(req.UpToSeq, head)

	var stored int64
	if read {
		stored, err = s.Receipts.AckRead(c.Request.Context(), req.ConversationID, id.UserID, upTo)
	} else {
		stored, err = s.Receipts.AckDelivered(c.Request.Context(), req.ConversationID, id.UserID, upTo)
	}
	if err != nil {
		respondErr(c, errs.ErrTransient.WithDetail(err.Error()))
		return
	}
	// 已读影响未读数，顺手刷新该行
	if read && s.Projector != nil {
		if perr := s.Projector.OnReceipt(c.Request.Context(), req.ConversationID, id.UserID); perr != nil {
			respondErr(c, errs.ErrTransient.WithDetail(perr.Error()))
			return
		}
	}
	respondOK(c, gin.H{"up_to_seq": stored})
}

func (s *Server) ackDelivered(c *gin.Context) { s.ackReceipt(c, false) }
func (s *Server) ackRead(c *gin.Context)      { s.ackReceipt(c, true) }

// ---- 重同步 ----

func (s *Server) resync(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	conv := c.Query("conversation_id")
	if conv == "" {
		respondErr(c, errs.ErrValidation.WithDetail("conversation_id required"))
		return
	}
	page, err := s.Resyncer.Resync(c.Request.Context(), id.UserID, id.DeviceID, conv,
		queryInt64(c, "since_seq", 0), queryInt(c, "limit", 0))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, page)
}

func (s *Server) snapshot(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	conv := c.Query("conversation_id")
	if conv == "" {
		respondErr(c, errs.ErrValidation.WithDetail("conversation_id required"))
		return
	}
	snap, err := s.Resyncer.SnapshotLatest(c.Request.Context(), id.UserID, id.DeviceID, conv,
		queryInt64(c, "before_seq", 0), queryInt(c, "limit", 0))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, snap)
}

// ---- 收件箱 ----

func (s *Server) listInbox(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	rows, err := s.InboxStore.List(c.Request.Context(), id.UserID, queryInt(c, "limit", 100))
	if err != nil {
		respondErr(c, errs.ErrTransient.WithDetail(err.Error()))
		return
	}
	respondOK(c, gin.H{"rows": rows})
}

func (s *Server) pinConversation(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	var req struct {
		ConversationID string `json:"conversation_id" binding:"required"`
		Rank           int32  `json:"rank"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errValidation(err))
		return
	}
	if err := s.Projector.SetPinned(c.Request.Context(), id.UserID, req.ConversationID, req.Rank); err != nil {
		respondErr(c, errs.ErrTransient.WithDetail(err.Error()))
		return
	}
	respondOK(c, gin.H{"ok": true})
}

func (s *Server) setDraft(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	var req struct {
		ConversationID string `json:"conversation_id" binding:"required"`
		HasDraft       bool   `json:"has_draft"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errValidation(err))
		return
	}
	if err := s.Projector.SetDraft(c.Request.Context(), id.UserID, req.ConversationID, req.HasDraft); err != nil {
		respondErr(c, errs.ErrTransient.WithDetail(err.Error()))
		return
	}
	respondOK(c, gin.H{"ok": true})
}

func (s *Server) rebuildInbox(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	if err := s.Projector.RebuildUser(c.Request.Context(), id.UserID); err != nil {
		respondErr(c, errs.ErrTransient.WithDetail(err.Error()))
		return
	}
	respondOK(c, gin.H{"ok": true})
}

// ---- 会话成员 ----

func (s *Server) joinConversation(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	var req struct {
		ConversationID string `json:"conversation_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errValidation(err))
		return
	}
	if err := s.Members.Join(c.Request.Context(), req.ConversationID, id.UserID); err != nil {
		respondErr(c, errs.ErrTransient.WithDetail(err.Error()))
		return
	}
	respondOK(c, gin.H{"ok": true})
}

func (s *Server) leaveConversation(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	var req struct {
		ConversationID string `json:"conversation_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errValidation(err))
		return
	}
	if err := s.Members.Leave(c.Request.Context(), req.ConversationID, id.UserID); err != nil {
		respondErr(c, errs.ErrTransient.WithDetail(err.Error()))
		return
	}
	respondOK(c, gin.H{"ok": true})
}

// ---- 灰度开关 ----

func (s *Server) rolloutState(c *gin.Context) {
	stage, kill, pct := s.Toggle.State()
	entries, err := s.Toggle.Journal.ListEntries(c.Request.Context(), queryInt(c, "limit", 50))
	if err != nil {
		respondErr(c, errs.ErrTransient.WithDetail(err.Error()))
		return
	}
	respondOK(c, gin.H{
		"stage":          stage,
		"kill":           kill,
		"canary_percent": pct,
		"journal":        entries,
	})
}

func (s *Server) rolloutToggle(c *gin.Context) {
	id := middleware.IdentityFrom(c)
	var req struct {
		Stage         *string `json:"stage"`
		Kill          *bool   `json:"kill"`
		CanaryPercent *uint32 `json:"canary_percent"`
		Reason        string  `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errValidation(err))
		return
	}
	ctx := c.Request.Context()
	if req.Stage != nil {
		if err := s.Toggle.SetStage(ctx, *req.Stage, id.UserID, req.Reason); err != nil {
			respondErr(c, err)
			return
		}
	}
	if req.Kill != nil {
		if err := s.Toggle.SetKill(ctx, *req.Kill, id.UserID, req.Reason); err != nil {
			respondErr(c, err)
			return
		}
	}
	if req.CanaryPercent != nil {
		s.Toggle.SetCanaryPercent(*req.CanaryPercent)
	}
	stage, kill, pct := s.Toggle.State()
	respondOK(c, gin.H{"stage": stage, "kill": kill, "canary_percent": pct})
}
